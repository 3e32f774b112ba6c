package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marrec/inkwell/internal/config"
)

// --- project ---

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage writing projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new project",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		author, _ := cmd.Flags().GetString("author")
		genre, _ := cmd.Flags().GetString("genre")
		if name == "" {
			return fmt.Errorf("--name is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/projects", map[string]string{
			"name": name, "author": author, "genre": genre,
		})
		if err != nil {
			return err
		}

		var project struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := decodeJSON(resp, &project); err != nil {
			return err
		}

		printSuccess("Created project %s (%s)", project.Name, project.ID)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects")
		if err != nil {
			return err
		}

		var projects []struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Genre string `json:"genre"`
		}
		if err := decodeJSON(resp, &projects); err != nil {
			return err
		}

		if len(projects) == 0 {
			fmt.Println("No projects yet.")
			return nil
		}
		for _, p := range projects {
			line := fmt.Sprintf("%s  %s", colorize(colorCyan, p.ID), colorize(colorBold, p.Name))
			if p.Genre != "" {
				line += "  (" + p.Genre + ")"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes the project, its chapters, scenes, and insights. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/projects/"+args[0])
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted project %s", args[0])
		return nil
	},
}

func init() {
	projectCreateCmd.Flags().String("name", "", "project name")
	projectCreateCmd.Flags().String("author", "", "author name")
	projectCreateCmd.Flags().String("genre", "", "genre")
	projectDeleteCmd.Flags().Bool("confirm", false, "confirm deletion")
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectDeleteCmd)
}

// --- chapter ---

var chapterCmd = &cobra.Command{
	Use:   "chapter",
	Short: "Manage chapters",
}

var chapterAddCmd = &cobra.Command{
	Use:   "add <project-id>",
	Short: "Add a chapter to a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		order, _ := cmd.Flags().GetInt("order")
		if name == "" {
			return fmt.Errorf("--name is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/projects/"+args[0]+"/items", map[string]any{
			"name": name, "item_type": "chapter", "order_index": order,
		})
		if err != nil {
			return err
		}

		var item struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		printSuccess("Added chapter %s (%s)", name, item.ID)
		return nil
	},
}

var chapterListCmd = &cobra.Command{
	Use:   "list <project-id>",
	Short: "List chapters in a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects/"+args[0]+"/items?type=chapter")
		if err != nil {
			return err
		}

		var chapters []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			OrderIndex int    `json:"order_index"`
		}
		if err := decodeJSON(resp, &chapters); err != nil {
			return err
		}

		if len(chapters) == 0 {
			fmt.Println("No chapters yet.")
			return nil
		}
		for _, ch := range chapters {
			fmt.Printf("%2d. %s  %s\n", ch.OrderIndex+1, colorize(colorCyan, ch.ID), ch.Name)
		}
		return nil
	},
}

func init() {
	chapterAddCmd.Flags().String("name", "", "chapter name")
	chapterAddCmd.Flags().Int("order", 0, "position in the book")
	chapterCmd.AddCommand(chapterAddCmd)
	chapterCmd.AddCommand(chapterListCmd)
}

// --- scene ---

var sceneCmd = &cobra.Command{
	Use:   "scene",
	Short: "Manage scenes",
}

var sceneAddCmd = &cobra.Command{
	Use:   "add <project-id>",
	Short: "Add a scene to a chapter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chapterID, _ := cmd.Flags().GetString("chapter")
		name, _ := cmd.Flags().GetString("name")
		file, _ := cmd.Flags().GetString("file")
		order, _ := cmd.Flags().GetInt("order")
		if chapterID == "" || name == "" {
			return fmt.Errorf("--chapter and --name are required")
		}

		content := ""
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			content = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/projects/"+args[0]+"/items", map[string]any{
			"name": name, "item_type": "scene", "parent_id": chapterID,
			"order_index": order, "content": content,
		})
		if err != nil {
			return err
		}

		var item struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		printSuccess("Added scene %s (%s)", name, item.ID)
		return nil
	},
}

var sceneListCmd = &cobra.Command{
	Use:   "list <project-id> <chapter-id>",
	Short: "List scenes in a chapter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects/"+args[0]+"/items?type=scene&parent="+args[1])
		if err != nil {
			return err
		}

		var scenes []struct {
			ID         string `json:"id"`
			Name       string `json:"name"`
			OrderIndex int    `json:"order_index"`
		}
		if err := decodeJSON(resp, &scenes); err != nil {
			return err
		}

		if len(scenes) == 0 {
			fmt.Println("No scenes yet.")
			return nil
		}
		for _, sc := range scenes {
			fmt.Printf("%2d. %s  %s\n", sc.OrderIndex+1, colorize(colorCyan, sc.ID), sc.Name)
		}
		return nil
	},
}

var sceneSetCmd = &cobra.Command{
	Use:   "set <scene-id>",
	Short: "Replace a scene's content from a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/items/"+args[0], map[string]string{
			"content": string(data),
		})
		if err != nil {
			return err
		}
		var item map[string]any
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		printSuccess("Updated scene %s from %s", args[0], file)
		return nil
	},
}

func init() {
	sceneAddCmd.Flags().String("chapter", "", "chapter id")
	sceneAddCmd.Flags().String("name", "", "scene name")
	sceneAddCmd.Flags().String("file", "", "file with the scene content")
	sceneAddCmd.Flags().Int("order", 0, "position in the chapter")
	sceneSetCmd.Flags().String("file", "", "file with the new content")
	sceneCmd.AddCommand(sceneAddCmd)
	sceneCmd.AddCommand(sceneListCmd)
	sceneCmd.AddCommand(sceneSetCmd)
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <project-id> <pdf-path>",
	Short: "Import a PDF manuscript as a new chapter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chapterName, _ := cmd.Flags().GetString("chapter-name")

		path, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Importing %s...", path)
		resp, err := client.post(cmd.Context(), "/projects/"+args[0]+"/import", map[string]string{
			"path": path, "chapter_name": chapterName,
		})
		if err != nil {
			return err
		}

		var result struct {
			ChapterID string `json:"chapter_id"`
			Scenes    int    `json:"scenes"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Imported %d scenes into chapter %s", result.Scenes, result.ChapterID)
		return nil
	},
}

func init() {
	importCmd.Flags().String("chapter-name", "", "name for the imported chapter")
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Queue background analyses",
}

var analyzeChapterCmd = &cobra.Command{
	Use:   "chapter <project-id> <chapter-id>",
	Short: "Queue chapter analyses (timeline, consistency, style, reader snapshot)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		style, _ := cmd.Flags().GetBool("style")
		snapshot, _ := cmd.Flags().GetBool("reader-snapshot")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/projects/"+args[0]+"/chapters/"+args[1]+"/analyses", map[string]bool{
			"include_style":           style,
			"include_reader_snapshot": snapshot,
		})
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result["queued"] == 0 {
			printSuccess("All analyses are already up to date")
			return nil
		}
		printSuccess("Queued %d analyses", result["queued"])
		return nil
	},
}

var analyzeBookCmd = &cobra.Command{
	Use:   "book <project-id>",
	Short: "Queue book-level analyses (all of them unless narrowed by flags)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bible, _ := cmd.Flags().GetBool("bible")
		threads, _ := cmd.Flags().GetBool("threads")
		promise, _ := cmd.Flags().GetBool("promise-payoff")
		drift, _ := cmd.Flags().GetBool("voice-drift")
		sim, _ := cmd.Flags().GetBool("reader-sim")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		// With no flags the server runs everything.
		var body any
		if bible || threads || promise || drift || sim {
			body = map[string]bool{
				"bible": bible, "threads": threads, "promise_payoff": promise,
				"voice_drift": drift, "reader_sim": sim,
			}
		}

		resp, err := client.post(cmd.Context(), "/projects/"+args[0]+"/analyses", body)
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result["queued"] == 0 {
			printSuccess("All book analyses are already up to date")
			return nil
		}
		printSuccess("Queued %d analyses", result["queued"])
		return nil
	},
}

func init() {
	analyzeChapterCmd.Flags().Bool("style", true, "run the style analysis (--style=false to skip)")
	analyzeChapterCmd.Flags().Bool("reader-snapshot", true, "run the reader snapshot (--reader-snapshot=false to skip)")
	analyzeBookCmd.Flags().Bool("bible", false, "rebuild the story bible")
	analyzeBookCmd.Flags().Bool("threads", false, "track plot threads")
	analyzeBookCmd.Flags().Bool("promise-payoff", false, "check promises against payoffs")
	analyzeBookCmd.Flags().Bool("voice-drift", false, "check character voice drift")
	analyzeBookCmd.Flags().Bool("reader-sim", false, "run the reader simulation")
	analyzeCmd.AddCommand(analyzeChapterCmd)
	analyzeCmd.AddCommand(analyzeBookCmd)
}

// --- insights ---

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Read or clear cached insights",
}

var insightsChapterCmd = &cobra.Command{
	Use:   "chapter <project-id> <chapter-id>",
	Short: "Show a chapter's insights",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		insightType, _ := cmd.Flags().GetString("type")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/projects/" + args[0] + "/chapters/" + args[1] + "/insights"
		if insightType != "" {
			path += "/" + insightType
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var payload any
		if err := decodeJSON(resp, &payload); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	},
}

var insightsBookCmd = &cobra.Command{
	Use:   "book <project-id>",
	Short: "Show a project's book-level insights",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		insightType, _ := cmd.Flags().GetString("type")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/projects/" + args[0] + "/insights"
		if insightType != "" {
			path += "/" + insightType
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var payload any
		if err := decodeJSON(resp, &payload); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	},
}

var insightsClearCmd = &cobra.Command{
	Use:   "clear <project-id> [chapter-id]",
	Short: "Clear cached insights so the next analysis runs fresh",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/projects/" + args[0] + "/insights"
		if len(args) == 2 {
			path = "/projects/" + args[0] + "/chapters/" + args[1] + "/insights"
		}
		resp, err := client.delete(cmd.Context(), path)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Insights cleared")
		return nil
	},
}

func init() {
	insightsChapterCmd.Flags().String("type", "", "insight type (timeline, consistency, style, reader_snapshot)")
	insightsBookCmd.Flags().String("type", "", "insight type (story_bible, threads, promise_payoff, voice_drift, reader_sim)")
	insightsCmd.AddCommand(insightsChapterCmd)
	insightsCmd.AddCommand(insightsBookCmd)
	insightsCmd.AddCommand(insightsClearCmd)
}

// --- bible ---

var bibleCmd = &cobra.Command{
	Use:   "bible <project-id>",
	Short: "Show the current story bible as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/projects/"+args[0]+"/bible")
		if err != nil {
			return err
		}

		var bible any
		if err := decodeJSON(resp, &bible); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(bible)
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
