package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marrec/inkwell/internal/insight"
	"github.com/marrec/inkwell/internal/storage"
)

// MCPDeps carries what the MCP tools need. Kept separate from Deps so the
// stdio server can run without the HTTP token.
type MCPDeps struct {
	Store    *storage.Store
	Insights *insight.Service
	Version  string
}

// NewMCPServer builds the MCP surface: analysis triggers and insight reads
// for agent clients. Serve it over stdio with server.ServeStdio.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"inkwell",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("inkwell — manuscript analysis for novels: queue chapter and book analyses, read cached insights and the story bible."),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("queue_chapter_analysis",
		mcp.WithDescription("Queue background analyses (timeline, consistency, style, reader snapshot) for one chapter. Results are cached by content hash; unchanged chapters queue nothing."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("chapter_id", mcp.Required(), mcp.Description("Chapter id")),
		mcp.WithBoolean("include_style", mcp.Description("Run the style analysis (default true)")),
		mcp.WithBoolean("include_reader_snapshot", mcp.Description("Run the reader snapshot (default true)")),
	), queueChapterAnalysisHandler(deps))

	s.AddTool(mcp.NewTool("queue_book_analysis",
		mcp.WithDescription("Queue all book-level analyses (story bible, threads, promise/payoff, voice drift, reader simulation) for a project."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
	), queueBookAnalysisHandler(deps))

	s.AddTool(mcp.NewTool("list_insights",
		mcp.WithDescription("List cached insights. With chapter_id, lists that chapter's insights; without it, lists book-level insights."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
		mcp.WithString("chapter_id", mcp.Description("Chapter id; omit for book-level insights")),
	), listInsightsHandler(deps))

	s.AddTool(mcp.NewTool("get_story_bible",
		mcp.WithDescription("Return the current story bible for a project as JSON."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id")),
	), getStoryBibleHandler(deps))

	projectsResource := mcp.NewResource("inkwell://projects", "Projects",
		mcp.WithResourceDescription("All projects with ids, names, and metadata"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(projectsResource, projectsResourceHandler(deps))

	return s
}

func queueChapterAnalysisHandler(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		chapterID, err := req.RequireString("chapter_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		queued, err := deps.Insights.EnqueueChapterAnalyses(projectID, chapterID, insight.ChapterOptions{
			IncludeStyle:          req.GetBool("include_style", true),
			IncludeReaderSnapshot: req.GetBool("include_reader_snapshot", true),
		})
		if errors.Is(err, storage.ErrNotFound) {
			return mcp.NewToolResultError("chapter not found"), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("queueing analyses: %v", err)), nil
		}
		if queued == 0 {
			return mcp.NewToolResultText("All analyses are already up to date for this chapter."), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Queued %d analyses.", queued)), nil
	}
}

func queueBookAnalysisHandler(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		queued, err := deps.Insights.EnqueueBookAnalyses(projectID, insight.AllBookOptions())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("queueing analyses: %v", err)), nil
		}
		if queued == 0 {
			return mcp.NewToolResultText("All book analyses are already up to date."), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Queued %d analyses.", queued)), nil
	}
}

func listInsightsHandler(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		chapterID := req.GetString("chapter_id", "")

		var ins []storage.Insight
		if chapterID != "" {
			ins, err = deps.Insights.ChapterInsights(projectID, chapterID)
		} else {
			ins, err = deps.Insights.BookInsights(projectID)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing insights: %v", err)), nil
		}

		out, err := json.MarshalIndent(toInsightList(ins), "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding insights: %v", err)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

func getStoryBibleHandler(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		bible, err := deps.Insights.StoryBible(projectID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcp.NewToolResultError("no story bible yet; run queue_book_analysis first"), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("loading story bible: %v", err)), nil
		}
		return mcp.NewToolResultText(string(bible)), nil
	}
}

func projectsResourceHandler(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		projects, err := deps.Store.ListProjects()
		if err != nil {
			return nil, fmt.Errorf("listing projects: %w", err)
		}
		out := make([]projectJSON, 0, len(projects))
		for _, p := range projects {
			out = append(out, toProjectJSON(p))
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding projects: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "inkwell://projects",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}
