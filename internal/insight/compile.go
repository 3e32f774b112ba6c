package insight

import (
	"fmt"
	"strings"

	"github.com/marrec/inkwell/internal/manuscript"
)

// DefaultPerSceneChars bounds how much of each scene goes into the compiled
// book text, keeping whole-manuscript prompts inside a model context window.
const DefaultPerSceneChars = 6000

// CompileBookText flattens a manuscript into one analyzable document.
// Chapter and scene headers carry names and scene ids so the model can cite
// locations the pipeline can resolve back to scenes.
func CompileBookText(chapters []manuscript.Chapter, perSceneChars int) string {
	if perSceneChars <= 0 {
		perSceneChars = DefaultPerSceneChars
	}

	var b strings.Builder
	for i, ch := range chapters {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "===== CHAPTER: %s =====", ch.Name)
		for _, sc := range ch.Scenes {
			fmt.Fprintf(&b, "\n\n--- SCENE: %s (scene_id=%s) ---\n", sc.Name, sc.ID)
			b.WriteString(truncateRunes(sc.Content, perSceneChars))
		}
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
