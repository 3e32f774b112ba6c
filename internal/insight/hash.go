package insight

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/marrec/inkwell/internal/manuscript"
)

// HashChapter fingerprints a chapter's analyzable content: its name plus
// every scene's id, name, and text, in order. Scene ids are included so
// reordering or replacing a scene invalidates cached insights even when the
// prose is unchanged.
func HashChapter(ch manuscript.Chapter) string {
	parts := make([]string, 0, 1+3*len(ch.Scenes))
	parts = append(parts, ch.Name)
	for _, sc := range ch.Scenes {
		parts = append(parts, sc.ID, sc.Name, sc.Content)
	}
	return HashText(strings.Join(parts, "\n"))
}

// HashText returns the hex SHA-256 of s.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
