package manuscript

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// importSceneChars bounds how much text one imported scene holds before the
// splitter starts a new one.
const importSceneChars = 8000

// ExtractPDF pulls the plain text out of a PDF manuscript.
func ExtractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

// SplitScenes chunks imported text into scene-sized pieces on paragraph
// boundaries. Empty input yields no scenes.
func SplitScenes(text string) []string {
	paras := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")

	var scenes []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			scenes = append(scenes, s)
		}
		cur.Reset()
	}

	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(p) > importSceneChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	flush()
	return scenes
}
