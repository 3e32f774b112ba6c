// Package manuscript exposes a project's chapters and scenes as plain text,
// independent of how the editor stores them.
package manuscript

import "strings"

type Scene struct {
	ID      string
	Name    string
	Content string // plain text
}

type Chapter struct {
	ID     string
	Name   string
	Scenes []Scene
}

// WordCount counts whitespace-separated words across all scenes.
func (c Chapter) WordCount() int {
	n := 0
	for _, sc := range c.Scenes {
		n += len(strings.Fields(sc.Content))
	}
	return n
}
