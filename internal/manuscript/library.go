package manuscript

import (
	"fmt"

	"github.com/marrec/inkwell/internal/storage"
)

// Library reads chapters and scenes out of the item store, converting stored
// scene HTML to plain text.
type Library struct {
	store *storage.Store
}

func NewLibrary(store *storage.Store) *Library {
	return &Library{store: store}
}

// Chapter loads one chapter with its scenes in order.
func (l *Library) Chapter(projectID, chapterID string) (Chapter, error) {
	it, err := l.store.GetItem(chapterID)
	if err != nil {
		return Chapter{}, fmt.Errorf("loading chapter %s: %w", chapterID, err)
	}
	if it.ProjectID != projectID || it.ItemType != storage.ItemChapter {
		return Chapter{}, fmt.Errorf("loading chapter %s: %w", chapterID, storage.ErrNotFound)
	}
	return l.buildChapter(it)
}

// Chapters loads every chapter of a project in manuscript order.
func (l *Library) Chapters(projectID string) ([]Chapter, error) {
	items, err := l.store.ListItems(projectID, storage.ItemChapter, nil)
	if err != nil {
		return nil, fmt.Errorf("listing chapters: %w", err)
	}
	chapters := make([]Chapter, 0, len(items))
	for _, it := range items {
		ch, err := l.buildChapter(it)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, ch)
	}
	return chapters, nil
}

// WordCount sums the plain-text word count of every scene in the project.
func (l *Library) WordCount(projectID string) (int, error) {
	chapters, err := l.Chapters(projectID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, ch := range chapters {
		total += ch.WordCount()
	}
	return total, nil
}

func (l *Library) buildChapter(it storage.Item) (Chapter, error) {
	scenes, err := l.store.ListItems(it.ProjectID, storage.ItemScene, &it.ID)
	if err != nil {
		return Chapter{}, fmt.Errorf("listing scenes of %s: %w", it.ID, err)
	}
	ch := Chapter{ID: it.ID, Name: it.Name, Scenes: make([]Scene, 0, len(scenes))}
	for _, sc := range scenes {
		ch.Scenes = append(ch.Scenes, Scene{
			ID:      sc.ID,
			Name:    sc.Name,
			Content: HTMLToText(sc.Content),
		})
	}
	return ch, nil
}
