package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
)

// memoryBackend keeps spot documents in a map. Documents are copied on the way in and
// out so callers never share slices with stored state.
type memoryBackend struct {
	mu    sync.RWMutex
	spots map[string]spotDocument
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{spots: make(map[string]spotDocument)}
}

func (m *memoryBackend) insert(_ context.Context, doc spotDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.spots[doc.ID]; exists {
		return fmt.Errorf("spot %s already exists", doc.ID)
	}
	m.spots[doc.ID] = copyDocument(doc)
	return nil
}

func (m *memoryBackend) load(_ context.Context, id string) (spotDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.spots[id]
	if !ok {
		return spotDocument{}, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (m *memoryBackend) replace(_ context.Context, doc spotDocument, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.spots[doc.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrConflict
	}
	m.spots[doc.ID] = copyDocument(doc)
	return nil
}

func (m *memoryBackend) list(_ context.Context, q listQuery) ([]spotDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var needle string
	if q.Query != nil {
		needle = strings.ToLower(*q.Query)
	}

	matches := make([]spotDocument, 0)
	for _, doc := range m.spots {
		if q.Type != nil && doc.Type != *q.Type {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(doc.Title), needle) &&
			!strings.Contains(strings.ToLower(doc.Description), needle) {
			continue
		}
		if q.Cursor != nil && !olderThan(doc, *q.Cursor) {
			continue
		}
		matches = append(matches, doc)
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}

	out := make([]spotDocument, 0, len(matches))
	for _, doc := range matches {
		out = append(out, copyDocument(doc))
	}
	return out, nil
}

func (m *memoryBackend) within(_ context.Context, box domain.BoundingBox) ([]spotDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]spotDocument, 0)
	for _, doc := range m.spots {
		lat, lng := doc.Location.Latitude, doc.Location.Longitude
		if lat < box.MinLat || lat > box.MaxLat {
			continue
		}
		if !box.AllLongitudes && (lng < box.MinLng || lng > box.MaxLng) {
			continue
		}
		out = append(out, copyDocument(doc))
	}
	return out, nil
}

// olderThan reports whether doc sorts after the cursor in (createdAt DESC, id DESC) order.
func olderThan(doc spotDocument, c SpotCursor) bool {
	if doc.CreatedAt.Equal(c.CreatedAt) {
		return doc.ID < c.ID
	}
	return doc.CreatedAt.Before(c.CreatedAt)
}

func copyDocument(doc spotDocument) spotDocument {
	return newSpotDocument(doc.toDomain())
}
