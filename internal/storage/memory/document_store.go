package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/actions-digest/internal/crawler"
)

// DocumentStore implements crawler.Store in memory. Documents are copied on
// the way in and out so callers never share pointers with the store.
type DocumentStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]crawler.Document
	byURL  map[string]int64
}

var _ crawler.Store = (*DocumentStore)(nil)

// NewDocumentStore constructs an empty DocumentStore.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		nextID: 1,
		byID:   make(map[int64]crawler.Document),
		byURL:  make(map[string]int64),
	}
}

// ExistsByURL reports whether a document with url is stored.
func (s *DocumentStore) ExistsByURL(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byURL[url]
	return ok, nil
}

// InsertStub stores a document with only url, title and created_at set.
func (s *DocumentStore) InsertStub(_ context.Context, url, title string, createdAt time.Time) (crawler.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byURL[url]; ok {
		return crawler.Document{}, crawler.ErrConstraintViolation
	}
	doc := crawler.Document{
		ID:        s.nextID,
		URL:       url,
		Title:     title,
		CreatedAt: createdAt.UTC(),
	}
	s.nextID++
	s.byID[doc.ID] = doc
	s.byURL[url] = doc.ID
	return clone(doc), nil
}

// FindByURL returns the document stored under url.
func (s *DocumentStore) FindByURL(_ context.Context, url string) (crawler.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return crawler.Document{}, crawler.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

// ListURLsWithContent returns every url whose content is set.
func (s *DocumentStore) ListURLsWithContent(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{})
	for _, doc := range s.byID {
		if doc.Content != nil {
			out[doc.URL] = struct{}{}
		}
	}
	return out, nil
}

// ListURLsWithoutContent returns stub urls in insertion order.
func (s *DocumentStore) ListURLsWithoutContent(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, doc := range s.sortedByID() {
		if doc.Content == nil {
			out = append(out, doc.URL)
		}
	}
	return out, nil
}

// Update replaces the enrichment fields of an existing document.
func (s *DocumentStore) Update(_ context.Context, doc crawler.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[doc.ID]
	if !ok {
		return crawler.ErrNotFound
	}
	stored.Content = copyString(doc.Content)
	stored.PublishedAt = copyTime(doc.PublishedAt)
	stored.Summary = copyString(doc.Summary)
	stored.Excerpt = copyString(doc.Excerpt)
	stored.Explanation = copyString(doc.Explanation)
	s.byID[doc.ID] = stored
	return nil
}

// List returns a page of documents, newest publication first.
func (s *DocumentStore) List(_ context.Context, page, perPage int) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.sortedByID()
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		switch {
		case a.PublishedAt != nil && b.PublishedAt == nil:
			return true
		case a.PublishedAt == nil && b.PublishedAt != nil:
			return false
		case a.PublishedAt != nil && !a.PublishedAt.Equal(*b.PublishedAt):
			return a.PublishedAt.After(*b.PublishedAt)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.After(b.CreatedAt)
		default:
			return a.ID > b.ID
		}
	})

	out := crawler.Page{Total: len(docs)}
	start := (page - 1) * perPage
	if start < 0 || start >= len(docs) {
		return out, nil
	}
	end := min(start+perPage, len(docs))
	for _, doc := range docs[start:end] {
		out.Documents = append(out.Documents, clone(doc))
	}
	return out, nil
}

// FindByID returns the document with id.
func (s *DocumentStore) FindByID(_ context.Context, id int64) (crawler.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.byID[id]
	if !ok {
		return crawler.Document{}, crawler.ErrNotFound
	}
	return clone(doc), nil
}

// FindBySlug returns the document with slug.
func (s *DocumentStore) FindBySlug(_ context.Context, slug string) (crawler.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.byID {
		if doc.Slug != nil && *doc.Slug == slug {
			return clone(doc), nil
		}
	}
	return crawler.Document{}, crawler.ErrNotFound
}

// ListWithoutSlug returns documents lacking a slug, oldest first.
func (s *DocumentStore) ListWithoutSlug(_ context.Context) ([]crawler.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Document
	for _, doc := range s.sortedByID() {
		if doc.Slug == nil {
			out = append(out, clone(doc))
		}
	}
	return out, nil
}

// SlugExists reports whether any document already uses slug.
func (s *DocumentStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, err := s.FindBySlug(ctx, slug)
	if errors.Is(err, crawler.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SetSlug assigns slug to document id.
func (s *DocumentStore) SetSlug(_ context.Context, id int64, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.byID[id]
	if !ok {
		return crawler.ErrNotFound
	}
	for otherID, other := range s.byID {
		if otherID != id && other.Slug != nil && *other.Slug == slug {
			return crawler.ErrConstraintViolation
		}
	}
	doc.Slug = &slug
	s.byID[id] = doc
	return nil
}

// Close is a no-op.
func (s *DocumentStore) Close() error {
	return nil
}

func (s *DocumentStore) sortedByID() []crawler.Document {
	docs := make([]crawler.Document, 0, len(s.byID))
	for _, doc := range s.byID {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

func clone(doc crawler.Document) crawler.Document {
	doc.Slug = copyString(doc.Slug)
	doc.Content = copyString(doc.Content)
	doc.Summary = copyString(doc.Summary)
	doc.Excerpt = copyString(doc.Excerpt)
	doc.Explanation = copyString(doc.Explanation)
	doc.PublishedAt = copyTime(doc.PublishedAt)
	return doc
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
