package crawler

import (
	"context"
	"io"
	"time"
)

// DocumentStore is the pipeline's view of durable state. Every write commits
// immediately.
type DocumentStore interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
	// InsertStub returns ErrConstraintViolation when url is already present.
	InsertStub(ctx context.Context, url, title string, createdAt time.Time) (Document, error)
	// FindByURL returns ErrNotFound when no document has url.
	FindByURL(ctx context.Context, url string) (Document, error)
	ListURLsWithContent(ctx context.Context) (map[string]struct{}, error)
	ListURLsWithoutContent(ctx context.Context) ([]string, error)
	// Update writes content, published_at, summary, excerpt and explanation
	// in a single statement.
	Update(ctx context.Context, doc Document) error
	Close() error
}

// DocumentReader serves the read API.
type DocumentReader interface {
	// List returns documents newest first; page is 1-based.
	List(ctx context.Context, page, perPage int) (Page, error)
	FindByID(ctx context.Context, id int64) (Document, error)
	FindBySlug(ctx context.Context, slug string) (Document, error)
}

// SlugStore supports slug assignment.
type SlugStore interface {
	ListWithoutSlug(ctx context.Context) ([]Document, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	SetSlug(ctx context.Context, id int64, slug string) error
}

// Store is implemented by every concrete backend.
type Store interface {
	DocumentStore
	DocumentReader
	SlugStore
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Enricher derives summary, excerpt and explanation from body text.
type Enricher interface {
	Enrich(ctx context.Context, body string) (Enrichment, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes enrichment events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests used for archive object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
