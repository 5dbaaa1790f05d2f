package crawler

import (
	"net/http"
	"time"
)

// Document is the persisted record for one presidential action.
type Document struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Slug        *string    `json:"slug"`
	Title       string     `json:"title"`
	Content     *string    `json:"content,omitempty"`
	Summary     *string    `json:"summary,omitempty"`
	Excerpt     *string    `json:"excerpt"`
	Explanation *string    `json:"explanation,omitempty"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Enriched reports whether the document already carries extracted content.
func (d Document) Enriched() bool {
	return d.Content != nil
}

// ApplyEnrichment sets every phase-two field at once.
func (d *Document) ApplyEnrichment(content string, publishedAt *time.Time, e Enrichment) {
	d.Content = &content
	d.PublishedAt = publishedAt
	d.Summary = &e.Summary
	d.Excerpt = &e.Excerpt
	d.Explanation = &e.Explanation
}

// ListingItem is a permalink/title pair discovered on a listing page.
type ListingItem struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Listing is the parsed form of one listing page.
type Listing struct {
	Items      []ListingItem
	Pagination []string
}

// PageContent is the parsed form of one document page.
type PageContent struct {
	Body      string
	Published string
}

// Enrichment holds the three derived text fields.
type Enrichment struct {
	Summary     string `json:"summary"`
	Excerpt     string `json:"excerpt"`
	Explanation string `json:"explanation"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Page is one page of read-API results.
type Page struct {
	Documents []Document
	Total     int
}

// EnrichedEvent is published after a document is enriched.
type EnrichedEvent struct {
	RunID       string     `json:"run_id"`
	DocumentID  int64      `json:"document_id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Excerpt     string     `json:"excerpt"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ArchiveURI  string     `json:"archive_uri,omitempty"`
	EnrichedAt  time.Time  `json:"enriched_at"`
}
