// Package postgres provides the Postgres-backed document store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/actions-digest/internal/crawler"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const documentColumns = `id, url, slug, title, content, summary, excerpt, explanation, published_at, created_at`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// DocumentStore implements crawler.Store on a pgx pool.
type DocumentStore struct {
	pool pool
}

var _ crawler.Store = (*DocumentStore)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DocumentStore{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*DocumentStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &DocumentStore{pool: p}, nil
}

// Migrate creates the documents table and its indexes when missing.
func (s *DocumentStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *DocumentStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// ExistsByURL reports whether a document with url is stored.
func (s *DocumentStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE url = $1)`, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document exists: %w", err)
	}
	return exists, nil
}

// InsertStub inserts url/title/created_at and returns the stored row.
func (s *DocumentStore) InsertStub(ctx context.Context, url, title string, createdAt time.Time) (crawler.Document, error) {
	createdAt = createdAt.UTC()
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO documents (url, title, created_at) VALUES ($1, $2, $3)
ON CONFLICT (url) DO NOTHING RETURNING id`,
		url, title, createdAt,
	).Scan(&id)
	switch {
	case errors.Is(err, pgx.ErrNoRows), isUniqueViolation(err):
		return crawler.Document{}, crawler.ErrConstraintViolation
	case err != nil:
		return crawler.Document{}, fmt.Errorf("insert stub: %w", err)
	}
	return crawler.Document{ID: id, URL: url, Title: title, CreatedAt: createdAt}, nil
}

// FindByURL returns the document stored under url.
func (s *DocumentStore) FindByURL(ctx context.Context, url string) (crawler.Document, error) {
	return s.findOne(ctx, `SELECT `+documentColumns+` FROM documents WHERE url = $1`, url)
}

// FindByID returns the document with id.
func (s *DocumentStore) FindByID(ctx context.Context, id int64) (crawler.Document, error) {
	return s.findOne(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
}

// FindBySlug returns the document with slug.
func (s *DocumentStore) FindBySlug(ctx context.Context, slug string) (crawler.Document, error) {
	return s.findOne(ctx, `SELECT `+documentColumns+` FROM documents WHERE slug = $1`, slug)
}

func (s *DocumentStore) findOne(ctx context.Context, query string, arg any) (crawler.Document, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Document{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Document{}, fmt.Errorf("find document: %w", err)
	}
	return doc, nil
}

// ListURLsWithContent returns every url whose content is set.
func (s *DocumentStore) ListURLsWithContent(ctx context.Context) (map[string]struct{}, error) {
	urls, err := s.listURLs(ctx, `SELECT url FROM documents WHERE content IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		out[u] = struct{}{}
	}
	return out, nil
}

// ListURLsWithoutContent returns stub urls in insertion order.
func (s *DocumentStore) ListURLsWithoutContent(ctx context.Context) ([]string, error) {
	return s.listURLs(ctx, `SELECT url FROM documents WHERE content IS NULL ORDER BY id`)
}

func (s *DocumentStore) listURLs(ctx context.Context, query string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list urls: %w", err)
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan urls: %w", err)
	}
	return urls, nil
}

// Update writes the enrichment fields of doc in one statement.
func (s *DocumentStore) Update(ctx context.Context, doc crawler.Document) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents
SET content = $1, published_at = $2, summary = $3, excerpt = $4, explanation = $5
WHERE id = $6`,
		doc.Content, doc.PublishedAt, doc.Summary, doc.Excerpt, doc.Explanation, doc.ID,
	)
	if err != nil {
		return fmt.Errorf("update document %d: %w", doc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// List returns a page of documents, newest publication first.
func (s *DocumentStore) List(ctx context.Context, page, perPage int) (crawler.Page, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&total); err != nil {
		return crawler.Page{}, fmt.Errorf("count documents: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
ORDER BY published_at DESC NULLS LAST, created_at DESC, id DESC
LIMIT $1 OFFSET $2`,
		perPage, (page-1)*perPage,
	)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("list documents: %w", err)
	}
	docs, err := collectDocuments(rows)
	if err != nil {
		return crawler.Page{}, err
	}
	return crawler.Page{Documents: docs, Total: total}, nil
}

// ListWithoutSlug returns documents lacking a slug, oldest first.
func (s *DocumentStore) ListWithoutSlug(ctx context.Context) ([]crawler.Document, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents WHERE slug IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents without slug: %w", err)
	}
	return collectDocuments(rows)
}

// SlugExists reports whether any document already uses slug.
func (s *DocumentStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug exists: %w", err)
	}
	return exists, nil
}

// SetSlug assigns slug to document id.
func (s *DocumentStore) SetSlug(ctx context.Context, id int64, slug string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE documents SET slug = $1 WHERE id = $2`, slug, id)
	if isUniqueViolation(err) {
		return crawler.ErrConstraintViolation
	}
	if err != nil {
		return fmt.Errorf("set slug: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (crawler.Document, error) {
	var doc crawler.Document
	err := row.Scan(
		&doc.ID,
		&doc.URL,
		&doc.Slug,
		&doc.Title,
		&doc.Content,
		&doc.Summary,
		&doc.Excerpt,
		&doc.Explanation,
		&doc.PublishedAt,
		&doc.CreatedAt,
	)
	return doc, err
}

func collectDocuments(rows pgx.Rows) ([]crawler.Document, error) {
	defer rows.Close()
	var docs []crawler.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
