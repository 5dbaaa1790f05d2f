// Package sqlite provides a single-file document store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/actions-digest/internal/crawler"
)

//go:embed schema.sql
var schema string

const documentColumns = `id, url, slug, title, content, summary, excerpt, explanation, published_at, created_at`

// DocumentStore implements crawler.Store on a SQLite database file.
type DocumentStore struct {
	db *sql.DB
}

var _ crawler.Store = (*DocumentStore)(nil)

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*DocumentStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	store := &DocumentStore{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the documents table and its indexes when missing.
func (s *DocumentStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Ping checks the database handle.
func (s *DocumentStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *DocumentStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// ExistsByURL reports whether a document with url is stored.
func (s *DocumentStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE url = ?)`, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check document exists: %w", err)
	}
	return exists, nil
}

// InsertStub inserts url/title/created_at and returns the stored row.
func (s *DocumentStore) InsertStub(ctx context.Context, url, title string, createdAt time.Time) (crawler.Document, error) {
	createdAt = createdAt.UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (url, title, created_at) VALUES (?, ?, ?)`, url, title, createdAt)
	if isUniqueViolation(err) {
		return crawler.Document{}, crawler.ErrConstraintViolation
	}
	if err != nil {
		return crawler.Document{}, fmt.Errorf("insert stub: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return crawler.Document{}, fmt.Errorf("insert stub id: %w", err)
	}
	return crawler.Document{ID: id, URL: url, Title: title, CreatedAt: createdAt}, nil
}

// FindByURL returns the document stored under url.
func (s *DocumentStore) FindByURL(ctx context.Context, url string) (crawler.Document, error) {
	return s.findOne(ctx, `SELECT `+documentColumns+` FROM documents WHERE url = ?`, url)
}

// FindByID returns the document with id.
func (s *DocumentStore) FindByID(ctx context.Context, id int64) (crawler.Document, error) {
	return s.findOne(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
}

// FindBySlug returns the document with slug.
func (s *DocumentStore) FindBySlug(ctx context.Context, slug string) (crawler.Document, error) {
	return s.findOne(ctx, `SELECT `+documentColumns+` FROM documents WHERE slug = ?`, slug)
}

func (s *DocumentStore) findOne(ctx context.Context, query string, arg any) (crawler.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate urls: %w", err)
	}
	return urls, nil
}

// Update writes the enrichment fields of doc in one statement.
func (s *DocumentStore) Update(ctx context.Context, doc crawler.Document) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents
SET content = ?, published_at = ?, summary = ?, excerpt = ?, explanation = ?
WHERE id = ?`,
		doc.Content, utcOrNil(doc.PublishedAt), doc.Summary, doc.Excerpt, doc.Explanation, doc.ID,
	)
	if err != nil {
		return fmt.Errorf("update document %d: %w", doc.ID, err)
	}
	return requireRow(res)
}

// List returns a page of documents, newest publication first.
func (s *DocumentStore) List(ctx context.Context, page, perPage int) (crawler.Page, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&total); err != nil {
		return crawler.Page{}, fmt.Errorf("count documents: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
ORDER BY published_at DESC NULLS LAST, created_at DESC, id DESC
LIMIT ? OFFSET ?`,
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
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE slug IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents without slug: %w", err)
	}
	return collectDocuments(rows)
}

// SlugExists reports whether any document already uses slug.
func (s *DocumentStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE slug = ?)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug exists: %w", err)
	}
	return exists, nil
}

// SetSlug assigns slug to document id.
func (s *DocumentStore) SetSlug(ctx context.Context, id int64, slug string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET slug = ? WHERE id = ?`, slug, id)
	if isUniqueViolation(err) {
		return crawler.ErrConstraintViolation
	}
	if err != nil {
		return fmt.Errorf("set slug: %w", err)
	}
	return requireRow(res)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (crawler.Document, error) {
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

func collectDocuments(rows *sql.Rows) ([]crawler.Document, error) {
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

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
