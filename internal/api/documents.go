package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/actions-digest/internal/crawler"
)

const (
	defaultPerPage = 10
	maxPerPage     = 100
	storeTimeout   = 3 * time.Second
)

// DocumentHandler exposes the read-only document endpoints.
type DocumentHandler struct {
	reader  crawler.DocumentReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewDocumentHandler wires the reader and logger.
func NewDocumentHandler(reader crawler.DocumentReader, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{reader: reader, timeout: storeTimeout, logger: logger}
}

// List handles GET /v1/documents?page=&per_page=. It returns
// {"documents": [...], "meta": {...}} newest publication first, 400 for
// invalid paging parameters, 503 without a reader, or 500 on store errors.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "document store unavailable")
		return
	}
	page, perPage, err := parsePaging(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.reader.List(ctx, page, perPage)
	if err != nil {
		h.logger.Error("list documents failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}

	docs := make([]indexDTO, 0, len(result.Documents))
	for _, doc := range result.Documents {
		docs = append(docs, toIndexDTO(doc))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Documents: docs,
		Meta: metaDTO{
			Page:       page,
			PerPage:    perPage,
			Total:      result.Total,
			TotalPages: (result.Total + perPage - 1) / perPage,
		},
	})
}

// Show handles GET /v1/documents/{key}. A numeric key is looked up as an id,
// anything else as a slug. Unknown keys yield 404.
func (h *DocumentHandler) Show(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "document store unavailable")
		return
	}
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		doc crawler.Document
		err error
	)
	if id, convErr := strconv.ParseInt(key, 10, 64); convErr == nil {
		doc, err = h.reader.FindByID(ctx, id)
	} else {
		doc, err = h.reader.FindBySlug(ctx, key)
	}
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		h.logger.Error("get document failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}
	writeJSON(w, http.StatusOK, toShowDTO(doc))
}

func parsePaging(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page := 1
	if raw := q.Get("page"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 {
			return 0, 0, errors.New("invalid page")
		}
		page = val
	}
	perPage := defaultPerPage
	if raw := q.Get("per_page"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 {
			return 0, 0, errors.New("invalid per_page")
		}
		perPage = min(val, maxPerPage)
	}
	return page, perPage, nil
}

type listResponse struct {
	Documents []indexDTO `json:"documents"`
	Meta      metaDTO    `json:"meta"`
}

type metaDTO struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type indexDTO struct {
	ID          int64      `json:"id"`
	URL         string     `json:"url"`
	Slug        *string    `json:"slug"`
	Title       string     `json:"title"`
	Excerpt     *string    `json:"excerpt"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

type showDTO struct {
	indexDTO
	Content     *string `json:"content"`
	Summary     *string `json:"summary"`
	Explanation *string `json:"explanation"`
}

func toIndexDTO(doc crawler.Document) indexDTO {
	return indexDTO{
		ID:          doc.ID,
		URL:         doc.URL,
		Slug:        doc.Slug,
		Title:       doc.Title,
		Excerpt:     doc.Excerpt,
		PublishedAt: doc.PublishedAt,
		CreatedAt:   doc.CreatedAt,
	}
}

func toShowDTO(doc crawler.Document) showDTO {
	return showDTO{
		indexDTO:    toIndexDTO(doc),
		Content:     doc.Content,
		Summary:     doc.Summary,
		Explanation: doc.Explanation,
	}
}
