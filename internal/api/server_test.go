package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/actions-digest/internal/crawler"
	"github.com/JakeFAU/actions-digest/internal/storage/memory"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func do(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedStore(t *testing.T, n int) *memory.DocumentStore {
	t.Helper()
	ctx := context.Background()
	store := memory.NewDocumentStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		doc, err := store.InsertStub(ctx, fmt.Sprintf("https://example.com/%d/", i), fmt.Sprintf("Order %d", i), base)
		require.NoError(t, err)
		published := base.Add(time.Duration(i) * time.Hour)
		doc.ApplyEnrichment(fmt.Sprintf("body %d", i), &published, crawler.Enrichment{
			Summary:     fmt.Sprintf("summary %d", i),
			Excerpt:     fmt.Sprintf("excerpt %d", i),
			Explanation: fmt.Sprintf("explanation %d", i),
		})
		require.NoError(t, store.Update(ctx, doc))
	}
	return store
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := NewServer(memory.NewDocumentStore(), nil, Config{}, zap.NewNop())

	rec := do(t, srv.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ready := NewServer(memory.NewDocumentStore(), fakePinger{}, Config{}, nil)
	assert.Equal(t, http.StatusOK, do(t, ready.Handler(), "/readyz").Code)

	down := NewServer(memory.NewDocumentStore(), fakePinger{err: errors.New("conn refused")}, Config{}, nil)
	rec := do(t, down.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "store unavailable")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := NewServer(memory.NewDocumentStore(), nil, Config{}, nil)

	do(t, srv.Handler(), "/healthz")
	rec := do(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()
	srv := NewServer(memory.NewDocumentStore(), nil, Config{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()
	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := do(t, h, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	srv := NewServer(memory.NewDocumentStore(), nil, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenAndServeBadAddress(t *testing.T) {
	t.Parallel()
	srv := NewServer(memory.NewDocumentStore(), nil, Config{}, nil)

	err := srv.ListenAndServe(context.Background(), "not-an-address")
	require.Error(t, err)
}

func TestResponseJSONShape(t *testing.T) {
	t.Parallel()
	srv := NewServer(seedStore(t, 1), nil, Config{}, nil)

	rec := do(t, srv.Handler(), "/v1/documents/1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	for _, key := range []string{"id", "url", "slug", "title", "excerpt", "published_at", "created_at", "content", "summary", "explanation"} {
		assert.Contains(t, body, key)
	}
}
