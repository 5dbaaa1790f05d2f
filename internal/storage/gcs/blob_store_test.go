package gcs_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/actions-digest/internal/storage/gcs"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Request:    r,
	}
}

func clientOptions(rt roundTripperFunc) []option.ClientOption {
	return []option.ClientOption{
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{Transport: rt}),
	}
}

func TestOpenChecksBucket(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	rt := func(r *http.Request) (*http.Response, error) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		return jsonResponse(r, http.StatusOK, `{"name":"archive"}`), nil
	}

	store, err := gcs.Open(context.Background(), gcs.Config{Bucket: "archive"}, clientOptions(rt)...)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, paths)
	assert.Contains(t, paths[0], "/b/archive")
}

func TestOpenMissingBucket(t *testing.T) {
	rt := func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusNotFound, `{"error":{"code":404,"message":"Not Found"}}`), nil
	}

	_, err := gcs.Open(context.Background(), gcs.Config{Bucket: "missing"}, clientOptions(rt)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `GCS bucket "missing"`)
}

func TestNewValidates(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	var (
		mu       sync.Mutex
		uploaded string
		query    string
	)
	rt := func(r *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		uploaded = string(body)
		query = r.URL.RawQuery
		mu.Unlock()
		return jsonResponse(r, http.StatusOK, `{"bucket":"archive","name":"pages/ab.html"}`), nil
	}
	client, err := storage.NewClient(context.Background(), clientOptions(rt)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "archive", Prefix: "/pages/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "ab.html", "text/html", bytes.NewReader([]byte("<html>order</html>")))
	require.NoError(t, err)
	assert.Equal(t, "gs://archive/pages/ab.html", uri)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, uploaded, "<html>order</html>")
	assert.Contains(t, uploaded, "pages/ab.html")
	assert.Contains(t, query, "uploadType")
	require.NoError(t, store.Close(), "Close is a no-op for borrowed clients")
}

func TestPutObjectEmptyPath(t *testing.T) {
	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, gcs.Config{Bucket: "archive"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), " / ", "text/html", bytes.NewReader(nil))
	require.Error(t, err)
}
