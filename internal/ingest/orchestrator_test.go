package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/actions-digest/internal/clock"
	"github.com/JakeFAU/actions-digest/internal/crawler"
	"github.com/JakeFAU/actions-digest/internal/enrich"
	"github.com/JakeFAU/actions-digest/internal/parser"
	pubmemory "github.com/JakeFAU/actions-digest/internal/publisher/memory"
	"github.com/JakeFAU/actions-digest/internal/storage/memory"
)

const (
	root  = "https://example.com/actions/"
	page2 = "https://example.com/actions/page/2/"
	page3 = "https://example.com/actions/page/3/"
	docA  = "https://example.com/a/"
	docB  = "https://example.com/b/"
	docC  = "https://example.com/c/"
)

var start = time.Date(2025, 1, 21, 8, 0, 0, 0, time.UTC)

type item struct{ href, title string }

func listingHTML(items []item, pages ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, it := range items {
		fmt.Fprintf(&b, `<div class="post"><h2><a href=%q>link</a></h2>`, it.href)
		if it.title != "" {
			fmt.Fprintf(&b, `<h2 class="wp-block-post-title">%s</h2>`, it.title)
		}
		b.WriteString("</div>")
	}
	b.WriteString(`<nav><span class="page-numbers current">1</span>`)
	for _, p := range pages {
		fmt.Fprintf(&b, `<a class="page-numbers" href=%q>n</a>`, p)
	}
	b.WriteString("</nav></body></html>")
	return b.String()
}

func documentHTML(body, datetime string) string {
	date := ""
	if datetime != "" {
		date = fmt.Sprintf(`<div class="wp-block-post-date"><time datetime=%q>date</time></div>`, datetime)
	}
	return fmt.Sprintf(`<html><body>%s<div class="entry-content"><p>%s</p></div></body></html>`, date, body)
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string]string), errs: make(map[string]error)}
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	if err, ok := f.errs[req.URL]; ok {
		return crawler.FetchResponse{}, err
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{}, &crawler.HTTPError{URL: req.URL, Status: http.StatusNotFound}
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeFetcher) count(u string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == u {
			n++
		}
	}
	return n
}

// scriptedEnricher answers with a well-formed response unless the body
// contains one of the keys in raw or errs.
type scriptedEnricher struct {
	mu    sync.Mutex
	raw   map[string]string
	errs  map[string]error
	calls int
}

func (e *scriptedEnricher) Enrich(_ context.Context, body string) (crawler.Enrichment, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	for key, err := range e.errs {
		if strings.Contains(body, key) {
			return crawler.Enrichment{}, err
		}
	}
	for key, raw := range e.raw {
		if strings.Contains(body, key) {
			return enrich.ParseResponse(raw)
		}
	}
	return enrich.ParseResponse(fmt.Sprintf(
		"SUMMARY: summary of %[1]s\nTWEET: tweet about %[1]s #USA\nEXPLANATION: explanation of %[1]s", body))
}

type staticIDs string

func (s staticIDs) NewID() (string, error) { return string(s), nil }

type harness struct {
	store    *memory.DocumentStore
	fetcher  *fakeFetcher
	enricher *scriptedEnricher
	clock    *clock.Fake
	deps     Dependencies
	cfg      Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewDocumentStore(),
		fetcher:  newFakeFetcher(),
		enricher: &scriptedEnricher{},
		clock:    clock.NewFake(start),
		cfg:      Config{ListingDelay: time.Second, DocumentDelay: 2 * time.Second},
	}
	h.deps = Dependencies{
		Store:    h.store,
		Fetcher:  h.fetcher,
		Parser:   parser.New(parser.DefaultSelectors()),
		Enricher: h.enricher,
		Clock:    h.clock,
		Sleeper:  h.clock,
		IDs:      staticIDs("run-1"),
	}
	return h
}

func (h *harness) run(ctx context.Context, t *testing.T) Result {
	t.Helper()
	o, err := New(h.deps, h.cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	res, err := o.Run(ctx, root)
	require.NoError(t, err)
	return res
}

func (h *harness) twoPageSite() {
	h.fetcher.pages[root] = listingHTML([]item{{"/a/", "Order A"}, {"/a/", "Order A duplicate"}}, "/actions/page/2/")
	h.fetcher.pages[page2] = listingHTML([]item{{"/b/", "Order B"}})
	h.fetcher.pages[docA] = documentHTML("Text of A", "2025-01-20T17:30:00-05:00")
	h.fetcher.pages[docB] = documentHTML("Text of B", "")
}

func TestRunTwoPageDiscoveryAndEnrichment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.twoPageSite()

	res := h.run(ctx, t)

	require.NoError(t, res.Err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 2, res.PagesVisited)
	assert.Equal(t, []crawler.ListingItem{{URL: docA, Title: "Order A"}, {URL: docB, Title: "Order B"}}, res.Discovered)
	assert.Equal(t, 2, res.NewStubs)
	assert.Equal(t, []string{docA, docB}, res.Worklist)
	assert.Equal(t, 2, res.Enriched)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, []string{docA, docB}, res.Links())
	assert.Equal(t, []string{root, page2, docA, docB}, h.fetcher.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.clock.Sleeps())

	a, err := h.store.FindByURL(ctx, docA)
	require.NoError(t, err)
	assert.Equal(t, "Order A", a.Title)
	assert.True(t, start.Equal(a.CreatedAt))
	require.True(t, a.Enriched())
	assert.Equal(t, "Text of A", *a.Content)
	assert.Equal(t, "summary of Text of A", *a.Summary)
	assert.Equal(t, "tweet about Text of A #USA", *a.Excerpt)
	assert.Equal(t, "explanation of Text of A", *a.Explanation)
	require.NotNil(t, a.PublishedAt)
	assert.True(t, time.Date(2025, 1, 20, 22, 30, 0, 0, time.UTC).Equal(*a.PublishedAt))

	b, err := h.store.FindByURL(ctx, docB)
	require.NoError(t, err)
	assert.True(t, b.Enriched())
	assert.Nil(t, b.PublishedAt, "missing date leaves published_at null")
}

func TestRunMalformedEnrichmentSkipsOnlyThatDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.twoPageSite()
	h.enricher.raw = map[string]string{"Text of A": "SUMMARY: s\nEXPLANATION: e"}

	res := h.run(ctx, t)

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Enriched)
	assert.Equal(t, 1, res.Skipped)

	a, err := h.store.FindByURL(ctx, docA)
	require.NoError(t, err)
	assert.Nil(t, a.Content)
	assert.Nil(t, a.Summary)
	assert.Nil(t, a.Excerpt)
	assert.Nil(t, a.Explanation)

	b, err := h.store.FindByURL(ctx, docB)
	require.NoError(t, err)
	assert.True(t, b.Enriched())

	pending, err := h.store.ListURLsWithoutContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{docA}, pending, "skipped document stays eligible")
}

func TestRerunOnlyStubsAndEnrichesNewDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	a, err := h.store.InsertStub(ctx, docA, "Order A", start.Add(-time.Hour))
	require.NoError(t, err)
	a.ApplyEnrichment("old body", nil, crawler.Enrichment{Summary: "old", Excerpt: "old", Explanation: "old"})
	require.NoError(t, h.store.Update(ctx, a))

	h.fetcher.pages[root] = listingHTML([]item{{"/a/", "Order A renamed"}, {"/c/", "Order C"}})
	h.fetcher.pages[docC] = documentHTML("Text of C", "2025-01-21")

	res := h.run(ctx, t)

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.NewStubs)
	assert.Equal(t, []string{docC}, res.Worklist)
	assert.Equal(t, 1, res.Enriched)
	assert.Zero(t, h.fetcher.count(docA), "enriched documents are never refetched")

	got, err := h.store.FindByURL(ctx, docA)
	require.NoError(t, err)
	assert.Equal(t, "Order A", got.Title)
	assert.Equal(t, "old body", *got.Content)
	assert.True(t, start.Add(-time.Hour).Equal(got.CreatedAt))
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.twoPageSite()

	first := h.run(ctx, t)
	require.Equal(t, 2, first.NewStubs)

	second := h.run(ctx, t)
	require.NoError(t, second.Err)
	assert.Zero(t, second.NewStubs)
	assert.Empty(t, second.Worklist)
	assert.Empty(t, second.Links())
	assert.Equal(t, 1, h.fetcher.count(docA))

	page, err := h.store.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestRunPaginationCycleVisitsEachPageOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.fetcher.pages[root] = listingHTML([]item{{"/a/", "A"}}, "/actions/", "/actions/page/2/", "/actions/page/3/")
	h.fetcher.pages[page2] = listingHTML([]item{{"/b/", "B"}}, "/actions/", "/actions/page/3/", "/actions/page/2/#top")
	h.fetcher.pages[page3] = listingHTML([]item{{"/a/", "A again"}}, "/actions/page/2/", "/actions/")
	h.fetcher.pages[docA] = documentHTML("Text of A", "")
	h.fetcher.pages[docB] = documentHTML("Text of B", "")

	res := h.run(context.Background(), t)

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.PagesVisited)
	assert.Equal(t, 1, h.fetcher.count(root))
	assert.Equal(t, 1, h.fetcher.count(page2))
	assert.Equal(t, 1, h.fetcher.count(page3))
	assert.Equal(t, []crawler.ListingItem{{URL: docA, Title: "A"}, {URL: docB, Title: "B"}}, res.Discovered)
}

func TestRunListingFailureKeepsEarlierStubs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.twoPageSite()
	h.fetcher.errs[page2] = &crawler.HTTPError{URL: page2, Status: http.StatusBadGateway}

	res := h.run(ctx, t)

	var httpErr *crawler.HTTPError
	require.ErrorAs(t, res.Err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.Status)
	assert.Equal(t, 1, res.PagesVisited)
	assert.Equal(t, 1, res.NewStubs)
	assert.Empty(t, res.Worklist)
	assert.Equal(t, []string{docA}, res.Links())
	assert.Zero(t, h.fetcher.count(docA), "enrichment does not run after an aborted discovery")

	exists, err := h.store.ExistsByURL(ctx, docA)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRunRootFailureDiscoversNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.fetcher.errs[root] = &crawler.NetworkError{URL: root, Err: errors.New("connection refused")}

	res := h.run(context.Background(), t)

	var netErr *crawler.NetworkError
	require.ErrorAs(t, res.Err, &netErr)
	assert.Empty(t, res.Links())
	assert.Zero(t, res.PagesVisited)
}

func TestRunPerDocumentFailuresAreSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.fetcher.pages[root] = listingHTML([]item{{"/a/", "A"}, {"/b/", "B"}, {"/c/", "C"}, {"/d/", ""}})
	h.fetcher.errs[docA] = &crawler.NetworkError{URL: docA, Err: errors.New("reset")}
	h.fetcher.pages[docB] = `<html><body><h1>No body container</h1></body></html>`
	h.fetcher.pages[docC] = documentHTML("Text of C", "")
	h.fetcher.pages["https://example.com/d/"] = documentHTML("Text of D", "")
	h.enricher.errs = map[string]error{"Text of C": &crawler.ProviderError{Status: 503, Err: errors.New("overloaded")}}

	res := h.run(ctx, t)

	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.NewStubs)
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, 1, res.Enriched)
	assert.Equal(t, 2, h.enricher.calls, "empty bodies never reach the provider")

	d, err := h.store.FindByURL(ctx, "https://example.com/d/")
	require.NoError(t, err)
	assert.Empty(t, d.Title, "missing title is stored as empty")
	assert.True(t, d.Enriched())

	pending, err := h.store.ListURLsWithoutContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{docA, docB, docC}, pending)
}

func TestRunDrainBacklog(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	old := "https://example.com/old/"

	for _, drain := range []bool{false, true} {
		t.Run(fmt.Sprintf("drain=%v", drain), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			h.cfg.DrainBacklog = drain
			_, err := h.store.InsertStub(ctx, old, "Old", start.Add(-24*time.Hour))
			require.NoError(t, err)
			h.fetcher.pages[root] = listingHTML([]item{{"/a/", "A"}})
			h.fetcher.pages[docA] = documentHTML("Text of A", "")
			h.fetcher.pages[old] = documentHTML("Text of old", "")

			res := h.run(ctx, t)

			require.NoError(t, res.Err)
			if drain {
				assert.Equal(t, []string{docA, old}, res.Worklist)
				assert.Equal(t, 2, res.Enriched)
			} else {
				assert.Equal(t, []string{docA}, res.Worklist)
				assert.Zero(t, h.fetcher.count(old))
			}
		})
	}
}

type conflictingStore struct {
	*memory.DocumentStore
}

// ExistsByURL always misses so InsertStub hits the unique constraint.
func (conflictingStore) ExistsByURL(context.Context, string) (bool, error) { return false, nil }

func TestRunConstraintViolationCountsAsDiscovered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.store.InsertStub(ctx, docA, "A", start)
	require.NoError(t, err)
	h.deps.Store = conflictingStore{h.store}
	h.fetcher.pages[root] = listingHTML([]item{{"/a/", "A"}})
	h.fetcher.pages[docA] = documentHTML("Text of A", "")

	res := h.run(ctx, t)

	require.NoError(t, res.Err)
	assert.Zero(t, res.NewStubs)
	assert.Equal(t, []string{docA}, res.Worklist)
	assert.Equal(t, 1, res.Enriched)
}

func TestRunArchivesAndPublishes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.twoPageSite()
	blobs := memory.NewBlobStore()
	pub := pubmemory.New()
	h.deps.Archive = blobs
	h.deps.Publisher = pub
	h.cfg.ArchivePrefix = "/pages/"
	h.cfg.Topic = "document.enriched"

	res := h.run(ctx, t)

	require.NoError(t, res.Err)
	assert.Equal(t, 2, blobs.Len())
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	event, ok := msgs[0].Payload.(crawler.EnrichedEvent)
	require.True(t, ok)
	assert.Equal(t, "run-1", event.RunID)
	assert.Equal(t, docA, event.URL)
	assert.Equal(t, "tweet about Text of A #USA", event.Excerpt)
	require.True(t, strings.HasPrefix(event.ArchiveURI, "memory://pages/"), event.ArchiveURI)

	stored, found := blobs.Object(strings.TrimPrefix(event.ArchiveURI, "memory://"))
	require.True(t, found)
	assert.Equal(t, h.fetcher.pages[docA], string(stored))
}

func TestRunPublishFailureKeepsUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)
	h.twoPageSite()
	pub := pubmemory.New()
	pub.FailWith(errors.New("pubsub unavailable"))
	h.deps.Publisher = pub
	h.cfg.Topic = "document.enriched"

	res := h.run(ctx, t)

	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Enriched)
	a, err := h.store.FindByURL(ctx, docA)
	require.NoError(t, err)
	assert.True(t, a.Enriched())
}

type cancelingEnricher struct {
	cancel context.CancelFunc
}

func (c cancelingEnricher) Enrich(context.Context, string) (crawler.Enrichment, error) {
	c.cancel()
	return crawler.Enrichment{}, &crawler.ProviderError{Err: context.Canceled}
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t)
	h.twoPageSite()
	h.deps.Enricher = cancelingEnricher{cancel: cancel}

	res := h.run(ctx, t)

	require.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, []string{docA, docB}, res.Worklist)
	assert.Zero(t, res.Enriched)
	assert.Zero(t, h.fetcher.count(docB))
}

func TestRunRejectsInvalidRoot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	o, err := New(h.deps, h.cfg, nil)
	require.NoError(t, err)

	_, err = o.Run(context.Background(), "/relative/")
	require.Error(t, err)
	assert.Empty(t, h.fetcher.calls)
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	mutations := map[string]func(*Dependencies){
		"store":    func(d *Dependencies) { d.Store = nil },
		"fetcher":  func(d *Dependencies) { d.Fetcher = nil },
		"parser":   func(d *Dependencies) { d.Parser = nil },
		"enricher": func(d *Dependencies) { d.Enricher = nil },
		"clock":    func(d *Dependencies) { d.Clock = nil },
		"sleeper":  func(d *Dependencies) { d.Sleeper = nil },
		"ids":      func(d *Dependencies) { d.IDs = nil },
	}
	for name, mutate := range mutations {
		deps := h.deps
		mutate(&deps)
		_, err := New(deps, h.cfg, nil)
		assert.Error(t, err, name)
	}
}
