// Package ingest runs the two-phase scrape: breadth-first discovery of listing
// pages with per-item stub inserts, then sequential enrichment of the stubs
// discovered in the run.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/actions-digest/internal/crawler"
	"github.com/JakeFAU/actions-digest/internal/hash/sha256"
	"github.com/JakeFAU/actions-digest/internal/metrics"
	"github.com/JakeFAU/actions-digest/internal/parser"
)

// Phase names used in log fields.
const (
	PhaseDiscovery  = "discovery"
	PhaseEnrichment = "enrichment"
)

// Skip reasons recorded per document.
const (
	skipFetch     = "fetch"
	skipEmptyBody = "empty_body"
	skipParse     = "parse"
	skipProvider  = "provider"
	skipMalformed = "malformed"
	skipNotFound  = "not_found"
	skipStore     = "store"
	skipDone      = "already_enriched"
)

var errAlreadyEnriched = errors.New("document already enriched")

// Parser extracts listing items and document bodies from markup.
type Parser interface {
	ParseListing(markup []byte, pageURL, rootURL string) (crawler.Listing, error)
	ParseContent(markup []byte) (crawler.PageContent, error)
}

// Sleeper pauses between requests and returns early when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Config controls pacing and the optional archive/publish side effects.
type Config struct {
	ListingDelay  time.Duration
	DocumentDelay time.Duration
	// DrainBacklog also enriches stubs left over from earlier runs.
	DrainBacklog  bool
	ArchivePrefix string
	ContentType   string
	Topic         string
}

// Dependencies groups the collaborators of an Orchestrator. Archive, Hasher
// and Publisher are optional.
type Dependencies struct {
	Store     crawler.DocumentStore
	Fetcher   crawler.Fetcher
	Parser    Parser
	Enricher  crawler.Enricher
	Clock     crawler.Clock
	Sleeper   Sleeper
	IDs       crawler.IDGenerator
	Archive   crawler.BlobStore
	Hasher    crawler.Hasher
	Publisher crawler.Publisher
}

// Result summarizes one run.
type Result struct {
	RunID string
	// Discovered holds every listing item seen this run, first title wins.
	Discovered []crawler.ListingItem
	NewStubs   int
	// Worklist is the set of URLs selected for enrichment, in order.
	Worklist     []string
	Enriched     int
	Skipped      int
	PagesVisited int
	// Err is the cause when a phase stopped early. Stubs committed before
	// the failure remain in the store.
	Err error
}

// Links returns the permalinks a caller should report: the worklist when
// enrichment ran, otherwise everything discovered before the abort.
func (r Result) Links() []string {
	if r.Err == nil || len(r.Worklist) > 0 {
		return r.Worklist
	}
	links := make([]string, 0, len(r.Discovered))
	for _, item := range r.Discovered {
		links = append(links, item.URL)
	}
	return links
}

// Orchestrator drives discovery and enrichment for one source.
type Orchestrator struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(deps Dependencies, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("document store is required")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case deps.Parser == nil:
		return nil, fmt.Errorf("parser is required")
	case deps.Enricher == nil:
		return nil, fmt.Errorf("enricher is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	case deps.Sleeper == nil:
		return nil, fmt.Errorf("sleeper is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	}
	if deps.Archive != nil && deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}, nil
}

// Run executes discovery from rootURL and then enrichment. The returned error
// is reserved for runs that cannot start; failures inside a phase are
// reported in Result.Err.
func (o *Orchestrator) Run(ctx context.Context, rootURL string) (Result, error) {
	root, err := crawler.NormalizeURL(rootURL)
	if err != nil {
		return Result{}, fmt.Errorf("root url: %w", err)
	}
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("run id: %w", err)
	}

	res := Result{RunID: runID}
	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("run started", zap.String("root_url", root))

	if err := o.discover(ctx, logger, root, &res); err != nil {
		res.Err = err
		logger.Error("discovery aborted",
			zap.String("phase", PhaseDiscovery),
			zap.Int("pages_visited", res.PagesVisited),
			zap.Int("new_stubs", res.NewStubs),
			zap.Error(err),
		)
		metrics.ObserveRun("aborted")
		return res, nil
	}

	if err := o.enrich(ctx, logger, &res); err != nil {
		res.Err = err
		logger.Error("enrichment stopped",
			zap.String("phase", PhaseEnrichment),
			zap.Int("enriched", res.Enriched),
			zap.Error(err),
		)
		metrics.ObserveRun("aborted")
		return res, nil
	}

	status := "ok"
	if res.Skipped > 0 {
		status = "partial"
	}
	metrics.ObserveRun(status)
	logger.Info("run finished",
		zap.Int("discovered", len(res.Discovered)),
		zap.Int("new_stubs", res.NewStubs),
		zap.Int("worklist", len(res.Worklist)),
		zap.Int("enriched", res.Enriched),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// discover walks the pagination graph breadth first. Stubs are committed as
// each page is parsed so an abort keeps earlier discoveries.
func (o *Orchestrator) discover(ctx context.Context, logger *zap.Logger, root string, res *Result) error {
	logger = logger.With(zap.String("phase", PhaseDiscovery))

	frontier := []string{root}
	queued := map[string]struct{}{root: {}}
	visited := make(map[string]struct{})
	seenItems := make(map[string]struct{})

	for len(frontier) > 0 {
		pageURL := frontier[0]
		frontier = frontier[1:]
		delete(queued, pageURL)
		if _, done := visited[pageURL]; done {
			continue
		}

		resp, err := o.fetch(ctx, pageURL)
		metrics.ObserveFetch(metrics.KindListing, pageURL, err == nil, len(resp.Body))
		if err != nil {
			return fmt.Errorf("fetch listing %s: %w", pageURL, err)
		}
		listing, err := o.deps.Parser.ParseListing(resp.Body, pageURL, root)
		if err != nil {
			return fmt.Errorf("parse listing %s: %w", pageURL, err)
		}
		visited[pageURL] = struct{}{}
		res.PagesVisited++

		for _, link := range listing.Pagination {
			if _, done := visited[link]; done {
				continue
			}
			if _, waiting := queued[link]; waiting {
				continue
			}
			queued[link] = struct{}{}
			frontier = append(frontier, link)
		}

		for _, item := range listing.Items {
			if _, dup := seenItems[item.URL]; dup {
				continue
			}
			seenItems[item.URL] = struct{}{}
			res.Discovered = append(res.Discovered, item)

			inserted, err := o.insertStub(ctx, item)
			if err != nil {
				return err
			}
			if inserted {
				res.NewStubs++
				logger.Debug("stub inserted", zap.String("url", item.URL), zap.String("title", item.Title))
			}
		}

		logger.Info("listing page processed",
			zap.String("url", pageURL),
			zap.Int("items", len(listing.Items)),
			zap.Int("pagination_links", len(listing.Pagination)),
			zap.Int("frontier", len(frontier)),
		)

		if len(frontier) > 0 {
			if err := o.deps.Sleeper.Sleep(ctx, o.cfg.ListingDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertStub reports whether a new stub was written. A unique-key conflict
// means another writer got there first and is not an error.
func (o *Orchestrator) insertStub(ctx context.Context, item crawler.ListingItem) (bool, error) {
	exists, err := o.deps.Store.ExistsByURL(ctx, item.URL)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", item.URL, err)
	}
	if exists {
		return false, nil
	}
	_, err = o.deps.Store.InsertStub(ctx, item.URL, item.Title, o.deps.Clock.Now())
	if errors.Is(err, crawler.ErrConstraintViolation) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert stub %s: %w", item.URL, err)
	}
	metrics.ObserveStubInserted()
	return true, nil
}

func (o *Orchestrator) worklist(ctx context.Context, discovered []crawler.ListingItem) ([]string, error) {
	done, err := o.deps.Store.ListURLsWithContent(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enriched urls: %w", err)
	}

	var work []string
	seen := make(map[string]struct{}, len(discovered))
	for _, item := range discovered {
		seen[item.URL] = struct{}{}
		if _, enriched := done[item.URL]; enriched {
			continue
		}
		work = append(work, item.URL)
	}

	if o.cfg.DrainBacklog {
		backlog, err := o.deps.Store.ListURLsWithoutContent(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backlog: %w", err)
		}
		for _, u := range backlog {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			work = append(work, u)
		}
	}
	return work, nil
}

func (o *Orchestrator) enrich(ctx context.Context, logger *zap.Logger, res *Result) error {
	logger = logger.With(zap.String("phase", PhaseEnrichment))

	work, err := o.worklist(ctx, res.Discovered)
	if err != nil {
		return err
	}
	res.Worklist = work
	logger.Info("worklist computed", zap.Int("size", len(work)))

	for i, docURL := range work {
		if err := ctx.Err(); err != nil {
			return err
		}
		docLogger := logger.With(zap.String("url", docURL))
		if reason, err := o.enrichOne(ctx, docLogger, res.RunID, docURL); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.Skipped++
			metrics.ObserveSkipped(reason)
			docLogger.Warn("document skipped", zap.String("reason", reason), zap.Error(err))
		} else {
			res.Enriched++
			metrics.ObserveEnriched()
		}

		if i < len(work)-1 {
			if err := o.deps.Sleeper.Sleep(ctx, o.cfg.DocumentDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// enrichOne returns a skip reason alongside any error.
func (o *Orchestrator) enrichOne(ctx context.Context, logger *zap.Logger, runID, docURL string) (string, error) {
	resp, err := o.fetch(ctx, docURL)
	metrics.ObserveFetch(metrics.KindDocument, docURL, err == nil, len(resp.Body))
	if err != nil {
		return skipFetch, err
	}

	page, err := o.deps.Parser.ParseContent(resp.Body)
	if err != nil {
		return skipParse, err
	}
	if strings.TrimSpace(page.Body) == "" {
		return skipEmptyBody, fmt.Errorf("no body text at %s", docURL)
	}

	enrichment, err := o.deps.Enricher.Enrich(ctx, page.Body)
	if err != nil {
		var malformed *crawler.MalformedResponseError
		if errors.As(err, &malformed) {
			return skipMalformed, err
		}
		return skipProvider, err
	}

	doc, err := o.deps.Store.FindByURL(ctx, docURL)
	if errors.Is(err, crawler.ErrNotFound) {
		return skipNotFound, err
	}
	if err != nil {
		return skipStore, fmt.Errorf("find stub: %w", err)
	}
	if doc.Enriched() {
		// Filled in since the worklist was computed.
		return skipDone, errAlreadyEnriched
	}

	doc.ApplyEnrichment(page.Body, parser.ParsePublishedAt(page.Published), enrichment)
	if err := o.deps.Store.Update(ctx, doc); err != nil {
		return skipStore, fmt.Errorf("update document %d: %w", doc.ID, err)
	}
	logger.Info("document enriched", zap.Int64("id", doc.ID))

	uri := o.archive(ctx, logger, resp.Body)
	o.publish(ctx, logger, runID, doc, uri)
	return "", nil
}

func (o *Orchestrator) fetch(ctx context.Context, pageURL string) (crawler.FetchResponse, error) {
	resp, err := o.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     pageURL,
		Headers: http.Header{"Accept": []string{"text/html,application/xhtml+xml"}},
	})
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	return resp, nil
}

// archive stores the raw markup under a content hash. Failures are logged
// and the returned URI is empty.
func (o *Orchestrator) archive(ctx context.Context, logger *zap.Logger, body []byte) string {
	if o.deps.Archive == nil {
		return ""
	}
	digest, err := o.deps.Hasher.Hash(body)
	if err != nil {
		logger.Warn("hash page failed", zap.Error(err))
		return ""
	}
	objectPath := sha256.ShardedPath(digest, ".html")
	if prefix := strings.Trim(o.cfg.ArchivePrefix, "/"); prefix != "" {
		objectPath = path.Join(prefix, objectPath)
	}
	uri, err := o.deps.Archive.PutObject(ctx, objectPath, o.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		logger.Warn("archive page failed", zap.String("path", objectPath), zap.Error(err))
		return ""
	}
	logger.Debug("page archived", zap.String("uri", uri))
	return uri
}

func (o *Orchestrator) publish(ctx context.Context, logger *zap.Logger, runID string, doc crawler.Document, uri string) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	event := crawler.EnrichedEvent{
		RunID:       runID,
		DocumentID:  doc.ID,
		URL:         doc.URL,
		Title:       doc.Title,
		PublishedAt: doc.PublishedAt,
		ArchiveURI:  uri,
		EnrichedAt:  o.deps.Clock.Now(),
	}
	if doc.Excerpt != nil {
		event.Excerpt = *doc.Excerpt
	}
	id, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish event failed", zap.String("topic", o.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("event published", zap.String("message_id", id))
}
