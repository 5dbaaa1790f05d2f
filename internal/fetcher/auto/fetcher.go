// Package auto fetches with plain HTTP first and promotes pages that look
// client-rendered to a headless browser.
package auto

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/actions-digest/internal/crawler"
	"github.com/JakeFAU/actions-digest/internal/metrics"
)

// Fetcher combines a probe fetcher, a headless fetcher and a Detector.
type Fetcher struct {
	probe    crawler.Fetcher
	headless crawler.Fetcher
	detector *Detector
	logger   *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New wires the fetchers. All three collaborators are required.
func New(probe, headless crawler.Fetcher, detector *Detector, logger *zap.Logger) (*Fetcher, error) {
	switch {
	case probe == nil:
		return nil, errors.New("probe fetcher is required")
	case headless == nil:
		return nil, errors.New("headless fetcher is required")
	case detector == nil:
		return nil, errors.New("detector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{probe: probe, headless: headless, detector: detector, logger: logger}, nil
}

// Fetch probes request.URL and re-fetches it headless when the detector asks
// for it. A failed promotion falls back to the probe response.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := f.probe.Fetch(ctx, request)
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("probe fetch: %w", err)
	}
	if !f.detector.ShouldPromote(resp) {
		return resp, nil
	}

	rendered, err := f.headless.Fetch(ctx, request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("headless fetch: %w", ctxErr)
		}
		metrics.ObservePromotion(false)
		f.logger.Warn("headless promotion failed", zap.String("url", request.URL), zap.Error(err))
		return resp, nil
	}
	metrics.ObservePromotion(true)
	f.logger.Info("headless promotion applied", zap.String("url", request.URL))
	return rendered, nil
}
