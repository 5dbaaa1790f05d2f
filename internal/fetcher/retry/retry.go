// Package retry wraps a fetcher with jittered exponential backoff for
// transient failures.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/actions-digest/internal/crawler"
)

// Policy decides which failures are retried and how long to wait between
// attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy allows three attempts starting at 250ms, capped at 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// ShouldRetry reports whether err warrants another attempt after attempt
// attempts have been made. Rate limiting, 5xx answers and network timeouts
// are transient; other statuses and canceled contexts are not.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *crawler.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == http.StatusTooManyRequests || httpErr.Status >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var fetchErr *crawler.NetworkError
	return errors.As(err, &fetchErr)
}

// Backoff returns the wait before attempt+1: half the exponential delay plus
// up to the same amount of jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + jitter(half)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Sleeper pauses between attempts and returns early when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Fetcher retries the wrapped fetcher according to a Policy.
type Fetcher struct {
	next    crawler.Fetcher
	policy  Policy
	sleeper Sleeper
	logger  *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New wraps next. A nil logger is replaced with a no-op logger.
func New(next crawler.Fetcher, policy Policy, sleeper Sleeper, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, policy: policy, sleeper: sleeper, logger: logger}
}

// Fetch calls the wrapped fetcher until it succeeds, the error is permanent,
// or the attempts run out. The last error is returned unchanged.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.next.Fetch(ctx, request)
		if err == nil || !f.policy.ShouldRetry(err, attempt) {
			return resp, err
		}
		wait := f.policy.Backoff(attempt)
		f.logger.Warn("fetch failed, retrying",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if sleepErr := f.sleeper.Sleep(ctx, wait); sleepErr != nil {
			return crawler.FetchResponse{}, err
		}
	}
}
