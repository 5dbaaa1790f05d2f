package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/actions-digest/internal/clock"
	"github.com/JakeFAU/actions-digest/internal/crawler"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type countingFetcher struct {
	mu       sync.Mutex
	attempts int
	errs     []error
}

func (f *countingFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.attempts <= len(f.errs) {
		return crawler.FetchResponse{}, f.errs[f.attempts-1]
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte("ok")}, nil
}

func TestPolicyShouldRetry(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	url := "https://example.com/"

	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil", err: nil, attempt: 1, want: false},
		{name: "server error", err: &crawler.HTTPError{URL: url, Status: 503}, attempt: 1, want: true},
		{name: "rate limited", err: &crawler.HTTPError{URL: url, Status: 429}, attempt: 2, want: true},
		{name: "not found", err: &crawler.HTTPError{URL: url, Status: 404}, attempt: 1, want: false},
		{name: "timeout", err: &crawler.NetworkError{URL: url, Err: timeoutErr{}}, attempt: 1, want: true},
		{name: "dns failure", err: &crawler.NetworkError{URL: url, Err: errors.New("no such host")}, attempt: 1, want: true},
		{name: "canceled", err: &crawler.NetworkError{URL: url, Err: context.Canceled}, attempt: 1, want: false},
		{name: "exhausted", err: &crawler.HTTPError{URL: url, Status: 503}, attempt: 3, want: false},
		{name: "unclassified", err: errors.New("boom"), attempt: 1, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestPolicyBackoffBounds(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	for i := 0; i < 20; i++ {
		first := p.Backoff(1)
		assert.GreaterOrEqual(t, first, 50*time.Millisecond)
		assert.Less(t, first, 100*time.Millisecond)

		capped := p.Backoff(4)
		assert.GreaterOrEqual(t, capped, 150*time.Millisecond)
		assert.Less(t, capped, 300*time.Millisecond)
	}
}

func TestFetcherRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	next := &countingFetcher{errs: []error{
		&crawler.HTTPError{URL: "u", Status: 502},
		&crawler.NetworkError{URL: "u", Err: timeoutErr{}},
	}}
	fake := clock.NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	resp, err := New(next, DefaultPolicy(), fake, nil).Fetch(context.Background(), crawler.FetchRequest{URL: "u"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 3, next.attempts)
	assert.Len(t, fake.Sleeps(), 2)
}

func TestFetcherGivesUpWithLastError(t *testing.T) {
	t.Parallel()
	var errs []error
	for i := 0; i < 5; i++ {
		errs = append(errs, &crawler.HTTPError{URL: "u", Status: 500 + i})
	}
	next := &countingFetcher{errs: errs}
	fake := clock.NewFake(time.Now())

	_, err := New(next, DefaultPolicy(), fake, nil).Fetch(context.Background(), crawler.FetchRequest{URL: "u"})
	var httpErr *crawler.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 502, httpErr.Status)
	assert.Equal(t, 3, next.attempts)
}

func TestFetcherDoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()
	next := &countingFetcher{errs: []error{&crawler.HTTPError{URL: "u", Status: 404}}}

	_, err := New(next, DefaultPolicy(), clock.NewFake(time.Now()), nil).Fetch(context.Background(), crawler.FetchRequest{URL: "u"})
	require.Error(t, err)
	assert.Equal(t, 1, next.attempts)
}

func TestFetcherStopsWhenContextEnds(t *testing.T) {
	t.Parallel()
	next := &countingFetcher{errs: []error{&crawler.HTTPError{URL: "u", Status: 503}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(next, DefaultPolicy(), clock.New(), nil).Fetch(ctx, crawler.FetchRequest{URL: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("status %d", 503))
	assert.Equal(t, 1, next.attempts)
}
