package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcloud-bot/vcloud-bot/pkg/config"
	"github.com/vcloud-bot/vcloud-bot/pkg/models"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

// testPolicy returns the production retry policy with the given attempt count
func testPolicy(maxAttempts int) config.RetryPolicy {
	return config.RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: 5 * time.Second,
		GrowthFactor: 1.5,
		MaxDelay:     30 * time.Second,
		UserAgent:    config.DefaultUserAgent,
		MaxBodyBytes: 1 << 20,
	}
}

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// testClient returns an http.Client suitable for testing
func testClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

// mockServer creates an httptest.Server that returns status codes in sequence.
// Returns the server and an atomic counter tracking request attempts.
func mockServer(t *testing.T, statusCodes []int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attemptCount.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1 // repeat last status
		}
		w.WriteHeader(statusCodes[idx])
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server, attemptCount
}

func TestBackoffDelay(t *testing.T) {
	policy := testPolicy(10)
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 5 * time.Second},
		{2, 7500 * time.Millisecond},
		{3, 11250 * time.Millisecond},
		{4, 16875 * time.Millisecond},
		{5, 25312500 * time.Microsecond},
		{6, 30 * time.Second},
		{9, 30 * time.Second},
		{0, 5 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, BackoffDelay(policy, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestFetch_Success(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusOK}, "<html><title>Hi</title></html>")
	sleeper := &RecordingSleeper{}

	f := NewFetcher(testClient(), testPolicy(10), sleeper, testLogger())
	page := f.Fetch(context.Background(), server.URL)

	require.NotNil(t, page)
	assert.False(t, page.Fallback)
	assert.NoError(t, page.Err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, "<html><title>Hi</title></html>", page.Body)
	assert.Equal(t, 1, page.Attempts)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Empty(t, sleeper.Sleeps())
}

func TestFetch_SendsUserAgent(t *testing.T) {
	var gotUA atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := NewFetcher(testClient(), testPolicy(1), NoopSleeper{}, testLogger())
	f.Fetch(context.Background(), server.URL)

	assert.Equal(t, config.DefaultUserAgent, gotUA.Load())
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	tests := []struct {
		name        string
		statusCodes []int
		wantSleeps  []time.Duration
	}{
		{
			name:        "server error once",
			statusCodes: []int{http.StatusInternalServerError, http.StatusOK},
			wantSleeps:  []time.Duration{5 * time.Second},
		},
		{
			name:        "client errors are retried too",
			statusCodes: []int{http.StatusNotFound, http.StatusForbidden, http.StatusOK},
			wantSleeps:  []time.Duration{5 * time.Second, 7500 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := mockServer(t, tt.statusCodes, "ok")
			sleeper := &RecordingSleeper{}

			f := NewFetcher(testClient(), testPolicy(10), sleeper, testLogger())
			page := f.Fetch(context.Background(), server.URL)

			assert.False(t, page.Fallback)
			assert.Equal(t, "ok", page.Body)
			assert.Equal(t, len(tt.statusCodes), page.Attempts)
			assert.Equal(t, int32(len(tt.statusCodes)), attempts.Load())
			assert.Equal(t, tt.wantSleeps, sleeper.Sleeps())
		})
	}
}

func TestFetch_ExhaustedReturnsFallback(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusServiceUnavailable}, "")
	sleeper := &RecordingSleeper{}

	f := NewFetcher(testClient(), testPolicy(10), sleeper, testLogger())
	page := f.Fetch(context.Background(), server.URL)

	require.NotNil(t, page)
	assert.True(t, page.Fallback)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Equal(t, models.FallbackPageBody, page.Body)
	assert.Equal(t, 10, page.Attempts)
	assert.Equal(t, int32(10), attempts.Load())
	assert.ErrorIs(t, page.Err, utils.ErrRetryFailed)
	assert.ErrorIs(t, page.Err, utils.ErrServerHTTPError)

	// No pause after the final attempt
	sleeps := sleeper.Sleeps()
	require.Len(t, sleeps, 9)
	assert.Equal(t, 5*time.Second, sleeps[0])
	assert.Equal(t, 30*time.Second, sleeps[8])
}

func TestFetch_NetworkErrorFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // connection refused from here on

	f := NewFetcher(testClient(), testPolicy(3), NoopSleeper{}, testLogger())
	page := f.Fetch(context.Background(), url)

	assert.True(t, page.Fallback)
	assert.Equal(t, 3, page.Attempts)
	assert.Equal(t, models.FallbackPageBody, page.Body)
}

func TestFetch_InvalidURLFallsBack(t *testing.T) {
	f := NewFetcher(testClient(), testPolicy(2), NoopSleeper{}, testLogger())
	page := f.Fetch(context.Background(), "http://[::1")

	assert.True(t, page.Fallback)
	assert.ErrorIs(t, page.Err, utils.ErrRequestCreation)
}

func TestFetch_CancelledContextFallsBack(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusOK}, "ok")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(testClient(), testPolicy(10), NoopSleeper{}, testLogger())
	page := f.Fetch(ctx, server.URL)

	assert.True(t, page.Fallback)
	assert.Equal(t, 0, page.Attempts)
	assert.Equal(t, int32(0), attempts.Load())
	assert.ErrorIs(t, page.Err, context.Canceled)
}

func TestFetch_CancelDuringBackoffStops(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusInternalServerError}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Real clock: the first 5s backoff is interrupted by the deadline
	f := NewFetcher(testClient(), testPolicy(10), NewClockSleeper(nil), testLogger())
	start := time.Now()
	page := f.Fetch(ctx, server.URL)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, page.Fallback)
	assert.Equal(t, 1, page.Attempts)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestFetch_BodyCapped(t *testing.T) {
	server, _ := mockServer(t, []int{http.StatusOK}, strings.Repeat("x", 100))
	policy := testPolicy(1)
	policy.MaxBodyBytes = 10

	f := NewFetcher(testClient(), policy, NoopSleeper{}, testLogger())
	page := f.Fetch(context.Background(), server.URL)

	assert.False(t, page.Fallback)
	assert.Len(t, page.Body, 10)
}

func TestNewFetcher_ZeroAttemptsMeansOne(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusBadGateway}, "")

	f := NewFetcher(testClient(), config.RetryPolicy{}, NoopSleeper{}, testLogger())
	page := f.Fetch(context.Background(), server.URL)

	assert.True(t, page.Fallback)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestNewClient_AppliesTimeout(t *testing.T) {
	cfg := config.AppConfig{}
	_, err := cfg.Validate()
	require.NoError(t, err)

	client := NewClient(cfg.HTTPClientSettings, testLogger())
	assert.Equal(t, 30*time.Second, client.Timeout)
	assert.NotNil(t, client.CheckRedirect)
}
