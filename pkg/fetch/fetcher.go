package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vcloud-bot/vcloud-bot/pkg/config"
	"github.com/vcloud-bot/vcloud-bot/pkg/models"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

// Page is the outcome of fetching one URL. A Page is always usable as HTML: when every attempt
// failed it is the synthetic fallback page.
type Page struct {
	URL        string
	StatusCode int
	Body       string
	Attempts   int
	Fallback   bool
	Err        error // Last underlying error when Fallback is set; for logging only
}

// Fetcher performs GET requests with the fixed-attempt retry policy
type Fetcher struct {
	client  *http.Client
	policy  config.RetryPolicy
	sleeper Sleeper
	log     *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, policy config.RetryPolicy, sleeper Sleeper, log *logrus.Entry) *Fetcher {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if sleeper == nil {
		sleeper = NewClockSleeper(log)
	}
	return &Fetcher{
		client:  client,
		policy:  policy,
		sleeper: sleeper,
		log:     log,
	}
}

// BackoffDelay returns the pause after failed attempt number attempt (1-based):
// InitialDelay * GrowthFactor^(attempt-1), capped at MaxDelay
func BackoffDelay(policy config.RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(policy.InitialDelay) * math.Pow(policy.GrowthFactor, float64(attempt-1))
	if backoff <= 0 || backoff > float64(policy.MaxDelay) || math.IsInf(backoff, 0) || math.IsNaN(backoff) {
		return policy.MaxDelay
	}
	return time.Duration(backoff)
}

// FallbackPage returns the synthetic page substituted after retry exhaustion
func FallbackPage(rawURL string, attempts int, lastErr error) *Page {
	var err error
	if lastErr != nil {
		err = fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	} else {
		err = utils.ErrRetryFailed
	}
	return &Page{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Body:       models.FallbackPageBody,
		Attempts:   attempts,
		Fallback:   true,
		Err:        err,
	}
}

// Fetch retrieves rawURL. It never returns an error: a network error, timeout or non-2xx status
// counts as a failed attempt, and once every attempt has failed (or ctx is done) the fallback page
// is returned instead.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) *Page {
	reqLog := f.log.WithField("url", rawURL)
	maxAttempts := f.policy.MaxAttempts

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		if ctx.Err() != nil {
			reqLog.Warnf("Context done before attempt %d: %v", attempt+1, ctx.Err())
			lastErr = ctx.Err()
			break
		}
		attempt++

		status, body, err := f.do(ctx, rawURL)
		if err == nil {
			reqLog.WithFields(logrus.Fields{"status_code": status, "attempt": attempt}).Debug("Successfully fetched")
			return &Page{URL: rawURL, StatusCode: status, Body: body, Attempts: attempt}
		}
		lastErr = err

		attemptLog := reqLog.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"error_type":   utils.CategorizeError(err),
		})
		if attempt >= maxAttempts {
			attemptLog.Warnf("Attempt failed: %v", err)
			break
		}

		delay := BackoffDelay(f.policy, attempt)
		attemptLog.WithField("delay", delay).Warnf("Attempt failed, retrying: %v", err)
		if sleepErr := f.sleeper.Sleep(ctx, delay); sleepErr != nil {
			reqLog.Warnf("Context done during retry delay: %v", sleepErr)
			lastErr = fmt.Errorf("retry delay interrupted (%v) after error: %w", sleepErr, err)
			break
		}
	}

	reqLog.WithFields(logrus.Fields{
		"attempts":   attempt,
		"error_type": utils.CategorizeError(lastErr),
	}).Errorf("All fetch attempts failed, using fallback page. Last error: %v", lastErr)
	return FallbackPage(rawURL, attempt, lastErr)
}

// do performs a single attempt. Any non-2xx status is an error.
func (f *Fetcher) do(ctx context.Context, rawURL string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	if f.policy.UserAgent != "" {
		req.Header.Set("User-Agent", f.policy.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	statusCode := resp.StatusCode
	switch {
	case statusCode >= 200 && statusCode < 300:
		// handled below
	case statusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return statusCode, "", fmt.Errorf("HTTP status %d: %w", statusCode, utils.ErrServerHTTPError)
	case statusCode >= 400:
		io.Copy(io.Discard, resp.Body)
		return statusCode, "", fmt.Errorf("HTTP status %d : %w", statusCode, utils.ErrClientHTTPError)
	default:
		io.Copy(io.Discard, resp.Body)
		return statusCode, "", fmt.Errorf("HTTP status %d: %w", statusCode, utils.ErrOtherHTTPError)
	}

	var reader io.Reader = resp.Body
	if f.policy.MaxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, f.policy.MaxBodyBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return statusCode, "", err
		}
		return statusCode, "", fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	return statusCode, string(data), nil
}
