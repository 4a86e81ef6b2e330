package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sleeper pauses between requests. Every fixed delay of a run (retry backoff, intermediate, seed
// and batch pauses) goes through one, so tests can run without waiting.
type Sleeper interface {
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case
	Sleep(ctx context.Context, d time.Duration) error
}

// ClockSleeper sleeps on the wall clock
type ClockSleeper struct {
	log *logrus.Entry // optional
}

// NewClockSleeper creates a ClockSleeper. log may be nil.
func NewClockSleeper(log *logrus.Entry) *ClockSleeper {
	return &ClockSleeper{log: log}
}

// Sleep implements Sleeper
func (s *ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if s.log != nil {
		s.log.WithField("sleep", d).Debug("Pausing")
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoopSleeper returns immediately
type NoopSleeper struct{}

// Sleep implements Sleeper
func (NoopSleeper) Sleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// RecordingSleeper returns immediately and records every requested duration
type RecordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

// Sleep implements Sleeper
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Sleeps returns a copy of the recorded durations in call order
func (s *RecordingSleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// Count returns how many times d was requested
func (s *RecordingSleeper) Count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.sleeps {
		if v == d {
			n++
		}
	}
	return n
}
