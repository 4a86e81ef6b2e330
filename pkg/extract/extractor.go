// Package extract pulls intermediate links and target records out of untrusted HTML.
// Everything here is total: malformed markup yields fewer results, never an error or a panic.
package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vcloud-bot/vcloud-bot/pkg/config"
)

var (
	urlTokenRegex = regexp.MustCompile(`https?://[^\s"'<>()]+`)
	anchorRegex   = regexp.MustCompile(`(?i)<a[^>]*href=["']([^"']+)["'][^>]*>`)
	titleRegex    = regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`)
)

// Extractor holds the host prefix sets used to classify links
type Extractor struct {
	intermediatePatterns []string
	targetPatterns       []string
	now                  func() time.Time
	log                  *logrus.Entry
}

// Option customizes an Extractor
type Option func(*Extractor)

// WithClock sets the time source used to stamp target records
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Extractor from the pipeline's pattern lists
func New(cfg config.PipelineConfig, log *logrus.Entry, opts ...Option) *Extractor {
	e := &Extractor{
		intermediatePatterns: append([]string(nil), cfg.IntermediatePatterns...),
		targetPatterns:       append([]string(nil), cfg.TargetPatterns...),
		now:                  time.Now,
		log:                  log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsIntermediate reports whether link starts with one of the intermediate host prefixes
func (e *Extractor) IsIntermediate(link string) bool {
	return hasAnyPrefix(link, e.intermediatePatterns)
}

// IsTarget reports whether link starts with one of the target host prefixes
func (e *Extractor) IsTarget(link string) bool {
	return hasAnyPrefix(link, e.targetPatterns)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
