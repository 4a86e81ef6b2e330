// Package pipeline drives the two-hop crawl: seed page -> intermediate pages -> target records.
// Requests are strictly sequential, one at a time, with fixed pauses between them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vcloud-bot/vcloud-bot/pkg/config"
	"github.com/vcloud-bot/vcloud-bot/pkg/extract"
	"github.com/vcloud-bot/vcloud-bot/pkg/fetch"
	"github.com/vcloud-bot/vcloud-bot/pkg/models"
	"github.com/vcloud-bot/vcloud-bot/pkg/parse"
	"github.com/vcloud-bot/vcloud-bot/pkg/storage"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

// PageFetcher retrieves a page and never fails; *fetch.Fetcher implements it
type PageFetcher interface {
	Fetch(ctx context.Context, url string) *fetch.Page
}

// Reporter receives a progress update before each batch starts
type Reporter interface {
	ReportBatch(ctx context.Context, p models.BatchProgress) error
}

// ReporterFunc adapts a function to Reporter
type ReporterFunc func(ctx context.Context, p models.BatchProgress) error

// ReportBatch implements Reporter
func (f ReporterFunc) ReportBatch(ctx context.Context, p models.BatchProgress) error {
	return f(ctx, p)
}

// MultiReporter fans each update out to every non-nil reporter and joins their errors
func MultiReporter(reporters ...Reporter) Reporter {
	return ReporterFunc(func(ctx context.Context, p models.BatchProgress) error {
		var errs []error
		for _, r := range reporters {
			if r == nil {
				continue
			}
			if err := r.ReportBatch(ctx, p); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// CacheOpener creates the intermediate page cache for one bulk run
type CacheOpener func(log *logrus.Entry) (storage.PageCache, error)

// Pipeline runs bulk crawls. A Pipeline tracks the progress of one run at a time; build one per
// run when runs may overlap.
type Pipeline struct {
	cfg       config.PipelineConfig
	fetcher   PageFetcher
	extractor *extract.Extractor
	sleeper   fetch.Sleeper
	log       *logrus.Entry
	openCache CacheOpener

	cache storage.PageCache // Set only while a bulk run with caching is in progress

	mu       sync.RWMutex
	progress models.RunProgress
}

// Factory builds a fresh Pipeline for one run
type Factory func(log *logrus.Entry) *Pipeline

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithCacheOpener replaces the in-memory Badger cache used when CacheIntermediates is set
func WithCacheOpener(open CacheOpener) Option {
	return func(p *Pipeline) { p.openCache = open }
}

// New creates a Pipeline. cfg is copied; later changes to the caller's slices have no effect.
func New(cfg config.PipelineConfig, fetcher PageFetcher, extractor *extract.Extractor, sleeper fetch.Sleeper, log *logrus.Entry, opts ...Option) *Pipeline {
	cfg.IntermediatePatterns = append([]string(nil), cfg.IntermediatePatterns...)
	cfg.TargetPatterns = append([]string(nil), cfg.TargetPatterns...)
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if sleeper == nil {
		sleeper = fetch.NewClockSleeper(log)
	}

	p := &Pipeline{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		sleeper:   sleeper,
		log:       log,
		openCache: func(l *logrus.Entry) (storage.PageCache, error) {
			return storage.NewBadgerCache(l)
		},
		progress: models.RunProgress{State: models.RunStateIdle},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Snapshot returns the current progress of the run
func (p *Pipeline) Snapshot() models.RunProgress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.progress
}

func (p *Pipeline) update(fn func(*models.RunProgress)) {
	p.mu.Lock()
	fn(&p.progress)
	p.mu.Unlock()
}

func (p *Pipeline) setState(state models.RunState) {
	p.update(func(pr *models.RunProgress) { pr.State = state })
}

// pause waits d through the sleeper; cancellation only shortens the wait
func (p *Pipeline) pause(ctx context.Context, d time.Duration, what string) {
	if err := p.sleeper.Sleep(ctx, d); err != nil {
		p.log.WithField("pause", what).Debugf("Pause interrupted: %v", err)
	}
}

// ProcessSingleURL crawls one seed: fetch it, follow every intermediate link found on it and
// collect target records. It always returns exactly one result; a panic anywhere in the seed's
// processing yields the emergency result.
func (p *Pipeline) ProcessSingleURL(ctx context.Context, seed string) (result models.SeedResult) {
	startTime := time.Now()
	seedLog := p.log.WithField("seed", seed)

	defer func() {
		if r := recover(); r != nil {
			seedLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"stage":       "PanicRecovery",
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while processing seed, substituting manual-check record")
			result = models.NewEmergencyResult(seed, fmt.Errorf("%w: %v", utils.ErrSeedPanic, r))
		}
		result.Duration = time.Since(startTime)
	}()

	p.update(func(pr *models.RunProgress) {
		pr.State = models.RunStateFetchingSeed
		pr.CurrentSeed = seed
	})

	page := p.fetcher.Fetch(ctx, seed)
	if page == nil {
		page = fetch.FallbackPage(seed, 0, nil)
	}
	if page.Fallback {
		seedLog.WithField("error_type", utils.CategorizeError(page.Err)).Warn("Seed page unavailable, continuing with fallback page")
	}

	links := p.extractor.IntermediateLinks(page.Body)
	seedLog.WithField("intermediates", len(links)).Debug("Intermediate links extracted")

	p.setState(models.RunStateFetchingIntermediates)
	var records []models.TargetRecord
	skipped := 0
	for _, link := range links {
		recs, cached, err := p.processIntermediate(ctx, link)
		if err != nil {
			skipped++
			seedLog.WithFields(logrus.Fields{
				"link":       link,
				"error_type": utils.CategorizeError(err),
			}).Warnf("Skipping intermediate link: %v", err)
		} else {
			records = append(records, recs...)
		}
		if !cached {
			p.pause(ctx, p.cfg.IntermediateDelay, "intermediate")
		}
	}

	p.setState(models.RunStateAggregating)
	result = models.NewSeedResult(seed, records)
	result.Intermediates = len(links)
	result.SkippedLinks = skipped
	result.FallbackSeed = page.Fallback

	seedLog.WithFields(logrus.Fields{
		"links":         result.TotalLinks,
		"intermediates": result.Intermediates,
		"skipped":       skipped,
		"duration":      time.Since(startTime).String(),
	}).Info("Seed processed")
	return result
}

// processIntermediate fetches one intermediate page and extracts its target records.
// cached reports a cache hit, in which case no request was made.
func (p *Pipeline) processIntermediate(ctx context.Context, link string) (records []models.TargetRecord, cached bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"link":        link,
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while processing intermediate link")
			records, cached, err = nil, false, fmt.Errorf("%w: intermediate %s: %v", utils.ErrSeedPanic, link, r)
		}
	}()

	var key string
	if p.cache != nil {
		key = parse.CacheKey(link)
		hit, ok, cacheErr := p.cache.Get(key)
		if cacheErr != nil {
			p.log.WithField("link", link).Warnf("Page cache lookup failed: %v", cacheErr)
		} else if ok {
			p.log.WithField("link", link).Debug("Intermediate page served from cache")
			return p.extractor.Restamp(hit), true, nil
		}
	}

	page := p.fetcher.Fetch(ctx, link)
	if page == nil {
		page = fetch.FallbackPage(link, 0, nil)
	}
	records = p.extractor.TargetRecords(page.Body)

	if p.cache != nil && !page.Fallback {
		if putErr := p.cache.Put(key, records); putErr != nil {
			p.log.WithField("link", link).Warnf("Page cache store failed: %v", putErr)
		}
	}
	return records, false, nil
}

// ProcessBatch processes seeds strictly in order, pausing between consecutive seeds
func (p *Pipeline) ProcessBatch(ctx context.Context, urls []string) []models.SeedResult {
	results := make([]models.SeedResult, 0, len(urls))
	for i, u := range urls {
		results = append(results, p.ProcessSingleURL(ctx, u))
		p.update(func(pr *models.RunProgress) {
			pr.ProcessedURLs++
			pr.LinksSoFar += results[len(results)-1].TotalLinks
		})
		if i < len(urls)-1 {
			p.pause(ctx, p.cfg.SeedDelay, "seed")
		}
	}
	return results
}

// ProcessBulkURLs runs every seed through the pipeline in fixed-size batches and aggregates the
// results. It reports progress before each batch, pauses between batches and always returns a
// result with one SeedResult per input URL. Reporter errors are logged and ignored.
func (p *Pipeline) ProcessBulkURLs(ctx context.Context, urls []string, reporter Reporter) models.BulkResult {
	startTime := time.Now()
	runLog := p.log.WithField("total_urls", len(urls))

	p.update(func(pr *models.RunProgress) {
		*pr = models.RunProgress{State: models.RunStateValidating, TotalURLs: len(urls)}
	})
	batches := Batches(urls, p.cfg.BatchSize)
	p.update(func(pr *models.RunProgress) {
		pr.State = models.RunStateBatching
		pr.TotalBatches = len(batches)
	})

	if p.cfg.CacheIntermediates && p.openCache != nil {
		cache, err := p.openCache(p.log.WithField("component", "page_cache"))
		if err != nil {
			runLog.Warnf("Page cache unavailable, continuing without it: %v", err)
		} else if cache != nil {
			p.cache = cache
			defer func() {
				if err := cache.Close(); err != nil {
					runLog.Warnf("Failed to close page cache: %v", err)
				}
				p.cache = nil
			}()
		}
	}

	runLog.WithField("batches", len(batches)).Info("Bulk run starting")

	result := models.BulkResult{
		Success:   true,
		TotalURLs: len(urls),
		Results:   make([]models.SeedResult, 0, len(urls)),
		StartedAt: startTime,
	}

	for i, batch := range batches {
		progress := models.BatchProgress{
			BatchIndex:    i + 1,
			TotalBatches:  len(batches),
			Percent:       int(math.Round(float64(i) / float64(len(batches)) * 100)),
			BatchSize:     len(batch),
			ProcessedURLs: len(result.Results),
			TotalURLs:     len(urls),
			LinksSoFar:    result.TotalVcloudLinks,
		}
		p.update(func(pr *models.RunProgress) {
			pr.State = models.RunStateBatching
			pr.BatchIndex = i + 1
		})
		if reporter != nil {
			if err := reporter.ReportBatch(ctx, progress); err != nil {
				runLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Progress report failed: %v", err)
			}
		}

		batchLog := runLog.WithField("batch", fmt.Sprintf("%d/%d", i+1, len(batches)))
		batchLog.WithField("size", len(batch)).Info("Batch starting")

		batchResults := p.ProcessBatch(ctx, batch)
		result.Results = append(result.Results, batchResults...)
		for _, r := range batchResults {
			result.TotalVcloudLinks += r.TotalLinks
		}
		result.BatchesProcessed++

		batchLog.WithField("links_so_far", result.TotalVcloudLinks).Info("Batch finished")

		if i < len(batches)-1 {
			p.pause(ctx, p.cfg.BatchDelay, "batch")
		}
	}

	result.ProcessedURLs = len(result.Results)
	for _, r := range result.Results {
		if r.Emergency {
			result.EmergencyURLs++
		} else if r.Success {
			result.SuccessfulURLs++
		}
	}
	result.Duration = time.Since(startTime)

	p.update(func(pr *models.RunProgress) {
		pr.State = models.RunStateDone
		pr.CurrentSeed = ""
	})

	runLog.WithFields(logrus.Fields{
		"processed":  result.ProcessedURLs,
		"successful": result.SuccessfulURLs,
		"emergency":  result.EmergencyURLs,
		"links":      result.TotalVcloudLinks,
		"duration":   result.Duration.String(),
	}).Info("Bulk run finished")
	return result
}

// Batches partitions urls in order into chunks of at most size. Concatenating the chunks
// reproduces urls exactly. size <= 0 yields a single chunk.
func Batches(urls []string, size int) [][]string {
	if len(urls) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(urls)
	}
	batches := make([][]string, 0, (len(urls)+size-1)/size)
	for start := 0; start < len(urls); start += size {
		end := min(start+size, len(urls))
		batches = append(batches, urls[start:end:end])
	}
	return batches
}
