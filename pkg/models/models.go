package models

import "time"

// Sentinel values used by degraded results
const (
	NoTitle            = "No title found" // Title used when an intermediate page has no <title>
	ManualCheckPrefix  = "MANUAL_CHECK: " // Title prefix of an emergency record
	ErrorURLPrefix     = "#ERROR:"        // URL prefix of an emergency record
	FallbackPageTitle  = "FALLBACK"       // <title> of the synthetic page returned after retry exhaustion
	FallbackPageBody   = "<html><title>" + FallbackPageTitle + "</title></html>"
	TimestampLayout    = "2006-01-02T15:04:05.000Z07:00"
	DefaultFilePrefix  = "vcloud"
	EmptyOutputMessage = "No links found"
)

// TargetRecord is one discovered link on the target host, titled after the intermediate page it was found on
type TargetRecord struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp,omitempty"` // ISO-8601, empty for emergency records
}

// NewTargetRecord builds a record stamped with the given time
func NewTargetRecord(title, url string, at time.Time) TargetRecord {
	return TargetRecord{Title: title, URL: url, Timestamp: at.UTC().Format(TimestampLayout)}
}

// EmergencyRecord returns the manual-check sentinel substituted for a seed that failed catastrophically
func EmergencyRecord(seedURL string) TargetRecord {
	return TargetRecord{
		Title: ManualCheckPrefix + seedURL,
		URL:   ErrorURLPrefix + seedURL,
	}
}

// SeedResult is the outcome of the two-hop crawl of a single seed URL.
// Every seed produces exactly one SeedResult; TotalLinks always equals len(VcloudResults).
type SeedResult struct {
	URL           string         `json:"url"`
	Success       bool           `json:"success"`
	Outcome       SeedOutcome    `json:"outcome"`
	VcloudResults []TargetRecord `json:"vcloudResults"`
	TotalLinks    int            `json:"totalLinks"`
	Emergency     bool           `json:"emergency,omitempty"`
	Intermediates int            `json:"intermediates"`          // Intermediate links discovered on the seed page
	SkippedLinks  int            `json:"skippedLinks,omitempty"` // Intermediate links dropped after a failure
	FallbackSeed  bool           `json:"fallbackSeed,omitempty"` // Seed page itself came back as the fallback page
	ErrorMessage  string         `json:"errorMessage,omitempty"` // Set on emergency results
	Duration      time.Duration  `json:"durationNs,omitempty"`
}

// NewSeedResult builds a completed result, keeping TotalLinks in step with the record slice
func NewSeedResult(url string, records []TargetRecord) SeedResult {
	if records == nil {
		records = []TargetRecord{}
	}
	return SeedResult{
		URL:           url,
		Success:       true,
		Outcome:       SeedOutcomeOK,
		VcloudResults: records,
		TotalLinks:    len(records),
	}
}

// NewEmergencyResult builds the degraded result for a seed whose processing failed unrecoverably.
// Success stays true: the seed is a completed unit, flagged for manual review.
func NewEmergencyResult(url string, cause error) SeedResult {
	r := SeedResult{
		URL:           url,
		Success:       true,
		Outcome:       SeedOutcomeEmergency,
		VcloudResults: []TargetRecord{EmergencyRecord(url)},
		TotalLinks:    1,
		Emergency:     true,
	}
	if cause != nil {
		r.ErrorMessage = cause.Error()
	}
	return r
}

// BulkResult aggregates all seed results of one bulk request. Never persisted.
type BulkResult struct {
	Success          bool          `json:"success"`
	TotalURLs        int           `json:"totalUrls"`
	ProcessedURLs    int           `json:"processedUrls"`
	SuccessfulURLs   int           `json:"successfulUrls"` // Completed without emergency
	EmergencyURLs    int           `json:"emergencyUrls"`
	TotalVcloudLinks int           `json:"totalVcloudLinks"`
	BatchesProcessed int           `json:"batchesProcessed"`
	Results          []SeedResult  `json:"results"`
	StartedAt        time.Time     `json:"startedAt"`
	Duration         time.Duration `json:"durationNs"`
}

// Records flattens all target records in result order, then extraction order
func (b BulkResult) Records() []TargetRecord {
	out := make([]TargetRecord, 0, b.TotalVcloudLinks)
	for _, r := range b.Results {
		out = append(out, r.VcloudResults...)
	}
	return out
}

// BatchProgress is reported before each batch of a bulk run starts
type BatchProgress struct {
	BatchIndex    int // 1-based
	TotalBatches  int
	Percent       int // round((BatchIndex-1)/TotalBatches*100)
	BatchSize     int
	ProcessedURLs int
	TotalURLs     int
	LinksSoFar    int
}
