package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vcloud-bot/vcloud-bot/pkg/models"
	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

// FormatResults renders one "title|url" line per record, in result order then extraction order.
// A run without records renders as the literal "No links found".
func FormatResults(result models.BulkResult) []byte {
	var buf bytes.Buffer
	for _, r := range result.Results {
		for _, rec := range r.VcloudResults {
			buf.WriteString(rec.Title)
			buf.WriteByte('|')
			buf.WriteString(rec.URL)
			buf.WriteByte('\n')
		}
	}
	if buf.Len() == 0 {
		return []byte(models.EmptyOutputMessage)
	}
	return buf.Bytes()
}

// ResultFilename builds "<prefix>_<count>_links_<timestamp>.txt" where the timestamp is the
// ISO-8601 UTC time with every ':' and '.' replaced by '-'
func ResultFilename(prefix string, linkCount int, now time.Time) string {
	if prefix == "" {
		prefix = models.DefaultFilePrefix
	}
	ts := now.UTC().Format(models.TimestampLayout)
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return fmt.Sprintf("%s_%d_links_%s.txt", prefix, linkCount, ts)
}

// RunSummary is the YAML companion written next to a result file
type RunSummary struct {
	ResultFile       string        `yaml:"result_file"`
	StartedAt        time.Time     `yaml:"started_at"`
	Duration         time.Duration `yaml:"duration"`
	TotalURLs        int           `yaml:"total_urls"`
	ProcessedURLs    int           `yaml:"processed_urls"`
	SuccessfulURLs   int           `yaml:"successful_urls"`
	EmergencyURLs    int           `yaml:"emergency_urls"`
	FallbackSeeds    []string      `yaml:"fallback_seeds,omitempty"`
	TotalVcloudLinks int           `yaml:"total_vcloud_links"`
	BatchesProcessed int           `yaml:"batches_processed"`
}

// Summarize builds the YAML summary for a finished run
func Summarize(result models.BulkResult, resultFile string) RunSummary {
	s := RunSummary{
		ResultFile:       resultFile,
		StartedAt:        result.StartedAt.UTC(),
		Duration:         result.Duration,
		TotalURLs:        result.TotalURLs,
		ProcessedURLs:    result.ProcessedURLs,
		SuccessfulURLs:   result.SuccessfulURLs,
		EmergencyURLs:    result.EmergencyURLs,
		TotalVcloudLinks: result.TotalVcloudLinks,
		BatchesProcessed: result.BatchesProcessed,
	}
	for _, r := range result.Results {
		if r.FallbackSeed {
			s.FallbackSeeds = append(s.FallbackSeeds, r.URL)
		}
	}
	return s
}

// WriteSummary writes the YAML summary of a run into dir, named after its result file, and
// returns the summary path
func WriteSummary(dir, resultFile string, result models.BulkResult) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(Summarize(result, resultFile))
	if err != nil {
		return "", fmt.Errorf("%w: marshal run summary: %w", utils.ErrParsing, err)
	}
	base := utils.SanitizeFilename(strings.TrimSuffix(filepath.Base(resultFile), ".txt"))
	summaryPath := filepath.Join(dir, base+".yaml")
	if err := os.WriteFile(summaryPath, data, 0644); err != nil {
		return "", fmt.Errorf("write run summary %s: %w", summaryPath, err)
	}
	return summaryPath, nil
}
