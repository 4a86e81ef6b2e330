package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/vcloud-bot/vcloud-bot/pkg/jobs"
	"github.com/vcloud-bot/vcloud-bot/pkg/models"
	"github.com/vcloud-bot/vcloud-bot/pkg/parse"
	"github.com/vcloud-bot/vcloud-bot/pkg/pipeline"
)

// handleValidateURLs handles the validate_urls tool
func (s *Server) handleValidateURLs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	urls := request.GetStringSlice("urls", nil)
	if len(urls) == 0 {
		return mcp.NewToolResultError("urls parameter is required"), nil
	}

	list := s.seedList(urls)
	invalid := make([]string, 0)
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" || strings.HasPrefix(u, "#") || strings.HasPrefix(u, "//") {
			continue
		}
		if !s.validator.IsValid(u) {
			invalid = append(invalid, u)
		}
	}

	result := map[string]any{
		"valid":       nonNil(list.URLs),
		"invalid":     invalid,
		"total_valid": list.TotalValid,
		"truncated":   list.Truncated,
		"max_urls":    s.cfg.AppConfig.MaxURLsPerFile,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleProcessURL handles the process_url tool
func (s *Server) handleProcessURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seed := strings.TrimSpace(request.GetString("url", ""))
	if seed == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}
	if !s.validator.IsValid(seed) {
		return mcp.NewToolResultError(fmt.Sprintf("url '%s' is not an http(s) URL on an allowed domain: %v", seed, s.cfg.AppConfig.AllowedDomains)), nil
	}

	var seedResult models.SeedResult
	err := s.jobManager.Exclusive(ctx, func(ctx context.Context) {
		startTime := time.Now()
		p := s.newPipeline(s.log.WithField("seed", seed))
		seedResult = p.ProcessSingleURL(ctx, seed)
		seedResult.Duration = time.Since(startTime)
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("waiting for a free run slot: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(seedResult)), nil
}

// handleStartBulk handles the start_bulk tool
func (s *Server) handleStartBulk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	urls := request.GetStringSlice("urls", nil)
	if len(urls) == 0 {
		return mcp.NewToolResultError("urls parameter is required"), nil
	}

	list := s.seedList(urls)
	if len(list.URLs) == 0 {
		return mcp.NewToolResultError("no valid URLs found"), nil
	}

	job := s.jobManager.Create(0, toolSource, len(list.URLs))
	s.jobManager.Start(job.ID, s.runBulk(list.URLs))

	result := map[string]any{
		"status":     "started",
		"message":    "Bulk run started successfully",
		"job_id":     job.ID,
		"total_urls": len(list.URLs),
		"dropped":    list.Dropped,
		"truncated":  list.Truncated,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runBulk returns the job body of a start_bulk run
func (s *Server) runBulk(urls []string) jobs.RunFunc {
	return func(ctx context.Context, progress jobs.Progress) (models.BulkResult, error) {
		p := s.newPipeline(s.log.WithField("job_id", progress.JobID()))
		progress.Attach(p)
		return p.ProcessBulkURLs(ctx, urls, progress), nil
	}
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	includeOutput := request.GetBool("include_output", true)

	job, ok := s.jobManager.Get(jobID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := jobSummary(job)
	if job.Progress != nil {
		result["state"] = job.Progress.State
		result["current_seed"] = job.Progress.CurrentSeed
	}
	if bulk, ok := s.jobManager.Result(jobID); ok {
		result["successful_urls"] = bulk.SuccessfulURLs
		if includeOutput {
			result["output"] = string(pipeline.FormatResults(bulk))
		}
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListJobs handles the list_jobs tool
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all := s.jobManager.List()
	summaries := make([]map[string]any, 0, len(all))
	for _, job := range all {
		summaries = append(summaries, jobSummary(job))
	}

	result := map[string]any{
		"jobs":       summaries,
		"total_jobs": len(summaries),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

func (s *Server) seedList(urls []string) parse.SeedList {
	return parse.ParseSeedList(strings.Join(urls, "\n"), s.validator, s.cfg.AppConfig.MaxURLsPerFile)
}

func jobSummary(job jobs.Job) map[string]any {
	summary := map[string]any{
		"job_id":         job.ID,
		"source":         job.Source,
		"status":         job.Status,
		"started_at":     job.StartedAt.Format(time.RFC3339),
		"total_urls":     job.TotalURLs,
		"processed_urls": job.ProcessedURLs,
		"total_links":    job.TotalLinks,
		"emergency_urls": job.EmergencyURLs,
		"batches_done":   job.BatchesDone,
		"total_batches":  job.TotalBatches,
	}

	if !job.CompletedAt.IsZero() {
		summary["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		summary["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}

	if job.ErrorMessage != "" {
		summary["error_message"] = job.ErrorMessage
	}
	return summary
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// formatJSON formats data as an indented JSON string
func formatJSON(data any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
