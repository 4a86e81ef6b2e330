package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/vcloud-bot/vcloud-bot/pkg/utils"
)

// Validate checks AppConfig fields and applies the literal defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Port
	if c.Port <= 0 || c.Port > 65535 {
		if c.Port != 0 {
			warnings = append(warnings, fmt.Sprintf("port %d out of range, defaulting to %d", c.Port, DefaultPort))
		}
		c.Port = DefaultPort
	}

	if c.BotToken == "" {
		warnings = append(warnings, "bot_token is empty; Telegram delivery and ingress are disabled")
	}
	if c.TelegramAPIEndpoint == "" {
		c.TelegramAPIEndpoint = DefaultTelegramAPIEndpoint
	}
	if c.TelegramFileEndpoint == "" {
		c.TelegramFileEndpoint = DefaultTelegramFileEndpoint
	}

	// Domain and pattern lists
	c.AllowedDomains = cleanList(c.AllowedDomains, strings.ToLower)
	if len(c.AllowedDomains) == 0 {
		warnings = append(warnings, "allowed_domains is empty, using built-in domain list")
		c.AllowedDomains = append([]string(nil), DefaultAllowedDomains...)
	}
	c.IntermediatePatterns = cleanList(c.IntermediatePatterns, nil)
	if len(c.IntermediatePatterns) == 0 {
		c.IntermediatePatterns = append([]string(nil), DefaultIntermediatePatterns...)
	}
	c.TargetPatterns = cleanList(c.TargetPatterns, nil)
	if len(c.TargetPatterns) == 0 {
		c.TargetPatterns = append([]string(nil), DefaultTargetPatterns...)
	}
	for _, p := range append(append([]string(nil), c.IntermediatePatterns...), c.TargetPatterns...) {
		if !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
			return warnings, fmt.Errorf("%w: pattern %q must be an absolute http(s) URL prefix", utils.ErrConfigValidation, p)
		}
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	// Retries
	if c.MaxRetries <= 0 {
		if c.MaxRetries < 0 {
			warnings = append(warnings, fmt.Sprintf("max_retries cannot be negative, defaulting to %d", DefaultMaxRetries))
		}
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialRetryDelay <= 0 {
		c.InitialRetryDelay = DefaultInitialRetryDelay
	}
	if c.RetryGrowthFactor < 1 {
		if c.RetryGrowthFactor != 0 {
			warnings = append(warnings, fmt.Sprintf("retry_growth_factor %.2f < 1, defaulting to %.1f", c.RetryGrowthFactor, DefaultRetryGrowthFactor))
		}
		c.RetryGrowthFactor = DefaultRetryGrowthFactor
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.InitialRetryDelay > c.MaxRetryDelay {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// Pacing
	c.IntermediateDelay = defaultDelay(c.IntermediateDelay, DefaultIntermediateDelay, "intermediate_delay", &warnings)
	c.SeedDelay = defaultDelay(c.SeedDelay, DefaultSeedDelay, "seed_delay", &warnings)
	c.BatchDelay = defaultDelay(c.BatchDelay, DefaultBatchDelay, "batch_delay", &warnings)

	// Batching and caps
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxURLsPerFile <= 0 {
		c.MaxURLsPerFile = DefaultMaxURLsPerFile
	}
	if c.MaxConcurrentRuns <= 0 {
		c.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}

	// Output and delivery
	if c.OutputFilePrefix == "" {
		c.OutputFilePrefix = DefaultOutputFilePrefix
	} else if sanitized := utils.SanitizeFilename(c.OutputFilePrefix); sanitized != c.OutputFilePrefix {
		warnings = append(warnings, fmt.Sprintf("output_file_prefix %q sanitized to %q", c.OutputFilePrefix, sanitized))
		c.OutputFilePrefix = sanitized
	}
	if c.SendRatePerSecond <= 0 {
		c.SendRatePerSecond = DefaultSendRatePerSecond
	}
	if c.SendBurst <= 0 {
		c.SendBurst = DefaultSendBurst
	}
	if c.InlineFallbackLimit <= 0 {
		c.InlineFallbackLimit = DefaultInlineFallbackLimit
	}
	if c.InlineFallbackChars <= 0 || c.InlineFallbackChars > c.InlineFallbackLimit {
		c.InlineFallbackChars = min(DefaultInlineFallbackChars, c.InlineFallbackLimit)
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = DefaultRequestTimeout
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// defaultDelay returns def when d is unset (zero) or negative
func defaultDelay(d, def time.Duration, name string, warnings *[]string) time.Duration {
	if d < 0 {
		*warnings = append(*warnings, fmt.Sprintf("%s cannot be negative, defaulting to %v", name, def))
		return def
	}
	if d == 0 {
		return def
	}
	return d
}

// cleanList trims entries, drops empties and duplicates, optionally transforming each entry
func cleanList(in []string, transform func(string) string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if transform != nil {
			v = transform(v)
		}
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
