package config

import "time"

// Literal defaults; every one of them can be overridden from YAML or the environment
const (
	DefaultPort                 = 8080
	DefaultUserAgent            = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	DefaultMaxRetries           = 10
	DefaultInitialRetryDelay    = 5 * time.Second
	DefaultRetryGrowthFactor    = 1.5
	DefaultMaxRetryDelay        = 30 * time.Second
	DefaultRequestTimeout       = 30 * time.Second
	DefaultMaxBodyBytes         = 10 << 20
	DefaultIntermediateDelay    = 1 * time.Second
	DefaultSeedDelay            = 2 * time.Second
	DefaultBatchDelay           = 10 * time.Second
	DefaultBatchSize            = 50
	DefaultMaxURLsPerFile       = 1000
	DefaultMaxConcurrentRuns    = 1
	DefaultSendRatePerSecond    = 1.0
	DefaultSendBurst            = 3
	DefaultInlineFallbackLimit  = 4000
	DefaultInlineFallbackChars  = 3800
	DefaultOutputFilePrefix     = "vcloud"
	DefaultTelegramAPIEndpoint  = "https://api.telegram.org/bot%s/%s"
	DefaultTelegramFileEndpoint = "https://api.telegram.org/file/bot%s/%s"
)

var (
	DefaultAllowedDomains       = []string{"vegamovies.gt", "rogmovies.world", "www.gokuhd.com", "xprimehub.my"}
	DefaultIntermediatePatterns = []string{"https://nexdrive.pro/", "https://mega.nz/", "https://gofile.io/", "https://dropbox.com/"}
	DefaultTargetPatterns       = []string{"https://vcloud.zip/"}
)

// AppConfig holds the global application configuration.
// Fields carry both a yaml key and an env override; env always wins.
// PublicURL is the base used by set-webhook when no request host is available.
// WebhookSecret, when set, must match the X-Telegram-Bot-Api-Secret-Token header.
// A file send whose payload is under InlineFallbackLimit bytes may fall back to an inline message.
type AppConfig struct {
	BotToken             string        `yaml:"bot_token" env:"BOT_TOKEN"`
	Port                 int           `yaml:"port" env:"PORT"`
	PublicURL            string        `yaml:"public_url,omitempty" env:"PUBLIC_URL"`
	WebhookSecret        string        `yaml:"webhook_secret,omitempty" env:"WEBHOOK_SECRET"`
	TelegramAPIEndpoint  string        `yaml:"telegram_api_endpoint,omitempty" env:"TELEGRAM_API_ENDPOINT"`
	TelegramFileEndpoint string        `yaml:"telegram_file_endpoint,omitempty" env:"TELEGRAM_FILE_ENDPOINT"`
	AllowedDomains       []string      `yaml:"allowed_domains" env:"ALLOWED_DOMAINS"`
	IntermediatePatterns []string      `yaml:"intermediate_patterns" env:"INTERMEDIATE_PATTERNS"`
	TargetPatterns       []string      `yaml:"target_patterns" env:"TARGET_PATTERNS"`
	UserAgent            string        `yaml:"user_agent,omitempty" env:"USER_AGENT"`
	MaxRetries           int           `yaml:"max_retries,omitempty" env:"MAX_RETRIES"`
	InitialRetryDelay    time.Duration `yaml:"initial_retry_delay,omitempty" env:"INITIAL_RETRY_DELAY"`
	RetryGrowthFactor    float64       `yaml:"retry_growth_factor,omitempty" env:"RETRY_GROWTH_FACTOR"`
	MaxRetryDelay        time.Duration `yaml:"max_retry_delay,omitempty" env:"MAX_RETRY_DELAY"`
	MaxBodyBytes         int64         `yaml:"max_body_bytes,omitempty" env:"MAX_BODY_BYTES"`
	IntermediateDelay    time.Duration `yaml:"intermediate_delay,omitempty" env:"INTERMEDIATE_DELAY"`
	SeedDelay            time.Duration `yaml:"seed_delay,omitempty" env:"SEED_DELAY"`
	BatchDelay           time.Duration `yaml:"batch_delay,omitempty" env:"BATCH_DELAY"`
	BatchSize            int           `yaml:"batch_size,omitempty" env:"BATCH_SIZE"`
	MaxURLsPerFile       int           `yaml:"max_urls_per_file,omitempty" env:"MAX_URLS_PER_FILE"`
	MaxConcurrentRuns    int           `yaml:"max_concurrent_runs,omitempty" env:"MAX_CONCURRENT_RUNS"`
	CacheIntermediates   bool          `yaml:"cache_intermediate_pages,omitempty" env:"CACHE_INTERMEDIATE_PAGES"`
	OutputFilePrefix     string        `yaml:"output_file_prefix,omitempty" env:"OUTPUT_FILE_PREFIX"`
	SendRatePerSecond    float64       `yaml:"send_rate_per_second,omitempty" env:"SEND_RATE_PER_SECOND"`
	SendBurst            int           `yaml:"send_burst,omitempty" env:"SEND_BURST"`
	InlineFallbackLimit  int           `yaml:"inline_fallback_limit,omitempty" env:"INLINE_FALLBACK_LIMIT"`
	InlineFallbackChars  int           `yaml:"inline_fallback_chars,omitempty" env:"INLINE_FALLBACK_CHARS"`

	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty" env:"REQUEST_TIMEOUT"` // Overall per-request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// RetryPolicy is the immutable retry/backoff settings handed to the fetcher
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	GrowthFactor float64
	MaxDelay     time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

// PipelineConfig is the immutable configuration the crawl pipeline is constructed with
type PipelineConfig struct {
	IntermediatePatterns []string
	TargetPatterns       []string
	IntermediateDelay    time.Duration
	SeedDelay            time.Duration
	BatchDelay           time.Duration
	BatchSize            int
	CacheIntermediates   bool
}

// SeedPolicy controls how an ingested file becomes a seed list
type SeedPolicy struct {
	AllowedDomains []string
	MaxURLs        int
}

// TelegramConfig holds the delivery settings of the Telegram sink
type TelegramConfig struct {
	Token               string
	APIEndpoint         string // fmt pattern taking the token and the method name
	FileEndpoint        string // fmt pattern taking the token and the file path
	RatePerSecond       float64
	Burst               int
	InlineFallbackLimit int
	InlineFallbackChars int
}

// RetryPolicy returns a copy of the retry settings
func (c *AppConfig) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  c.MaxRetries,
		InitialDelay: c.InitialRetryDelay,
		GrowthFactor: c.RetryGrowthFactor,
		MaxDelay:     c.MaxRetryDelay,
		UserAgent:    c.UserAgent,
		MaxBodyBytes: c.MaxBodyBytes,
	}
}

// PipelineConfig returns a copy of the pipeline settings; slices are cloned so later config edits cannot leak in
func (c *AppConfig) PipelineConfig() PipelineConfig {
	return PipelineConfig{
		IntermediatePatterns: append([]string(nil), c.IntermediatePatterns...),
		TargetPatterns:       append([]string(nil), c.TargetPatterns...),
		IntermediateDelay:    c.IntermediateDelay,
		SeedDelay:            c.SeedDelay,
		BatchDelay:           c.BatchDelay,
		BatchSize:            c.BatchSize,
		CacheIntermediates:   c.CacheIntermediates,
	}
}

// SeedPolicy returns a copy of the seed-list settings
func (c *AppConfig) SeedPolicy() SeedPolicy {
	return SeedPolicy{
		AllowedDomains: append([]string(nil), c.AllowedDomains...),
		MaxURLs:        c.MaxURLsPerFile,
	}
}

// TelegramConfig returns a copy of the Telegram delivery settings
func (c *AppConfig) TelegramConfig() TelegramConfig {
	return TelegramConfig{
		Token:               c.BotToken,
		APIEndpoint:         c.TelegramAPIEndpoint,
		FileEndpoint:        c.TelegramFileEndpoint,
		RatePerSecond:       c.SendRatePerSecond,
		Burst:               c.SendBurst,
		InlineFallbackLimit: c.InlineFallbackLimit,
		InlineFallbackChars: c.InlineFallbackChars,
	}
}

// MaskedToken returns the first 10 characters of the bot token, for display
func (c *AppConfig) MaskedToken() string {
	if len(c.BotToken) <= 10 {
		return c.BotToken + "..."
	}
	return c.BotToken[:10] + "..."
}
