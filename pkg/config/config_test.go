package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_Policies(t *testing.T) {
	cfg := AppConfig{}
	_, err := cfg.Validate()
	require.NoError(t, err)

	rp := cfg.RetryPolicy()
	assert.Equal(t, 10, rp.MaxAttempts)
	assert.Equal(t, 5*time.Second, rp.InitialDelay)
	assert.Equal(t, 1.5, rp.GrowthFactor)
	assert.Equal(t, 30*time.Second, rp.MaxDelay)
	assert.Equal(t, DefaultUserAgent, rp.UserAgent)

	pc := cfg.PipelineConfig()
	assert.Equal(t, 50, pc.BatchSize)
	assert.Equal(t, time.Second, pc.IntermediateDelay)
	pc.TargetPatterns[0] = "https://mutated/"
	assert.Equal(t, "https://vcloud.zip/", cfg.TargetPatterns[0], "pipeline config must not alias app config")

	sp := cfg.SeedPolicy()
	assert.Equal(t, 1000, sp.MaxURLs)
	assert.Equal(t, cfg.AllowedDomains, sp.AllowedDomains)
}

func TestAppConfig_MaskedToken(t *testing.T) {
	assert.Equal(t, "1234567890...", (&AppConfig{BotToken: "1234567890:SECRET"}).MaskedToken())
	assert.Equal(t, "short...", (&AppConfig{BotToken: "short"}).MaskedToken())
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
bot_token: from-yaml
port: 9090
batch_size: 10
allowed_domains:
  - example.com
seed_delay: 3s
cache_intermediate_pages: true
http_client_settings:
  timeout: 12s
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("INTERMEDIATE_DELAY", "1500")
	t.Setenv("REQUEST_TIMEOUT", "20s")

	cfg, err := Load(path, false)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.BotToken)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, []string{"example.com"}, cfg.AllowedDomains)
	assert.Equal(t, 3*time.Second, cfg.SeedDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.IntermediateDelay)
	assert.True(t, cfg.CacheIntermediates)
	assert.Equal(t, 20*time.Second, cfg.HTTPClientSettings.Timeout)
}

func TestLoad_MissingFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))

	_, err := Load(filepath.Join(dir, "nope.yaml"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")

	cfg, err := Load(filepath.Join(dir, "nope.yaml"), true)
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not an int"), 0o644))
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))

	_, err := Load(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("VCLOUD_TEST_ONLY_PREFIX=fromfile\n"), 0o644))
	t.Setenv("ENV_FILE", envPath)
	t.Cleanup(func() { os.Unsetenv("VCLOUD_TEST_ONLY_PREFIX") })

	require.NoError(t, LoadEnvFiles())
	assert.Equal(t, "fromfile", os.Getenv("VCLOUD_TEST_ONLY_PREFIX"))
}

func TestApplyEnvOverrides_Types(t *testing.T) {
	t.Setenv("RETRY_GROWTH_FACTOR", "2.5")
	t.Setenv("CACHE_INTERMEDIATE_PAGES", "yes")
	t.Setenv("TARGET_PATTERNS", "https://a.example/, https://b.example/")
	t.Setenv("MAX_RETRY_DELAY", "not-a-duration")

	cfg := AppConfig{MaxRetryDelay: time.Second}
	ApplyEnvOverrides(&cfg)

	assert.Equal(t, 2.5, cfg.RetryGrowthFactor)
	assert.True(t, cfg.CacheIntermediates)
	assert.Equal(t, []string{"https://a.example/", "https://b.example/"}, cfg.TargetPatterns)
	assert.Equal(t, time.Second, cfg.MaxRetryDelay, "unparsable values are ignored")
}
