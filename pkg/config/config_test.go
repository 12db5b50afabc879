package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 15*time.Minute, cfg.Session.IdleBudget)
	assert.Equal(t, 2*time.Minute, cfg.Session.WarningThreshold)
	assert.Equal(t, 60*time.Second, cfg.Session.SweepInterval)
	assert.Equal(t, 120*time.Second, cfg.Session.FinalSummaryBudget)
	assert.Equal(t, 30*time.Second, cfg.Session.GradingBudget)

	assert.Equal(t, 5, cfg.RateLimit.Caps[ProviderBatchTranscription])
	assert.Equal(t, 26, cfg.RateLimit.Caps[ProviderSynthesis])
	assert.Equal(t, 10, cfg.RateLimit.Caps[ProviderStreamingTranscription])
	assert.Equal(t, 5*time.Second, cfg.RateLimit.AcquireTimeout)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Session.IdleBudget)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.yaml")
	content := `
session:
  idle_budget: 20m
  sweep_interval: 30s
rate_limits:
  caps:
    batch-transcription: 2
    streaming-transcription: 10
    synthesis: 26
    llm: 10
    search: 3
providers:
  openai:
    api_key: "{{.TEST_OPENAI_KEY}}"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20*time.Minute, cfg.Session.IdleBudget)
	assert.Equal(t, 30*time.Second, cfg.Session.SweepInterval)
	assert.Equal(t, 2, cfg.RateLimit.Caps[ProviderBatchTranscription])
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("IDLE_BUDGET_MINUTES", "5")
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Session.IdleBudget)
	assert.Equal(t, ":9999", cfg.HTTP.ListenAddr)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero idle budget", func(c *Config) { c.Session.IdleBudget = 0 }},
		{"warning >= idle budget", func(c *Config) { c.Session.WarningThreshold = c.Session.IdleBudget }},
		{"zero sweep interval", func(c *Config) { c.Session.SweepInterval = 0 }},
		{"zero cap", func(c *Config) { c.RateLimit.Caps[ProviderLLM] = 0 }},
		{"zero acquire timeout", func(c *Config) { c.RateLimit.AcquireTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExpandEnvLeavesDollarAlone(t *testing.T) {
	t.Setenv("EXPAND_ME", "value")
	in := []byte("key: {{.EXPAND_ME}}\npattern: \"^secret.*$\"\n")
	out := ExpandEnv(in)
	assert.Contains(t, string(out), "key: value")
	assert.Contains(t, string(out), "^secret.*$")
}
