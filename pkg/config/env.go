package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

func unmarshalYAML(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies well-known environment variables on top of the
// file/default configuration. Env wins so deployments can override a shared
// config file per pod.
func (c *Config) applyEnvOverrides() {
	setString(&c.HTTP.ListenAddr, "HTTP_ADDR")
	if port := os.Getenv("HTTP_PORT"); port != "" {
		c.HTTP.ListenAddr = ":" + port
	}

	setMinutes(&c.Session.IdleBudget, "IDLE_BUDGET_MINUTES")
	setMinutes(&c.Session.WarningThreshold, "WARNING_THRESHOLD_MINUTES")
	setSeconds(&c.Session.SweepInterval, "IDLE_SWEEP_INTERVAL_SECONDS")
	setSeconds(&c.Session.FinalSummaryBudget, "FINAL_SUMMARY_BUDGET_SECONDS")
	setSeconds(&c.Session.GradingBudget, "PER_TURN_GRADING_BUDGET_SECONDS")
	setSeconds(&c.RateLimit.AcquireTimeout, "RATE_LIMIT_ACQUIRE_TIMEOUT_SECONDS")

	setString(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.Providers.OpenAI.Model, "OPENAI_MODEL")
	setString(&c.Providers.Deepgram.APIKey, "DEEPGRAM_API_KEY")
	setString(&c.Providers.AssemblyAI.APIKey, "ASSEMBLYAI_API_KEY")
	setString(&c.Providers.ElevenLabs.APIKey, "ELEVENLABS_API_KEY")
	setString(&c.Providers.Serper.APIKey, "SERPER_API_KEY")

	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Database, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSLMODE")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	if v := os.Getenv("USE_MOCK_AUTH"); v != "" {
		c.Auth.MockMode = v == "true" || v == "1"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setMinutes(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Minute
		}
	}
}

func setSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}
