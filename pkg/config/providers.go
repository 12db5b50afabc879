package config

import "time"

// ProvidersConfig groups external provider endpoints and credentials.
// Credentials are normally injected via {{.ENV_VAR}} expansion.
type ProvidersConfig struct {
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Deepgram   DeepgramConfig   `yaml:"deepgram"`
	AssemblyAI AssemblyAIConfig `yaml:"assemblyai"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Serper     SerperConfig     `yaml:"serper"`
}

// OpenAIConfig configures the LLM provider.
type OpenAIConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxRetries  int           `yaml:"max_retries"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DeepgramConfig configures streaming transcription.
type DeepgramConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
}

// AssemblyAIConfig configures batch transcription.
type AssemblyAIConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// ElevenLabsConfig configures speech synthesis.
type ElevenLabsConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	VoiceID      string `yaml:"voice_id"`
	ModelID      string `yaml:"model_id"`
	OutputFormat string `yaml:"output_format"`
}

// SerperConfig configures web search for resource recommendations.
type SerperConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// DefaultProvidersConfig returns provider defaults with empty credentials.
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxRetries:  3,
			Timeout:     60 * time.Second,
		},
		Deepgram: DeepgramConfig{
			BaseURL:    "wss://api.deepgram.com/v1/listen",
			Model:      "nova-2",
			Language:   "en-US",
			SampleRate: 16000,
		},
		AssemblyAI: AssemblyAIConfig{
			BaseURL:     "https://api.assemblyai.com/v2",
			PollTimeout: 5 * time.Minute,
		},
		ElevenLabs: ElevenLabsConfig{
			BaseURL:      "https://api.elevenlabs.io/v1",
			VoiceID:      "21m00Tcm4TlvDq8ikWAM",
			ModelID:      "eleven_turbo_v2_5",
			OutputFormat: "mp3_44100_128",
		},
		Serper: SerperConfig{
			BaseURL: "https://google.serper.dev/search",
		},
	}
}
