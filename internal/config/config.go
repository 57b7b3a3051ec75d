// Package config loads the conversation engine's environment-variable
// configuration surface (§6), with an optional YAML override file for
// operators who prefer a checked-in config over a long list of env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved process configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	STTProvider string `yaml:"stt_provider"`
	LLMProvider string `yaml:"llm_provider"`

	GroqAPIKey       string `yaml:"-"`
	OpenAIAPIKey     string `yaml:"-"`
	AnthropicAPIKey  string `yaml:"-"`
	GoogleAPIKey     string `yaml:"-"`
	DeepgramAPIKey   string `yaml:"-"`
	AssemblyAIAPIKey string `yaml:"-"`
	LokutorAPIKey    string `yaml:"-"`

	GroqSTTModel      string `yaml:"groq_stt_model"`
	OpenAISTTModel    string `yaml:"openai_stt_model"`
	GroqLLMModel      string `yaml:"groq_llm_model"`
	OpenAILLMModel    string `yaml:"openai_llm_model"`
	AnthropicLLMModel string `yaml:"anthropic_llm_model"`
	GoogleLLMModel    string `yaml:"google_llm_model"`

	StoreDSN string `yaml:"-"`

	VADThreshold     float64       `yaml:"vad_threshold"`
	VADSilenceWindow time.Duration `yaml:"vad_silence_window"`

	IdleThreshold   time.Duration `yaml:"idle_threshold"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	TranscriptionTimeout  time.Duration `yaml:"transcription_timeout"`
	ReasoningTimeout      time.Duration `yaml:"reasoning_timeout"`
	SynthesisTimeout      time.Duration `yaml:"synthesis_timeout"`
	ServicesHealthTimeout time.Duration `yaml:"services_health_timeout"`
	ReconnectGrace        time.Duration `yaml:"reconnect_grace"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a Config populated with the spec's enumerated defaults.
func Default() Config {
	return Config{
		ListenAddr:            ":8080",
		STTProvider:           "groq",
		LLMProvider:           "groq",
		GroqSTTModel:          "whisper-large-v3-turbo",
		OpenAISTTModel:        "whisper-1",
		GroqLLMModel:          "llama-3.3-70b-versatile",
		OpenAILLMModel:        "gpt-4o",
		AnthropicLLMModel:     "claude-3-5-sonnet-20241022",
		GoogleLLMModel:        "gemini-1.5-flash",
		VADThreshold:          0.01,
		VADSilenceWindow:      1000 * time.Millisecond,
		IdleThreshold:         3_600_000 * time.Millisecond,
		CleanupInterval:       300_000 * time.Millisecond,
		TranscriptionTimeout:  10 * time.Second,
		ReasoningTimeout:      30 * time.Second,
		SynthesisTimeout:      30 * time.Second,
		ServicesHealthTimeout: 3 * time.Second,
		ReconnectGrace:        5 * time.Second,
		MetricsAddr:           ":9090",
	}
}

// Load builds a Config from (in increasing priority order) the package
// defaults, an optional YAML override file at yamlPath, a .env file in the
// working directory, and the process environment. Environment variables
// always win, matching the teacher's cmd/agent/main.go precedence.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if err := mergeYAML(&cfg, yamlPath); err != nil {
			return cfg, err
		}
	}

	// Best-effort: a missing .env file is not an error, mirroring the
	// teacher's main.go which only logs a note and continues.
	_ = godotenv.Load()

	applyEnv(&cfg)
	return cfg, nil
}

func mergeYAML(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config: decode %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	str(&cfg.ListenAddr, "CONVO_LISTEN_ADDR")
	str(&cfg.MetricsAddr, "CONVO_METRICS_ADDR")
	str(&cfg.STTProvider, "STT_PROVIDER")
	str(&cfg.LLMProvider, "LLM_PROVIDER")

	cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv("DEEPGRAM_API_KEY")
	cfg.AssemblyAIAPIKey = os.Getenv("ASSEMBLYAI_API_KEY")
	cfg.LokutorAPIKey = os.Getenv("LOKUTOR_API_KEY")
	cfg.StoreDSN = os.Getenv("CONVO_STORE_DSN")

	str(&cfg.GroqSTTModel, "GROQ_STT_MODEL")
	str(&cfg.OpenAISTTModel, "OPENAI_STT_MODEL")
	str(&cfg.GroqLLMModel, "GROQ_LLM_MODEL")
	str(&cfg.OpenAILLMModel, "OPENAI_LLM_MODEL")
	str(&cfg.AnthropicLLMModel, "ANTHROPIC_LLM_MODEL")
	str(&cfg.GoogleLLMModel, "GOOGLE_LLM_MODEL")

	float(&cfg.VADThreshold, "CONVO_VAD_THRESHOLD")
	duration(&cfg.VADSilenceWindow, "CONVO_VAD_SILENCE_WINDOW_MS", time.Millisecond)
	duration(&cfg.IdleThreshold, "CONVO_IDLE_THRESHOLD_MS", time.Millisecond)
	duration(&cfg.CleanupInterval, "CONVO_CLEANUP_INTERVAL_MS", time.Millisecond)
}

func str(dst *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*dst = v
	}
}

func float(dst *float64, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func duration(dst *time.Duration, envVar string, unit time.Duration) {
	if v := os.Getenv(envVar); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = time.Duration(n) * unit
		}
	}
}
