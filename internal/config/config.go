// Package config loads Inkstone AI core configuration from environment
// variables with documented defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the AI core server.
type Config struct {
	Port      int
	Version   string
	Providers ProvidersConfig
	Routing   RoutingConfig
	Workflow  WorkflowConfig
	Safety    SafetyConfig
	Schema    SchemaConfig
	Telemetry TelemetryConfig
}

// ProvidersConfig configures the concrete provider adapters.
type ProvidersConfig struct {
	OllamaEndpoint    string
	OllamaModels      []string
	OllamaEmbedModels []string

	OpenAIEndpoint    string
	OpenAIKey         string
	OpenAIModels      []string
	OpenAIEmbedModels []string

	AnthropicEndpoint string
	AnthropicKey      string
	AnthropicModels   []string

	// CallTimeout bounds every single provider call.
	CallTimeout time.Duration

	// MaxConcurrentLocal / MaxConcurrentCloud cap in-flight calls per
	// adapter so rate-limited cloud APIs are not overloaded.
	MaxConcurrentLocal int
	MaxConcurrentCloud int
}

// RoutingConfig configures the model manager.
type RoutingConfig struct {
	// TextChain and EmbedChain are priority-ordered fallback chains of
	// descriptor IDs ("provider/model"). First entry is tried first.
	TextChain  []string
	EmbedChain []string

	// ProbeInterval is how often the registry health prober runs.
	ProbeInterval time.Duration

	// BreakerThreshold failures within BreakerWindow mark a descriptor
	// unavailable until a health probe succeeds again.
	BreakerThreshold int
	BreakerWindow    time.Duration

	// RetryCount is the bounded same-provider retry budget for clearly
	// transient errors. Fallback to the next candidate is separate.
	RetryCount int
}

// WorkflowConfig configures the content generation workflow.
type WorkflowConfig struct {
	QualityThreshold float64
	MaxIterations    int
}

// SafetyConfig configures the SQL safety validator.
type SafetyConfig struct {
	// FullScanRowThreshold: SELECTs without LIMIT against tables with a
	// row estimate at or above this raise a full-scan warning.
	FullScanRowThreshold int64
}

// SchemaConfig configures the optional Postgres schema introspector.
type SchemaConfig struct {
	// DatabaseURL, when set, lets the API fill in QueryRequest.Schema by
	// introspecting the target database. Empty disables the loader.
	DatabaseURL string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("INKSTONE_PORT", 8080),
		Version: envStr("INKSTONE_VERSION", "0.4.0"),
		Providers: ProvidersConfig{
			OllamaEndpoint:    envStr("OLLAMA_ENDPOINT", "http://localhost:11434"),
			OllamaModels:      envList("INKSTONE_OLLAMA_MODELS", "llama3:8b"),
			OllamaEmbedModels: envList("INKSTONE_OLLAMA_EMBED_MODELS", "nomic-embed-text"),

			OpenAIEndpoint:    envStr("OPENAI_ENDPOINT", "https://api.openai.com/v1"),
			OpenAIKey:         envStr("OPENAI_API_KEY", ""),
			OpenAIModels:      envList("INKSTONE_OPENAI_MODELS", "gpt-4o-mini"),
			OpenAIEmbedModels: envList("INKSTONE_OPENAI_EMBED_MODELS", "text-embedding-3-small"),

			AnthropicEndpoint: envStr("ANTHROPIC_ENDPOINT", "https://api.anthropic.com"),
			AnthropicKey:      envStr("ANTHROPIC_API_KEY", ""),
			AnthropicModels:   envList("INKSTONE_ANTHROPIC_MODELS", "claude-3-5-haiku-20241022"),

			CallTimeout:        envDur("INKSTONE_CALL_TIMEOUT", 30*time.Second),
			MaxConcurrentLocal: envInt("INKSTONE_MAX_CONCURRENT_LOCAL", 4),
			MaxConcurrentCloud: envInt("INKSTONE_MAX_CONCURRENT_CLOUD", 8),
		},
		Routing: RoutingConfig{
			// Local first for privacy, cloud as fallback.
			TextChain:  envList("INKSTONE_TEXT_CHAIN", "ollama/llama3:8b,openai/gpt-4o-mini,anthropic/claude-3-5-haiku-20241022"),
			EmbedChain: envList("INKSTONE_EMBED_CHAIN", "ollama/nomic-embed-text,openai/text-embedding-3-small"),

			ProbeInterval:    envDur("INKSTONE_PROBE_INTERVAL", 30*time.Second),
			BreakerThreshold: envInt("INKSTONE_BREAKER_THRESHOLD", 3),
			BreakerWindow:    envDur("INKSTONE_BREAKER_WINDOW", time.Minute),
			RetryCount:       envInt("INKSTONE_RETRY_COUNT", 1),
		},
		Workflow: WorkflowConfig{
			QualityThreshold: envFloat("INKSTONE_QUALITY_THRESHOLD", 0.8),
			MaxIterations:    envInt("INKSTONE_MAX_ITERATIONS", 3),
		},
		Safety: SafetyConfig{
			FullScanRowThreshold: int64(envInt("INKSTONE_FULLSCAN_ROW_THRESHOLD", 10000)),
		},
		Schema: SchemaConfig{
			DatabaseURL: envStr("INKSTONE_SCHEMA_DB_URL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "inkstone-ai-core"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList parses a comma-separated env var, trimming whitespace and
// dropping empty entries.
func envList(key, fallback string) []string {
	raw := envStr(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
