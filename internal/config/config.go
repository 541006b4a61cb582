// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.kbsync/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Confluence: wiki REST endpoint, credentials, space selection
//   - AI: provider, model, embedder
//   - Storage: PostgreSQL connection (see storage.go)
//   - Sync: inter-page delay, content truncation
//   - Retrieval: top-k, similarity threshold, fallback contact
//   - Observability: Datadog APM tracing (see observability.go)
//
// Security: Sensitive data (passwords, API tokens) are never logged.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidConfluenceURL indicates the Confluence base URL is invalid.
	ErrInvalidConfluenceURL = errors.New("invalid Confluence base URL")

	// ErrMissingConfluenceAuth indicates Confluence credentials are missing.
	ErrMissingConfluenceAuth = errors.New("missing Confluence credentials")

	// ErrInvalidSpaceKeys indicates no wiki spaces are configured.
	ErrInvalidSpaceKeys = errors.New("invalid space keys")

	// ErrInvalidTopK indicates a retrieval top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidThreshold indicates the similarity threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidWorkers indicates the event worker configuration is invalid.
	ErrInvalidWorkers = errors.New("invalid worker configuration")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality. Our pgvector schema uses
	// 768 dimensions; see vectorindex.Dimension.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultScoreThreshold is the minimum cosine similarity for a retrieval
	// hit to count as relevant.
	DefaultScoreThreshold float32 = 0.6

	// DefaultMaxContentChars caps how much page text is sent to the model
	// when synthesizing Q&A pairs.
	DefaultMaxContentChars = 5000
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Confluence source configuration
	ConfluenceBaseURL  string   `mapstructure:"confluence_base_url" json:"confluence_base_url"`
	ConfluenceUser     string   `mapstructure:"confluence_user" json:"confluence_user"`
	ConfluenceAPIToken string   `mapstructure:"confluence_api_token" json:"confluence_api_token"` // SENSITIVE: masked in MarshalJSON
	SpaceKeys          []string `mapstructure:"space_keys" json:"space_keys"`

	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`     // "gemini" (default) or "ollama"
	ModelName     string `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "llama3.3"
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Sync configuration
	SyncDelayMS     int `mapstructure:"sync_delay_ms" json:"sync_delay_ms"`
	MaxContentChars int `mapstructure:"max_content_chars" json:"max_content_chars"`

	// Retrieval configuration
	TopK            int32   `mapstructure:"top_k" json:"top_k"`
	ConfirmedTopK   int32   `mapstructure:"confirmed_top_k" json:"confirmed_top_k"`
	ScoreThreshold  float32 `mapstructure:"score_threshold" json:"score_threshold"`
	FallbackContact string  `mapstructure:"fallback_contact" json:"fallback_contact"`

	// Event worker pool configuration
	WorkerCount int `mapstructure:"worker_count" json:"worker_count"`
	QueueSize   int `mapstructure:"queue_size" json:"queue_size"`

	// Observability configuration (see observability.go for type definition)
	Datadog DatadogConfig `mapstructure:"datadog" json:"datadog"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.kbsync/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".kbsync")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Space keys may arrive as a comma-separated env string
	cfg.SpaceKeys = splitSpaceKeys(cfg.SpaceKeys)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "kbsync")
	viper.SetDefault("postgres_password", "kbsync_dev_password")
	viper.SetDefault("postgres_db_name", "kbsync")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Sync defaults
	viper.SetDefault("sync_delay_ms", 1000)
	viper.SetDefault("max_content_chars", DefaultMaxContentChars)

	// Retrieval defaults
	viper.SetDefault("top_k", 5)
	viper.SetDefault("confirmed_top_k", 3)
	viper.SetDefault("score_threshold", DefaultScoreThreshold)
	viper.SetDefault("fallback_contact", "the knowledge base team")

	// Event worker defaults
	viper.SetDefault("worker_count", 4)
	viper.SetDefault("queue_size", 64)

	// Datadog defaults
	viper.SetDefault("datadog.agent_host", "localhost:4318")
	viper.SetDefault("datadog.environment", "dev")
	viper.SetDefault("datadog.service_name", "kbsync")
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Confluence credentials
	mustBind("confluence_base_url", "CONFLUENCE_BASE_URL")
	mustBind("confluence_user", "CONFLUENCE_USER")
	mustBind("confluence_api_token", "CONFLUENCE_API_TOKEN")
	mustBind("space_keys", "KBSYNC_SPACE_KEYS")

	// AI provider and model overrides
	mustBind("provider", "KBSYNC_PROVIDER")
	mustBind("model_name", "KBSYNC_MODEL_NAME")
	mustBind("embedder_model", "KBSYNC_EMBEDDER_MODEL")
	mustBind("ollama_host", "KBSYNC_OLLAMA_HOST")

	// Retrieval fallback contact (shown to end users)
	mustBind("fallback_contact", "KBSYNC_FALLBACK_CONTACT")

	// Datadog API key (optional, for observability)
	mustBind("datadog.api_key", "DD_API_KEY")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
	// Validation checks its presence when the gemini provider is selected.
}

// splitSpaceKeys expands comma-separated entries and trims whitespace.
// KBSYNC_SPACE_KEYS="DEV, OPS" arrives as a single element.
func splitSpaceKeys(keys []string) []string {
	var out []string
	for _, k := range keys {
		for _, part := range strings.Split(k, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// Previous attempts:
// - "****" failed: passwords with "*" leaked
// - "[REDACTED]" failed: passwords with "A", "D", "E", etc. leaked
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Fully mask short secrets to prevent substring matching attacks
	if len(s) <= 8 {
		return maskedValue
	}
	// For longer secrets, show first/last 2 chars for debug utility
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - ConfluenceAPIToken
//   - PostgresPassword
//   - Datadog.APIKey (via DatadogConfig.MarshalJSON)
//
// When adding new sensitive fields, update this method or the nested struct's MarshalJSON.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.ConfluenceAPIToken = maskSecret(a.ConfluenceAPIToken)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	if c.Provider == ProviderOllama {
		return ProviderOllama + "/" + c.ModelName
	}
	return ProviderGoogleAI + "/" + c.ModelName
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
