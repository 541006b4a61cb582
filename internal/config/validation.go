package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and model configuration
	switch c.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama)", ErrInvalidProvider, c.Provider)
	}

	if c.Provider == ProviderGemini && os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.Provider == ProviderOllama {
		if _, err := url.Parse(c.OllamaHost); err != nil || c.OllamaHost == "" {
			return fmt.Errorf("%w: %q", ErrInvalidOllamaHost, c.OllamaHost)
		}
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 2. Confluence source configuration
	if c.ConfluenceBaseURL == "" {
		return fmt.Errorf("%w: confluence_base_url cannot be empty", ErrInvalidConfluenceURL)
	}
	u, err := url.Parse(c.ConfluenceBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q must be an absolute http(s) URL", ErrInvalidConfluenceURL, c.ConfluenceBaseURL)
	}

	if c.ConfluenceUser == "" || c.ConfluenceAPIToken == "" {
		return fmt.Errorf("%w: set CONFLUENCE_USER and CONFLUENCE_API_TOKEN", ErrMissingConfluenceAuth)
	}

	if len(c.SpaceKeys) == 0 {
		return fmt.Errorf("%w: at least one space key is required (KBSYNC_SPACE_KEYS)", ErrInvalidSpaceKeys)
	}

	// 3. Retrieval configuration
	if c.TopK <= 0 || c.TopK > 20 {
		return fmt.Errorf("%w: top_k must be between 1 and 20, got %d", ErrInvalidTopK, c.TopK)
	}
	if c.ConfirmedTopK <= 0 || c.ConfirmedTopK > 20 {
		return fmt.Errorf("%w: confirmed_top_k must be between 1 and 20, got %d", ErrInvalidTopK, c.ConfirmedTopK)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidThreshold, c.ScoreThreshold)
	}

	// 4. Event worker configuration
	if c.WorkerCount < 1 || c.WorkerCount > 64 {
		return fmt.Errorf("%w: worker_count must be between 1 and 64, got %d", ErrInvalidWorkers, c.WorkerCount)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive, got %d", ErrInvalidWorkers, c.QueueSize)
	}

	// 5. PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	if c.PostgresPassword == "kbsync_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable)
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
