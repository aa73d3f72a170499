package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config holds runtime configuration for one invocation. Every field is
// resolved at load time; a missing required value aborts before any
// remote call.
type Config struct {
	// VastAPIKey authenticates against the marketplace. Read from the
	// first line of ~/.vast_api_key, falling back to VAST_API_KEY.
	VastAPIKey string

	// LiteLLMURL is the routing gateway's admin base URL.
	LiteLLMURL string

	// StatePath is where the instance registry lives.
	StatePath string

	// LogLevel controls logger verbosity ("debug" or "info").
	LogLevel string
}

const apiKeyFileName = ".vast_api_key"

// Load resolves configuration from the key file and environment.
func Load() (*Config, error) {
	cfg := &Config{
		VastAPIKey: loadAPIKey(),
		LiteLLMURL: getEnv("LITELLM_API_URL", "http://localhost:4000"),
		StatePath:  getEnv("LLM_DEPLOY_STATE", "state.json"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}

	if cfg.VastAPIKey == "" {
		return nil, fmt.Errorf("marketplace API key not found: put it in ~/%s or set VAST_API_KEY", apiKeyFileName)
	}
	return cfg, nil
}

// loadAPIKey reads the first line of the key file, falling back to the
// environment.
func loadAPIKey() string {
	if home, err := os.UserHomeDir(); err == nil {
		raw, err := os.ReadFile(filepath.Join(home, apiKeyFileName))
		if err == nil {
			lines := strings.SplitN(string(raw), "\n", 2)
			if key := strings.TrimSpace(lines[0]); key != "" {
				return key
			}
		}
	}
	return os.Getenv("VAST_API_KEY")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
