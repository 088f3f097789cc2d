package config

import (
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/thereceipt/cafeprint/internal/log"
)

func applyEnv(cfg *Config) {
	logger := log.WithComponent("config")

	cfg.Server.Port = parseString(logger, "SERVER_PORT", cfg.Server.Port)
	cfg.Terminal.ID = parseString(logger, "CAFEPRINT_TERMINAL_ID", cfg.Terminal.ID)
	cfg.Relay.URL = parseString(logger, "CAFEPRINT_RELAY_URL", cfg.Relay.URL)
	cfg.Relay.APIKey = parseString(logger, "CAFEPRINT_RELAY_API_KEY", cfg.Relay.APIKey)
	cfg.Registry.Path = parseString(logger, "CAFEPRINT_REGISTRY", cfg.Registry.Path)
	cfg.Log.Level = parseString(logger, "LOG_LEVEL", cfg.Log.Level)

	if _, ok := os.LookupEnv("CAFEPRINT_RELAY_URL"); ok && cfg.Relay.URL != "" {
		cfg.Relay.Enabled = true
	}
}

// parseString reads key from the environment, falling back to current.
func parseString(logger zerolog.Logger, key, current string) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return current
	}

	lowerKey := strings.ToLower(key)
	if strings.Contains(lowerKey, "key") || strings.Contains(lowerKey, "token") {
		logger.Debug().
			Str("key", key).
			Str("source", "environment").
			Bool("sensitive", true).
			Msg("using environment variable")
	} else {
		logger.Debug().
			Str("key", key).
			Str("value", value).
			Str("source", "environment").
			Msg("using environment variable")
	}
	return value
}
