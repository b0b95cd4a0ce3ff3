package config

import (
	"fmt"
	"strings"
)

// Config holds all runtime configuration loaded from environment
// variables via github.com/caarlos0/env struct tags.
type Config struct {
	// Server configuration
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"engagement-engine"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// History store. An empty DB_URL selects the in-memory store so the
	// service runs out-of-the-box for local development.
	DBURL string `env:"DB_URL"`

	// Redis (dedup projection)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// Engine tuning file
	EngineConfigPath string `env:"ENGINE_CONFIG_PATH" envDefault:"config/engine.yaml"`

	// Contextual Help Generator endpoint. Empty means every
	// intervention uses the fallback message.
	HelpGeneratorURL string `env:"HELP_GENERATOR_URL"`

	// API keys in "caller1:key1,caller2:key2" form. Requests present
	// the key via X-API-Key.
	APIKeys string `env:"API_KEYS"`

	// Telemetry
	OtelEnabled    bool   `env:"OTEL_ENABLED" envDefault:"false"`
	ZipkinEndpoint string `env:"ZIPKIN_ENDPOINT" envDefault:"http://localhost:9411/api/v2/spans"`
}

// Validate performs custom validation on the configuration.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT: %d (must be 1-65535)", c.HTTPPort)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid METRICS_PORT: %d (must be 1-65535)", c.MetricsPort)
	}
	if c.HTTPPort == c.MetricsPort {
		return fmt.Errorf("HTTP_PORT and METRICS_PORT must differ, both are %d", c.HTTPPort)
	}
	if _, err := c.ParsedAPIKeys(); err != nil {
		return err
	}
	return nil
}

// ParsedAPIKeys returns the apiKey -> caller mapping. An empty API_KEYS
// falls back to a local development key.
func (c *Config) ParsedAPIKeys() (map[string]string, error) {
	keys := map[string]string{}
	raw := strings.TrimSpace(c.APIKeys)
	if raw != "" {
		for _, pair := range strings.Split(raw, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			parts := strings.SplitN(pair, ":", 2)
			if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
				return nil, fmt.Errorf(`API_KEYS must be "caller:key,caller:key"`)
			}
			keys[strings.TrimSpace(parts[1])] = strings.TrimSpace(parts[0])
		}
	}
	if len(keys) == 0 {
		keys["dev-key-local"] = "local"
	}
	return keys, nil
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
