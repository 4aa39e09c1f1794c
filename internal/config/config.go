package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	WebhookSecret       string        `mapstructure:"WEBHOOK_SECRET"`
	WebhookSecretHeader string        `mapstructure:"WEBHOOK_SECRET_HEADER"`
	FieldMapFile        string        `mapstructure:"FIELD_MAP_FILE"`
	BodyLimit           string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	AuthIssuer          string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience        string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL         string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey      string        `mapstructure:"AUTH_SIGNING_KEY"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"WEBHOOK_SECRET",
	"WEBHOOK_SECRET_HEADER",
	"FIELD_MAP_FILE",
	"BODY_LIMIT",
	"REQUEST_TIMEOUT",
	"CORS_ORIGINS",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
	"AUTH_JWKS_URL",
	"AUTH_SIGNING_KEY",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("WEBHOOK_SECRET_HEADER", "X-Webhook-Secret")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Unmarshal only sees env vars that were bound explicitly.
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// .env is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.WebhookSecret == "" {
		log.Println("WARNING: WEBHOOK_SECRET is empty; webhook secret checks are disabled.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Production requires a
// webhook secret and a way to verify staff tokens.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required in production")
		}
		if c.AuthIssuer == "" && c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY is required in production")
		}
	}
	if c.WebhookSecretHeader == "" {
		return fmt.Errorf("WEBHOOK_SECRET_HEADER must not be empty")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}
	return nil
}
