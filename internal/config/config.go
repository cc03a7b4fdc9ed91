package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`

	MaxBodySize    string        `mapstructure:"MAX_BODY_SIZE"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	MintMaxFailures    int           `mapstructure:"MINT_MAX_FAILURES"`
	IdentifierCacheTTL time.Duration `mapstructure:"IDENTIFIER_CACHE_TTL"`

	AWSRegion   string `mapstructure:"AWS_REGION"`
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3PathStyle bool   `mapstructure:"S3_PATH_STYLE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"MAX_BODY_SIZE", "REQUEST_TIMEOUT",
	"MINT_MAX_FAILURES", "IDENTIFIER_CACHE_TTL",
	"AWS_REGION", "S3_ENDPOINT", "S3_PATH_STYLE",
}

// libpqKeys are the standard PostgreSQL client variables; pgx reads them
// when DATABASE_URL leaves the corresponding parts out.
var libpqKeys = []string{"PGHOST", "PGDATABASE", "PGSERVICE"}

// Load reads the environment, falling back to a .env file in the working
// directory when present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("MAX_BODY_SIZE", "10M")
	v.SetDefault("REQUEST_TIMEOUT", 60*time.Second)
	v.SetDefault("MINT_MAX_FAILURES", 3)
	v.SetDefault("IDENTIFIER_CACHE_TTL", 10*time.Minute)
	v.SetDefault("S3_PATH_STYLE", false)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" && !libpqConfigured() {
		return nil, fmt.Errorf("DATABASE_URL is required (or set PGHOST/PGDATABASE/PGSERVICE)")
	}
	return cfg, nil
}

func libpqConfigured() bool {
	for _, k := range libpqKeys {
		if os.Getenv(k) != "" {
			return true
		}
	}
	return false
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Level parses LOG_LEVEL, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate refuses to serve outside development without a way to verify
// bearer tokens.
func (c *Config) Validate() error {
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d), got %d", c.DBMaxConns, c.DBMinConns)
	}
	if c.MintMaxFailures < 1 {
		return fmt.Errorf("MINT_MAX_FAILURES must be at least 1, got %d", c.MintMaxFailures)
	}
	if c.IsDev() {
		return nil
	}
	if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q; "+
				"refusing to serve without authentication", c.Env)
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if c.IsProduction() && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER is required in production")
	}
	return nil
}
