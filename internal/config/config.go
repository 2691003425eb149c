// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr is the Redis address for the revocation/code store (e.g. localhost:6379).
	// Empty selects the in-process memory store (dev and tests only).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis database number.
	RedisDB int `mapstructure:"REDIS_DB"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTSecret is a symmetric HS256 secret (min 32 bytes). Only honored
	// outside production and only when no key pair is configured.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTKeyID is the kid published in the JWKS for the active key.
	JWTKeyID string `mapstructure:"JWT_KEY_ID"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	// BcryptCost is the bcrypt cost factor (4-31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// AuthCodeTTL bounds the authorize-to-exchange window (e.g. "2m").
	AuthCodeTTL string `mapstructure:"AUTH_CODE_TTL"`
	// ConsentTTL bounds the authorize-to-consent window (e.g. "10m").
	ConsentTTL string `mapstructure:"CONSENT_TTL"`

	// LockoutThreshold is the failed-login count that locks an account.
	LockoutThreshold int `mapstructure:"LOCKOUT_THRESHOLD"`
	// LockoutWindow is how long failed attempts are remembered (e.g. "15m").
	LockoutWindow string `mapstructure:"LOCKOUT_WINDOW"`

	// OTLPEndpoint is the OTLP collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Env is the application environment (e.g. "development", "production").
	// Production requires an asymmetric signing key pair.
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_KEY_ID", "primary")
	v.SetDefault("JWT_ISSUER", "trustcore")
	v.SetDefault("JWT_AUDIENCE", "trustcore-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("AUTH_CODE_TTL", "2m")
	v.SetDefault("CONSENT_TTL", "10m")
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_WINDOW", "15m")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	hasKeyPair := cfg.JWTPrivateKey != "" && cfg.JWTPublicKey != ""
	if cfg.Production() && !hasKeyPair {
		return nil, errors.New("config: production requires JWT_PRIVATE_KEY and JWT_PUBLIC_KEY; symmetric JWT_SECRET is not accepted")
	}
	if !hasKeyPair && cfg.JWTSecret == "" {
		return nil, errors.New("config: either a JWT key pair or JWT_SECRET must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// Production reports whether the app runs with APP_ENV=production.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return durationOr(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return durationOr(c.JWTRefreshTTL, 168*time.Hour)
}

// CodeTTL parses AuthCodeTTL. Returns 2m if unset or invalid.
func (c *Config) CodeTTL() time.Duration {
	return durationOr(c.AuthCodeTTL, 2*time.Minute)
}

// ConsentWindow parses ConsentTTL. Returns 10m if unset or invalid.
func (c *Config) ConsentWindow() time.Duration {
	return durationOr(c.ConsentTTL, 10*time.Minute)
}

// LockWindow parses LockoutWindow. Returns 15m if unset or invalid.
func (c *Config) LockWindow() time.Duration {
	return durationOr(c.LockoutWindow, 15*time.Minute)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
