// Package config loads application configuration from the environment and
// an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMongo  = "mongo"
	StoreSQLite = "sqlite"
)

// Config holds the application configuration.
type Config struct {
	ServerPort int    `mapstructure:"PORT"`
	Env        string `mapstructure:"APP_ENV"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	// StoreDriver selects the credential store backend: mongo or sqlite.
	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`
	DatabasePath  string `mapstructure:"DATABASE_PATH"`

	JWTSecret     string        `mapstructure:"JWT_SECRET"`
	JWTExpiration time.Duration `mapstructure:"JWT_EXPIRATION"`
	BcryptCost    int           `mapstructure:"BCRYPT_COST"`
	// RecheckActive makes the auth middleware re-read the account on every
	// request instead of trusting the active flag snapshotted in the token.
	RecheckActive bool `mapstructure:"AUTH_RECHECK_ACTIVE"`

	CORSAllowedOrigins  string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	MobileDefaultRegion string `mapstructure:"MOBILE_DEFAULT_REGION"`

	S3Endpoint      string        `mapstructure:"S3_ENDPOINT"`
	S3Region        string        `mapstructure:"S3_REGION"`
	S3Bucket        string        `mapstructure:"S3_BUCKET"`
	S3AccessKey     string        `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey     string        `mapstructure:"S3_SECRET_KEY"`
	S3PublicBaseURL string        `mapstructure:"S3_PUBLIC_BASE_URL"`
	UploadTimeout   time.Duration `mapstructure:"UPLOAD_TIMEOUT"`
	UploadMaxBytes  int64         `mapstructure:"UPLOAD_MAX_BYTES"`

	// Bootstrap admin, created at startup when all three are set.
	AdminUsername string `mapstructure:"ADMIN_USERNAME"`
	AdminEmail    string `mapstructure:"ADMIN_EMAIL"`
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Environment variables override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 5000)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", StoreMongo)
	v.SetDefault("MONGO_URI", "mongodb://127.0.0.1:27017")
	v.SetDefault("MONGO_DATABASE", "usermgmt")
	v.SetDefault("DATABASE_PATH", "./usermgmt.db")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_EXPIRATION", "1h")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("AUTH_RECHECK_ACTIVE", false)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("MOBILE_DEFAULT_REGION", "US")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_PUBLIC_BASE_URL", "")
	v.SetDefault("UPLOAD_TIMEOUT", "15s")
	v.SetDefault("UPLOAD_MAX_BYTES", 5*1024*1024)
	v.SetDefault("ADMIN_USERNAME", "")
	v.SetDefault("ADMIN_EMAIL", "")
	v.SetDefault("ADMIN_PASSWORD", "")
}

// Validate checks the values that the server cannot start without.
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.ServerPort)
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set")
	}
	if c.JWTExpiration <= 0 {
		return errors.New("config: JWT_EXPIRATION must be a positive duration")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	switch c.StoreDriver {
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("config: MONGO_URI must be set when STORE_DRIVER=mongo")
		}
	case StoreSQLite:
		if c.DatabasePath == "" {
			return errors.New("config: DATABASE_PATH must be set when STORE_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	// The router sends Access-Control-Allow-Credentials, which browsers
	// refuse to combine with a wildcard origin.
	for _, origin := range c.AllowedOrigins() {
		if origin == "*" {
			return errors.New("config: CORS_ALLOWED_ORIGINS must list explicit origins, \"*\" is not allowed with credentials")
		}
	}
	if c.UploadTimeout <= 0 {
		return errors.New("config: UPLOAD_TIMEOUT must be a positive duration")
	}
	if c.UploadMaxBytes <= 0 {
		return errors.New("config: UPLOAD_MAX_BYTES must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AllowedOrigins returns the comma-separated CORS origins as a slice.
func (c *Config) AllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AdminSeedEnabled reports whether a bootstrap admin is configured.
func (c *Config) AdminSeedEnabled() bool {
	return c.AdminUsername != "" && c.AdminEmail != "" && c.AdminPassword != ""
}

// ImageStoreEnabled reports whether profile image uploads can be served.
func (c *Config) ImageStoreEnabled() bool {
	return c.S3Bucket != ""
}
