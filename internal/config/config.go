package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	SlotCacheTTL    time.Duration `mapstructure:"SLOT_CACHE_TTL"`
	AMQPURL         string        `mapstructure:"AMQP_URL"`
	AMQPExchange    string        `mapstructure:"AMQP_EXCHANGE"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	JWTSigningKey   string        `mapstructure:"JWT_SIGNING_KEY"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	ClinicTimezone  string        `mapstructure:"CLINIC_TIMEZONE"`
	OverflowMinutes int           `mapstructure:"OVERFLOW_MINUTES"`
	ImportChunkSize int           `mapstructure:"IMPORT_CHUNK_SIZE"`
	ImportMaxBytes  string        `mapstructure:"IMPORT_MAX_BYTES"`
	ReminderCron    string        `mapstructure:"REMINDER_CRON"`
	SMTPHost        string        `mapstructure:"SMTP_HOST"`
	SMTPPort        int           `mapstructure:"SMTP_PORT"`
	SMTPUser        string        `mapstructure:"SMTP_USER"`
	SMTPPass        string        `mapstructure:"SMTP_PASS"`
	SMTPFrom        string        `mapstructure:"SMTP_FROM"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SLOT_CACHE_TTL", "10m")
	v.SetDefault("AMQP_EXCHANGE", "clinic.appointments")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("OVERFLOW_MINUTES", 15)
	v.SetDefault("IMPORT_CHUNK_SIZE", 50)
	v.SetDefault("IMPORT_MAX_BYTES", "10M")
	v.SetDefault("REMINDER_CRON", "0 18 * * *")
	v.SetDefault("SMTP_PORT", 587)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "SLOT_CACHE_TTL", "AMQP_URL", "AMQP_EXCHANGE",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "JWT_SIGNING_KEY",
		"CORS_ORIGINS", "CLINIC_TIMEZONE", "OVERFLOW_MINUTES",
		"IMPORT_CHUNK_SIZE", "IMPORT_MAX_BYTES", "REMINDER_CRON",
		"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "SMTP_FROM",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, unauthenticated requests act as admin.")
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

// Location resolves CLINIC_TIMEZONE. Appointment dates and "today" checks
// are evaluated in this location.
func (c *Config) Location() (*time.Location, error) {
	if c.ClinicTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT verification source (issuer, JWKS URL or signing key) must be set.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.JWTSigningKey == "" {
		return fmt.Errorf(
			"one of AUTH_ISSUER, AUTH_JWKS_URL or JWT_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.OverflowMinutes <= 0 {
		return fmt.Errorf("OVERFLOW_MINUTES must be positive, got %d", c.OverflowMinutes)
	}
	if c.ImportChunkSize <= 0 {
		return fmt.Errorf("IMPORT_CHUNK_SIZE must be positive, got %d", c.ImportChunkSize)
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	return nil
}
