package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`

	DeidentifyURL    string `mapstructure:"DEIDENTIFY_URL"`
	DeidentifyAPIKey string `mapstructure:"DEIDENTIFY_API_KEY"`
	DeidentifyModel  string `mapstructure:"DEIDENTIFY_MODEL"`

	PaymentVerifierURL   string `mapstructure:"PAYMENT_VERIFIER_URL"`
	PaymentConfirmations int    `mapstructure:"PAYMENT_CONFIRMATIONS"`

	NotifyFrom   string `mapstructure:"NOTIFY_FROM"`
	SMTPAddr     string `mapstructure:"SMTP_ADDR"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	LockoutThreshold  int `mapstructure:"LOCKOUT_THRESHOLD"`
	LockoutWindowMin  int `mapstructure:"LOCKOUT_WINDOW_MINUTES"`
	ReservationTTLMin int `mapstructure:"RESERVATION_TTL_MINUTES"`
	SweepIntervalSec  int `mapstructure:"SWEEP_INTERVAL_SECONDS"`
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
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEIDENTIFY_MODEL", "asi1-mini")
	v.SetDefault("PAYMENT_CONFIRMATIONS", 3)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_WINDOW_MINUTES", 15)
	v.SetDefault("RESERVATION_TTL_MINUTES", 10)
	v.SetDefault("SWEEP_INTERVAL_SECONDS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CORS_ORIGINS", "JWT_SECRET", "JWT_ISSUER", "JWT_AUDIENCE",
		"DEIDENTIFY_URL", "DEIDENTIFY_API_KEY", "DEIDENTIFY_MODEL",
		"PAYMENT_VERIFIER_URL", "PAYMENT_CONFIRMATIONS",
		"NOTIFY_FROM", "SMTP_ADDR", "SMTP_USERNAME", "SMTP_PASSWORD",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"LOCKOUT_THRESHOLD", "LOCKOUT_WINDOW_MINUTES",
		"RESERVATION_TTL_MINUTES", "SWEEP_INTERVAL_SECONDS",
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
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Production refuses
// to start without real authentication and external collaborator endpoints;
// development falls back to the dev auth bypass and mock collaborators.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.IsProduction() {
		if c.DeidentifyURL == "" || c.DeidentifyAPIKey == "" {
			return fmt.Errorf("DEIDENTIFY_URL and DEIDENTIFY_API_KEY are required in production")
		}
		if c.PaymentVerifierURL == "" {
			return fmt.Errorf("PAYMENT_VERIFIER_URL is required in production")
		}
	}
	if c.LockoutThreshold <= 0 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be positive, got %d", c.LockoutThreshold)
	}
	if c.ReservationTTLMin <= 0 {
		return fmt.Errorf("RESERVATION_TTL_MINUTES must be positive, got %d", c.ReservationTTLMin)
	}
	return nil
}
