package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	AuthMode    string `mapstructure:"AUTH_MODE"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	JWTSecret    string `mapstructure:"JWT_SECRET"`
	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	RulesPath string `mapstructure:"RULES_PATH"`

	// Band thresholds. A score below ThresholdMedium is low, below
	// ThresholdHigh is medium, below ThresholdCritical is high, and
	// anything at or above ThresholdCritical is critical.
	ThresholdMedium   float64 `mapstructure:"RISK_THRESHOLD_MEDIUM"`
	ThresholdHigh     float64 `mapstructure:"RISK_THRESHOLD_HIGH"`
	ThresholdCritical float64 `mapstructure:"RISK_THRESHOLD_CRITICAL"`

	InferenceTimeout time.Duration `mapstructure:"INFERENCE_TIMEOUT"`

	DispatchMaxRetries  int           `mapstructure:"DISPATCH_MAX_RETRIES"`
	DispatchBackoffBase time.Duration `mapstructure:"DISPATCH_BACKOFF_BASE"`
	DispatchQueueSize   int           `mapstructure:"DISPATCH_QUEUE_SIZE"`

	WebhookURL      string   `mapstructure:"WEBHOOK_URL"`
	WebhookSecret   string   `mapstructure:"WEBHOOK_SECRET"`
	EmailRecipients []string `mapstructure:"EMAIL_RECIPIENTS"`
	SMSRecipients   []string `mapstructure:"SMS_RECIPIENTS"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("RULES_PATH", "config/rules.yaml")
	v.SetDefault("RISK_THRESHOLD_MEDIUM", 0.6)
	v.SetDefault("RISK_THRESHOLD_HIGH", 0.8)
	v.SetDefault("RISK_THRESHOLD_CRITICAL", 0.9)
	v.SetDefault("INFERENCE_TIMEOUT", "5s")
	v.SetDefault("DISPATCH_MAX_RETRIES", 3)
	v.SetDefault("DISPATCH_BACKOFF_BASE", "1s")
	v.SetDefault("DISPATCH_QUEUE_SIZE", 256)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("AUTH_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("RULES_PATH")
	v.BindEnv("RISK_THRESHOLD_MEDIUM")
	v.BindEnv("RISK_THRESHOLD_HIGH")
	v.BindEnv("RISK_THRESHOLD_CRITICAL")
	v.BindEnv("INFERENCE_TIMEOUT")
	v.BindEnv("DISPATCH_MAX_RETRIES")
	v.BindEnv("DISPATCH_BACKOFF_BASE")
	v.BindEnv("DISPATCH_QUEUE_SIZE")
	v.BindEnv("WEBHOOK_URL")
	v.BindEnv("WEBHOOK_SECRET")
	v.BindEnv("EMAIL_RECIPIENTS")
	v.BindEnv("SMS_RECIPIENTS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.EmailRecipients = splitList(cfg.EmailRecipients, v.GetString("EMAIL_RECIPIENTS"))
	cfg.SMSRecipients = splitList(cfg.SMSRecipients, v.GetString("SMS_RECIPIENTS"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure JWT_SECRET for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

// splitList turns a comma-separated env value into a slice when Unmarshal
// could not (viper leaves string-backed lists as a single element).
func splitList(current []string, raw string) []string {
	if len(current) > 1 || raw == "" {
		return current
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise the mode is inferred: development gets the
// no-auth middleware, anything else requires signed JWTs.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret is required so that real authentication is enforced, and
// production refuses to start without a database.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "jwt" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}
	if mode == "jwt" && c.JWTSecret == "" {
		return fmt.Errorf(
			"JWT_SECRET must be set when AUTH_MODE is \"jwt\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production; " +
			"in-memory storage is only available in development")
	}
	if !(c.ThresholdMedium < c.ThresholdHigh && c.ThresholdHigh < c.ThresholdCritical) {
		return fmt.Errorf("risk thresholds must be strictly increasing: medium=%v high=%v critical=%v",
			c.ThresholdMedium, c.ThresholdHigh, c.ThresholdCritical)
	}
	if c.ThresholdMedium <= 0 || c.ThresholdCritical >= 1 {
		return fmt.Errorf("risk thresholds must lie strictly between 0 and 1")
	}
	if c.DispatchMaxRetries < 1 {
		return fmt.Errorf("DISPATCH_MAX_RETRIES must be at least 1, got %d", c.DispatchMaxRetries)
	}
	if c.InferenceTimeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive, got %v", c.InferenceTimeout)
	}
	return nil
}
