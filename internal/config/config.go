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
	MigrationsDir   string        `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	AppBaseURL      string        `mapstructure:"APP_BASE_URL"`

	JWTSecret   string        `mapstructure:"JWT_SECRET"`
	JWTIssuer   string        `mapstructure:"JWT_ISSUER"`
	JWTTokenTTL time.Duration `mapstructure:"JWT_TOKEN_TTL"`

	StorageDriver   string `mapstructure:"STORAGE_DRIVER"`
	S3Bucket        string `mapstructure:"S3_BUCKET"`
	S3PublicBaseURL string `mapstructure:"S3_PUBLIC_BASE_URL"`
	AWSRegion       string `mapstructure:"AWS_REGION"`

	EmailProvider  string `mapstructure:"EMAIL_PROVIDER"`
	EmailFrom      string `mapstructure:"EMAIL_FROM"`
	EmailFromName  string `mapstructure:"EMAIL_FROM_NAME"`
	SendGridAPIKey string `mapstructure:"SENDGRID_API_KEY"`
	PushProvider   string `mapstructure:"PUSH_PROVIDER"`
	SNSTopicPrefix string `mapstructure:"SNS_TOPIC_PREFIX"`

	OutboxPollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `mapstructure:"OUTBOX_MAX_ATTEMPTS"`
	AuditQueueSize     int           `mapstructure:"AUDIT_QUEUE_SIZE"`

	DefaultSlotTimes []string      `mapstructure:"DEFAULT_SLOT_TIMES"`
	PriceFirstVisit  float64       `mapstructure:"PRICE_FIRST_VISIT"`
	PriceFollowUp    float64       `mapstructure:"PRICE_FOLLOW_UP"`
	ReminderLeadTime time.Duration `mapstructure:"REMINDER_LEAD_TIME"`
}

var configKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"SHUTDOWN_TIMEOUT", "APP_BASE_URL",
	"JWT_SECRET", "JWT_ISSUER", "JWT_TOKEN_TTL",
	"STORAGE_DRIVER", "S3_BUCKET", "S3_PUBLIC_BASE_URL", "AWS_REGION",
	"EMAIL_PROVIDER", "EMAIL_FROM", "EMAIL_FROM_NAME", "SENDGRID_API_KEY",
	"PUSH_PROVIDER", "SNS_TOPIC_PREFIX",
	"OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE", "OUTBOX_MAX_ATTEMPTS", "AUDIT_QUEUE_SIZE",
	"DEFAULT_SLOT_TIMES", "PRICE_FIRST_VISIT", "PRICE_FOLLOW_UP", "REMINDER_LEAD_TIME",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("APP_BASE_URL", "http://localhost:5173")
	v.SetDefault("JWT_ISSUER", "nutri")
	v.SetDefault("JWT_TOKEN_TTL", "60m")
	v.SetDefault("STORAGE_DRIVER", "memory")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("EMAIL_PROVIDER", "log")
	v.SetDefault("EMAIL_FROM", "no-reply@nutri.local")
	v.SetDefault("EMAIL_FROM_NAME", "Nutri Clinic")
	v.SetDefault("PUSH_PROVIDER", "log")
	v.SetDefault("OUTBOX_POLL_INTERVAL", "5s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 50)
	v.SetDefault("OUTBOX_MAX_ATTEMPTS", 5)
	v.SetDefault("AUDIT_QUEUE_SIZE", 256)
	v.SetDefault("DEFAULT_SLOT_TIMES", "08:00,09:00,11:00,14:00,15:00,17:00")
	v.SetDefault("PRICE_FIRST_VISIT", 200)
	v.SetDefault("PRICE_FOLLOW_UP", 150)
	v.SetDefault("REMINDER_LEAD_TIME", "24h")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.DefaultSlotTimes = splitList(cfg.DefaultSlotTimes, v.GetString("DEFAULT_SLOT_TIMES"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token are treated as the dev admin user.")
	}

	return cfg, nil
}

// splitList normalizes comma separated env values into trimmed, non-empty
// elements.
func splitList(current []string, raw string) []string {
	parts := current
	if raw != "" {
		parts = strings.Split(raw, ",")
	}
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

// Validate checks that the configuration is safe to run. Outside development a
// JWT secret of at least 32 bytes is required, and every selected provider
// must have the settings it needs.
func (c *Config) Validate() error {
	if !c.IsDev() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters when ENV=%q", c.Env)
	}

	switch c.StorageDriver {
	case "memory":
		if c.IsProduction() {
			return fmt.Errorf("STORAGE_DRIVER=memory is not allowed in production")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_DRIVER is \"s3\"")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be \"memory\" or \"s3\", got %q", c.StorageDriver)
	}

	switch c.EmailProvider {
	case "log", "ses":
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required when EMAIL_PROVIDER is \"sendgrid\"")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be \"log\", \"ses\", or \"sendgrid\", got %q", c.EmailProvider)
	}

	switch c.PushProvider {
	case "log":
	case "sns":
		if c.SNSTopicPrefix == "" {
			return fmt.Errorf("SNS_TOPIC_PREFIX is required when PUSH_PROVIDER is \"sns\"")
		}
	default:
		return fmt.Errorf("PUSH_PROVIDER must be \"log\" or \"sns\", got %q", c.PushProvider)
	}

	if c.OutboxMaxAttempts < 1 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be positive, got %d", c.OutboxMaxAttempts)
	}

	return nil
}
