package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	aws_pkg "github.com/IA-Academy-Team/checkout-service/pkg/aws"
)

// Event sinks for settled checkouts.
const (
	SinkNone  = "none"
	SinkSNS   = "sns"
	SinkKafka = "kafka"
)

// Config holds all configuration for the checkout service.
type Config struct {
	Port        string `validate:"required,numeric"`
	Environment string `validate:"required"`

	WompiPublicKey      string `validate:"required,ne=undefined"`
	WompiScriptURL      string `validate:"required,url"`
	WompiCheckoutURL    string `validate:"required,url"`
	WompiProductionAPI  string `validate:"required,url"`
	WompiSandboxAPI     string `validate:"required,url"`
	SiteOrigin          string `validate:"required,url"`
	SuccessPath         string `validate:"required,startswith=/"`
	RedirectDelay       time.Duration
	ScriptPollInterval  time.Duration `validate:"gt=0"`
	ScriptProbeInterval time.Duration `validate:"gt=0"`

	BackendURL     string `validate:"required,url"`
	BackendToken   string
	BackendTimeout time.Duration `validate:"gt=0"`

	SessionSecret      string        `validate:"required,min=16"`
	SessionTTL         time.Duration `validate:"gt=0"`
	SessionIdleTimeout time.Duration `validate:"gt=0"`

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EventsSink   string   `validate:"oneof=none sns kafka"`
	SNSTopicARN  string   `validate:"required_if=EventsSink sns"`
	KafkaBrokers []string `validate:"required_if=EventsSink kafka"`
	KafkaTopic   string   `validate:"required_if=EventsSink kafka"`

	AllowedOrigins []string
}

// LedgerEnabled reports whether attempts are recorded in Postgres.
func (c *Config) LedgerEnabled() bool {
	return c.PostgresHost != ""
}

// PostgresDSN builds the gorm postgres DSN.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

type secretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// LoadConfig reads .env (when present) and the environment. With
// AWS_USE_SECRETS=true the Wompi key, backend token, session secret and database
// credentials are overridden from Secrets Manager.
func LoadConfig(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	var secrets secretGetter
	if os.Getenv("AWS_USE_SECRETS") == "true" {
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		secrets = aws_pkg.NewSecretsClient(awsCfg)
	}
	return load(ctx, secrets)
}

func load(ctx context.Context, secrets secretGetter) (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8095"),
		Environment: getEnv("ENVIRONMENT", "development"),

		WompiPublicKey:      strings.TrimSpace(os.Getenv("WOMPI_PUBLIC_KEY")),
		WompiScriptURL:      getEnv("WOMPI_SCRIPT_URL", "https://checkout.wompi.co/widget.js"),
		WompiCheckoutURL:    getEnv("WOMPI_CHECKOUT_URL", "https://checkout.wompi.co/p/"),
		WompiProductionAPI:  getEnv("WOMPI_PRODUCTION_API_URL", "https://production.wompi.co/v1"),
		WompiSandboxAPI:     getEnv("WOMPI_SANDBOX_API_URL", "https://sandbox.wompi.co/v1"),
		SiteOrigin:          os.Getenv("SITE_ORIGIN"),
		SuccessPath:         getEnv("SUCCESS_PATH", "/pago-exitoso"),
		RedirectDelay:       getDuration("REDIRECT_DELAY", 500*time.Millisecond),
		ScriptPollInterval:  getDuration("SCRIPT_POLL_INTERVAL", 100*time.Millisecond),
		ScriptProbeInterval: getDuration("SCRIPT_PROBE_INTERVAL", 5*time.Minute),

		BackendURL:     os.Getenv("BACKEND_URL"),
		BackendToken:   os.Getenv("BACKEND_TOKEN"),
		BackendTimeout: getDuration("BACKEND_TIMEOUT", 10*time.Second),

		SessionSecret:      os.Getenv("SESSION_SECRET"),
		SessionTTL:         getDuration("SESSION_TTL", 2*time.Hour),
		SessionIdleTimeout: getDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "America/Bogota"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		EventsSink:   getEnv("EVENTS_SINK", SinkNone),
		SNSTopicARN:  os.Getenv("CHECKOUT_SNS_TOPIC_ARN"),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "checkout-events"),

		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		cfg.RedisDB = db
	}

	if secrets != nil {
		applySecrets(ctx, cfg, secrets)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.LedgerEnabled() && (cfg.PostgresUser == "" || cfg.PostgresPassword == "" || cfg.PostgresDB == "") {
		return nil, fmt.Errorf("database config incomplete")
	}
	return cfg, nil
}

func applySecrets(ctx context.Context, cfg *Config, sm secretGetter) {
	if v, err := sm.GetSecret(ctx, "checkout/WOMPI_PUBLIC_KEY"); err == nil && v != "" {
		cfg.WompiPublicKey = strings.TrimSpace(v)
	}
	if v, err := sm.GetSecret(ctx, "checkout/BACKEND_TOKEN"); err == nil && v != "" {
		cfg.BackendToken = v
	}
	if v, err := sm.GetSecret(ctx, "checkout/SESSION_SECRET"); err == nil && v != "" {
		cfg.SessionSecret = v
	}
	dbjson, err := sm.GetSecret(ctx, "checkout/DB_CREDENTIALS")
	if err != nil || dbjson == "" {
		return
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(dbjson), &m); err != nil {
		return
	}
	for key, dst := range map[string]*string{
		"POSTGRES_USER":     &cfg.PostgresUser,
		"POSTGRES_PASSWORD": &cfg.PostgresPassword,
		"POSTGRES_DB":       &cfg.PostgresDB,
		"POSTGRES_HOST":     &cfg.PostgresHost,
		"POSTGRES_PORT":     &cfg.PostgresPort,
	} {
		if v := m[key]; v != "" {
			*dst = v
		}
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(item), "/")); item != "" {
			out = append(out, item)
		}
	}
	return out
}
