package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service and the cron companion.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Assignment   AssignmentConfig
	Internal     InternalConfig
	Cron         CronConfig
	Notification NotificationConfig
	NATS         NATSConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret               string
	AccessTokenTTLMinutes   int
	PasswordResetTTLMinutes int
	BcryptCost              int
}

// AssignmentConfig bounds the partner response window.
type AssignmentConfig struct {
	ResponseWindow time.Duration
	CheckLockTTL   time.Duration
	CheckBatchSize int
}

// InternalConfig guards the /internal routes called by the cron process.
type InternalConfig struct {
	Secret string
}

// CronConfig drives the standalone timeout poller.
type CronConfig struct {
	TargetURL   string
	Schedule    string
	HTTPTimeout time.Duration
}

// NotificationConfig holds email delivery settings.
type NotificationConfig struct {
	EmailFrom     string
	SMTPHost      string
	SMTPPort      string
	SMTPUser      string
	SMTPPassword  string
	DefaultLocale string
	MaxRetries    int
	QueueKey      string
}

// NATSConfig enables mirroring domain events to NATS.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

const (
	defaultJWTSecret      = "dev-secret"
	defaultInternalSecret = "dev-internal-secret"
)

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	window, err := time.ParseDuration(getEnv("ASSIGNMENT_RESPONSE_WINDOW", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid ASSIGNMENT_RESPONSE_WINDOW: %w", err)
	}
	if window <= 0 {
		return nil, fmt.Errorf("invalid ASSIGNMENT_RESPONSE_WINDOW: must be positive")
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "servicedesk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:               getEnv("AUTH_JWT_SECRET", defaultJWTSecret),
			AccessTokenTTLMinutes:   getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			PasswordResetTTLMinutes: getEnvAsInt("AUTH_PASSWORD_RESET_TTL_MINUTES", 30),
			BcryptCost:              getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Assignment: AssignmentConfig{
			ResponseWindow: window,
			CheckLockTTL:   getEnvAsDuration("ASSIGNMENT_CHECK_LOCK_TTL", 50*time.Second),
			CheckBatchSize: getEnvAsInt("ASSIGNMENT_CHECK_BATCH_SIZE", 500),
		},
		Internal: InternalConfig{
			Secret: getEnv("INTERNAL_API_SECRET", defaultInternalSecret),
		},
		Cron: CronConfig{
			TargetURL:   getEnv("CRON_TARGET_URL", "http://127.0.0.1:8080/internal/cron/assignment-timeouts"),
			Schedule:    getEnv("CRON_SCHEDULE", "@every 1m"),
			HTTPTimeout: getEnvAsDuration("CRON_HTTP_TIMEOUT", 20*time.Second),
		},
		Notification: NotificationConfig{
			EmailFrom:     getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			SMTPHost:      os.Getenv("SMTP_HOST"),
			SMTPPort:      getEnv("SMTP_PORT", "25"),
			SMTPUser:      os.Getenv("SMTP_USER"),
			SMTPPassword:  os.Getenv("SMTP_PASSWORD"),
			DefaultLocale: getEnv("NOTIFY_DEFAULT_LOCALE", "en"),
			MaxRetries:    getEnvAsInt("NOTIFY_MAX_RETRIES", 3),
			QueueKey:      getEnv("NOTIFY_QUEUE_KEY", "servicedesk:email_jobs"),
		},
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "servicedesk.events"),
		},
	}

	if err := cfg.checkSecrets(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkSecrets refuses to run production with the development secrets.
func (c *Config) checkSecrets() error {
	if c.App.Env != "production" {
		return nil
	}
	if c.Auth.JWTSecret == defaultJWTSecret {
		return errors.New("AUTH_JWT_SECRET must be set when APP_ENV=production")
	}
	if c.Internal.Secret == defaultInternalSecret {
		return errors.New("INTERNAL_API_SECRET must be set when APP_ENV=production")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// SMTPAddr returns host:port or empty when SMTP delivery is disabled.
func (n NotificationConfig) SMTPAddr() string {
	if n.SMTPHost == "" {
		return ""
	}
	return n.SMTPHost + ":" + n.SMTPPort
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
