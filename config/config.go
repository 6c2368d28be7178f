package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPHost    string
	HTTPPort    string
	GRPCHost    string
	GRPCPort    string
	MetricsAddr string

	LogLevel  string
	LogFormat string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MySQLDSN     string
	MySQLMaxOpen int
	MySQLMaxIdle int
	MySQLMaxLife time.Duration
	LockBackend  string

	StreamName    string
	ConsumerGroup string
	ConsumerID    string
	BatchSize     int
	PollInterval  time.Duration
	MaxRetries    int
	DLQStreamName string
	ClaimIdleTime time.Duration
	ReadTimeout   time.Duration
	SendTimeout   time.Duration
	SendRate      int

	EmailProvider string
	FromEmail     string
	FromName      string
	ReplyToEmail  string
	TemplatesPath string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPTLS      bool

	AWSRegion string
}

// Load reads configuration from the environment, optionally seeded by a .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	l := &loader{}
	cfg := &Config{
		HTTPHost:    getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		GRPCHost:    getEnv("GRPC_HOST", "0.0.0.0"),
		GRPCPort:    getEnv("GRPC_PORT", "9090"),
		MetricsAddr: getEnv("METRICS_ADDR", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       l.int("REDIS_DB", 0),

		MySQLDSN:     getEnv("MYSQL_DSN", ""),
		MySQLMaxOpen: l.int("MYSQL_MAX_OPEN", 10),
		MySQLMaxIdle: l.int("MYSQL_MAX_IDLE", 5),
		MySQLMaxLife: l.duration("MYSQL_MAX_LIFETIME", 5*time.Minute),
		LockBackend:  getEnv("LOCK_BACKEND", "redis"),

		StreamName:    getEnv("STREAM_NAME", "notifications:email:jobs"),
		ConsumerGroup: getEnv("CONSUMER_GROUP", "email-workers"),
		ConsumerID:    getEnv("CONSUMER_ID", ""),
		BatchSize:     l.int("BATCH_SIZE", 10),
		PollInterval:  time.Duration(l.int("POLL_INTERVAL_MS", 500)) * time.Millisecond,
		MaxRetries:    l.int("MAX_RETRIES", 3),
		DLQStreamName: getEnv("DLQ_STREAM_NAME", "notifications:email:dlq"),
		ClaimIdleTime: time.Duration(l.int("CLAIM_IDLE_TIME_SECS", 5)) * time.Second,
		ReadTimeout:   time.Duration(l.int("READ_TIMEOUT_MS", 5000)) * time.Millisecond,
		SendTimeout:   time.Duration(l.int("SEND_TIMEOUT_SECS", 30)) * time.Second,
		SendRate:      l.int("SEND_RATE_PER_SEC", 0),

		EmailProvider: getEnv("EMAIL_PROVIDER", "smtp"),
		FromEmail:     getEnv("FROM_EMAIL", "no-reply@localhost"),
		FromName:      getEnv("FROM_NAME", ""),
		ReplyToEmail:  getEnv("REPLY_TO_EMAIL", ""),
		TemplatesPath: getEnv("TEMPLATES_PATH", ""),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     l.int("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPTLS:      l.bool("SMTP_TLS", true),

		AWSRegion: getEnv("AWS_REGION", "us-east-1"),
	}

	if l.err != nil {
		return nil, l.err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loader keeps the first parse failure so Load can report it once.
type loader struct {
	err error
}

func (l *loader) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		l.fail(key, value, err)
		return defaultValue
	}
	return n
}

func (l *loader) bool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		l.fail(key, value, err)
		return defaultValue
	}
	return b
}

func (l *loader) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		l.fail(key, value, err)
		return defaultValue
	}
	return d
}

func (l *loader) fail(key, value string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}
