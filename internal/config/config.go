package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	// TestMode accepts "email:<address>" bearer tokens.
	TestMode            bool
	DevUserEmail        string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	Timezone            string
	LogLevel            string
	LogFormat           string

	IMAPConnectTimeout     time.Duration
	IMAPAuthTimeout        time.Duration
	IMAPFetchTimeout       time.Duration
	IMAPRetryBaseDelay     time.Duration
	IMAPKeepAlive          time.Duration
	IMAPMaxAttempts        int
	IMAPMaxSessionsPerUser int64
	SMTPTimeout            time.Duration

	EmailsPageLimit        int
	ConversationsPageLimit int

	CacheBackend       string
	RedisURL           string
	ResultCacheTTL     time.Duration
	ResultCacheSize    int
	CredentialCacheTTL time.Duration
}

func NewConfig() (*Config, error) {
	env := os.Getenv("VMAIL_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("VMAIL_ENCRYPTION_KEY_BASE64"),
		TestMode:            os.Getenv("VMAIL_TEST_MODE") == "true",
		DevUserEmail:        getEnvOrDefault("VMAIL_DEV_USER_EMAIL", "test@example.com"),
		DBHost:              getEnvOrDefault("VMAIL_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("VMAIL_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("VMAIL_DB_USER", "vmail"),
		DBPassword:          os.Getenv("VMAIL_DB_PASSWORD"),
		DBName:              getEnvOrDefault("VMAIL_DB_NAME", "vmail"),
		DBSSLMode:           getEnvOrDefault("VMAIL_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "8080"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),
		LogLevel:            getEnvOrDefault("VMAIL_LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("VMAIL_LOG_FORMAT", "text"),
		CacheBackend:        getEnvOrDefault("VMAIL_CACHE_BACKEND", CacheBackendMemory),
		RedisURL:            os.Getenv("VMAIL_REDIS_URL"),
	}

	var err error
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"VMAIL_IMAP_CONNECT_TIMEOUT", 30 * time.Second, &config.IMAPConnectTimeout},
		{"VMAIL_IMAP_AUTH_TIMEOUT", 30 * time.Second, &config.IMAPAuthTimeout},
		{"VMAIL_IMAP_FETCH_TIMEOUT", 120 * time.Second, &config.IMAPFetchTimeout},
		{"VMAIL_IMAP_RETRY_BASE_DELAY", time.Second, &config.IMAPRetryBaseDelay},
		{"VMAIL_IMAP_KEEPALIVE", 30 * time.Second, &config.IMAPKeepAlive},
		{"VMAIL_SMTP_TIMEOUT", 30 * time.Second, &config.SMTPTimeout},
		{"VMAIL_RESULT_CACHE_TTL", 60 * time.Second, &config.ResultCacheTTL},
		{"VMAIL_CREDENTIAL_CACHE_TTL", 5 * time.Minute, &config.CredentialCacheTTL},
	}
	for _, d := range durations {
		if *d.dest, err = getDurationOrDefault(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"VMAIL_IMAP_MAX_ATTEMPTS", 3, &config.IMAPMaxAttempts},
		{"VMAIL_EMAILS_PAGE_LIMIT", 10, &config.EmailsPageLimit},
		{"VMAIL_CONVERSATIONS_PAGE_LIMIT", 50, &config.ConversationsPageLimit},
		{"VMAIL_RESULT_CACHE_SIZE", 1024, &config.ResultCacheSize},
	}
	for _, i := range ints {
		if *i.dest, err = getIntOrDefault(i.key, i.def); err != nil {
			return nil, err
		}
	}

	maxSessions, err := getIntOrDefault("VMAIL_IMAP_MAX_SESSIONS_PER_USER", 3)
	if err != nil {
		return nil, err
	}
	config.IMAPMaxSessionsPerUser = int64(maxSessions)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("VMAIL_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("VMAIL_DB_PASSWORD is required")
	}

	if c.IMAPMaxAttempts < 1 {
		return fmt.Errorf("VMAIL_IMAP_MAX_ATTEMPTS must be at least 1, got %d", c.IMAPMaxAttempts)
	}

	if c.IMAPMaxSessionsPerUser < 1 {
		return fmt.Errorf("VMAIL_IMAP_MAX_SESSIONS_PER_USER must be at least 1, got %d", c.IMAPMaxSessionsPerUser)
	}

	if c.EmailsPageLimit < 1 || c.ConversationsPageLimit < 1 {
		return fmt.Errorf("page limits must be positive")
	}

	if c.IMAPFetchTimeout <= 0 || c.IMAPConnectTimeout <= 0 || c.IMAPAuthTimeout <= 0 {
		return fmt.Errorf("IMAP timeouts must be positive")
	}

	switch c.CacheBackend {
	case CacheBackendMemory:
		if c.ResultCacheSize < 1 {
			return fmt.Errorf("VMAIL_RESULT_CACHE_SIZE must be at least 1, got %d", c.ResultCacheSize)
		}
	case CacheBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("VMAIL_REDIS_URL is required when VMAIL_CACHE_BACKEND is redis")
		}
	default:
		return fmt.Errorf("unknown VMAIL_CACHE_BACKEND %q", c.CacheBackend)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown VMAIL_LOG_FORMAT %q", c.LogFormat)
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
