package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Notifier drivers.
const (
	NotifierDriverLog     = "log"
	NotifierDriverWebhook = "webhook"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Downloads DownloadsConfig
	Notifier  NotifierConfig
	Renewals  RenewalsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DownloadsConfig controls secure link issuance and the expiry sweep.
type DownloadsConfig struct {
	PublicBaseURL       string
	DefaultExpiration   time.Duration
	DefaultMaxDownloads int
	IssueConcurrency    int
	CleanupInterval     time.Duration
	StatsCacheTTL       time.Duration
}

// NotifierConfig selects and tunes the delivery adapter.
type NotifierConfig struct {
	Driver     string
	WebhookURL string
	APIKey     string
	Timeout    time.Duration
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// RenewalsConfig gates the renewal workflow endpoints.
type RenewalsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Downloads = DownloadsConfig{
		PublicBaseURL:       strings.TrimRight(v.GetString("DOWNLOADS_PUBLIC_BASE_URL"), "/"),
		DefaultExpiration:   parseDuration(v.GetString("DOWNLOADS_DEFAULT_EXPIRATION"), 72*time.Hour),
		DefaultMaxDownloads: v.GetInt("DOWNLOADS_DEFAULT_MAX_DOWNLOADS"),
		IssueConcurrency:    v.GetInt("DOWNLOADS_ISSUE_CONCURRENCY"),
		CleanupInterval:     parseDuration(v.GetString("DOWNLOADS_CLEANUP_INTERVAL"), time.Hour),
		StatsCacheTTL:       parseDuration(v.GetString("DOWNLOADS_STATS_CACHE_TTL"), time.Minute),
	}

	cfg.Notifier = NotifierConfig{
		Driver:     strings.ToLower(v.GetString("NOTIFIER_DRIVER")),
		WebhookURL: v.GetString("NOTIFIER_WEBHOOK_URL"),
		APIKey:     v.GetString("NOTIFIER_API_KEY"),
		Timeout:    parseDuration(v.GetString("NOTIFIER_TIMEOUT"), 10*time.Second),
		Workers:    v.GetInt("NOTIFIER_WORKERS"),
		MaxRetries: v.GetInt("NOTIFIER_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFIER_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Renewals = RenewalsConfig{
		Enabled: v.GetBool("ENABLE_RENEWALS"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "secure_docs")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("JWT_ISSUER", "secure-docs-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DOWNLOADS_PUBLIC_BASE_URL", "https://localhost:3000")
	v.SetDefault("DOWNLOADS_DEFAULT_EXPIRATION", "72h")
	v.SetDefault("DOWNLOADS_DEFAULT_MAX_DOWNLOADS", 5)
	v.SetDefault("DOWNLOADS_ISSUE_CONCURRENCY", 4)
	v.SetDefault("DOWNLOADS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("DOWNLOADS_STATS_CACHE_TTL", "1m")

	v.SetDefault("NOTIFIER_DRIVER", NotifierDriverLog)
	v.SetDefault("NOTIFIER_WEBHOOK_URL", "")
	v.SetDefault("NOTIFIER_API_KEY", "")
	v.SetDefault("NOTIFIER_TIMEOUT", "10s")
	v.SetDefault("NOTIFIER_WORKERS", 2)
	v.SetDefault("NOTIFIER_MAX_RETRIES", 3)
	v.SetDefault("NOTIFIER_RETRY_DELAY", "5s")

	v.SetDefault("ENABLE_RENEWALS", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
