package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDBPath        = "./dev.db"
	defaultPort          = "8080"
	defaultEnv           = "dev"
	defaultUploadDir     = "./uploads"
	defaultOpenAIBaseURL = "https://api.openai.com"
	defaultOpenAIModel   = "gpt-4o"
	defaultSpendCap      = 50.0
	defaultRetentionDays = 90
	defaultPurgeInterval = time.Hour
	defaultMaxUploadMB   = 16
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	Env           string
	Port          string
	DBPath        string
	AdminPassword string
	SessionSecret string
	LogMode       string

	UploadDir   string
	GCSBucket   string
	MaxUploadMB int64

	RedisAddr string

	OpenAIKey      string
	OpenAIBaseURL  string
	OpenAIModel    string
	OpenAISpendCap float64

	RetentionDays int
	PurgeInterval time.Duration
}

// Load reads environment variables and returns a populated Config.
func Load() Config {
	// Best-effort: production should use real env injection.
	if err := loadDotEnv(".env"); err != nil {
		log.Printf("warning: could not read .env: %v", err)
	}

	cfg := Config{
		Env:            getenvDefault("APP_ENV", defaultEnv),
		Port:           getenvDefault("PORT", defaultPort),
		DBPath:         getenvDefault("DB_PATH", defaultDBPath),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
		SessionSecret:  os.Getenv("SESSION_SECRET"),
		LogMode:        os.Getenv("LOG_MODE"),
		UploadDir:      getenvDefault("UPLOAD_DIR", defaultUploadDir),
		GCSBucket:      strings.TrimSpace(os.Getenv("GCS_BUCKET")),
		MaxUploadMB:    int64(getenvInt("MAX_UPLOAD_MB", defaultMaxUploadMB)),
		RedisAddr:      strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		OpenAIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:  strings.TrimRight(getenvDefault("OPENAI_BASE_URL", defaultOpenAIBaseURL), "/"),
		OpenAIModel:    getenvDefault("OPENAI_MODEL", defaultOpenAIModel),
		OpenAISpendCap: getenvFloat("OPENAI_SPEND_CAP", defaultSpendCap),
		RetentionDays:  getenvInt("RETENTION_DAYS", defaultRetentionDays),
		PurgeInterval:  getenvDuration("PURGE_INTERVAL", defaultPurgeInterval),
	}

	if cfg.LogMode == "" {
		cfg.LogMode = cfg.Env
	}

	if cfg.AdminPassword == "" {
		log.Print("warning: ADMIN_PASSWORD is not set")
	}
	if cfg.SessionSecret == "" {
		log.Print("warning: SESSION_SECRET is not set")
	}
	if cfg.OpenAIKey == "" {
		log.Print("warning: OPENAI_API_KEY is not set; blueprint and spreadsheet analysis will fail")
	}

	return cfg
}

// IsDev reports whether the app runs in local development mode.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "development", "local":
		return true
	}
	return false
}

// Retention returns how long estimates are kept before purge.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		log.Printf("warning: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil || parsed < 0 {
		log.Printf("warning: invalid %s=%q, using %v", key, v, def)
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		log.Printf("warning: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return parsed
}
