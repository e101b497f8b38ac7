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

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	LLM       LLMConfig
	Behavior  BehaviorConfig
	LoginLock LoginLockConfig
	Exports   ExportsConfig
	Summarize SummarizeConfig
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

// LLMConfig points at the OpenAI-compatible text-completion backend.
type LLMConfig struct {
	BaseURL        string
	APIKey         string
	DefaultModel   string
	Temperature    float64
	RequestTimeout time.Duration
	CatalogPath    string
}

// BehaviorConfig tunes the behavior-record draft pipeline.
type BehaviorConfig struct {
	MaxEvidenceItems   int
	MaxNoteChars       int
	MinLength          int
	MaxLength          int
	EnforceLength      bool
	MaxRewriteAttempts int
	DraftTTL           time.Duration
	QueueWorkers       int
}

// LoginLockConfig controls the failed-login counter.
type LoginLockConfig struct {
	Threshold int
}

// ExportsConfig controls draft export storage & download links.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
	PDFFontPath     string
}

// SummarizeConfig gates the single-record summarizer endpoint.
type SummarizeConfig struct {
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.LLM = LLMConfig{
		BaseURL:        strings.TrimRight(v.GetString("LLM_API_URL"), "/"),
		APIKey:         v.GetString("LLM_API_KEY"),
		DefaultModel:   v.GetString("LLM_DEFAULT_MODEL"),
		Temperature:    v.GetFloat64("LLM_TEMPERATURE"),
		RequestTimeout: parseDuration(v.GetString("LLM_REQUEST_TIMEOUT"), 2*time.Minute),
		CatalogPath:    v.GetString("LLM_MODEL_CATALOG"),
	}

	cfg.Behavior = BehaviorConfig{
		MaxEvidenceItems:   positiveOr(v.GetInt("BEHAVIOR_MAX_EVIDENCE_ITEMS"), 20),
		MaxNoteChars:       positiveOr(v.GetInt("BEHAVIOR_MAX_NOTE_CHARS"), 240),
		MinLength:          positiveOr(v.GetInt("BEHAVIOR_MIN_LENGTH"), 400),
		MaxLength:          positiveOr(v.GetInt("BEHAVIOR_MAX_LENGTH"), 500),
		EnforceLength:      v.GetBool("BEHAVIOR_ENFORCE_LENGTH"),
		MaxRewriteAttempts: v.GetInt("BEHAVIOR_MAX_REWRITE_ATTEMPTS"),
		DraftTTL:           parseDuration(v.GetString("BEHAVIOR_DRAFT_TTL"), 30*24*time.Hour),
		QueueWorkers:       positiveOr(v.GetInt("BEHAVIOR_QUEUE_WORKERS"), 2),
	}
	if cfg.Behavior.MaxRewriteAttempts < 0 {
		cfg.Behavior.MaxRewriteAttempts = 4
	}

	cfg.LoginLock = LoginLockConfig{
		Threshold: positiveOr(v.GetInt("LOGIN_LOCK_THRESHOLD"), 10),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
		PDFFontPath:     v.GetString("EXPORTS_PDF_FONT"),
	}

	cfg.Summarize = SummarizeConfig{
		Enabled: v.GetBool("ENABLE_SUMMARIZE"),
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
	v.SetDefault("DB_NAME", "sma_counsel")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "sma-counsel-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LLM_API_URL", "https://api.alluser.site")
	v.SetDefault("LLM_API_KEY", "")
	v.SetDefault("LLM_DEFAULT_MODEL", "")
	v.SetDefault("LLM_TEMPERATURE", 0.7)
	v.SetDefault("LLM_REQUEST_TIMEOUT", "2m")
	v.SetDefault("LLM_MODEL_CATALOG", "")

	v.SetDefault("BEHAVIOR_MAX_EVIDENCE_ITEMS", 20)
	v.SetDefault("BEHAVIOR_MAX_NOTE_CHARS", 240)
	v.SetDefault("BEHAVIOR_MIN_LENGTH", 400)
	v.SetDefault("BEHAVIOR_MAX_LENGTH", 500)
	v.SetDefault("BEHAVIOR_ENFORCE_LENGTH", false)
	v.SetDefault("BEHAVIOR_MAX_REWRITE_ATTEMPTS", 4)
	v.SetDefault("BEHAVIOR_DRAFT_TTL", "720h")
	v.SetDefault("BEHAVIOR_QUEUE_WORKERS", 2)

	v.SetDefault("LOGIN_LOCK_THRESHOLD", 10)

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "1h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("EXPORTS_PDF_FONT", "")

	v.SetDefault("ENABLE_SUMMARIZE", true)
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

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

// isMissingFile reports a missing .env; viper returns the raw fs error when SetConfigFile is used.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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
