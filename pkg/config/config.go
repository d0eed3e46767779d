package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// ERP gateway modes.
const (
	ERPModeHTTP   = "http"
	ERPModeMemory = "memory"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	CORS         CORSConfig
	Log          LogConfig
	ERP          ERPConfig
	Catalog      CatalogConfig
	Registration RegistrationConfig
	Slips        SlipsConfig
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
	AutoMigrate  bool
}

// URL renders the connection settings in the postgres:// form used by the migrator.
func (c DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ERPConfig points the gateways at the university ERP REST API.
type ERPConfig struct {
	Mode         string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// CatalogConfig tunes the two catalog cache tiers.
type CatalogConfig struct {
	LocalTTL        time.Duration
	SharedTTL       time.Duration
	CleanupInterval time.Duration
}

// RegistrationConfig carries workflow policy. Credit ceilings are keyed by registration kind.
type RegistrationConfig struct {
	MaxCreditsNewSemester        int `validate:"gte=0"`
	MaxCreditsCourseAddition     int `validate:"gte=0"`
	MaxCreditsCourseWithdrawal   int `validate:"gte=0"`
	MaxCreditsSemesterWithdrawal int `validate:"gte=0"`
	CourseWorkers                int `validate:"gte=1,lte=32"`
	SubmissionTimeout            time.Duration
}

// SlipsConfig controls confirmation slip storage & download links.
type SlipsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
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
		var pathErr *fs.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, err
		}
	}

	cfg := fromViper(v)
	if err := validator.New().Struct(cfg.Registration); err != nil {
		return nil, fmt.Errorf("invalid registration config: %w", err)
	}

	return cfg, nil
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
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	mode := strings.ToLower(strings.TrimSpace(v.GetString("ERP_MODE")))
	if mode != ERPModeHTTP {
		mode = ERPModeMemory
	}
	cfg.ERP = ERPConfig{
		Mode:         mode,
		BaseURL:      strings.TrimRight(v.GetString("ERP_BASE_URL"), "/"),
		Timeout:      parseDuration(v.GetString("ERP_TIMEOUT"), 15*time.Second),
		MaxRetries:   v.GetInt("ERP_MAX_RETRIES"),
		RetryDelay:   parseDuration(v.GetString("ERP_RETRY_DELAY"), 500*time.Millisecond),
		ClientID:     v.GetString("ERP_CLIENT_ID"),
		ClientSecret: v.GetString("ERP_CLIENT_SECRET"),
		TokenURL:     v.GetString("ERP_TOKEN_URL"),
		Scopes:       splitAndTrim(v.GetString("ERP_SCOPES")),
	}

	cfg.Catalog = CatalogConfig{
		LocalTTL:        parseDuration(v.GetString("CATALOG_LOCAL_TTL"), time.Minute),
		SharedTTL:       parseDuration(v.GetString("CATALOG_SHARED_TTL"), 10*time.Minute),
		CleanupInterval: parseDuration(v.GetString("CATALOG_CLEANUP_INTERVAL"), 5*time.Minute),
	}

	cfg.Registration = RegistrationConfig{
		MaxCreditsNewSemester:        v.GetInt("REGISTRATION_MAX_CREDITS_NEW_SEMESTER"),
		MaxCreditsCourseAddition:     v.GetInt("REGISTRATION_MAX_CREDITS_COURSE_ADDITION"),
		MaxCreditsCourseWithdrawal:   v.GetInt("REGISTRATION_MAX_CREDITS_COURSE_WITHDRAWAL"),
		MaxCreditsSemesterWithdrawal: v.GetInt("REGISTRATION_MAX_CREDITS_SEMESTER_WITHDRAWAL"),
		CourseWorkers:                v.GetInt("REGISTRATION_COURSE_WORKERS"),
		SubmissionTimeout:            parseDuration(v.GetString("REGISTRATION_SUBMISSION_TIMEOUT"), time.Minute),
	}

	cfg.Slips = SlipsConfig{
		StorageDir:      v.GetString("SLIPS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("SLIPS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("SLIPS_SIGNED_URL_TTL"), 30*time.Minute),
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
	v.SetDefault("DB_NAME", "erp_registration")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ERP_MODE", ERPModeMemory)
	v.SetDefault("ERP_BASE_URL", "http://localhost:9090/api")
	v.SetDefault("ERP_TIMEOUT", "15s")
	v.SetDefault("ERP_MAX_RETRIES", 2)
	v.SetDefault("ERP_RETRY_DELAY", "500ms")
	v.SetDefault("ERP_CLIENT_ID", "")
	v.SetDefault("ERP_CLIENT_SECRET", "")
	v.SetDefault("ERP_TOKEN_URL", "")
	v.SetDefault("ERP_SCOPES", "")

	v.SetDefault("CATALOG_LOCAL_TTL", "1m")
	v.SetDefault("CATALOG_SHARED_TTL", "10m")
	v.SetDefault("CATALOG_CLEANUP_INTERVAL", "5m")

	v.SetDefault("REGISTRATION_MAX_CREDITS_NEW_SEMESTER", 24)
	v.SetDefault("REGISTRATION_MAX_CREDITS_COURSE_ADDITION", 12)
	v.SetDefault("REGISTRATION_MAX_CREDITS_COURSE_WITHDRAWAL", 24)
	v.SetDefault("REGISTRATION_MAX_CREDITS_SEMESTER_WITHDRAWAL", 24)
	v.SetDefault("REGISTRATION_COURSE_WORKERS", 4)
	v.SetDefault("REGISTRATION_SUBMISSION_TIMEOUT", "1m")

	v.SetDefault("SLIPS_STORAGE_DIR", "./slips")
	v.SetDefault("SLIPS_SIGNED_URL_SECRET", "dev_slips_secret")
	v.SetDefault("SLIPS_SIGNED_URL_TTL", "30m")
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
