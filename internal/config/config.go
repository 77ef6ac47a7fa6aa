package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"raidwatch/internal/constants"
)

// Config is the immutable process-wide configuration. It is built once at
// startup and handed to constructors; nothing mutates it afterwards.
type Config struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`

	MaxConcurrentReports int           `yaml:"max_concurrent_reports"`
	MaxInflightPerJob    int           `yaml:"max_inflight_per_job"`
	CacheCapacity        int           `yaml:"cache_capacity"`
	CacheTTL             time.Duration `yaml:"-"`
	CompletedJobTTL      time.Duration `yaml:"-"`
	FastReturnThreshold  time.Duration `yaml:"-"`
	HTTPTimeout          time.Duration `yaml:"-"`
	JobTimeout           time.Duration `yaml:"-"`

	LogLevel   string `yaml:"log_level"`
	LogFile    string `yaml:"log_file"`
	ServerPort string `yaml:"server_port"`
}

// fileConfig mirrors Config for the optional YAML overlay; durations are
// plain integers there in the unit their key names (seconds, or
// milliseconds for fast_return_threshold_ms), matching the env var names.
type fileConfig struct {
	ClientID             string `yaml:"client_id"`
	ClientSecret         string `yaml:"client_secret"`
	BaseURL              string `yaml:"base_url"`
	MaxConcurrentReports *int   `yaml:"max_concurrent_reports"`
	MaxInflightPerJob    *int   `yaml:"max_inflight_per_job"`
	CacheCapacity        *int   `yaml:"cache_capacity"`
	CacheTTLSeconds      *int   `yaml:"cache_ttl_seconds"`
	CompletedJobTTLSecs  *int   `yaml:"completed_job_ttl_seconds"`
	FastReturnMS         *int   `yaml:"fast_return_threshold_ms"`
	HTTPTimeoutSeconds   *int   `yaml:"http_timeout_seconds"`
	JobTimeoutSeconds    *int   `yaml:"job_timeout_seconds"`
	LogLevel             string `yaml:"log_level"`
	LogFile              string `yaml:"log_file"`
	ServerPort           string `yaml:"server_port"`
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		ClientID:             getEnv("WCL_CLIENT_ID", ""),
		ClientSecret:         getEnv("WCL_CLIENT_SECRET", ""),
		BaseURL:              getEnv("WCL_BASE_URL", constants.DefaultBaseURL),
		MaxConcurrentReports: getEnvInt("MAX_CONCURRENT_REPORTS", constants.DefaultWorkerCount),
		MaxInflightPerJob:    getEnvInt("MAX_INFLIGHT_PER_JOB", constants.DefaultMaxInflight),
		CacheCapacity:        getEnvInt("CACHE_CAPACITY", constants.DefaultCacheCapacity),
		CacheTTL:             getEnvSeconds("CACHE_TTL_SECONDS", constants.DefaultCacheTTL),
		CompletedJobTTL:      getEnvSeconds("COMPLETED_JOB_TTL_SECONDS", constants.DefaultCompletedJobTTL),
		FastReturnThreshold:  getEnvMillis("FAST_RETURN_THRESHOLD_MS", constants.DefaultFastReturn),
		HTTPTimeout:          getEnvSeconds("HTTP_TIMEOUT_SECONDS", constants.HTTPTimeout),
		JobTimeout:           getEnvSeconds("JOB_TIMEOUT_SECONDS", constants.JobTimeout),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFile:              getEnv("LOG_FILE", ""),
		ServerPort:           getEnv("SERVER_PORT", "8080"),
	}

	if path := os.Getenv("RAIDWATCH_CONFIG"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		logger.Debug().Str("path", path).Msg("applied config file overlay")
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("WCL_CLIENT_ID and WCL_CLIENT_SECRET are required")
	}
	if cfg.MaxConcurrentReports < 1 {
		return nil, fmt.Errorf("max_concurrent_reports must be at least 1, got %d", cfg.MaxConcurrentReports)
	}
	if cfg.CacheCapacity < 1 {
		return nil, fmt.Errorf("cache_capacity must be at least 1, got %d", cfg.CacheCapacity)
	}

	logger.Info().
		Str("base_url", cfg.BaseURL).
		Int("max_concurrent_reports", cfg.MaxConcurrentReports).
		Int("cache_capacity", cfg.CacheCapacity).
		Dur("cache_ttl", cfg.CacheTTL).
		Dur("fast_return_threshold", cfg.FastReturnThreshold).
		Str("server_port", cfg.ServerPort).
		Msg("configuration loaded")

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return err
	}
	if fc.ClientID != "" {
		cfg.ClientID = fc.ClientID
	}
	if fc.ClientSecret != "" {
		cfg.ClientSecret = fc.ClientSecret
	}
	if fc.BaseURL != "" {
		cfg.BaseURL = fc.BaseURL
	}
	if fc.MaxConcurrentReports != nil {
		cfg.MaxConcurrentReports = *fc.MaxConcurrentReports
	}
	if fc.MaxInflightPerJob != nil {
		cfg.MaxInflightPerJob = *fc.MaxInflightPerJob
	}
	if fc.CacheCapacity != nil {
		cfg.CacheCapacity = *fc.CacheCapacity
	}
	if fc.CacheTTLSeconds != nil {
		cfg.CacheTTL = time.Duration(*fc.CacheTTLSeconds) * time.Second
	}
	if fc.CompletedJobTTLSecs != nil {
		cfg.CompletedJobTTL = time.Duration(*fc.CompletedJobTTLSecs) * time.Second
	}
	if fc.FastReturnMS != nil {
		cfg.FastReturnThreshold = time.Duration(*fc.FastReturnMS) * time.Millisecond
	}
	if fc.HTTPTimeoutSeconds != nil {
		cfg.HTTPTimeout = time.Duration(*fc.HTTPTimeoutSeconds) * time.Second
	}
	if fc.JobTimeoutSeconds != nil {
		cfg.JobTimeout = time.Duration(*fc.JobTimeoutSeconds) * time.Second
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.LogFile != "" {
		cfg.LogFile = fc.LogFile
	}
	if fc.ServerPort != "" {
		cfg.ServerPort = fc.ServerPort
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}

var Module = fx.Provide(Load)
