// Package config assembles the daemon configuration from environment
// variables, with an optional operator-editable settings file layered on
// top for the values that change at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"subsync/internal/language"
)

// Config holds all application configuration.
//
// Environment Variables:
//
// LLM Configuration:
// - LLM_API_KEY: API key for the OpenAI-compatible provider (required)
// - LLM_API_URL: API endpoint URL (default: https://api.openai.com/v1)
// - LLM_MODEL: Chat model for translation and evaluation (default: gpt-4o-mini)
// - LLM_TRANSCRIBE_MODEL: Audio transcription model (default: whisper-1)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 4096)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.2)
// - LLM_TIMEOUT: Request timeout in seconds (default: 120)
//
// Media Configuration:
// - MEDIA_DIRS: Colon-separated directories to scan (default: /media)
// - TARGET_LANGUAGES: Comma-separated translation targets (default: en)
//
// Storage Configuration:
// - DATA_DIR: Directory for the state database and lock file (default: /app/data)
// - ERROR_RETENTION: Error log entries kept per media file (default: 100)
//
// Pipeline Configuration:
// - PIPELINE_MAX_ATTEMPTS: Attempts per stage before giving up (default: 3)
// - PIPELINE_POLL_SECONDS: Idle wait between stage sweeps (default: 10)
// - PIPELINE_STAGE_TIMEOUT_SECONDS: Per-item handler timeout (default: 600)
// - PIPELINE_STALE_TIMEOUT_SECONDS: In-progress age reclaimed at startup (default: 1800)
// - BACKOFF_BASE_SECONDS: First retry delay (default: 30)
// - BACKOFF_MAX_SECONDS: Retry delay cap (default: 900)
// - WORKERS_TRANSCRIPTION / WORKERS_TRANSLATION / WORKERS_EVALUATION:
//   per-stage worker counts (default: 2)
//
// Scheduling Configuration:
// - SCAN_CRON: Media discovery schedule (default: */15 * * * *)
// - AUDIT_CRON: Consistency audit schedule (default: 0 3 * * *)
// - AUDIT_REPAIR: Reset inconsistent stages automatically (default: false)
//
// HTTP Configuration:
// - HTTP_ADDR: Listen address for the status API (default: :8080)
type Config struct {
	LLM      LLMConfig
	Media    MediaConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Schedule ScheduleConfig
	HTTP     HTTPConfig
}

type LLMConfig struct {
	APIKey          string
	APIURL          string
	Model           string
	TranscribeModel string
	MaxTokens       int
	Temperature     float64
	Timeout         time.Duration
}

type MediaConfig struct {
	Dirs        []string
	TargetLangs []string
}

type StorageConfig struct {
	DataDir        string
	ErrorRetention int
}

func (c StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "state.db")
}

func (c StorageConfig) LockPath() string {
	return filepath.Join(c.DataDir, "subsync.lock")
}

type PipelineConfig struct {
	MaxAttempts  int
	PollInterval time.Duration
	StageTimeout time.Duration
	StaleTimeout time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	Workers      WorkerConfig
}

type WorkerConfig struct {
	Transcription int
	Translation   int
	Evaluation    int
}

type ScheduleConfig struct {
	ScanCron    string
	AuditCron   string
	AuditRepair bool
}

type HTTPConfig struct {
	Addr string
}

// Option is a function type for adjusting Config after the environment is
// read.
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		LLM: LLMConfig{
			APIKey:          getEnvString("LLM_API_KEY", ""),
			APIURL:          getEnvString("LLM_API_URL", "https://api.openai.com/v1"),
			Model:           getEnvString("LLM_MODEL", "gpt-4o-mini"),
			TranscribeModel: getEnvString("LLM_TRANSCRIBE_MODEL", "whisper-1"),
			MaxTokens:       getEnvInt("LLM_MAX_TOKENS", 4096),
			Temperature:     getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:         getEnvSeconds("LLM_TIMEOUT", 120),
		},
		Media: MediaConfig{
			Dirs:        splitList(getEnvString("MEDIA_DIRS", "/media"), ":"),
			TargetLangs: splitList(getEnvString("TARGET_LANGUAGES", "en"), ","),
		},
		Storage: StorageConfig{
			DataDir:        getEnvString("DATA_DIR", "/app/data"),
			ErrorRetention: getEnvInt("ERROR_RETENTION", 100),
		},
		Pipeline: PipelineConfig{
			MaxAttempts:  getEnvInt("PIPELINE_MAX_ATTEMPTS", 3),
			PollInterval: getEnvSeconds("PIPELINE_POLL_SECONDS", 10),
			StageTimeout: getEnvSeconds("PIPELINE_STAGE_TIMEOUT_SECONDS", 600),
			StaleTimeout: getEnvSeconds("PIPELINE_STALE_TIMEOUT_SECONDS", 1800),
			BackoffBase:  getEnvSeconds("BACKOFF_BASE_SECONDS", 30),
			BackoffMax:   getEnvSeconds("BACKOFF_MAX_SECONDS", 900),
			Workers: WorkerConfig{
				Transcription: getEnvInt("WORKERS_TRANSCRIPTION", 2),
				Translation:   getEnvInt("WORKERS_TRANSLATION", 2),
				Evaluation:    getEnvInt("WORKERS_EVALUATION", 2),
			},
		},
		Schedule: ScheduleConfig{
			ScanCron:    getEnvString("SCAN_CRON", "*/15 * * * *"),
			AuditCron:   getEnvString("AUDIT_CRON", "0 3 * * *"),
			AuditRepair: getEnvBool("AUDIT_REPAIR", false),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// validate checks if all required configuration is properly set.
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if len(c.Media.Dirs) == 0 {
		return fmt.Errorf("MEDIA_DIRS is required")
	}
	if len(c.Media.TargetLangs) == 0 {
		return fmt.Errorf("TARGET_LANGUAGES is required")
	}
	// Targets are canonicalized to base codes so stage labels and audit
	// comparisons line up with what the classifier detects ("de-AT" -> "de").
	for i, lang := range c.Media.TargetLangs {
		code, ok := language.Canonical(lang)
		if !ok {
			return fmt.Errorf("invalid target language %q", lang)
		}
		c.Media.TargetLangs[i] = code
	}
	if _, err := cron.ParseStandard(c.Schedule.ScanCron); err != nil {
		return fmt.Errorf("invalid SCAN_CRON: %w", err)
	}
	if _, err := cron.ParseStandard(c.Schedule.AuditCron); err != nil {
		return fmt.Errorf("invalid AUDIT_CRON: %w", err)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("PIPELINE_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func splitList(value, sep string) []string {
	ret := make([]string, 0)
	for _, part := range strings.Split(value, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}

// getEnvString gets a string value from environment variables with default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvSeconds gets a duration configured as whole seconds.
func getEnvSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Second
}
