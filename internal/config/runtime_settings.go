package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"subsync/internal/language"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings are the values an operator may change through the API
// without restarting the daemon.
type RuntimeSettings struct {
	LLMAPIURL       string   `json:"llm_api_url"`
	LLMAPIKey       string   `json:"llm_api_key"`
	LLMModel        string   `json:"llm_model"`
	ScanCron        string   `json:"scan_cron"`
	TargetLanguages []string `json:"target_languages"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.LLMAPIURL) == "" {
		return fmt.Errorf("llm_api_url is required")
	}
	if strings.TrimSpace(s.LLMAPIKey) == "" {
		return fmt.Errorf("llm_api_key is required")
	}
	if strings.TrimSpace(s.LLMModel) == "" {
		return fmt.Errorf("llm_model is required")
	}
	if strings.TrimSpace(s.ScanCron) == "" {
		return fmt.Errorf("scan_cron is required")
	}
	if _, err := cron.ParseStandard(s.ScanCron); err != nil {
		return fmt.Errorf("invalid scan_cron: %w", err)
	}
	if len(s.TargetLanguages) == 0 {
		return fmt.Errorf("target_languages is required")
	}
	for _, lang := range s.TargetLanguages {
		if _, ok := language.Canonical(lang); !ok {
			return fmt.Errorf("invalid target language %q", lang)
		}
	}
	return nil
}

// normalized canonicalizes the target languages to base codes, matching
// what Config.validate does to the env-derived targets.
func (s RuntimeSettings) normalized() RuntimeSettings {
	langs := make([]string, len(s.TargetLanguages))
	for i, lang := range s.TargetLanguages {
		if code, ok := language.Canonical(lang); ok {
			langs[i] = code
		} else {
			langs[i] = lang
		}
	}
	s.TargetLanguages = langs
	return s
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMAPIURL:       c.LLM.APIURL,
		LLMAPIKey:       c.LLM.APIKey,
		LLMModel:        c.LLM.Model,
		ScanCron:        c.Schedule.ScanCron,
		TargetLanguages: c.Media.TargetLangs,
	}
}

// WithRuntimeSettings overlays a settings file onto the environment
// configuration; empty fields keep the environment value.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.LLMAPIURL) != "" {
			c.LLM.APIURL = settings.LLMAPIURL
		}
		if strings.TrimSpace(settings.LLMAPIKey) != "" {
			c.LLM.APIKey = settings.LLMAPIKey
		}
		if strings.TrimSpace(settings.LLMModel) != "" {
			c.LLM.Model = settings.LLMModel
		}
		if strings.TrimSpace(settings.ScanCron) != "" {
			c.Schedule.ScanCron = settings.ScanCron
		}
		if len(settings.TargetLanguages) > 0 {
			c.Media.TargetLangs = settings.TargetLanguages
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// RuntimeSettingsStore serializes settings reads and updates; updates are
// persisted before they become visible.
type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	next = next.normalized()
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
