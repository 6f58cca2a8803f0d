package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.APIURL)
	assert.Equal(t, []string{"/media"}, cfg.Media.Dirs)
	assert.Equal(t, []string{"en"}, cfg.Media.TargetLangs)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 2, cfg.Pipeline.Workers.Translation)
	assert.False(t, cfg.Schedule.AuditRepair)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("MEDIA_DIRS", "/a:/b")
	t.Setenv("TARGET_LANGUAGES", "de, fr")
	t.Setenv("PIPELINE_MAX_ATTEMPTS", "5")
	t.Setenv("AUDIT_REPAIR", "true")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Media.Dirs)
	assert.Equal(t, []string{"de", "fr"}, cfg.Media.TargetLangs)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.True(t, cfg.Schedule.AuditRepair)
}

func TestNewFromEnv_RequiresAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM_API_KEY")
}

func TestNewFromEnv_CanonicalizesTargetLanguages(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("TARGET_LANGUAGES", "de-AT, pt_BR")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"de", "pt"}, cfg.Media.TargetLangs,
		"regional variants collapse to the base code the classifier detects")
}

func TestNewFromEnv_RejectsBadLanguage(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("TARGET_LANGUAGES", "klingon")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target language")
}

func TestNewFromEnv_RejectsBadCron(t *testing.T) {
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("SCAN_CRON", "not a cron")

	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCAN_CRON")
}

func TestStoragePaths(t *testing.T) {
	c := StorageConfig{DataDir: "/app/data"}
	assert.Equal(t, "/app/data/state.db", c.DBPath())
	assert.Equal(t, "/app/data/subsync.lock", c.LockPath())
}

func validSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMAPIURL:       "https://api.example.com/v1",
		LLMAPIKey:       "test-key",
		LLMModel:        "gpt-4o-mini",
		ScanCron:        "*/5 * * * *",
		TargetLanguages: []string{"de"},
	}
}

func TestRuntimeSettings_Validate(t *testing.T) {
	require.NoError(t, validSettings().Validate())

	bad := validSettings()
	bad.ScanCron = "never"
	require.Error(t, bad.Validate())

	bad = validSettings()
	bad.TargetLanguages = []string{"nope-nope"}
	require.Error(t, bad.Validate())

	bad = validSettings()
	bad.LLMAPIKey = " "
	require.Error(t, bad.Validate())
}

func TestRuntimeSettingsStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "settings.json")

	store, err := NewRuntimeSettingsStore(path, validSettings())
	require.NoError(t, err)

	next := validSettings()
	next.TargetLanguages = []string{"de", "fr"}
	_, err = store.UpdateRuntimeSettings(next)
	require.NoError(t, err)

	loaded, err := LoadRuntimeSettingsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"de", "fr"}, loaded.TargetLanguages)

	current, err := store.GetRuntimeSettings()
	require.NoError(t, err)
	assert.Equal(t, next, current)
}

func TestRuntimeSettingsStore_CanonicalizesTargetLanguages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	store, err := NewRuntimeSettingsStore(path, validSettings())
	require.NoError(t, err)

	next := validSettings()
	next.TargetLanguages = []string{"de-AT"}
	saved, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, []string{"de"}, saved.TargetLanguages)

	loaded, err := LoadRuntimeSettingsFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"de"}, loaded.TargetLanguages,
		"the persisted file holds the canonical code")
}

func TestWithRuntimeSettings_Overlay(t *testing.T) {
	t.Setenv("LLM_API_KEY", "env-key")

	cfg, err := NewFromEnv(WithRuntimeSettings(RuntimeSettings{
		LLMModel:        "bigger-model",
		TargetLanguages: []string{"fr"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.LLM.APIKey, "empty fields keep the environment value")
	assert.Equal(t, "bigger-model", cfg.LLM.Model)
	assert.Equal(t, []string{"fr"}, cfg.Media.TargetLangs)
}
