package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func sampleSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMAPIURL:      "https://example.test/v1",
		LLMAPIKey:      "ak-test",
		LLMModel:       "model-test",
		SweepCron:      "*/5 * * * *",
		TargetLanguage: "zh",
	}
}

func TestRuntimeSettings_Validate(t *testing.T) {
	require.NoError(t, sampleSettings().Validate())

	tests := []struct {
		name    string
		mutate  func(*RuntimeSettings)
		wantErr string
	}{
		{name: "bad cron", mutate: func(s *RuntimeSettings) { s.SweepCron = "bad cron" }, wantErr: "invalid sweep_cron"},
		{name: "missing target", mutate: func(s *RuntimeSettings) { s.TargetLanguage = "" }, wantErr: "target_language is required"},
		{name: "bad target", mutate: func(s *RuntimeSettings) { s.TargetLanguage = "not a tag!" }, wantErr: "invalid target_language"},
		{name: "blank key", mutate: func(s *RuntimeSettings) { s.LLMAPIKey = "  " }, wantErr: "llm_api_key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleSettings()
			tt.mutate(&s)
			assert.ErrorContains(t, s.Validate(), tt.wantErr)
		})
	}

	// every problem is reported, not only the first
	err := RuntimeSettings{SweepCron: "nope"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm_api_url is required")
	assert.Contains(t, err.Error(), "llm_model is required")
	assert.Contains(t, err.Error(), "invalid sweep_cron")
}

func TestRuntimeSettings_Overlay(t *testing.T) {
	base := sampleSettings()

	got := base.Overlay(RuntimeSettings{LLMModel: " next-model ", TargetLanguage: "ja"})
	assert.Equal(t, "next-model", got.LLMModel)
	assert.Equal(t, "ja", got.TargetLanguage)
	assert.Equal(t, base.LLMAPIKey, got.LLMAPIKey)
	assert.Equal(t, base.SweepCron, got.SweepCron)

	assert.Equal(t, base, base.Overlay(RuntimeSettings{}))
}

func TestRuntimeSettingsFile_RoundTrip(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "settings", "runtime.json")
	input := sampleSettings()
	input.SweepCron = "0 0 * * *"

	require.NoError(t, WriteRuntimeSettingsFile(filePath, input))

	got, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(filePath))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	invalid := input
	invalid.LLMModel = ""
	assert.Error(t, WriteRuntimeSettingsFile(filePath, invalid))
}

func TestLoadRuntimeSettingsFile_Invalid(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "runtime.json")
	require.NoError(t, os.WriteFile(filePath, []byte("{"), 0o600))

	_, err := LoadRuntimeSettingsFile(filePath)
	assert.ErrorContains(t, err, "invalid settings file")
}

func TestWithRuntimeSettings_OverridesConfig(t *testing.T) {
	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("LLM_API_URL", "https://env.example/v1")
	t.Setenv("LLM_MODEL", "env-model")
	t.Setenv("SESSION_SWEEP_CRON", "0 1 * * *")

	override := RuntimeSettings{
		LLMAPIURL:      "https://file.example/v1",
		LLMModel:       "file-model",
		SweepCron:      "*/30 * * * *",
		TargetLanguage: "ja",
	}

	cfg, err := NewFromEnv(WithRuntimeSettings(override))
	require.NoError(t, err)
	assert.Equal(t, override.LLMAPIURL, cfg.LLM.APIURL)
	assert.Equal(t, "env-key", cfg.LLM.APIKey, "blank fields keep the environment")
	assert.Equal(t, override.LLMModel, cfg.LLM.Model)
	assert.Equal(t, override.SweepCron, cfg.Session.SweepCron)
	assert.Equal(t, language.Japanese, cfg.Translate.TargetLanguage)
}

func TestRuntimeSettingsStore_UpdatePersistsFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "runtime-settings.json")

	store, err := NewRuntimeSettingsStore(filePath, sampleSettings())
	require.NoError(t, err)

	got, err := store.UpdateRuntimeSettings(RuntimeSettings{LLMModel: "new-model", TargetLanguage: "en"})
	require.NoError(t, err)
	assert.Equal(t, "new-model", got.LLMModel)
	assert.Equal(t, "ak-test", got.LLMAPIKey)

	loaded, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, got, loaded)

	current, err := store.GetRuntimeSettings()
	require.NoError(t, err)
	assert.Equal(t, got, current)

	_, err = store.UpdateRuntimeSettings(RuntimeSettings{SweepCron: "bad cron"})
	require.Error(t, err)
	current, err = store.GetRuntimeSettings()
	require.NoError(t, err)
	assert.Equal(t, got, current, "a rejected update changes nothing")
}

func TestRuntimeSettings_TargetTag(t *testing.T) {
	assert.Equal(t, language.Japanese, RuntimeSettings{TargetLanguage: "ja"}.TargetTag())
	assert.Equal(t, language.Und, RuntimeSettings{TargetLanguage: "not a tag!"}.TargetTag())
}

func TestNewRuntimeSettingsStore_RejectsInvalid(t *testing.T) {
	_, err := NewRuntimeSettingsStore("", RuntimeSettings{})
	require.Error(t, err)

	_, err = NewRuntimeSettingsStore(filepath.Join(t.TempDir(), "s.json"), RuntimeSettings{LLMAPIURL: "x"})
	require.Error(t, err)
}
