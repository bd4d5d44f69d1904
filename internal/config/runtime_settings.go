package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings are the values editable while the server runs. The store
// persists them to a JSON file which overrides the environment at startup.
type RuntimeSettings struct {
	LLMAPIURL      string `json:"llm_api_url"`
	LLMAPIKey      string `json:"llm_api_key"`
	LLMModel       string `json:"llm_model"`
	SweepCron      string `json:"sweep_cron"`
	TargetLanguage string `json:"target_language"`
}

// RuntimeSettingsFilePath returns SETTINGS_FILE or the default location.
func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

// Validate reports every missing or malformed field at once.
func (s RuntimeSettings) Validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"llm_api_url", s.LLMAPIURL},
		{"llm_api_key", s.LLMAPIKey},
		{"llm_model", s.LLMModel},
		{"sweep_cron", s.SweepCron},
		{"target_language", s.TargetLanguage},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.name))
		}
	}
	if strings.TrimSpace(s.SweepCron) != "" {
		if _, err := cron.ParseStandard(s.SweepCron); err != nil {
			errs = append(errs, fmt.Errorf("invalid sweep_cron: %w", err))
		}
	}
	if strings.TrimSpace(s.TargetLanguage) != "" {
		if _, err := language.Parse(s.TargetLanguage); err != nil {
			errs = append(errs, fmt.Errorf("invalid target_language: %w", err))
		}
	}
	return errors.Join(errs...)
}

// TargetTag returns the parsed target language, or language.Und.
func (s RuntimeSettings) TargetTag() language.Tag {
	tag, err := language.Parse(s.TargetLanguage)
	if err != nil {
		return language.Und
	}
	return tag
}

// Overlay returns s with every non-blank field of next applied on top, so a
// partial update leaves the other settings alone.
func (s RuntimeSettings) Overlay(next RuntimeSettings) RuntimeSettings {
	pick := func(current, update string) string {
		if strings.TrimSpace(update) == "" {
			return current
		}
		return strings.TrimSpace(update)
	}
	return RuntimeSettings{
		LLMAPIURL:      pick(s.LLMAPIURL, next.LLMAPIURL),
		LLMAPIKey:      pick(s.LLMAPIKey, next.LLMAPIKey),
		LLMModel:       pick(s.LLMModel, next.LLMModel),
		SweepCron:      pick(s.SweepCron, next.SweepCron),
		TargetLanguage: pick(s.TargetLanguage, next.TargetLanguage),
	}
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMAPIURL:      c.LLM.APIURL,
		LLMAPIKey:      c.LLM.APIKey,
		LLMModel:       c.LLM.Model,
		SweepCron:      c.Session.SweepCron,
		TargetLanguage: c.Translate.TargetLanguage.String(),
	}
}

// WithRuntimeSettings overrides the environment with the saved settings.
// Blank or unparsable fields are ignored.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		merged := c.RuntimeSettings().Overlay(settings)
		c.LLM.APIURL = merged.LLMAPIURL
		c.LLM.APIKey = merged.LLMAPIKey
		c.LLM.Model = merged.LLMModel
		c.Session.SweepCron = merged.SweepCron
		if tag := merged.TargetTag(); tag != language.Und {
			c.Translate.TargetLanguage = tag
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
		return RuntimeSettings{}, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	return settings, nil
}

// WriteRuntimeSettingsFile validates settings and replaces the file
// atomically. The file holds the API key, so it is private to the owner.
func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(content, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// RuntimeSettingsStore serves the current settings and persists updates.
// Updates are serialized so the file and the in-memory copy never diverge.
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
		return nil, fmt.Errorf("initial settings: %w", err)
	}
	return &RuntimeSettingsStore{path: path, current: initial}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// UpdateRuntimeSettings overlays next on the current settings, writes the
// result and returns it.
func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.current.Overlay(next)
	if err := WriteRuntimeSettingsFile(s.path, merged); err != nil {
		return RuntimeSettings{}, err
	}
	s.current = merged
	return merged, nil
}
