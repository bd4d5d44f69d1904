package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/hasferrr/mitsuko-client-sub003/pkg/log"
)

// Config holds all application configuration.
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model name to use (default: openai/gpt-4o-mini)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - LLM_TIMEOUT: Request timeout in seconds for non-streamed calls (default: 60)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
// - LLM_JSON_MODE: Ask the provider for a JSON object response (default: false)
//
// Translation:
// - TARGET_LANGUAGE: BCP 47 tag used when a request names none (default: en)
// - BATCH_CONCURRENCY: Parallel sessions in batch mode (default: 2)
//
// Sessions:
// - SESSION_PARSE_INTERVAL: Minimum time between live parses (default: 0, every chunk)
// - SESSION_RETENTION: How long finished sessions stay in memory (default: 1h)
// - SESSION_SWEEP_CRON: Schedule of the in-memory sweep (default: */5 * * * *)
//
// System:
// - HTTP_ADDR: Listen address (default: :8080)
// - DATA_DIR: Directory for the database (default: /app/data)
// - DB_PATH: Database file (default: $DATA_DIR/mitsuko.db)
// - GLOSSARY_DIR: Term map directory (default: $DATA_DIR/glossaries)
// - LOG_LEVEL: DEBUG, INFO, WARN or ERROR (default: INFO)
// - LOG_FILE: Also write logs to this file (optional)
type Config struct {
	LLM       LLMConfig       `json:"llm"`
	Translate TranslateConfig `json:"translate"`
	Session   SessionConfig   `json:"session"`
	HTTP      HTTPConfig      `json:"http"`
	System    SystemConfig    `json:"system"`
}

// LLMConfig holds the configuration for LLM client
// Supports any OpenAI-compatible provider (OpenRouter, OpenAI, DeepSeek, etc.)
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
	JSONMode    bool    `json:"json_mode"`
}

// String hides the API key.
func (c LLMConfig) String() string {
	return fmt.Sprintf("{url:%s model:%s max_tokens:%d temperature:%.2f timeout:%ds json_mode:%t}",
		c.APIURL, c.Model, c.MaxTokens, c.Temperature, c.Timeout, c.JSONMode)
}

type TranslateConfig struct {
	TargetLanguage   language.Tag `json:"target_language"`
	BatchConcurrency int          `json:"batch_concurrency"`
}

type SessionConfig struct {
	ParseInterval time.Duration `json:"parse_interval"`
	Retention     time.Duration `json:"retention"`
	SweepCron     string        `json:"sweep_cron"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type SystemConfig struct {
	DataDir     string `json:"data_dir"`
	DBFile      string `json:"db_file"`
	GlossaryDir string `json:"glossary_dir"`
	LogLevel    string `json:"log_level"`
	LogFile     string `json:"log_file"`
}

// DBPath returns the sqlite file, DB_PATH when set and otherwise inside DATA_DIR.
func (c *Config) DBPath() string {
	if c.System.DBFile != "" {
		return c.System.DBFile
	}
	return filepath.Join(c.System.DataDir, "mitsuko.db")
}

func (c *Config) GlossaryPath() string {
	if c.System.GlossaryDir != "" {
		return c.System.GlossaryDir
	}
	return filepath.Join(c.System.DataDir, "glossaries")
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
			JSONMode:    getEnvBool("LLM_JSON_MODE", false),
		},
		Translate: TranslateConfig{
			TargetLanguage:   getEnvLanguage("TARGET_LANGUAGE", language.English),
			BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 2),
		},
		Session: SessionConfig{
			ParseInterval: getEnvDuration("SESSION_PARSE_INTERVAL", 0),
			Retention:     getEnvDuration("SESSION_RETENTION", time.Hour),
			SweepCron:     getEnvString("SESSION_SWEEP_CRON", "*/5 * * * *"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
		System: SystemConfig{
			DataDir:     getEnvString("DATA_DIR", "/app/data"),
			DBFile:      getEnvString("DB_PATH", ""),
			GlossaryDir: getEnvString("GLOSSARY_DIR", ""),
			LogLevel:    getEnvString("LOG_LEVEL", "INFO"),
			LogFile:     getEnvString("LOG_FILE", ""),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	log.Info("Config: llm=%v target=%s session=%+v http=%+v", config.LLM, config.Translate.TargetLanguage, config.Session, config.HTTP)

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Translate.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}
	if c.Session.ParseInterval < 0 {
		return fmt.Errorf("SESSION_PARSE_INTERVAL must not be negative")
	}
	if _, err := cron.ParseStandard(c.Session.SweepCron); err != nil {
		return fmt.Errorf("invalid SESSION_SWEEP_CRON: %w", err)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("500ms") or plain milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	log.Warn("Ignoring invalid %s=%q", key, value)
	return defaultValue
}

func getEnvLanguage(key string, defaultValue language.Tag) language.Tag {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return tag
		}
		log.Warn("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}
