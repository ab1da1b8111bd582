// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Supported LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ErrMissingModel is returned when no LLM model name is configured.
var ErrMissingModel = errors.New("MODEL is required")

// Config holds all application configuration.
type Config struct {
	Port            string
	Model           string
	LLMProvider     string
	OpenAIAPIKey    Secret
	OpenAIBaseURL   string
	GeminiAPIKey    Secret
	Speech          SpeechConfig
	Agent           AgentConfig
	DBPath          string
	SnapshotTTL     time.Duration
	CORSOrigins     []string
	ConversationLog ConversationLogConfig
	LogLevel        string
}

// SpeechConfig points the speech engines at OpenAI-compatible servers.
type SpeechConfig struct {
	STTBaseURL  string
	STTModel    string
	STTLanguage string
	TTSBaseURL  string
	TTSModel    string
	TTSVoice    string
}

// AgentConfig bounds a tutoring turn.
type AgentConfig struct {
	ChunkSizeWords int
	HistoryLimit   int
	RequestLimit   int
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// fileConfig is the YAML shape of a config file. Every field is optional.
type fileConfig struct {
	Port          string `yaml:"port"`
	Model         string `yaml:"model"`
	LLMProvider   string `yaml:"llm_provider"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	GeminiAPIKey  string `yaml:"gemini_api_key"`
	Speech        struct {
		STTBaseURL  string `yaml:"stt_base_url"`
		STTModel    string `yaml:"stt_model"`
		STTLanguage string `yaml:"stt_language"`
		TTSBaseURL  string `yaml:"tts_base_url"`
		TTSModel    string `yaml:"tts_model"`
		TTSVoice    string `yaml:"tts_voice"`
	} `yaml:"speech"`
	Agent struct {
		ChunkSizeWords *int `yaml:"chunk_size_words"`
		HistoryLimit   *int `yaml:"history_limit"`
		RequestLimit   *int `yaml:"request_limit"`
	} `yaml:"agent"`
	DBPath          string   `yaml:"db_path"`
	SnapshotTTL     string   `yaml:"session_snapshot_ttl"`
	CORSOrigins     []string `yaml:"cors_allowed_origins"`
	ConversationLog struct {
		Enabled   *bool  `yaml:"enabled"`
		Dir       string `yaml:"dir"`
		QueueSize int    `yaml:"queue_size"`
	} `yaml:"conversation_log"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:        "8080",
		LLMProvider: ProviderOpenAI,
		Speech: SpeechConfig{
			STTModel:    "whisper-1",
			STTLanguage: "en",
			TTSModel:    "kokoro",
			TTSVoice:    "af_heart",
		},
		Agent: AgentConfig{
			ChunkSizeWords: 10,
			HistoryLimit:   10,
			RequestLimit:   10,
		},
		CORSOrigins: []string{"*"},
		ConversationLog: ConversationLogConfig{
			Enabled:   false,
			Dir:       "./data/logs/conversations",
			QueueSize: 1000,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from an optional YAML file and then from
// environment variables, which take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setIf(&c.Port, f.Port)
	setIf(&c.Model, f.Model)
	setIf(&c.LLMProvider, f.LLMProvider)
	setIf((*string)(&c.OpenAIAPIKey), f.OpenAIAPIKey)
	setIf(&c.OpenAIBaseURL, f.OpenAIBaseURL)
	setIf((*string)(&c.GeminiAPIKey), f.GeminiAPIKey)
	setIf(&c.Speech.STTBaseURL, f.Speech.STTBaseURL)
	setIf(&c.Speech.STTModel, f.Speech.STTModel)
	setIf(&c.Speech.STTLanguage, f.Speech.STTLanguage)
	setIf(&c.Speech.TTSBaseURL, f.Speech.TTSBaseURL)
	setIf(&c.Speech.TTSModel, f.Speech.TTSModel)
	setIf(&c.Speech.TTSVoice, f.Speech.TTSVoice)
	if f.Agent.ChunkSizeWords != nil {
		c.Agent.ChunkSizeWords = *f.Agent.ChunkSizeWords
	}
	if f.Agent.HistoryLimit != nil {
		c.Agent.HistoryLimit = *f.Agent.HistoryLimit
	}
	if f.Agent.RequestLimit != nil {
		c.Agent.RequestLimit = *f.Agent.RequestLimit
	}
	setIf(&c.DBPath, f.DBPath)
	if f.SnapshotTTL != "" {
		d, err := time.ParseDuration(f.SnapshotTTL)
		if err != nil {
			return fmt.Errorf("parse session_snapshot_ttl: %w", err)
		}
		c.SnapshotTTL = d
	}
	if len(f.CORSOrigins) > 0 {
		c.CORSOrigins = f.CORSOrigins
	}
	if f.ConversationLog.Enabled != nil {
		c.ConversationLog.Enabled = *f.ConversationLog.Enabled
	}
	setIf(&c.ConversationLog.Dir, f.ConversationLog.Dir)
	if f.ConversationLog.QueueSize > 0 {
		c.ConversationLog.QueueSize = f.ConversationLog.QueueSize
	}
	setIf(&c.LogLevel, f.LogLevel)
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.Model = getEnv("MODEL", c.Model)
	c.LLMProvider = strings.ToLower(getEnv("LLM_PROVIDER", c.LLMProvider))
	c.OpenAIAPIKey = Secret(getEnv("OPENAI_API_KEY", getEnv("SECRET_KEY", c.OpenAIAPIKey.Value())))
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.GeminiAPIKey = Secret(getEnv("GEMINI_API_KEY", c.GeminiAPIKey.Value()))

	c.Speech.STTBaseURL = getEnv("STT_BASE_URL", c.Speech.STTBaseURL)
	c.Speech.STTModel = getEnv("STT_MODEL", c.Speech.STTModel)
	c.Speech.STTLanguage = getEnv("STT_LANGUAGE", c.Speech.STTLanguage)
	c.Speech.TTSBaseURL = getEnv("TTS_BASE_URL", c.Speech.TTSBaseURL)
	c.Speech.TTSModel = getEnv("TTS_MODEL", c.Speech.TTSModel)
	c.Speech.TTSVoice = getEnv("TTS_VOICE", c.Speech.TTSVoice)

	c.Agent.ChunkSizeWords = getEnvInt("CHUNK_SIZE_WORDS", c.Agent.ChunkSizeWords)
	c.Agent.HistoryLimit = getEnvInt("HISTORY_LIMIT", c.Agent.HistoryLimit)
	c.Agent.RequestLimit = getEnvInt("REQUEST_LIMIT", c.Agent.RequestLimit)

	c.DBPath = getEnv("DB_PATH", c.DBPath)
	ttl, err := getEnvDuration("SESSION_SNAPSHOT_TTL", c.SnapshotTTL)
	if err != nil {
		return err
	}
	c.SnapshotTTL = ttl

	if v, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		c.CORSOrigins = splitList(v)
	}

	c.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled)
	c.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir)
	c.ConversationLog.QueueSize = getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Model == "" {
		return ErrMissingModel
	}
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey.Value() == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %q", c.LLMProvider)
		}
	case ProviderGemini:
		if c.GeminiAPIKey.Value() == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for provider %q", c.LLMProvider)
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, c.LLMProvider)
	}
	if c.Speech.TTSVoice == "" {
		return fmt.Errorf("TTS_VOICE cannot be empty")
	}
	if c.Agent.ChunkSizeWords <= 0 {
		return fmt.Errorf("CHUNK_SIZE_WORDS must be > 0")
	}
	if c.Agent.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0")
	}
	if c.Agent.RequestLimit <= 0 {
		return fmt.Errorf("REQUEST_LIMIT must be > 0")
	}
	if c.SnapshotTTL < 0 {
		return fmt.Errorf("SESSION_SNAPSHOT_TTL must be >= 0")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// STTBaseURL returns the transcription endpoint, defaulting to the LLM one.
func (c *Config) STTBaseURL() string {
	if c.Speech.STTBaseURL != "" {
		return c.Speech.STTBaseURL
	}
	return c.OpenAIBaseURL
}

// TTSBaseURL returns the synthesis endpoint, defaulting to the LLM one.
func (c *Config) TTSBaseURL() string {
	if c.Speech.TTSBaseURL != "" {
		return c.Speech.TTSBaseURL
	}
	return c.OpenAIBaseURL
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
