package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var envKeys = []string{
	"PORT", "MODEL", "LLM_PROVIDER", "OPENAI_API_KEY", "SECRET_KEY", "OPENAI_BASE_URL", "GEMINI_API_KEY",
	"STT_BASE_URL", "STT_MODEL", "STT_LANGUAGE", "TTS_BASE_URL", "TTS_MODEL", "TTS_VOICE",
	"CHUNK_SIZE_WORDS", "HISTORY_LIMIT", "REQUEST_LIMIT", "DB_PATH", "SESSION_SNAPSHOT_TTL",
	"CORS_ALLOWED_ORIGINS", "CONVERSATION_LOG_ENABLED", "CONVERSATION_LOG_DIR",
	"CONVERSATION_LOG_QUEUE_SIZE", "LOG_LEVEL",
}

// clearEnv unsets every key Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %v", k, err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODEL", "gpt-4o-mini")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" || cfg.LLMProvider != ProviderOpenAI {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Agent.ChunkSizeWords != 10 || cfg.Agent.HistoryLimit != 10 || cfg.Agent.RequestLimit != 10 {
		t.Fatalf("unexpected agent defaults: %+v", cfg.Agent)
	}
	if cfg.Speech.TTSVoice != "af_heart" || cfg.Speech.STTLanguage != "en" {
		t.Fatalf("unexpected speech defaults: %+v", cfg.Speech)
	}
	if cfg.DBPath != "" || cfg.SnapshotTTL != 0 {
		t.Fatalf("persistence must be off by default")
	}
	if cfg.SlogLevel() != slog.LevelInfo {
		t.Fatalf("unexpected level %v", cfg.SlogLevel())
	}
}

func TestLoadRequiresModel(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	_, err := Load("")
	if !errors.Is(err, ErrMissingModel) {
		t.Fatalf("expected ErrMissingModel, got %v", err)
	}
}

func TestLoadSecretKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODEL", "m")
	t.Setenv("SECRET_KEY", "sk-legacy")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.OpenAIAPIKey.Value() != "sk-legacy" {
		t.Fatalf("expected SECRET_KEY fallback, got %q", cfg.OpenAIAPIKey.Value())
	}
}

func TestLoadGeminiRequiresKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODEL", "gemini-2.0-flash")
	t.Setenv("LLM_PROVIDER", "Gemini")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("expected missing gemini key error, got %v", err)
	}
	t.Setenv("GEMINI_API_KEY", "g-key")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLMProvider != ProviderGemini {
		t.Fatalf("expected gemini provider, got %q", cfg.LLMProvider)
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "lexivoice.yaml")
	data := `
port: "9000"
model: gpt-file
openai_api_key: sk-file
speech:
  tts_base_url: http://kokoro:8880/v1
  tts_voice: bf_emma
agent:
  chunk_size_words: 4
  history_limit: 6
db_path: ./data/lexivoice.db
session_snapshot_ttl: 24h
cors_allowed_origins:
  - https://tutor.local
conversation_log:
  enabled: true
  dir: /tmp/convos
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MODEL", "gpt-env")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9000" || cfg.Model != "gpt-env" {
		t.Fatalf("expected file port and env model, got %q %q", cfg.Port, cfg.Model)
	}
	if cfg.Agent.ChunkSizeWords != 4 || cfg.Agent.HistoryLimit != 6 || cfg.Agent.RequestLimit != 10 {
		t.Fatalf("unexpected agent config %+v", cfg.Agent)
	}
	if cfg.TTSBaseURL() != "http://kokoro:8880/v1" || cfg.Speech.TTSVoice != "bf_emma" {
		t.Fatalf("unexpected speech config %+v", cfg.Speech)
	}
	if cfg.SnapshotTTL != 24*time.Hour || cfg.DBPath != "./data/lexivoice.db" {
		t.Fatalf("unexpected persistence config: %v %q", cfg.SnapshotTTL, cfg.DBPath)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("env origins should win, got %v", cfg.CORSOrigins)
	}
	if !cfg.ConversationLog.Enabled || cfg.ConversationLog.Dir != "/tmp/convos" {
		t.Fatalf("unexpected conversation log config %+v", cfg.ConversationLog)
	}
}

func TestLoadBadDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODEL", "m")
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("SESSION_SNAPSHOT_TTL", "forever")
	if _, err := Load(""); err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsBadLimits(t *testing.T) {
	base := func() *Config {
		c := Default()
		c.Model = "m"
		c.OpenAIAPIKey = "k"
		return c
	}
	cases := map[string]func(*Config){
		"history": func(c *Config) { c.Agent.HistoryLimit = 0 },
		"request": func(c *Config) { c.Agent.RequestLimit = -1 },
		"chunk":   func(c *Config) { c.Agent.ChunkSizeWords = -2 },
		"level":   func(c *Config) { c.LogLevel = "loud" },
		"port":    func(c *Config) { c.Port = "" },
	}
	for name, mutate := range cases {
		c := base()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}
}

func TestSpeechURLsFallBackToLLM(t *testing.T) {
	c := Default()
	c.OpenAIBaseURL = "http://llm/v1"
	if c.STTBaseURL() != "http://llm/v1" || c.TTSBaseURL() != "http://llm/v1" {
		t.Fatal("speech endpoints should default to the LLM base URL")
	}
}

func TestSecretRedacted(t *testing.T) {
	s := Secret("sk-very-secret")
	for _, out := range []string{fmt.Sprint(s), fmt.Sprintf("%v %s %#v", s, s, s)} {
		if strings.Contains(out, "sk-very-secret") {
			t.Fatalf("secret leaked: %q", out)
		}
	}

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("config", "key", s)
	if strings.Contains(buf.String(), "sk-very-secret") {
		t.Fatalf("secret leaked into log: %s", buf.String())
	}
	if Secret("").String() != "" {
		t.Fatal("empty secret should print empty")
	}
}
