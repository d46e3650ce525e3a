package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func TestParseConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParseConfig([]byte("name: Jarvis\n"))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Name != "Jarvis" {
		t.Errorf("Name = %q, want Jarvis", cfg.Name)
	}
	if cfg.Scheduler.TickInterval != time.Minute {
		t.Errorf("TickInterval = %s, want 1m", cfg.Scheduler.TickInterval)
	}
	if cfg.Router.LearnedMinConfidence != 0.5 {
		t.Errorf("LearnedMinConfidence = %v, want 0.5", cfg.Router.LearnedMinConfidence)
	}
	if cfg.NLU.MinConfidence != 0.22 || !cfg.NLU.Enabled {
		t.Errorf("NLU = %+v, want enabled with 0.22", cfg.NLU)
	}
	if len(cfg.Skills.Descriptors) == 0 {
		t.Error("expected default skill descriptors")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestParseConfig_Durations(t *testing.T) {
	t.Parallel()

	data := []byte(`
scheduler:
  tick_interval: 5s
  command_timeout: 10s
nlu:
  min_confidence: 0.3
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Scheduler.TickInterval != 5*time.Second {
		t.Errorf("TickInterval = %s", cfg.Scheduler.TickInterval)
	}
	if cfg.Scheduler.CommandTimeout != 10*time.Second {
		t.Errorf("CommandTimeout = %s", cfg.Scheduler.CommandTimeout)
	}
	if !cfg.NLU.Enabled {
		t.Error("nlu.enabled should keep its default when omitted")
	}
	if cfg.Scheduler.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want default 4", cfg.Scheduler.MaxConcurrent)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"tick too small", func(c *Config) { c.Scheduler.TickInterval = 100 * time.Millisecond }, "tick_interval"},
		{"learned threshold low", func(c *Config) { c.Router.LearnedMinConfidence = 0.2 }, "learned_min_confidence"},
		{"nlu threshold zero", func(c *Config) { c.NLU.MinConfidence = 0 }, "nlu.min_confidence"},
		{"bad backend", func(c *Config) { c.AI.Backend = "llamafile" }, "ai.backend"},
		{"no concurrency", func(c *Config) { c.Scheduler.MaxConcurrent = 0 }, "max_concurrent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.errSub)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("CLAWBOT_TEST_CITY", "Paris")

	out, err := expandEnvVars("city: ${CLAWBOT_TEST_CITY}\nother: ${CLAWBOT_TEST_MISSING:-Lisbon}\n")
	if err != nil {
		t.Fatalf("expandEnvVars: %v", err)
	}
	if !strings.Contains(out, "city: Paris") || !strings.Contains(out, "other: Lisbon") {
		t.Errorf("unexpected expansion: %q", out)
	}

	if _, err := expandEnvVars("key: ${CLAWBOT_TEST_MISSING:?set it}"); err == nil {
		t.Error("expected error for required variable")
	}
}

func TestLoadConfigFromFile_EnvOverrides(t *testing.T) {
	keyring.MockInit()
	t.Setenv("AI_BACKEND", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CHAT_HISTORY_LIMIT", "9")
	t.Setenv("NLU_ENABLED", "false")
	t.Setenv("DISCORD_ALLOWED_CHANNEL_IDS", "111, 222,")
	t.Setenv("OLLAMA_URL", "http://localhost:11434/api/generate")
	t.Setenv("GMAIL_APP_PASSWORD", "abcd efgh ijkl mnop")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  path: data/bot.db\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile: %v", err)
	}
	if cfg.AI.Backend != "openai" || cfg.AI.OpenAI.APIKey != "sk-test" {
		t.Errorf("AI = %+v", cfg.AI)
	}
	if cfg.Router.HistoryLimit != 9 {
		t.Errorf("HistoryLimit = %d, want 9", cfg.Router.HistoryLimit)
	}
	if cfg.NLU.Enabled {
		t.Error("NLU should be disabled by NLU_ENABLED=false")
	}
	if got := cfg.Channels.Discord.AllowedChannels; len(got) != 2 || got[0] != "111" || got[1] != "222" {
		t.Errorf("AllowedChannels = %v", got)
	}
	if cfg.AI.Ollama.URL != "http://localhost:11434" {
		t.Errorf("Ollama URL = %q", cfg.AI.Ollama.URL)
	}
	if cfg.Email.AppPassword != "abcdefghijklmnop" {
		t.Errorf("AppPassword = %q", cfg.Email.AppPassword)
	}
	if want := filepath.Join(dir, "data/bot.db"); cfg.Database.Path != want {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, want)
	}
}

func TestKeyringFallback(t *testing.T) {
	keyring.MockInit()
	if err := StoreKeyring("openweather_api_key", "ow-secret"); err != nil {
		t.Fatalf("StoreKeyring: %v", err)
	}
	if err := StoreKeyring("nope", "x"); err == nil {
		t.Error("expected error for unknown secret key")
	}

	cfg := DefaultConfig()
	resolveKeyringSecrets(cfg)
	if cfg.Weather.APIKey != "ow-secret" {
		t.Errorf("Weather.APIKey = %q, want keyring value", cfg.Weather.APIKey)
	}
}

func TestSaveConfigToFile_RedactsSecrets(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.AI.OpenAI.APIKey = "sk-live"
	cfg.Channels.Telegram.Token = "123:abc"

	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("SaveConfigToFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if strings.Contains(text, "sk-live") || strings.Contains(text, "123:abc") {
		t.Errorf("secrets leaked into file:\n%s", text)
	}
	if !strings.Contains(text, "${OPENAI_API_KEY}") {
		t.Errorf("expected env reference in file:\n%s", text)
	}
}
