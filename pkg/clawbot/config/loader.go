// Package config – loader.go reads config.yaml, expands ${VAR} references and
// applies the environment overrides the assistant has always honoured.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable references in config values:
//   - ${VAR_NAME}
//   - ${VAR_NAME:-default}
//   - ${VAR_NAME:?error}
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// Load reads the config file at path, or the first file FindConfigFile
// reports when path is empty. With no file at all the defaults are used,
// still honouring .env files, environment overrides and the keyring.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FindConfigFile()
	}
	if path == "" {
		loadEnvFiles()
		cfg := DefaultConfig()
		if err := applyEnvOverrides(cfg); err != nil {
			return nil, err
		}
		resolveKeyringSecrets(cfg)
		return cfg, nil
	}
	return LoadConfigFromFile(path)
}

// LoadConfigFromFile reads and parses a YAML configuration file.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	resolveKeyringSecrets(cfg)
	resolveRelativePaths(cfg, path)

	return cfg, nil
}

// ParseConfig parses YAML bytes on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("mapping config: %w", err)
	}

	// A nlu section without "enabled" keeps the default instead of zeroing it.
	if nluMap, ok := raw["nlu"].(map[string]any); ok {
		if _, set := nluMap["enabled"]; !set {
			cfg.NLU.Enabled = DefaultConfig().NLU.Enabled
		}
	}

	return cfg, nil
}

// SaveConfigToFile writes cfg as YAML with owner-only permissions. Secrets
// are replaced by ${VAR} references so they never land on disk.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.AI.OpenAI.APIKey = secretRef(cfg.AI.OpenAI.APIKey, "OPENAI_API_KEY")
	sanitized.Email.AppPassword = secretRef(cfg.Email.AppPassword, "GMAIL_APP_PASSWORD")
	sanitized.Weather.APIKey = secretRef(cfg.Weather.APIKey, "OPENWEATHER_API_KEY")
	sanitized.Channels.Telegram.Token = secretRef(cfg.Channels.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	sanitized.Channels.Discord.Token = secretRef(cfg.Channels.Discord.Token, "DISCORD_BOT_TOKEN")

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"configs/config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".clawbot", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ---------- Internal ----------

// loadEnvFiles loads .env files. Existing variables are not overwritten.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces ${VAR} references. ${VAR:?msg} fails when VAR is unset.
func expandEnvVars(input string) (string, error) {
	var firstErr error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		m := envVarPattern.FindStringSubmatch(match)
		name, modifier, arg := m[1], m[2], m[3]

		value, ok := os.LookupEnv(name)
		if ok && value != "" {
			return value
		}
		switch modifier {
		case "-":
			return arg
		case "?":
			if firstErr == nil {
				if arg == "" {
					arg = "required environment variable not set"
				}
				firstErr = fmt.Errorf("config error: %s - %s", name, arg)
			}
		}
		return ""
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// applyEnvOverrides maps the classic environment variables onto cfg.
func applyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("TELEGRAM_BOT_TOKEN", &cfg.Channels.Telegram.Token)
	str("DISCORD_BOT_TOKEN", &cfg.Channels.Discord.Token)
	list("DISCORD_ALLOWED_CHANNEL_IDS", &cfg.Channels.Discord.AllowedChannels)
	str("AI_BACKEND", &cfg.AI.Backend)
	str("OLLAMA_URL", &cfg.AI.Ollama.URL)
	str("OLLAMA_MODEL", &cfg.AI.Ollama.Model)
	str("OPENAI_API_KEY", &cfg.AI.OpenAI.APIKey)
	str("OPENAI_MODEL", &cfg.AI.OpenAI.Model)
	str("GMAIL_EMAIL", &cfg.Email.Address)
	str("GMAIL_APP_PASSWORD", &cfg.Email.AppPassword)
	str("CRON_NOTIFY_USER_ID", &cfg.Scheduler.NotifyUserID)
	str("OPENWEATHER_API_KEY", &cfg.Weather.APIKey)
	str("DEFAULT_CITY", &cfg.Weather.DefaultCity)
	str("DEFAULT_COUNTRY_CODE", &cfg.Weather.DefaultCountry)

	// Older deployments point OLLAMA_URL at /api/generate.
	cfg.AI.Ollama.URL = strings.TrimSuffix(strings.TrimSuffix(cfg.AI.Ollama.URL, "/api/generate"), "/")
	cfg.AI.Backend = strings.ToLower(cfg.AI.Backend)
	// App passwords are shown with spaces by Google.
	cfg.Email.AppPassword = strings.ReplaceAll(cfg.Email.AppPassword, " ", "")

	if v, ok := os.LookupEnv("CHAT_HISTORY_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("CHAT_HISTORY_LIMIT: %w", err)
		}
		cfg.Router.HistoryLimit = n
	}
	if v, ok := os.LookupEnv("NLU_ENABLED"); ok && v != "" {
		cfg.NLU.Enabled = parseBool(v)
	}
	if v, ok := os.LookupEnv("NLU_MIN_CONFIDENCE"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("NLU_MIN_CONFIDENCE: %w", err)
		}
		cfg.NLU.MinConfidence = f
	}
	if v, ok := os.LookupEnv("SCHEDULER_TICK_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("SCHEDULER_TICK_INTERVAL: %w", err)
		}
		cfg.Scheduler.TickInterval = d
	}
	return nil
}

// resolveRelativePaths anchors relative paths at the config file directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	dir := filepath.Dir(configPath)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	cfg.Database.Path = resolve(cfg.Database.Path)
	cfg.Channels.WhatsApp.SessionPath = resolve(cfg.Channels.WhatsApp.SessionPath)
	cfg.IdentityFile = resolve(cfg.IdentityFile)
	cfg.Skills.Dir = resolve(cfg.Skills.Dir)
}

func secretRef(value, envVar string) string {
	if value == "" {
		return ""
	}
	return "${" + envVar + "}"
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

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
