// Package config defines the clawbot configuration: YAML file on top of
// built-in defaults, .env files, the legacy environment variables and the
// OS keyring for secrets.
package config

import (
	"fmt"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

// Config is the root configuration.
type Config struct {
	// Name is the assistant name used in replies ("My name is ...").
	Name string `yaml:"name"`

	// IdentityFile is the markdown file describing the assistant persona.
	IdentityFile string `yaml:"identity_file"`

	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	AI        AIConfig        `yaml:"ai"`
	Router    RouterConfig    `yaml:"router"`
	NLU       NLUConfig       `yaml:"nlu"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Email     EmailConfig     `yaml:"email"`
	Weather   WeatherConfig   `yaml:"weather"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Access    AccessConfig    `yaml:"access"`
	Skills    SkillsConfig    `yaml:"skills"`
}

// DatabaseConfig configures the SQLite file shared by every store.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	JournalMode string `yaml:"journal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig configures the root slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// AIConfig selects and configures the completion/embedding backend.
type AIConfig struct {
	// Backend is "ollama" or "openai".
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
	Ollama  OllamaConfig  `yaml:"ollama"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
}

// OllamaConfig configures a local Ollama server.
type OllamaConfig struct {
	URL        string `yaml:"url"`
	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`
}

// OpenAIConfig configures an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`
}

// RouterConfig tunes the intent router.
type RouterConfig struct {
	// LearnedMinConfidence is the minimum confidence a learned pattern needs
	// to short-circuit detection.
	LearnedMinConfidence float64 `yaml:"learned_min_confidence"`

	// HistoryLimit is how many previous exchanges feed the AI chat fallback.
	HistoryLimit int `yaml:"history_limit"`

	// LearningQueueSize bounds pending learning writes; overflow is dropped.
	LearningQueueSize int `yaml:"learning_queue_size"`
}

// NLUConfig configures the embedding-based fallback matcher.
type NLUConfig struct {
	Enabled       bool    `yaml:"enabled"`
	MinConfidence float64 `yaml:"min_confidence"`
}

// SchedulerConfig configures the job scheduler and executor.
type SchedulerConfig struct {
	TickInterval   time.Duration `yaml:"tick_interval"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	JobTimeout     time.Duration `yaml:"job_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	OutputLimit    int           `yaml:"output_limit"`

	// NotifyUserID receives output of jobs that have no owner of their own
	// (custom_command, cleanup created from the CLI). Format: channel:chat_id.
	NotifyUserID string `yaml:"notify_user_id"`
}

// EmailConfig holds IMAP credentials for the unread check.
type EmailConfig struct {
	Address     string        `yaml:"address"`
	AppPassword string        `yaml:"app_password"`
	IMAPHost    string        `yaml:"imap_host"`
	Limit       int           `yaml:"limit"`
	Timeout     time.Duration `yaml:"timeout"`
}

// WeatherConfig configures the OpenWeather skill.
type WeatherConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	DefaultCity    string `yaml:"default_city"`
	DefaultCountry string `yaml:"default_country"`
}

// ChannelsConfig groups the chat transports.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// TelegramConfig configures the Telegram Bot API transport.
type TelegramConfig struct {
	Token        string   `yaml:"token"`
	AllowedChats []string `yaml:"allowed_chats"`
}

// DiscordConfig configures the Discord gateway transport.
type DiscordConfig struct {
	Token           string   `yaml:"token"`
	AllowedChannels []string `yaml:"allowed_channels"`
}

// WhatsAppConfig configures the WhatsApp multi-device transport.
type WhatsAppConfig struct {
	Enabled     bool   `yaml:"enabled"`
	SessionPath string `yaml:"session_path"`
}

// AccessConfig restricts who may talk to the assistant.
type AccessConfig struct {
	// AllowedUsers lists "channel:id" or bare ids. Empty allows everyone.
	AllowedUsers []string `yaml:"allowed_users"`
}

// SkillsConfig lists skill descriptors and an optional descriptor directory.
type SkillsConfig struct {
	Dir         string              `yaml:"dir"`
	Descriptors []skills.Descriptor `yaml:"descriptors"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Name:         "Clawbot",
		IdentityFile: "identity.md",
		Database: DatabaseConfig{
			Path:        "./data/clawbot.db",
			JournalMode: "WAL",
			BusyTimeout: 5000,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		AI: AIConfig{
			Backend: "ollama",
			Timeout: 60 * time.Second,
			Ollama: OllamaConfig{
				URL:        "http://127.0.0.1:11434",
				Model:      "llama3.2",
				EmbedModel: "nomic-embed-text",
			},
			OpenAI: OpenAIConfig{
				Model:      "gpt-3.5-turbo",
				EmbedModel: "text-embedding-3-small",
			},
		},
		Router: RouterConfig{
			LearnedMinConfidence: 0.5,
			HistoryLimit:         5,
			LearningQueueSize:    64,
		},
		NLU: NLUConfig{Enabled: true, MinConfidence: 0.22},
		Scheduler: SchedulerConfig{
			TickInterval:   time.Minute,
			MaxConcurrent:  4,
			JobTimeout:     5 * time.Minute,
			CommandTimeout: 30 * time.Second,
			OutputLimit:    1500,
		},
		Email: EmailConfig{
			IMAPHost: "imap.gmail.com:993",
			Limit:    5,
			Timeout:  30 * time.Second,
		},
		Weather: WeatherConfig{
			BaseURL:        "https://api.openweathermap.org/data/2.5/weather",
			DefaultCity:    "London",
			DefaultCountry: "GB",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{SessionPath: "./data/whatsapp.db"},
		},
		Skills: SkillsConfig{Descriptors: skills.DefaultDescriptors()},
	}
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.AI.Backend {
	case "ollama", "openai":
	default:
		return fmt.Errorf("ai.backend must be ollama or openai, got %q", c.AI.Backend)
	}
	if c.Router.LearnedMinConfidence < 0.5 || c.Router.LearnedMinConfidence > 1.0 {
		return fmt.Errorf("router.learned_min_confidence must be within [0.5, 1.0], got %v", c.Router.LearnedMinConfidence)
	}
	if c.Router.HistoryLimit < 0 {
		return fmt.Errorf("router.history_limit must not be negative")
	}
	if c.NLU.MinConfidence <= 0 || c.NLU.MinConfidence > 1 {
		return fmt.Errorf("nlu.min_confidence must be within (0, 1], got %v", c.NLU.MinConfidence)
	}
	if c.Scheduler.TickInterval < time.Second {
		return fmt.Errorf("scheduler.tick_interval must be at least 1s, got %s", c.Scheduler.TickInterval)
	}
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be at least 1")
	}
	if c.Scheduler.CommandTimeout < time.Second {
		return fmt.Errorf("scheduler.command_timeout must be at least 1s, got %s", c.Scheduler.CommandTimeout)
	}
	if c.Scheduler.OutputLimit < 1 {
		return fmt.Errorf("scheduler.output_limit must be positive")
	}
	return nil
}
