package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jholhewres/clawbot/pkg/clawbot/config"
)

func newSetupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Walk through the essentials and write config.yaml: assistant name,
AI backend, chat channels and optional integrations. Secrets never land in
config.yaml; they go to the OS keyring or to .env.

Examples:
  clawbot setup
  clawbot setup --output ~/.clawbot/config.yaml`,
		RunE: runSetup,
	}
	cmd.Flags().StringP("output", "o", "config.yaml", "where to write the config file")
	return cmd
}

// setupAnswers holds what the wizard asks beyond plain config fields.
type setupAnswers struct {
	openAIKey     string
	telegramToken string
	discordToken  string
	gmailPassword string
	weatherKey    string
	allowedUsers  string
	secretStore   string
}

func runSetup(cmd *cobra.Command, _ []string) error {
	output, _ := cmd.Flags().GetString("output")
	if _, err := os.Stat(output); err == nil {
		overwrite := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite it?", output)).
			Value(&overwrite).
			Run()
		if err != nil {
			return wizardErr(err)
		}
		if !overwrite {
			fmt.Println("Nothing changed.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	var ans setupAnswers
	ans.secretStore = "keyring"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Assistant name").Value(&cfg.Name).
				Validate(required("a name")),
			huh.NewSelect[string]().Title("AI backend").
				Options(
					huh.NewOption("Ollama (local models)", "ollama"),
					huh.NewOption("OpenAI or a compatible API", "openai"),
				).
				Value(&cfg.AI.Backend),
		),
		huh.NewGroup(
			huh.NewInput().Title("Ollama URL").Value(&cfg.AI.Ollama.URL),
			huh.NewInput().Title("Chat model").Value(&cfg.AI.Ollama.Model),
			huh.NewInput().Title("Embedding model").Value(&cfg.AI.Ollama.EmbedModel),
		).WithHideFunc(func() bool { return cfg.AI.Backend != "ollama" }),
		huh.NewGroup(
			huh.NewInput().Title("API key (empty for keyless local servers)").EchoMode(huh.EchoModePassword).Value(&ans.openAIKey),
			huh.NewInput().Title("Base URL (empty for api.openai.com)").Value(&cfg.AI.OpenAI.BaseURL),
			huh.NewInput().Title("Chat model").Value(&cfg.AI.OpenAI.Model),
		).WithHideFunc(func() bool { return cfg.AI.Backend != "openai" }),
		huh.NewGroup(
			huh.NewInput().Title("Telegram bot token (empty to skip)").EchoMode(huh.EchoModePassword).Value(&ans.telegramToken),
			huh.NewInput().Title("Discord bot token (empty to skip)").EchoMode(huh.EchoModePassword).Value(&ans.discordToken),
			huh.NewConfirm().Title("Enable WhatsApp (pairs by QR code on first serve)?").Value(&cfg.Channels.WhatsApp.Enabled),
			huh.NewInput().Title("Allowed users (comma separated channel:id, empty allows everyone)").Value(&ans.allowedUsers),
		),
		huh.NewGroup(
			huh.NewInput().Title("Gmail address for the email check (empty to skip)").Value(&cfg.Email.Address),
			huh.NewInput().Title("OpenWeather API key (empty to skip)").EchoMode(huh.EchoModePassword).Value(&ans.weatherKey),
			huh.NewInput().Title("Default city").Value(&cfg.Weather.DefaultCity),
		),
		huh.NewGroup(
			huh.NewInput().Title("Gmail app password").EchoMode(huh.EchoModePassword).Value(&ans.gmailPassword),
		).WithHideFunc(func() bool { return cfg.Email.Address == "" }),
		huh.NewGroup(
			huh.NewSelect[string]().Title("Where should secrets be stored?").
				Options(
					huh.NewOption("OS keyring", "keyring"),
					huh.NewOption(".env file next to the config", "env"),
				).
				Value(&ans.secretStore),
		),
	)
	if err := form.Run(); err != nil {
		return wizardErr(err)
	}

	cfg.Access.AllowedUsers = splitCSV(ans.allowedUsers)
	if ans.telegramToken == "" && ans.discordToken == "" && !cfg.Channels.WhatsApp.Enabled {
		fmt.Println("No chat channel configured; `clawbot chat` still works locally.")
	}

	if err := storeSecrets(ans); err != nil {
		return err
	}
	if err := config.SaveConfigToFile(cfg, output); err != nil {
		return err
	}
	fmt.Printf("Config written to %s. Start the assistant with `clawbot serve`.\n", output)
	return nil
}

// storeSecrets saves non-empty secrets to the keyring or to .env.
func storeSecrets(ans setupAnswers) error {
	secrets := []struct{ key, env, value string }{
		{"openai_api_key", "OPENAI_API_KEY", ans.openAIKey},
		{"telegram_bot_token", "TELEGRAM_BOT_TOKEN", ans.telegramToken},
		{"discord_bot_token", "DISCORD_BOT_TOKEN", ans.discordToken},
		{"gmail_app_password", "GMAIL_APP_PASSWORD", ans.gmailPassword},
		{"openweather_api_key", "OPENWEATHER_API_KEY", ans.weatherKey},
	}

	if ans.secretStore == "keyring" {
		for _, s := range secrets {
			if s.value == "" {
				continue
			}
			if err := config.StoreKeyring(s.key, s.value); err != nil {
				return fmt.Errorf("storing %s in the keyring: %w (rerun setup and choose .env)", s.key, err)
			}
		}
		return nil
	}

	env, err := godotenv.Read(".env")
	if err != nil {
		env = map[string]string{}
	}
	for _, s := range secrets {
		if s.value != "" {
			env[s.env] = s.value
		}
	}
	if err := godotenv.Write(env, ".env"); err != nil {
		return fmt.Errorf("writing .env: %w", err)
	}
	return os.Chmod(".env", 0o600)
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func wizardErr(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errors.New("setup aborted")
	}
	return err
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
