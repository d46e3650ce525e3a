package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/clawbot/pkg/clawbot/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the configuration",
		Long: `Show the effective configuration (file, .env, environment and keyring
merged), validate it, or store a secret in the OS keyring.

Examples:
  clawbot config show
  clawbot config validate
  clawbot config set-secret telegram_bot_token`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigSetSecretCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(masked(cfg))
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for invalid values",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("Configuration is valid.")
			for _, w := range configWarnings(cfg) {
				fmt.Println("  warning:", w)
			}
			return nil
		},
	}
}

func newConfigSetSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-secret <key>",
		Short: "Store a secret in the OS keyring",
		Long: fmt.Sprintf(`Read a secret from the terminal without echo and store it in the
OS keyring. It is used whenever the config file and environment leave
the value empty.

Keys: %s`, strings.Join(config.SecretKeys, ", ")),
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			value, err := config.ReadSecret(fmt.Sprintf("Value for %s: ", args[0]))
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty value, nothing stored")
			}
			if err := config.StoreKeyring(args[0], value); err != nil {
				return err
			}
			fmt.Printf("Stored %s in the keyring.\n", args[0])
			return nil
		},
	}
}

// masked returns a copy of cfg safe to print.
func masked(cfg *config.Config) *config.Config {
	out := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		if len(s) <= 8 {
			return "********"
		}
		return s[:4] + "…" + s[len(s)-2:]
	}
	out.AI.OpenAI.APIKey = mask(cfg.AI.OpenAI.APIKey)
	out.Email.AppPassword = mask(cfg.Email.AppPassword)
	out.Weather.APIKey = mask(cfg.Weather.APIKey)
	out.Channels.Telegram.Token = mask(cfg.Channels.Telegram.Token)
	out.Channels.Discord.Token = mask(cfg.Channels.Discord.Token)
	return &out
}

// configWarnings reports settings that are valid but probably unintended.
func configWarnings(cfg *config.Config) []string {
	var out []string
	ch := cfg.Channels
	if ch.Telegram.Token == "" && ch.Discord.Token == "" && !ch.WhatsApp.Enabled {
		out = append(out, "no chat channel configured; serve will only run the scheduler")
	}
	if cfg.AI.Backend == "openai" && cfg.AI.OpenAI.APIKey == "" && cfg.AI.OpenAI.BaseURL == "" {
		out = append(out, "ai.backend is openai but no API key is set")
	}
	if cfg.Scheduler.NotifyUserID == "" {
		out = append(out, "scheduler.notify_user_id is empty; output of ownerless jobs is dropped")
	}
	if (cfg.Email.Address == "") != (cfg.Email.AppPassword == "") {
		out = append(out, "email needs both address and app password")
	}
	return out
}
