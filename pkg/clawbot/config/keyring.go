// Package config – keyring.go resolves secrets from the operating system's
// native keyring when neither the config file nor the environment set them.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "clawbot"

// SecretKeys lists the keyring entries clawbot understands.
var SecretKeys = []string{
	"openai_api_key",
	"gmail_app_password",
	"openweather_api_key",
	"telegram_bot_token",
	"discord_bot_token",
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	if !isSecretKey(key) {
		return fmt.Errorf("unknown secret %q (known: %s)", key, strings.Join(SecretKeys, ", "))
	}
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, or "" when absent.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// ReadSecret prompts on the terminal and reads a value without echo.
func ReadSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// resolveKeyringSecrets fills empty secret fields from the keyring.
func resolveKeyringSecrets(cfg *Config) {
	fill := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		*dst = GetKeyring(key)
	}
	fill(&cfg.AI.OpenAI.APIKey, "openai_api_key")
	fill(&cfg.Email.AppPassword, "gmail_app_password")
	fill(&cfg.Weather.APIKey, "openweather_api_key")
	fill(&cfg.Channels.Telegram.Token, "telegram_bot_token")
	fill(&cfg.Channels.Discord.Token, "discord_bot_token")
}

func isSecretKey(key string) bool {
	for _, k := range SecretKeys {
		if k == key {
			return true
		}
	}
	return false
}
