// keyring.go stores secrets in the operating system keyring (Secret
// Service on Linux, Keychain on macOS, Credential Manager on Windows).
//
// Secret resolution order, most to least protected:
//  1. encrypted vault file (master password)
//  2. OS keyring
//  3. environment / .env
//  4. config.yaml value
package config

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const keyringService = "concierge"

// Keyring key names for the secrets Concierge uses.
const (
	KeyLLMAPIKey       = "llm_api_key"
	KeyWorkspaceAPIKey = "workspace_api_key"
	KeyTTSAPIKey       = "tts_api_key"
	KeyImageGenAPIKey  = "imagegen_api_key"
	KeyDiscordToken    = "discord_token"
)

// StoreKeyring saves a secret in the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring. Missing keys return
// an empty string.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable probes the OS keyring with a write-delete cycle.
func KeyringAvailable() bool {
	const probe = "__concierge_probe__"
	if err := keyring.Set(keyringService, probe, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probe)
	return true
}

// ResolveSecrets fills empty secret fields from the vault, the OS keyring,
// and the environment, in that order. Returns the unlocked vault when one
// was used, so callers can keep it for later writes.
func ResolveSecrets(cfg *Config, vaultPath string, logger *slog.Logger) *Vault {
	if logger == nil {
		logger = slog.Default()
	}

	var unlocked *Vault
	vault := NewVault(vaultPath)
	if vault.Exists() {
		if pass := os.Getenv("CONCIERGE_VAULT_PASSWORD"); pass != "" {
			if err := vault.Unlock(pass); err != nil {
				logger.Warn("vault password from environment rejected", "error", err)
			}
		}
		if !vault.IsUnlocked() && term.IsTerminal(int(os.Stdin.Fd())) {
			pass, err := ReadPassword("Vault password: ")
			if err == nil {
				if err := vault.Unlock(pass); err != nil {
					logger.Warn("vault unlock failed", "error", err)
				}
			}
		}
		if vault.IsUnlocked() {
			unlocked = vault
			logger.Info("vault unlocked", "path", vaultPath)
		} else {
			logger.Info("vault present but locked, falling back to keyring and environment")
		}
	}

	resolve := func(current *string, vaultKey, envName string) {
		if *current != "" {
			return
		}
		if unlocked != nil {
			if val, err := unlocked.Get(vaultKey); err == nil && val != "" {
				*current = val
				return
			}
		}
		if val := GetKeyring(vaultKey); val != "" {
			*current = val
			return
		}
		if val := os.Getenv(envName); val != "" {
			*current = val
		}
	}

	resolve(&cfg.LLM.APIKey, KeyLLMAPIKey, "CONCIERGE_LLM_API_KEY")
	resolve(&cfg.Workspace.APIKey, KeyWorkspaceAPIKey, "CONCIERGE_WORKSPACE_API_KEY")
	resolve(&cfg.TTS.APIKey, KeyTTSAPIKey, "CONCIERGE_TTS_API_KEY")
	resolve(&cfg.ImageGen.APIKey, KeyImageGenAPIKey, "CONCIERGE_IMAGEGEN_API_KEY")
	resolve(&cfg.Channels.Discord.Token, KeyDiscordToken, "CONCIERGE_DISCORD_TOKEN")

	return unlocked
}
