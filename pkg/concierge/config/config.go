// Package config loads the Concierge configuration: YAML file with
// environment-variable expansion, .env support, defaults, and validation.
// Secrets resolve through a chain: encrypted vault, OS keyring,
// environment, then the config value itself.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/conciergehq/concierge/pkg/concierge/assistant"
	"github.com/conciergehq/concierge/pkg/concierge/channels/discord"
	"github.com/conciergehq/concierge/pkg/concierge/channels/whatsapp"
	"github.com/conciergehq/concierge/pkg/concierge/imagegen"
	"github.com/conciergehq/concierge/pkg/concierge/llm"
	"github.com/conciergehq/concierge/pkg/concierge/workspace"
)

// Config is the full Concierge configuration.
type Config struct {
	// Assistant holds orchestrator settings: name, operators, default
	// confirmation window.
	Assistant assistant.Config `yaml:"assistant"`

	// Pending configures the operation cache.
	Pending PendingConfig `yaml:"pending"`

	// Channels enables and configures message surfaces.
	Channels ChannelsConfig `yaml:"channels"`

	// LLM is the intent classifier backend.
	LLM llm.Config `yaml:"llm"`

	// Workspace is the workspace-database API.
	Workspace workspace.Config `yaml:"workspace"`

	// TTS configures speech synthesis for voice-note announcements.
	TTS TTSConfig `yaml:"tts"`

	// ImageGen configures image generation.
	ImageGen imagegen.Config `yaml:"imagegen"`

	// Digest configures the scheduled statistics digest.
	Digest DigestConfig `yaml:"digest"`

	// DataDir is the base directory for state files (snapshots, caches,
	// session stores, job files).
	DataDir string `yaml:"data_dir"`
}

// PendingConfig maps onto the operation cache options.
type PendingConfig struct {
	// SnapshotFile is the snapshot filename inside DataDir. Empty
	// disables persistence.
	SnapshotFile string `yaml:"snapshot_file"`

	// MaxPerUser caps simultaneously pending operations per user.
	MaxPerUser int `yaml:"max_per_user"`

	// UpdateInterval is the countdown-card refresh tick.
	UpdateInterval time.Duration `yaml:"update_interval"`

	// MaxCardUpdates is the per-operation card refresh ceiling.
	MaxCardUpdates int `yaml:"max_card_updates"`

	// AutoUpdate enables the live countdown loop.
	AutoUpdate bool `yaml:"auto_update"`
}

// ChannelsConfig holds per-channel settings. A channel with Enabled false
// is not registered.
type ChannelsConfig struct {
	Discord struct {
		Enabled        bool `yaml:"enabled"`
		discord.Config `yaml:",inline"`
	} `yaml:"discord"`

	WhatsApp struct {
		Enabled         bool `yaml:"enabled"`
		whatsapp.Config `yaml:",inline"`
	} `yaml:"whatsapp"`
}

// TTSConfig selects and configures the speech backend.
type TTSConfig struct {
	// Provider is "openai", "edge", or "auto" (OpenAI with Edge
	// fallback).
	Provider string `yaml:"provider"`

	// APIKey is the OpenAI speech key (openai and auto providers).
	APIKey string `yaml:"api_key"`

	// Model is the OpenAI speech model.
	Model string `yaml:"model"`

	// Voice and EdgeVoice are the per-backend default voices.
	Voice     string `yaml:"voice"`
	EdgeVoice string `yaml:"edge_voice"`
}

// DigestConfig turns on the periodic statistics digest.
type DigestConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor ("@daily").
	Schedule string `yaml:"schedule"`

	// Channel and ChatID name the digest's destination.
	Channel string `yaml:"channel"`
	ChatID  string `yaml:"chat_id"`

	// JobsFile is the scheduler's job store inside DataDir.
	JobsFile string `yaml:"jobs_file"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	cfg := &Config{
		Assistant: assistant.DefaultConfig(),
		Pending: PendingConfig{
			SnapshotFile:   "pending.json",
			MaxPerUser:     2,
			UpdateInterval: time.Second,
			MaxCardUpdates: 60,
			AutoUpdate:     true,
		},
		TTS: TTSConfig{
			Provider: "auto",
		},
		Digest: DigestConfig{
			Schedule: "@daily",
			JobsFile: "digest_jobs.json",
		},
		DataDir: ".concierge",
	}
	cfg.Channels.Discord.Config = discord.DefaultConfig()
	cfg.Channels.WhatsApp.Config = whatsapp.DefaultConfig()
	return cfg
}

// envVarPattern matches ${VAR} and ${VAR:-default} references in config
// values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads the config file, expanding any ${VAR} references against the
// environment after loading .env. A missing file returns defaults.
func Load(path string) (*Config, error) {
	// godotenv never overwrites variables already set in the process.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnvVars substitutes ${VAR} and ${VAR:-default} in the raw YAML.
// Unset variables without a default expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, def := groups[1], groups[2]
		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		return def
	})
}

// Validate checks cross-field constraints the YAML schema cannot express.
func (c *Config) Validate() error {
	if c.Channels.Discord.Enabled && c.Channels.Discord.Token == "" {
		return fmt.Errorf("config: discord is enabled but has no token")
	}
	if c.Assistant.HoldWindow < 0 {
		return fmt.Errorf("config: hold_window must not be negative")
	}
	if c.Pending.MaxPerUser < 0 {
		return fmt.Errorf("config: max_per_user must not be negative")
	}
	if c.Digest.Enabled {
		if c.Digest.Schedule == "" {
			return fmt.Errorf("config: digest is enabled but has no schedule")
		}
		if c.Digest.Channel == "" || c.Digest.ChatID == "" {
			return fmt.Errorf("config: digest is enabled but has no destination chat")
		}
	}

	switch c.TTS.Provider {
	case "", "auto", "openai", "edge":
	default:
		return fmt.Errorf("config: unknown tts provider %q", c.TTS.Provider)
	}

	return nil
}

// EnsureDataDir creates the state directory and returns its path.
func (c *Config) EnsureDataDir() (string, error) {
	if c.DataDir == "" {
		c.DataDir = ".concierge"
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	return c.DataDir, nil
}
