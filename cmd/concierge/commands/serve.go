package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conciergehq/concierge/pkg/concierge/assistant"
	"github.com/conciergehq/concierge/pkg/concierge/channels"
	"github.com/conciergehq/concierge/pkg/concierge/channels/discord"
	"github.com/conciergehq/concierge/pkg/concierge/channels/whatsapp"
	"github.com/conciergehq/concierge/pkg/concierge/config"
	"github.com/conciergehq/concierge/pkg/concierge/imagegen"
	"github.com/conciergehq/concierge/pkg/concierge/llm"
	"github.com/conciergehq/concierge/pkg/concierge/pending"
	"github.com/conciergehq/concierge/pkg/concierge/scheduler"
	"github.com/conciergehq/concierge/pkg/concierge/tts"
	"github.com/conciergehq/concierge/pkg/concierge/workspace"
)

// newServeCmd creates the `concierge serve` command that runs the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot with its configured channels",
		Long: `Connect the enabled channels (Discord, WhatsApp), restore the pending
operation snapshot, and process operator messages until interrupted.

Examples:
  concierge serve
  concierge serve --config ./config.yaml --verbose`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cmd)

	dataDir, err := cfg.EnsureDataDir()
	if err != nil {
		return err
	}

	config.ResolveSecrets(cfg, filepath.Join(dataDir, config.DefaultVaultFile), logger)

	snapshotPath := ""
	if cfg.Pending.SnapshotFile != "" {
		snapshotPath = filepath.Join(dataDir, cfg.Pending.SnapshotFile)
	}
	store := pending.NewStore(pending.Options{
		MaxPerUser:     cfg.Pending.MaxPerUser,
		SnapshotPath:   snapshotPath,
		UpdateInterval: cfg.Pending.UpdateInterval,
		MaxCardUpdates: cfg.Pending.MaxCardUpdates,
		AutoUpdate:     cfg.Pending.AutoUpdate,
	}, logger)

	mgr := channels.NewManager(logger)
	if cfg.Channels.Discord.Enabled {
		if err := mgr.Register(discord.New(cfg.Channels.Discord.Config, logger)); err != nil {
			return fmt.Errorf("registering discord: %w", err)
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		waCfg := cfg.Channels.WhatsApp.Config
		if waCfg.SessionDir == "" {
			waCfg.SessionDir = filepath.Join(dataDir, "whatsapp")
		}
		if err := mgr.Register(whatsapp.New(waCfg, logger)); err != nil {
			return fmt.Errorf("registering whatsapp: %w", err)
		}
	}
	if !mgr.HasChannels() {
		return fmt.Errorf("no channels enabled, nothing to serve")
	}

	llmClient := llm.NewClient(cfg.LLM, logger)

	var wsClient *workspace.Client
	if cfg.Workspace.BaseURL != "" && cfg.Workspace.APIKey != "" {
		wsCfg := cfg.Workspace
		if wsCfg.CachePath == "" {
			wsCfg.CachePath = filepath.Join(dataDir, "workspace_cache.db")
		}
		wsClient, err = workspace.New(wsCfg, logger)
		if err != nil {
			return fmt.Errorf("creating workspace client: %w", err)
		}
		defer wsClient.Close()
	} else {
		logger.Info("workspace not configured, archive operations will be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assist := assistant.New(cfg.Assistant, store, mgr, llmClient, wsClient,
		buildTTSProvider(cfg, logger), logger)
	if cfg.ImageGen.APIKey != "" {
		igClient, err := imagegen.New(cfg.ImageGen)
		if err != nil {
			return fmt.Errorf("creating imagegen client: %w", err)
		}
		assist.SetImageGen(igClient)
	}
	if err := assist.Start(ctx); err != nil {
		return fmt.Errorf("starting assistant: %w", err)
	}

	var sched *scheduler.Scheduler
	if cfg.Digest.Enabled {
		sched, err = startDigest(ctx, cfg, dataDir, store, mgr, logger)
		if err != nil {
			logger.Error("digest scheduler unavailable", "error", err)
		}
	}

	logger.Info("concierge running, press Ctrl+C to stop",
		"name", cfg.Assistant.Name,
		"channels", len(mgr.HealthAll()),
		"snapshot", snapshotPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping")

	done := make(chan struct{})
	go func() {
		if sched != nil {
			sched.Stop()
		}
		assist.Stop()
		// Close stops the countdown loop and sweeper and writes the final
		// snapshot, so pending operations survive the restart.
		store.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(15 * time.Second):
		logger.Warn("shutdown timed out, forcing exit")
	}

	return nil
}

// buildTTSProvider assembles the speech backend from config. Returns nil
// when nothing usable is configured; voice notes are then skipped.
func buildTTSProvider(cfg *config.Config, logger *slog.Logger) tts.Provider {
	switch cfg.TTS.Provider {
	case "openai":
		if cfg.TTS.APIKey == "" {
			logger.Warn("tts provider openai selected but no api key, voice notes disabled")
			return nil
		}
		return tts.NewOpenAIProvider(cfg.TTS.APIKey, "", cfg.TTS.Model)

	case "edge":
		return tts.NewEdgeProvider(logger)

	default: // "auto"
		edge := tts.NewEdgeProvider(logger)
		if cfg.TTS.APIKey == "" {
			return edge
		}
		openai := tts.NewOpenAIProvider(cfg.TTS.APIKey, "", cfg.TTS.Model)
		return tts.NewFallbackProvider(openai, edge, cfg.TTS.Voice, cfg.TTS.EdgeVoice, logger)
	}
}

// startDigest wires the cron scheduler to post operation digests.
func startDigest(ctx context.Context, cfg *config.Config, dataDir string, store *pending.Store, mgr *channels.Manager, logger *slog.Logger) (*scheduler.Scheduler, error) {
	storage, err := scheduler.NewFileJobStorage(filepath.Join(dataDir, cfg.Digest.JobsFile))
	if err != nil {
		return nil, err
	}

	sender := func(ctx context.Context, channel, chatID, text string) error {
		return mgr.Send(ctx, channel, chatID, &channels.OutgoingMessage{Content: text})
	}

	sched := scheduler.New(storage, scheduler.DigestHandler(store), sender, logger)
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}

	if _, ok := sched.Get("digest"); !ok {
		err := sched.Add(&scheduler.Job{
			ID:       "digest",
			Schedule: cfg.Digest.Schedule,
			Channel:  cfg.Digest.Channel,
			ChatID:   cfg.Digest.ChatID,
			Enabled:  true,
		})
		if err != nil {
			sched.Stop()
			return nil, err
		}
	}
	return sched, nil
}
