// Package assistant implements the main orchestrator for Concierge.
// Coordinates channels, the pending-operation cache, the LLM intent
// classifier, the workspace client, and TTS to turn operator messages into
// confirmed, executed operations.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conciergehq/concierge/pkg/concierge/channels"
	"github.com/conciergehq/concierge/pkg/concierge/imagegen"
	"github.com/conciergehq/concierge/pkg/concierge/llm"
	"github.com/conciergehq/concierge/pkg/concierge/pending"
	"github.com/conciergehq/concierge/pkg/concierge/tts"
	"github.com/conciergehq/concierge/pkg/concierge/workspace"
)

// Config holds assistant behavior settings.
type Config struct {
	// Name is the assistant's display name.
	Name string `yaml:"name"`

	// Operators lists the platform user IDs allowed to talk to the bot.
	// Messages from anyone else are silently ignored.
	Operators []string `yaml:"operators"`

	// HoldWindow is the default confirmation window for proposed
	// operations. The intent classifier may shorten or extend it per
	// operation.
	HoldWindow time.Duration `yaml:"hold_window"`

	// AnnounceVoice, when set, attaches a TTS voice note to broadcast
	// announcements (provider voice name).
	AnnounceVoice string `yaml:"announce_voice"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:       "Concierge",
		HoldWindow: time.Minute,
	}
}

// Assistant is the main orchestrator. Message flow: receive → operator
// check → button interaction → command check → intent classification →
// pending operation + confirmation card.
type Assistant struct {
	cfg Config

	channelMgr *channels.Manager
	store      *pending.Store
	llm        *llm.Client
	workspace  *workspace.Client
	tts        tts.Provider
	imagegen   *imagegen.Client

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Assistant wired to its dependencies. The workspace client
// and TTS provider may be nil; the corresponding operations then fail at
// execution time with a clear error.
func New(cfg Config, store *pending.Store, mgr *channels.Manager, llmClient *llm.Client, wsClient *workspace.Client, ttsProvider tts.Provider, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HoldWindow <= 0 {
		cfg.HoldWindow = time.Minute
	}

	return &Assistant{
		cfg:        cfg,
		channelMgr: mgr,
		store:      store,
		llm:        llmClient,
		workspace:  wsClient,
		tts:        ttsProvider,
		logger:     logger.With("component", "assistant"),
	}
}

// Start connects the channels and begins processing messages.
func (a *Assistant) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.logger.Info("starting assistant",
		"name", a.cfg.Name,
		"operators", len(a.cfg.Operators),
		"hold_window", a.cfg.HoldWindow,
	)

	a.registerExecutors()
	a.store.SetCardUpdater(pending.CardUpdaterFunc(a.updateCard))
	a.store.SetResolutionHook(a.onResolution)

	if err := a.channelMgr.Start(a.ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}

	go a.messageLoop()

	a.logger.Info("assistant started")
	return nil
}

// Stop shuts down message processing and the channels.
func (a *Assistant) Stop() {
	a.logger.Info("stopping assistant")
	if a.cancel != nil {
		a.cancel()
	}
	a.channelMgr.Stop()
	a.logger.Info("assistant stopped")
}

// SetImageGen enables the /image command. Without a client the command
// reports that image generation is not configured.
func (a *Assistant) SetImageGen(client *imagegen.Client) {
	a.imagegen = client
}

// ChannelManager returns the channel manager for external registration.
func (a *Assistant) ChannelManager() *channels.Manager {
	return a.channelMgr
}

// messageLoop processes messages from all channels.
func (a *Assistant) messageLoop() {
	for {
		select {
		case msg, ok := <-a.channelMgr.Messages():
			if !ok {
				return
			}
			go a.handleMessage(msg)

		case <-a.ctx.Done():
			return
		}
	}
}

// handleMessage processes an individual message.
func (a *Assistant) handleMessage(msg *channels.IncomingMessage) {
	start := time.Now()
	logger := a.logger.With(
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"from", msg.From,
		"msg_id", msg.ID,
	)

	// Unknown senders are silently ignored.
	if !a.isOperator(msg.From) {
		logger.Debug("message ignored, sender is not an operator")
		return
	}

	// Card button presses resolve the operation directly.
	if msg.Interaction != nil {
		a.handleInteraction(msg)
		logger.Info("interaction processed",
			"action", msg.Interaction.Action,
			"operation", msg.Interaction.OperationID,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}

	if msg.Content == "" || msg.Type != channels.MessageText {
		return
	}

	// Typed commands work everywhere, including channels without cards.
	if IsCommand(msg.Content) {
		result := a.HandleCommand(msg)
		if result.Handled {
			if result.Response != "" {
				a.sendReply(msg, result.Response)
			}
			logger.Info("command processed",
				"duration_ms", time.Since(start).Milliseconds())
			return
		}
	}

	// Free-form request: classify into a proposed operation.
	a.handleRequest(msg, logger)
	logger.Info("message processed",
		"duration_ms", time.Since(start).Milliseconds())
}

// handleInteraction resolves an operation from a card button press.
func (a *Assistant) handleInteraction(msg *channels.IncomingMessage) {
	opID := msg.Interaction.OperationID

	switch msg.Interaction.Action {
	case "confirm":
		if !a.store.Confirm(opID) {
			op, ok := a.store.Get(opID)
			if ok && op.Status == pending.StatusConfirmed {
				a.sendReply(msg, "Confirmed, but the action failed to run. Check the logs and retry manually.")
				return
			}
			a.sendReply(msg, "That operation can no longer be confirmed.")
		}
	case "cancel":
		if !a.store.Cancel(opID) {
			a.sendReply(msg, "That operation can no longer be cancelled.")
		}
	}
	// Success needs no reply: the resolution hook rewrites the card.
}

// handleRequest classifies a free-form message and proposes an operation.
func (a *Assistant) handleRequest(msg *channels.IncomingMessage, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(a.ctx, 60*time.Second)
	defer cancel()

	intent, err := a.classifyIntent(ctx, msg.Content)
	if err != nil {
		logger.Error("intent classification failed", "error", err)
		a.sendReply(msg, "Sorry, I couldn't process that right now.")
		return
	}

	if intent.Operation == "" || intent.Operation == intentNone {
		reply := intent.Reply
		if reply == "" {
			reply = "I can archive workspace pages, send reminders, and post announcements. Tell me what you need, or use /help."
		}
		a.sendReply(msg, reply)
		return
	}

	a.proposeOperation(msg, intent, logger)
}

// isOperator reports whether the sender is in the allowed-operator list.
// An empty list means nobody is allowed; Concierge never runs open.
func (a *Assistant) isOperator(userID string) bool {
	for _, id := range a.cfg.Operators {
		if id == userID {
			return true
		}
	}
	return false
}

// sendReply sends a response to the original message's channel.
func (a *Assistant) sendReply(original *channels.IncomingMessage, content string) {
	outMsg := &channels.OutgoingMessage{
		Content: content,
		ReplyTo: original.ID,
	}

	if err := a.channelMgr.Send(a.ctx, original.Channel, original.ChatID, outMsg); err != nil {
		a.logger.Error("failed to send reply",
			"channel", original.Channel,
			"chat_id", original.ChatID,
			"error", err,
		)
	}
}
