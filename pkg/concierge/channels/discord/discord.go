// Package discord implements the Discord channel for Concierge using
// discordgo.
//
// Features:
//   - Send/receive text, images, audio, documents
//   - Confirmation cards with Confirm/Cancel buttons, edited in place
//   - Guild and channel allowlists
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/conciergehq/concierge/pkg/concierge/channels"
)

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs the bot responds in.
	// Empty means respond in all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot responds in.
	// Empty means respond in all channels.
	AllowedChannels []string `yaml:"allowed_channels"`

	// SendTyping sends "typing..." indicators while processing.
	SendTyping bool `yaml:"send_typing"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendTyping: true,
	}
}

// Discord implements channels.Channel, channels.MediaChannel, and
// channels.CardChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	// messages is the channel for incoming messages forwarded to the assistant.
	messages chan *channels.IncomingMessage

	// connected tracks connection state.
	connected atomic.Bool

	// lastMsg tracks the last message timestamp for health.
	lastMsg atomic.Value // time.Time

	// errorCount tracks consecutive errors.
	errorCount atomic.Int64

	// httpClient is used for downloading attachments.
	httpClient *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *channels.IncomingMessage, 256),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteractionCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)

	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends a text message to the specified channel.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}

	content := message.Content

	// Discord has a 2000 character limit per message.
	if len(content) <= 2000 {
		msgSend := &discordgo.MessageSend{Content: content}
		if message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
		}
		_, err := d.session.ChannelMessageSendComplex(to, msgSend)
		return err
	}

	// For long messages, split into chunks.
	chunks := splitDiscordMessage(content, 2000)
	for i, chunk := range chunks {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo}
		}
		if _, err := d.session.ChannelMessageSendComplex(to, msgSend); err != nil {
			return err
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// ---------- MediaChannel Interface ----------

// SendMedia sends a file/media attachment to the specified channel.
func (d *Discord) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}

	filename := media.Filename
	if filename == "" {
		filename = "file"
	}
	if len(media.Data) == 0 {
		return fmt.Errorf("discord: no media data")
	}

	msgSend := &discordgo.MessageSend{
		Files: []*discordgo.File{
			{Name: filename, Reader: bytes.NewReader(media.Data)},
		},
	}
	if media.Caption != "" {
		msgSend.Content = media.Caption
	}

	_, err := d.session.ChannelMessageSendComplex(to, msgSend)
	return err
}

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	if d.session == nil {
		return nil
	}
	return d.session.ChannelTyping(to)
}

// ---------- Event Handlers ----------

// onMessageCreate handles incoming Discord messages.
func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from the bot itself and from other bots.
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	if len(d.cfg.AllowedGuilds) > 0 && m.GuildID != "" && !contains(d.cfg.AllowedGuilds, m.GuildID) {
		return
	}
	if len(d.cfg.AllowedChannels) > 0 && !contains(d.cfg.AllowedChannels, m.ChannelID) {
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		IsGroup:   m.GuildID != "",
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.ReferencedMessage != nil {
		incoming.ReplyTo = m.ReferencedMessage.ID
	}

	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// onInteractionCreate handles card button presses. The press is acknowledged
// immediately and forwarded into the message stream; the assistant resolves
// the operation and edits the card.
func (d *Discord) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	opID, action, ok := parseButtonID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	userID := ""
	username := ""
	if i.Member != nil && i.Member.User != nil {
		userID = i.Member.User.ID
		username = i.Member.User.Username
	} else if i.User != nil {
		userID = i.User.ID
		username = i.User.Username
	}
	if userID == "" {
		return
	}

	// Acknowledge within Discord's 3s limit; the card edit comes later.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		d.logger.Warn("discord: failed to ack interaction", "operation", opID, "error", err)
		return
	}

	incoming := &channels.IncomingMessage{
		ID:        i.ID,
		Channel:   "discord",
		From:      userID,
		FromName:  username,
		ChatID:    i.ChannelID,
		IsGroup:   i.GuildID != "",
		Type:      channels.MessageText,
		Timestamp: time.Now(),
		Interaction: &channels.InteractionInfo{
			OperationID: opID,
			Action:      action,
			CardRef:     cardRef(i.ChannelID, i.Message.ID),
		},
	}

	d.lastMsg.Store(time.Now())

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping interaction", "operation", opID)
	}
}

// ---------- Helpers ----------

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// splitDiscordMessage splits a message into chunks respecting the 2000 char limit.
func splitDiscordMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		// Try to split at a newline.
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// Compile-time interface verification.
var (
	_ channels.Channel      = (*Discord)(nil)
	_ channels.MediaChannel = (*Discord)(nil)
	_ channels.CardChannel  = (*Discord)(nil)
)
