// Package channels defines the interfaces and types for Concierge
// communication channels. Each channel (Discord, WhatsApp) implements the
// Channel interface to receive and send messages in a unified way.
package channels

import (
	"context"
	"fmt"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageDocument MessageType = "document"
	MessageReaction MessageType = "reaction"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "whatsapp", "discord").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified recipient.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// CardChannel extends Channel with interactive confirmation cards. A card
// shows the operation summary plus Confirm/Cancel buttons and can be edited
// in place as the hold window counts down.
type CardChannel interface {
	Channel

	// SendCard posts a confirmation card and returns an opaque reference
	// ("<channel>:<chat>:<message>") used for later edits.
	SendCard(ctx context.Context, to string, card *Card) (string, error)

	// UpdateCard edits a previously posted card in place.
	UpdateCard(ctx context.Context, ref string, card *Card) error

	// DisableCard removes the buttons from a resolved card and replaces the
	// body with the outcome text.
	DisableCard(ctx context.Context, ref string, outcome string) error
}

// MediaChannel extends Channel with media capabilities.
type MediaChannel interface {
	Channel

	// SendMedia sends a media message (image, audio, document).
	SendMedia(ctx context.Context, to string, media *MediaMessage) error
}

// Card describes an interactive confirmation card.
type Card struct {
	// Title is the card headline (operation summary).
	Title string

	// Body is the descriptive text, including the remaining-time line.
	Body string

	// OperationID ties button interactions back to the pending operation.
	OperationID string

	// ConfirmLabel and CancelLabel override the default button captions.
	ConfirmLabel string
	CancelLabel  string

	// Danger renders the confirm button in a warning style.
	Danger bool
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "whatsapp").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the group or DM identifier.
	ChatID string

	// IsGroup indicates whether the message is from a group chat.
	IsGroup bool

	// Type is the message content type.
	Type MessageType

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time

	// ReplyTo contains the ID of the message being replied to.
	ReplyTo string

	// Interaction carries button-press data when the message is a card
	// interaction rather than typed text.
	Interaction *InteractionInfo

	// Reaction contains reaction data (if MessageReaction).
	Reaction *ReactionInfo

	// Metadata contains additional channel-specific data.
	Metadata map[string]any
}

// InteractionInfo describes a card button press.
type InteractionInfo struct {
	// OperationID is the pending operation the card belongs to.
	OperationID string

	// Action is "confirm" or "cancel".
	Action string

	// CardRef is the reference of the card that was pressed.
	CardRef string
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// ReplyTo contains the ID of the message to reply to.
	ReplyTo string

	// Metadata contains additional channel-specific data.
	Metadata map[string]any
}

// MediaMessage represents a media file to be sent.
type MediaMessage struct {
	// Type is the media type (image, audio, document).
	Type MessageType

	// Data is the raw media bytes.
	Data []byte

	// MimeType is the MIME type (e.g. "image/png", "audio/ogg").
	MimeType string

	// Filename is the original filename (for documents).
	Filename string

	// Caption is the text caption accompanying the media.
	Caption string

	// VoiceNote marks audio as a push-to-talk voice note where the platform
	// distinguishes the two.
	VoiceNote bool
}

// ReactionInfo contains reaction emoji data.
type ReactionInfo struct {
	Emoji     string
	MessageID string // The message being reacted to.
	From      string
	Remove    bool // True if the reaction is being removed.
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// ChannelConfig contains common configuration for all channels.
type ChannelConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Trigger        string `yaml:"trigger"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
	ErrConnectionFailed    = fmt.Errorf("failed to connect to channel")
	ErrCardNotSupported    = fmt.Errorf("cards not supported by this channel")
	ErrMediaNotSupported   = fmt.Errorf("media not supported by this channel")
)
