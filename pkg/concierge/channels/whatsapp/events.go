// events.go processes incoming whatsmeow events and converts them into
// unified Concierge IncomingMessage values.
package whatsapp

import (
	"fmt"

	"github.com/conciergehq/concierge/pkg/concierge/channels"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// ConnectionState represents the current connection state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateWaitingQR    ConnectionState = "waiting_qr"
	StateBanned       ConnectionState = "banned"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.handleConnected(evt)

	case *events.Disconnected:
		w.handleDisconnected(evt)

	case *events.StreamReplaced:
		w.logger.Error("whatsapp: stream replaced, another device connected")
		w.setState(StateDisconnected)
		w.connected.Store(false)

	case *events.LoggedOut:
		w.handleLoggedOut(evt)

	case *events.TemporaryBan:
		w.logger.Error("whatsapp: temporary ban",
			"code", evt.Code,
			"expire", evt.Expire)
		w.setState(StateBanned)
		w.connected.Store(false)

	case *events.KeepAliveTimeout:
		w.handleKeepAliveTimeout(evt)

	case *events.KeepAliveRestored:
		w.logger.Info("whatsapp: keep-alive restored")
		w.errorCount.Store(0)

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired",
			"jid", evt.ID,
			"platform", evt.Platform)
	}
}

func (w *WhatsApp) handleConnected(_ *events.Connected) {
	w.setState(StateConnected)
	w.connected.Store(true)
	w.errorCount.Store(0)
	w.reconnectAttempts.Store(0)

	w.logger.Info("whatsapp: connected", "jid", w.getClientJID())
}

func (w *WhatsApp) handleDisconnected(_ *events.Disconnected) {
	previous := w.getState()
	w.setState(StateDisconnected)

	w.logger.Warn("whatsapp: disconnected", "was_connected", w.connected.Load())
	w.connected.Store(false)

	if previous == StateConnected && w.ctx.Err() == nil {
		go w.attemptReconnect()
	}
}

func (w *WhatsApp) handleLoggedOut(evt *events.LoggedOut) {
	w.setState(StateDisconnected)
	w.connected.Store(false)

	reason := "unknown"
	if evt.Reason != 0 {
		reason = evt.Reason.String()
	}
	w.logger.Error("whatsapp: logged out, session invalidated",
		"reason", reason,
		"on_connect", evt.OnConnect)
}

// handleKeepAliveTimeout forces a reconnect when the socket is half-open:
// connected in appearance, dead in practice.
func (w *WhatsApp) handleKeepAliveTimeout(evt *events.KeepAliveTimeout) {
	w.logger.Warn("whatsapp: keep-alive timeout",
		"error_count", evt.ErrorCount,
		"last_success", evt.LastSuccess)

	w.errorCount.Add(1)

	if evt.ErrorCount >= 3 && w.getState() == StateConnected {
		w.logger.Error("whatsapp: keep-alive failed repeatedly, forcing reconnection",
			"error_count", evt.ErrorCount)
		w.setState(StateReconnecting)
		w.connected.Store(false)
		go w.attemptReconnect()
	}
}

// handleMessageEvt processes an incoming WhatsApp message event.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	if evt.Info.IsFromMe {
		return
	}
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	isGroup := evt.Info.IsGroup
	if isGroup && !w.cfg.RespondToGroups {
		return
	}
	if !isGroup && !w.cfg.RespondToDMs {
		return
	}

	// Resolve sender JID. WhatsApp may use LID (Linked Identity) format
	// instead of phone numbers; resolve to phone JID for access control.
	senderJID := evt.Info.Sender
	resolvedSender := senderJID.String()
	if senderJID.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(w.ctx, senderJID); err == nil && !altJID.IsEmpty() {
			resolvedSender = altJID.String()
		}
	}

	chatJID := evt.Info.Chat
	resolvedChat := chatJID.String()
	if chatJID.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(w.ctx, chatJID); err == nil && !altJID.IsEmpty() {
			resolvedChat = altJID.String()
		}
	}

	msg := &channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		Channel:   "whatsapp",
		From:      resolvedSender,
		FromName:  evt.Info.PushName,
		ChatID:    resolvedChat,
		IsGroup:   isGroup,
		Timestamp: evt.Info.Timestamp,
		Metadata: map[string]any{
			"sender_jid": senderJID.String(),
			"chat_jid":   chatJID.String(),
			"push_name":  evt.Info.PushName,
		},
	}

	w.extractMessageContent(evt.Message, msg)
	w.extractQuotedMessage(evt.Message, msg)

	w.emitMessage(msg)
}

// extractMessageContent extracts the text content from a WhatsApp message.
func (w *WhatsApp) extractMessageContent(waMsg *waE2E.Message, msg *channels.IncomingMessage) {
	if waMsg == nil {
		return
	}

	if waMsg.Conversation != nil {
		msg.Type = channels.MessageText
		msg.Content = waMsg.GetConversation()
		return
	}

	if ext := waMsg.ExtendedTextMessage; ext != nil {
		msg.Type = channels.MessageText
		msg.Content = ext.GetText()
		return
	}

	if audio := waMsg.AudioMessage; audio != nil {
		msg.Type = channels.MessageAudio
		msg.Content = "[audio]"
		if audio.GetPTT() {
			msg.Content = "[voice note]"
		}
		return
	}

	if doc := waMsg.DocumentMessage; doc != nil {
		msg.Type = channels.MessageDocument
		msg.Content = doc.GetCaption()
		if msg.Content == "" {
			msg.Content = fmt.Sprintf("[document: %s]", doc.GetFileName())
		}
		return
	}

	if reaction := waMsg.ReactionMessage; reaction != nil {
		msg.Type = channels.MessageReaction
		msg.Content = reaction.GetText()
		msg.Reaction = &channels.ReactionInfo{
			Emoji:     reaction.GetText(),
			MessageID: reaction.GetKey().GetID(),
			Remove:    reaction.GetText() == "",
		}
		return
	}

	msg.Type = channels.MessageText
	msg.Content = "[unsupported message type]"
}

// extractQuotedMessage extracts reply context from a message.
func (w *WhatsApp) extractQuotedMessage(waMsg *waE2E.Message, msg *channels.IncomingMessage) {
	if waMsg == nil {
		return
	}

	var ctxInfo *waE2E.ContextInfo
	switch {
	case waMsg.ExtendedTextMessage != nil:
		ctxInfo = waMsg.ExtendedTextMessage.GetContextInfo()
	case waMsg.AudioMessage != nil:
		ctxInfo = waMsg.AudioMessage.GetContextInfo()
	case waMsg.DocumentMessage != nil:
		ctxInfo = waMsg.DocumentMessage.GetContextInfo()
	}

	if ctxInfo == nil {
		return
	}
	if ctxInfo.StanzaID != nil {
		msg.ReplyTo = ctxInfo.GetStanzaID()
	}
}
