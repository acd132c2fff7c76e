// executors.go binds the business effects to their operation types. Each
// executor runs with a bounded context after a confirmation and must not
// assume the operator is still around.
package assistant

import (
	"context"
	"fmt"

	"github.com/conciergehq/concierge/pkg/concierge/channels"
	"github.com/conciergehq/concierge/pkg/concierge/pending"
)

// registerExecutors installs the executors for every operation type the
// intent classifier can propose.
func (a *Assistant) registerExecutors() {
	a.store.RegisterExecutor(OpArchivePage, pending.ExecutorFunc(a.execArchivePage))
	a.store.RegisterExecutor(OpSendReminder, pending.ExecutorFunc(a.execSendReminder))
	a.store.RegisterExecutor(OpAnnounce, pending.ExecutorFunc(a.execAnnounce))
}

// execArchivePage archives a workspace page.
func (a *Assistant) execArchivePage(ctx context.Context, op *pending.Operation) error {
	if a.workspace == nil {
		return fmt.Errorf("workspace client not configured")
	}

	pageID := str(op.Data, "page_id")
	if pageID == "" {
		return fmt.Errorf("operation %s has no page_id", op.ID)
	}

	if err := a.workspace.ArchivePage(ctx, pageID); err != nil {
		return fmt.Errorf("archiving page %s: %w", pageID, err)
	}

	a.logger.Info("page archived",
		"operation", op.ID,
		"page_id", pageID,
		"title", str(op.Data, "page_title"),
	)
	return nil
}

// execSendReminder delivers a reminder message to the target chat.
func (a *Assistant) execSendReminder(ctx context.Context, op *pending.Operation) error {
	channel, to, err := a.resolveTarget(op)
	if err != nil {
		return err
	}

	text := str(op.Data, "text")
	if text == "" {
		return fmt.Errorf("operation %s has no text", op.ID)
	}

	msg := &channels.OutgoingMessage{Content: "Reminder: " + text}
	if err := a.channelMgr.Send(ctx, channel, to, msg); err != nil {
		return fmt.Errorf("sending reminder: %w", err)
	}

	a.logger.Info("reminder sent", "operation", op.ID, "channel", channel, "to", to)
	return nil
}

// execAnnounce posts an announcement, optionally attaching a TTS voice note.
func (a *Assistant) execAnnounce(ctx context.Context, op *pending.Operation) error {
	channel, to, err := a.resolveTarget(op)
	if err != nil {
		return err
	}

	text := str(op.Data, "text")
	if text == "" {
		return fmt.Errorf("operation %s has no text", op.ID)
	}

	msg := &channels.OutgoingMessage{Content: text}
	if err := a.channelMgr.Send(ctx, channel, to, msg); err != nil {
		return fmt.Errorf("posting announcement: %w", err)
	}

	wantVoice, _ := op.Data["voice"].(bool)
	if wantVoice && a.tts != nil {
		if err := a.attachVoiceNote(ctx, channel, to, text); err != nil {
			// The announcement itself landed; the voice note is best-effort.
			a.logger.Warn("voice note failed", "operation", op.ID, "error", err)
		}
	}

	a.logger.Info("announcement posted",
		"operation", op.ID, "channel", channel, "to", to, "voice", wantVoice)
	return nil
}

// attachVoiceNote synthesizes the announcement and sends it as audio.
func (a *Assistant) attachVoiceNote(ctx context.Context, channel, to, text string) error {
	audio, mime, err := a.tts.Synthesize(ctx, text, a.cfg.AnnounceVoice)
	if err != nil {
		return fmt.Errorf("synthesizing speech: %w", err)
	}

	return a.channelMgr.SendMedia(ctx, channel, to, &channels.MediaMessage{
		Type:      channels.MessageAudio,
		Data:      audio,
		MimeType:  mime,
		Filename:  "announcement.ogg",
		VoiceNote: true,
	})
}

// resolveTarget extracts the destination chat from operation data, falling
// back to the chat the operation was proposed in.
func (a *Assistant) resolveTarget(op *pending.Operation) (channel, to string, err error) {
	channel = str(op.Data, "channel")
	to = str(op.Data, "to")
	if channel == "" {
		channel = str(op.Data, "origin_channel")
	}
	if to == "" {
		to = str(op.Data, "origin_chat")
	}
	if channel == "" || to == "" {
		return "", "", fmt.Errorf("operation %s has no delivery target", op.ID)
	}
	return channel, to, nil
}
