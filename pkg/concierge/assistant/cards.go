// cards.go creates confirmation cards for proposed operations, feeds the
// live-update loop with refreshed countdowns, and retires cards when their
// operation resolves.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conciergehq/concierge/pkg/concierge/channels"
	"github.com/conciergehq/concierge/pkg/concierge/pending"
)

// proposeOperation creates the pending operation and posts its
// confirmation surface: a card with buttons where the channel supports
// them, a plain text fallback elsewhere.
func (a *Assistant) proposeOperation(msg *channels.IncomingMessage, intent *Intent, logger *slog.Logger) {
	data := intent.Data
	if data == nil {
		data = make(map[string]any)
	}
	// Remember where the proposal happened so executors can deliver there.
	data["origin_channel"] = msg.Channel
	data["origin_chat"] = msg.ChatID

	def := pending.DefaultCancel
	if intent.Default == "confirm" {
		def = pending.DefaultConfirm
	}
	hold := a.holdWindow(intent)

	id, err := a.store.Create(msg.From, intent.Operation, data, intent.Summary, hold, def)
	if err != nil {
		logger.Error("creating pending operation", "error", err)
		a.sendReply(msg, "Sorry, I couldn't queue that operation.")
		return
	}

	op, ok := a.store.Get(id)
	if !ok {
		logger.Error("operation vanished after create", "operation", id)
		return
	}

	logger.Info("operation proposed",
		"operation", id,
		"type", intent.Operation,
		"hold", hold,
		"default", string(def),
	)

	if cc, haveCards := a.channelMgr.CardChannel(msg.Channel); haveCards {
		ref, err := cc.SendCard(a.ctx, msg.ChatID, a.buildCard(op))
		if err != nil {
			logger.Error("sending card, falling back to text", "error", err)
		} else if a.store.BindCard(id, ref) {
			return
		}
	}

	// Text fallback for channels without interactive cards.
	a.sendReply(msg, fmt.Sprintf(
		"%s\n\nReply /confirm %s or /cancel %s within %s (otherwise: %s).",
		op.AdminInput, shortID(id), shortID(id), op.RemainingLabel(time.Now()), string(def)))
}

// buildCard renders an operation as a confirmation card.
func (a *Assistant) buildCard(op *pending.Operation) *channels.Card {
	remaining := op.RemainingLabel(time.Now())
	if label, ok := op.Data["remaining_label"].(string); ok && label != "" {
		remaining = label
	}

	return &channels.Card{
		Title:       op.AdminInput,
		Body:        fmt.Sprintf("Expires in %s (default: %s)", remaining, string(op.Default)),
		OperationID: op.ID,
		Danger:      op.Type == OpArchivePage,
	}
}

// updateCard is the pending.CardUpdater callback: it pushes the recomputed
// countdown to the card's surface.
func (a *Assistant) updateCard(ctx context.Context, op *pending.Operation) error {
	cc, ok := a.cardChannelFor(op.CardRef)
	if !ok {
		return fmt.Errorf("no card surface for %q", op.CardRef)
	}
	return cc.UpdateCard(ctx, op.CardRef, a.buildCard(op))
}

// onResolution retires the card once an operation leaves PENDING.
func (a *Assistant) onResolution(op *pending.Operation, trigger string) {
	if op.CardRef == "" {
		return
	}
	cc, ok := a.cardChannelFor(op.CardRef)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := cc.DisableCard(ctx, op.CardRef, outcomeText(op, trigger)); err != nil {
		a.logger.Warn("disabling card failed",
			"operation", op.ID, "card", op.CardRef, "error", err)
	}
}

// cardChannelFor resolves a card reference ("<channel>:...") to its
// card-capable channel.
func (a *Assistant) cardChannelFor(ref string) (channels.CardChannel, bool) {
	name, _, found := strings.Cut(ref, ":")
	if !found {
		return nil, false
	}
	return a.channelMgr.CardChannel(name)
}

// outcomeText renders the final card body for a resolved operation.
func outcomeText(op *pending.Operation, trigger string) string {
	var verdict string
	switch op.Status {
	case pending.StatusExecuted:
		verdict = "Done"
	case pending.StatusConfirmed:
		verdict = "Confirmed, but the action failed to run"
	case pending.StatusCancelled:
		verdict = "Cancelled"
	case pending.StatusExpired:
		verdict = "Expired"
	default:
		verdict = string(op.Status)
	}

	switch trigger {
	case "expiry":
		verdict += " (window lapsed)"
	case "admission":
		verdict += " (evicted for a newer request)"
	}

	return fmt.Sprintf("%s: %s", op.AdminInput, verdict)
}

// shortID returns the unique tail of an operation ID for typed commands.
func shortID(id string) string {
	if i := strings.LastIndex(id, "-"); i >= 0 && i+1 < len(id) {
		return id[i+1:]
	}
	return id
}
