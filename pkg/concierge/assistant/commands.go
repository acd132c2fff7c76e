// commands.go implements operator commands typed as chat messages. These
// are the confirmation path for channels without interactive cards:
//
//	/confirm <id>  - Confirm a pending operation
//	/cancel <id>   - Cancel a pending operation
//	/pending       - List your pending operations
//	/ops           - Cache statistics and channel health
//	/image <text>  - Generate and send a picture
//	/help          - Show available commands
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conciergehq/concierge/pkg/concierge/channels"
	"github.com/conciergehq/concierge/pkg/concierge/pending"
)

// CommandResult contains the result of a command execution.
type CommandResult struct {
	// Response is the text to send back.
	Response string

	// Handled is true if the message was a valid command.
	Handled bool
}

// IsCommand returns true if the message starts with "/".
func IsCommand(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), "/")
}

// HandleCommand processes an operator command from a chat message.
func (a *Assistant) HandleCommand(msg *channels.IncomingMessage) CommandResult {
	content := strings.TrimSpace(msg.Content)
	if !IsCommand(content) {
		return CommandResult{Handled: false}
	}

	parts := strings.Fields(content)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "/help":
		return CommandResult{Response: a.helpCommand(), Handled: true}

	case "/confirm":
		return CommandResult{Response: a.confirmCommand(args, msg.From), Handled: true}

	case "/cancel":
		return CommandResult{Response: a.cancelCommand(args, msg.From), Handled: true}

	case "/pending":
		return CommandResult{Response: a.pendingCommand(msg.From), Handled: true}

	case "/ops", "/status":
		return CommandResult{Response: a.opsCommand(), Handled: true}

	case "/image":
		return CommandResult{Response: a.imageCommand(msg, args), Handled: true}

	default:
		return CommandResult{Handled: false}
	}
}

// --- Command implementations ---

func (a *Assistant) helpCommand() string {
	var b strings.Builder
	b.WriteString("*Concierge Commands*\n\n")
	b.WriteString("/confirm <id> - Confirm a pending operation\n")
	b.WriteString("/cancel <id> - Cancel a pending operation\n")
	b.WriteString("/pending - List your pending operations\n")
	b.WriteString("/ops - Cache statistics and channel health\n")
	b.WriteString("/image <text> - Generate and send a picture\n")
	b.WriteString("/help - Show this message\n\n")
	b.WriteString("Anything else is treated as a request: I'll propose an operation and wait for your confirmation.")
	return b.String()
}

func (a *Assistant) confirmCommand(args []string, userID string) string {
	if len(args) < 1 {
		return "Usage: /confirm <operation_id>"
	}

	id, err := a.resolveOperationID(userID, args[0])
	if err != nil {
		return err.Error()
	}

	if a.store.Confirm(id) {
		return "Confirmed and executed."
	}

	op, ok := a.store.Get(id)
	if !ok {
		return "Operation not found."
	}
	switch op.Status {
	case pending.StatusConfirmed:
		return "Confirmed, but the action failed to run. Check the logs and retry manually."
	case pending.StatusExpired:
		return "Too late, the confirmation window already closed."
	default:
		return fmt.Sprintf("Operation is already %s.", op.Status)
	}
}

func (a *Assistant) cancelCommand(args []string, userID string) string {
	if len(args) < 1 {
		return "Usage: /cancel <operation_id>"
	}

	id, err := a.resolveOperationID(userID, args[0])
	if err != nil {
		return err.Error()
	}

	if a.store.Cancel(id) {
		return "Cancelled."
	}

	op, ok := a.store.Get(id)
	if !ok {
		return "Operation not found."
	}
	return fmt.Sprintf("Operation is already %s.", op.Status)
}

func (a *Assistant) pendingCommand(userID string) string {
	ops := a.store.GetForUser(userID, pending.StatusPending)
	if len(ops) == 0 {
		return "No pending operations."
	}

	now := time.Now()
	var b strings.Builder
	b.WriteString("*Pending Operations:*\n\n")
	for _, op := range ops {
		b.WriteString(fmt.Sprintf("• [%s] %s\n", shortID(op.ID), op.AdminInput))
		b.WriteString(fmt.Sprintf("  expires in %s, default: %s\n",
			op.RemainingLabel(now), string(op.Default)))
	}
	b.WriteString("\nConfirm with /confirm <id>, cancel with /cancel <id>.")
	return b.String()
}

func (a *Assistant) opsCommand() string {
	stats := a.store.GetStatistics()
	status := a.store.GetServiceStatus()
	health := a.channelMgr.HealthAll()

	var b strings.Builder
	b.WriteString("*Concierge Status*\n\n")
	b.WriteString(fmt.Sprintf("Operations: %d (timers: %d)\n", stats.Total, stats.ActiveTimers))
	for st, n := range stats.ByStatus {
		b.WriteString(fmt.Sprintf("  %s: %d\n", st, n))
	}
	b.WriteString(fmt.Sprintf("Auto-update: %v (interval %s, ceiling %d)\n",
		status.AutoUpdate, status.UpdateInterval, status.MaxCardUpdates))
	b.WriteString(fmt.Sprintf("Per-user cap: %d\n", status.MaxPerUser))

	for name, h := range health {
		state := "disconnected"
		if h.Connected {
			state = "connected"
		}
		b.WriteString(fmt.Sprintf("Channel %s: %s (errors: %d)\n", name, state, h.ErrorCount))
	}

	return b.String()
}

// imageCommand generates a picture and sends it back as media. Generation
// is synchronous; the caller already runs in a per-message goroutine.
func (a *Assistant) imageCommand(msg *channels.IncomingMessage, args []string) string {
	if a.imagegen == nil {
		return "Image generation is not configured."
	}
	if len(args) == 0 {
		return "Usage: /image <description>"
	}
	prompt := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(a.ctx, 2*time.Minute)
	defer cancel()

	data, err := a.imagegen.Generate(ctx, prompt)
	if err != nil {
		a.logger.Error("image generation failed", "error", err)
		return "Sorry, the picture didn't come out. Try again in a moment."
	}

	media := &channels.MediaMessage{
		Type:     channels.MessageImage,
		Data:     data,
		MimeType: "image/png",
		Filename: "image.png",
		Caption:  prompt,
	}
	if err := a.channelMgr.SendMedia(ctx, msg.Channel, msg.ChatID, media); err != nil {
		a.logger.Error("failed to send image", "error", err)
		return "Generated the picture but couldn't deliver it."
	}
	return ""
}

// resolveOperationID matches a typed fragment against the user's own
// operations: full ID first, then the short tail shown in listings.
func (a *Assistant) resolveOperationID(userID, fragment string) (string, error) {
	if _, ok := a.store.Get(fragment); ok {
		return fragment, nil
	}

	var matches []string
	for _, op := range a.store.GetForUser(userID, "") {
		if shortID(op.ID) == fragment || strings.HasPrefix(op.ID, fragment) {
			matches = append(matches, op.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("No operation matches %q. Use /pending to list yours.", fragment)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%q is ambiguous (%d matches). Use the full ID.", fragment, len(matches))
	}
}
