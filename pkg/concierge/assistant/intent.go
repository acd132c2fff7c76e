// intent.go classifies free-form operator messages into proposed
// operations using the LLM with a JSON response contract.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Operation types the assistant can propose.
const (
	OpArchivePage  = "workspace.archive_page"
	OpSendReminder = "reminder.send"
	OpAnnounce     = "broadcast.announce"

	intentNone = "none"
)

// Intent is the classifier's verdict on a free-form message.
type Intent struct {
	// Operation is one of the known operation types, or "none".
	Operation string `json:"operation"`

	// Data carries the operation parameters (page_id, text, to, ...).
	Data map[string]any `json:"data"`

	// Summary is the one-line human description shown on the card.
	Summary string `json:"summary"`

	// HoldSeconds overrides the default confirmation window (0 = default).
	HoldSeconds int `json:"hold_seconds"`

	// Default is what happens if the window lapses: "confirm" or "cancel".
	Default string `json:"default_action"`

	// Reply is the conversational answer when Operation is "none".
	Reply string `json:"reply"`
}

const intentSystemPrompt = `You are the intent classifier for a personal-assistant bot.
Classify the user's message into exactly one operation and respond with JSON only:

{"operation": "...", "data": {...}, "summary": "...", "hold_seconds": 0, "default_action": "cancel", "reply": "..."}

Operations:
- "workspace.archive_page": archive a page in the workspace database. data: {"page_id": "...", "page_title": "..."}
- "reminder.send": send a reminder message to a chat right away. data: {"text": "...", "channel": "...", "to": "..."}
- "broadcast.announce": post an announcement to a chat, optionally as a voice note. data: {"text": "...", "channel": "...", "to": "...", "voice": true/false}
- "none": not an actionable request. Put a short helpful answer in "reply".

Rules:
- "summary" must describe the concrete effect, e.g. 'Archive page "Q3 Roadmap"'.
- "default_action" is "cancel" unless the user explicitly asks to auto-apply.
- Destructive or irreversible requests must never default to confirm.
- "hold_seconds" stays 0 unless the user names a window.
- When required parameters are missing, use "none" and ask for them in "reply".`

// classifyIntent asks the LLM to map a message onto an operation proposal.
func (a *Assistant) classifyIntent(ctx context.Context, content string) (*Intent, error) {
	raw, err := a.llm.CompleteJSON(ctx, intentSystemPrompt, content)
	if err != nil {
		return nil, fmt.Errorf("classifying intent: %w", err)
	}

	var intent Intent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		return nil, fmt.Errorf("parsing intent %q: %w", truncateForLog(raw), err)
	}

	if err := validateIntent(&intent); err != nil {
		a.logger.Warn("classifier produced invalid intent",
			"operation", intent.Operation, "error", err)
		return &Intent{Operation: intentNone, Reply: intent.Reply}, nil
	}

	return &intent, nil
}

// validateIntent checks the classifier output against the known operations
// and their required parameters.
func validateIntent(in *Intent) error {
	switch in.Operation {
	case "", intentNone:
		in.Operation = intentNone
		return nil

	case OpArchivePage:
		if str(in.Data, "page_id") == "" {
			return fmt.Errorf("archive_page requires page_id")
		}

	case OpSendReminder, OpAnnounce:
		if str(in.Data, "text") == "" {
			return fmt.Errorf("%s requires text", in.Operation)
		}

	default:
		return fmt.Errorf("unknown operation %q", in.Operation)
	}

	switch in.Default {
	case "", "cancel", "confirm":
	default:
		return fmt.Errorf("unknown default action %q", in.Default)
	}

	if in.Summary == "" {
		in.Summary = in.Operation
	}
	return nil
}

// holdWindow resolves the intent's confirmation window against the
// configured default, clamped to a sane range.
func (a *Assistant) holdWindow(in *Intent) time.Duration {
	if in.HoldSeconds <= 0 {
		return a.cfg.HoldWindow
	}
	d := time.Duration(in.HoldSeconds) * time.Second
	if d < 10*time.Second {
		d = 10 * time.Second
	}
	if d > time.Hour {
		d = time.Hour
	}
	return d
}

// str reads a string field from loosely-typed intent data.
func str(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

func truncateForLog(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}
