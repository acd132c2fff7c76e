package assistant

import (
	"testing"
	"time"
)

func TestValidateIntent(t *testing.T) {
	tests := []struct {
		name    string
		in      Intent
		wantErr bool
		wantOp  string
	}{
		{
			name:   "empty operation becomes none",
			in:     Intent{},
			wantOp: intentNone,
		},
		{
			name:   "explicit none",
			in:     Intent{Operation: intentNone, Reply: "hi"},
			wantOp: intentNone,
		},
		{
			name:   "archive with page id",
			in:     Intent{Operation: OpArchivePage, Data: map[string]any{"page_id": "abc123"}},
			wantOp: OpArchivePage,
		},
		{
			name:    "archive without page id",
			in:      Intent{Operation: OpArchivePage, Data: map[string]any{"page_title": "Roadmap"}},
			wantErr: true,
		},
		{
			name:   "reminder with text",
			in:     Intent{Operation: OpSendReminder, Data: map[string]any{"text": "standup"}},
			wantOp: OpSendReminder,
		},
		{
			name:    "reminder with blank text",
			in:      Intent{Operation: OpSendReminder, Data: map[string]any{"text": "   "}},
			wantErr: true,
		},
		{
			name:    "announce without text",
			in:      Intent{Operation: OpAnnounce},
			wantErr: true,
		},
		{
			name:    "unknown operation",
			in:      Intent{Operation: "workspace.delete_everything"},
			wantErr: true,
		},
		{
			name: "bad default action",
			in: Intent{
				Operation: OpAnnounce,
				Data:      map[string]any{"text": "hello"},
				Default:   "maybe",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			err := validateIntent(&in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if in.Operation != tt.wantOp {
				t.Errorf("operation = %q, want %q", in.Operation, tt.wantOp)
			}
		})
	}

	t.Run("empty summary falls back to operation", func(t *testing.T) {
		in := Intent{Operation: OpAnnounce, Data: map[string]any{"text": "hi"}}
		if err := validateIntent(&in); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if in.Summary != OpAnnounce {
			t.Errorf("summary = %q, want %q", in.Summary, OpAnnounce)
		}
	})
}

func TestHoldWindow(t *testing.T) {
	a := &Assistant{cfg: Config{HoldWindow: 2 * time.Minute}}

	tests := []struct {
		name string
		secs int
		want time.Duration
	}{
		{"zero uses configured default", 0, 2 * time.Minute},
		{"negative uses configured default", -5, 2 * time.Minute},
		{"in range", 45, 45 * time.Second},
		{"clamped to floor", 3, 10 * time.Second},
		{"clamped to ceiling", 7200, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.holdWindow(&Intent{HoldSeconds: tt.secs})
			if got != tt.want {
				t.Errorf("holdWindow(%d) = %s, want %s", tt.secs, got, tt.want)
			}
		})
	}
}

func TestStr(t *testing.T) {
	data := map[string]any{
		"text":   "  hello  ",
		"voice":  true,
		"number": 42,
	}

	if got := str(data, "text"); got != "hello" {
		t.Errorf("str(text) = %q, want %q", got, "hello")
	}
	if got := str(data, "voice"); got != "" {
		t.Errorf("str(voice) = %q, want empty for non-string", got)
	}
	if got := str(data, "missing"); got != "" {
		t.Errorf("str(missing) = %q, want empty", got)
	}
	if got := str(nil, "text"); got != "" {
		t.Errorf("str(nil map) = %q, want empty", got)
	}
}
