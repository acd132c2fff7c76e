package whatsapp

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/conciergehq/concierge/pkg/concierge/channels"
)

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("creates instance with defaults", func(t *testing.T) {
		w := New(DefaultConfig(), logger)

		if w == nil {
			t.Fatal("expected non-nil WhatsApp instance")
		}
		if w.Name() != "whatsapp" {
			t.Errorf("expected name 'whatsapp', got %s", w.Name())
		}
		if w.getState() != StateDisconnected {
			t.Errorf("expected initial state 'disconnected', got %s", w.getState())
		}
	})

	t.Run("uses default logger if nil", func(t *testing.T) {
		w := New(DefaultConfig(), nil)
		if w.logger == nil {
			t.Error("expected logger to be set")
		}
	})

	t.Run("applies reconnect backoff default", func(t *testing.T) {
		w := New(Config{SessionDir: "./sessions"}, logger)
		if w.cfg.ReconnectBackoff != 5*time.Second {
			t.Errorf("expected default backoff 5s, got %v", w.cfg.ReconnectBackoff)
		}
	})
}

func TestParseJID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"bare phone number", "5511999999999", "5511999999999@s.whatsapp.net", false},
		{"formatted phone", "+55 (11) 99999-9999", "5511999999999@s.whatsapp.net", false},
		{"full user JID", "5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net", false},
		{"group JID", "123456789-1234@g.us", "123456789-1234@g.us", false},
		{"empty", "", "", true},
		{"too short", "12345", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jid, err := parseJID(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseJID(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseJID(%q): %v", tt.input, err)
			}
			if jid.String() != tt.want {
				t.Errorf("parseJID(%q) = %q, want %q", tt.input, jid.String(), tt.want)
			}
		})
	}
}

func TestBuildTextMessage(t *testing.T) {
	t.Run("plain text", func(t *testing.T) {
		msg := buildTextMessage("hello", "")
		if msg.GetConversation() != "hello" {
			t.Errorf("Conversation = %q", msg.GetConversation())
		}
		if msg.ExtendedTextMessage != nil {
			t.Error("plain text should not use extended message")
		}
	})

	t.Run("reply uses extended message with context", func(t *testing.T) {
		msg := buildTextMessage("hello", "MSG123")
		ext := msg.ExtendedTextMessage
		if ext == nil {
			t.Fatal("expected extended text message")
		}
		if ext.GetText() != "hello" {
			t.Errorf("Text = %q", ext.GetText())
		}
		if ext.GetContextInfo().GetStanzaID() != "MSG123" {
			t.Errorf("StanzaID = %q", ext.GetContextInfo().GetStanzaID())
		}
	})
}

func TestEmitMessageAfterClose(t *testing.T) {
	w := New(DefaultConfig(), nil)
	w.messagesClosed.Store(true)
	close(w.messages)

	// Must not panic.
	w.emitMessage(&channels.IncomingMessage{ID: "x", Channel: "whatsapp"})
}
