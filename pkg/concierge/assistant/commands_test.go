package assistant

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conciergehq/concierge/pkg/concierge/channels"
	"github.com/conciergehq/concierge/pkg/concierge/imagegen"
	"github.com/conciergehq/concierge/pkg/concierge/pending"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestAssistant(t *testing.T) *Assistant {
	t.Helper()
	store := pending.NewStore(pending.Options{}, testLogger())
	t.Cleanup(store.Close)

	mgr := channels.NewManager(testLogger())
	a := New(Config{
		Name:       "Concierge",
		Operators:  []string{"op1"},
		HoldWindow: time.Minute,
	}, store, mgr, nil, nil, nil, testLogger())
	return a
}

func message(from, content string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		ID:      "m1",
		Channel: "discord",
		ChatID:  "chat1",
		From:    from,
		Content: content,
		Type:    channels.MessageText,
	}
}

func TestIsCommand(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"/help", true},
		{"  /pending", true},
		{"/confirm abc", true},
		{"hello", false},
		{"", false},
		{"what is /help", false},
	}

	for _, tt := range tests {
		if got := IsCommand(tt.content); got != tt.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestHandleCommand(t *testing.T) {
	t.Run("help lists commands", func(t *testing.T) {
		a := newTestAssistant(t)
		res := a.HandleCommand(message("op1", "/help"))
		if !res.Handled {
			t.Fatal("expected /help to be handled")
		}
		for _, cmd := range []string{"/confirm", "/cancel", "/pending", "/ops"} {
			if !strings.Contains(res.Response, cmd) {
				t.Errorf("help output missing %s", cmd)
			}
		}
	})

	t.Run("unknown command is not handled", func(t *testing.T) {
		a := newTestAssistant(t)
		if res := a.HandleCommand(message("op1", "/frobnicate")); res.Handled {
			t.Error("unknown command should fall through to the classifier")
		}
	})

	t.Run("non-command is not handled", func(t *testing.T) {
		a := newTestAssistant(t)
		if res := a.HandleCommand(message("op1", "archive the page")); res.Handled {
			t.Error("plain text should not be handled as a command")
		}
	})

	t.Run("confirm without argument shows usage", func(t *testing.T) {
		a := newTestAssistant(t)
		res := a.HandleCommand(message("op1", "/confirm"))
		if !res.Handled || !strings.Contains(res.Response, "Usage") {
			t.Errorf("got %q, want usage text", res.Response)
		}
	})

	t.Run("confirm by short id executes", func(t *testing.T) {
		a := newTestAssistant(t)
		var calls atomic.Int64
		a.store.RegisterExecutor("demo", pending.ExecutorFunc(func(ctx context.Context, op *pending.Operation) error {
			calls.Add(1)
			return nil
		}))

		id, err := a.store.Create("op1", "demo", nil, "do the thing", time.Minute, pending.DefaultCancel)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		res := a.HandleCommand(message("op1", "/confirm "+shortID(id)))
		if !res.Handled {
			t.Fatal("expected /confirm to be handled")
		}
		if !strings.Contains(res.Response, "Confirmed") {
			t.Errorf("got %q, want confirmation text", res.Response)
		}
		if calls.Load() != 1 {
			t.Errorf("executor calls = %d, want 1", calls.Load())
		}

		op, _ := a.store.Get(id)
		if op.Status != pending.StatusExecuted {
			t.Errorf("status = %s, want EXECUTED", op.Status)
		}
	})

	t.Run("cancel by short id", func(t *testing.T) {
		a := newTestAssistant(t)
		id, err := a.store.Create("op1", "demo", nil, "do the thing", time.Minute, pending.DefaultCancel)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		res := a.HandleCommand(message("op1", "/cancel "+shortID(id)))
		if !res.Handled || !strings.Contains(res.Response, "Cancelled") {
			t.Errorf("got %q, want cancelled text", res.Response)
		}

		op, _ := a.store.Get(id)
		if op.Status != pending.StatusCancelled {
			t.Errorf("status = %s, want CANCELLED", op.Status)
		}
	})

	t.Run("cancel rejects unknown fragment", func(t *testing.T) {
		a := newTestAssistant(t)
		res := a.HandleCommand(message("op1", "/cancel deadbeef"))
		if !res.Handled || !strings.Contains(res.Response, "No operation matches") {
			t.Errorf("got %q, want no-match text", res.Response)
		}
	})

	t.Run("fragments resolve against the sender only", func(t *testing.T) {
		a := newTestAssistant(t)
		id, err := a.store.Create("someone-else", "demo", nil, "theirs", time.Minute, pending.DefaultCancel)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		res := a.HandleCommand(message("op1", "/cancel "+shortID(id)))
		if !strings.Contains(res.Response, "No operation matches") {
			t.Errorf("got %q, want no-match for another user's operation", res.Response)
		}

		op, _ := a.store.Get(id)
		if op.Status != pending.StatusPending {
			t.Errorf("other user's operation was touched: %s", op.Status)
		}
	})

	t.Run("pending lists the sender's operations", func(t *testing.T) {
		a := newTestAssistant(t)

		res := a.HandleCommand(message("op1", "/pending"))
		if !strings.Contains(res.Response, "No pending operations") {
			t.Errorf("got %q, want empty-list text", res.Response)
		}

		id, err := a.store.Create("op1", "demo", nil, "archive the roadmap", time.Minute, pending.DefaultCancel)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		res = a.HandleCommand(message("op1", "/pending"))
		if !strings.Contains(res.Response, "archive the roadmap") {
			t.Errorf("listing missing operation summary: %q", res.Response)
		}
		if !strings.Contains(res.Response, shortID(id)) {
			t.Errorf("listing missing short id %s: %q", shortID(id), res.Response)
		}
	})

	t.Run("ops reports statistics", func(t *testing.T) {
		a := newTestAssistant(t)
		if _, err := a.store.Create("op1", "demo", nil, "x", time.Minute, pending.DefaultCancel); err != nil {
			t.Fatalf("Create: %v", err)
		}

		res := a.HandleCommand(message("op1", "/ops"))
		if !res.Handled {
			t.Fatal("expected /ops to be handled")
		}
		if !strings.Contains(res.Response, "Operations: 1") {
			t.Errorf("got %q, want operation count", res.Response)
		}
		if !strings.Contains(res.Response, "PENDING: 1") {
			t.Errorf("got %q, want status breakdown", res.Response)
		}
	})
}

func TestShortID(t *testing.T) {
	if got := shortID("demo-u1-1700000000000-a1b2c3d4"); got != "a1b2c3d4" {
		t.Errorf("shortID = %q, want a1b2c3d4", got)
	}
	if got := shortID("noseparator"); got != "noseparator" {
		t.Errorf("shortID without separator = %q, want input", got)
	}
}

func TestOutcomeText(t *testing.T) {
	op := &pending.Operation{AdminInput: "Archive page", Status: pending.StatusExpired}

	got := outcomeText(op, "expiry")
	if !strings.Contains(got, "Expired") || !strings.Contains(got, "window lapsed") {
		t.Errorf("outcomeText = %q", got)
	}

	op.Status = pending.StatusCancelled
	got = outcomeText(op, "admission")
	if !strings.Contains(got, "Cancelled") || !strings.Contains(got, "evicted") {
		t.Errorf("outcomeText = %q", got)
	}

	op.Status = pending.StatusExecuted
	got = outcomeText(op, "operator")
	if !strings.Contains(got, "Done") || strings.Contains(got, "(") {
		t.Errorf("outcomeText = %q", got)
	}
}

func TestIsOperator(t *testing.T) {
	a := newTestAssistant(t)
	if !a.isOperator("op1") {
		t.Error("configured operator rejected")
	}
	if a.isOperator("stranger") {
		t.Error("stranger accepted")
	}

	// An empty list locks everyone out rather than letting everyone in.
	a.cfg.Operators = nil
	if a.isOperator("op1") {
		t.Error("empty operator list should reject everyone")
	}
}

// mediaStub is a minimal connected channel that records sent media.
type mediaStub struct {
	name  string
	media *channels.MediaMessage
	in    chan *channels.IncomingMessage
}

func newMediaStub(name string) *mediaStub {
	return &mediaStub{name: name, in: make(chan *channels.IncomingMessage)}
}

func (s *mediaStub) Name() string { return s.name }
func (s *mediaStub) Connect(ctx context.Context) error { return nil }
func (s *mediaStub) Disconnect() error { return nil }
func (s *mediaStub) IsConnected() bool { return true }
func (s *mediaStub) Health() channels.HealthStatus { return channels.HealthStatus{Connected: true} }
func (s *mediaStub) Receive() <-chan *channels.IncomingMessage { return s.in }

func (s *mediaStub) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	return nil
}

func (s *mediaStub) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	s.media = media
	return nil
}

func TestImageCommand(t *testing.T) {
	t.Run("unconfigured", func(t *testing.T) {
		a := newTestAssistant(t)
		res := a.HandleCommand(message("op1", "/image a red fox"))
		if !res.Handled {
			t.Fatal("expected /image to be handled")
		}
		if !strings.Contains(res.Response, "not configured") {
			t.Errorf("got %q, want not-configured notice", res.Response)
		}
	})

	t.Run("generates and delivers", func(t *testing.T) {
		png := []byte{0x89, 'P', 'N', 'G'}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resp := map[string]any{
				"data": []map[string]string{
					{"b64_json": base64.StdEncoding.EncodeToString(png)},
				},
			}
			json.NewEncoder(w).Encode(resp)
		}))
		defer srv.Close()

		a := newTestAssistant(t)
		a.ctx = context.Background()

		client, err := imagegen.New(imagegen.Config{BaseURL: srv.URL, APIKey: "key"})
		if err != nil {
			t.Fatalf("imagegen.New: %v", err)
		}
		a.SetImageGen(client)

		stub := newMediaStub("discord")
		if err := a.channelMgr.Register(stub); err != nil {
			t.Fatalf("Register: %v", err)
		}

		res := a.HandleCommand(message("op1", "/image a red fox"))
		if !res.Handled {
			t.Fatal("expected /image to be handled")
		}
		if res.Response != "" {
			t.Errorf("got %q, want silent success", res.Response)
		}
		if stub.media == nil {
			t.Fatal("no media sent")
		}
		if !bytes.Equal(stub.media.Data, png) {
			t.Errorf("media data = %v, want generated png", stub.media.Data)
		}
		if stub.media.Caption != "a red fox" {
			t.Errorf("caption = %q, want the prompt", stub.media.Caption)
		}
	})

	t.Run("missing prompt", func(t *testing.T) {
		a := newTestAssistant(t)
		client, err := imagegen.New(imagegen.Config{APIKey: "key"})
		if err != nil {
			t.Fatalf("imagegen.New: %v", err)
		}
		a.SetImageGen(client)

		res := a.HandleCommand(message("op1", "/image"))
		if !strings.Contains(res.Response, "Usage:") {
			t.Errorf("got %q, want usage hint", res.Response)
		}
	})
}
