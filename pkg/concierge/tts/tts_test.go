package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key1" {
			t.Errorf("auth = %q", got)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req["voice"] != "alloy" {
			t.Errorf("voice = %v", req["voice"])
		}
		if req["response_format"] != "opus" {
			t.Errorf("response_format = %v", req["response_format"])
		}

		w.Write([]byte("opus-bytes"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key1", srv.URL, "")
	audio, mime, err := p.Synthesize(context.Background(), "hello", "alloy")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if mime != "audio/ogg" {
		t.Errorf("mime = %q", mime)
	}
	if !bytes.Equal(audio, []byte("opus-bytes")) {
		t.Errorf("audio = %q", audio)
	}
}

func TestOpenAIProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key1", srv.URL, "")
	if _, _, err := p.Synthesize(context.Background(), "hello", ""); err == nil {
		t.Fatal("expected error for 429")
	}
}

func TestClampText(t *testing.T) {
	long := strings.Repeat("a", maxInputLen+100)
	got := clampText(long)
	if len(got) != maxInputLen {
		t.Errorf("len = %d, want %d", len(got), maxInputLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("clamped text should end with ellipsis")
	}
	if clampText("short") != "short" {
		t.Error("short text should pass through")
	}
}

func TestEscapeSSML(t *testing.T) {
	got := escapeSSML(`a & b <tag> "q" 'x'`)
	want := "a &amp; b &lt;tag&gt; &quot;q&quot; &apos;x&apos;"
	if got != want {
		t.Errorf("escapeSSML = %q, want %q", got, want)
	}
}

func TestTrimFraming(t *testing.T) {
	t.Run("finds mp3 sync word", func(t *testing.T) {
		data := []byte{0x00, 0x01, 0x02, 0xFF, 0xFB, 0x90, 0x00}
		got := trimFraming(data)
		if len(got) != 4 || got[0] != 0xFF {
			t.Errorf("trimFraming = %v", got)
		}
	})

	t.Run("falls back to header length", func(t *testing.T) {
		data := []byte{0x00, 0x02, 0xAA, 0xBB, 0xCC}
		got := trimFraming(data)
		if !bytes.Equal(got, []byte{0xAA, 0xBB, 0xCC}) {
			t.Errorf("trimFraming = %v", got)
		}
	})
}

// fakeProvider returns fixed output or a fixed error.
type fakeProvider struct {
	audio []byte
	mime  string
	err   error
	voice string // last voice seen
}

func (f *fakeProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	f.voice = voice
	if f.err != nil {
		return nil, "", f.err
	}
	return f.audio, f.mime, nil
}

func TestFallbackProvider(t *testing.T) {
	t.Run("primary success skips secondary", func(t *testing.T) {
		primary := &fakeProvider{audio: []byte("p"), mime: "audio/ogg"}
		secondary := &fakeProvider{audio: []byte("s"), mime: "audio/mpeg"}
		p := NewFallbackProvider(primary, secondary, "nova", "en-US-JennyNeural", nil)

		audio, mime, err := p.Synthesize(context.Background(), "hi", "")
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if mime != "audio/ogg" || !bytes.Equal(audio, []byte("p")) {
			t.Errorf("got %q/%q, want primary output", audio, mime)
		}
		if primary.voice != "nova" {
			t.Errorf("primary voice = %q, want configured default", primary.voice)
		}
	})

	t.Run("primary failure uses secondary voice", func(t *testing.T) {
		primary := &fakeProvider{err: fmt.Errorf("no quota")}
		secondary := &fakeProvider{audio: []byte("s"), mime: "audio/mpeg"}
		p := NewFallbackProvider(primary, secondary, "nova", "en-US-JennyNeural", nil)

		audio, mime, err := p.Synthesize(context.Background(), "hi", "")
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if mime != "audio/mpeg" || !bytes.Equal(audio, []byte("s")) {
			t.Errorf("got %q/%q, want secondary output", audio, mime)
		}
		if secondary.voice != "en-US-JennyNeural" {
			t.Errorf("secondary voice = %q", secondary.voice)
		}
	})

	t.Run("both failing surfaces the secondary error", func(t *testing.T) {
		primary := &fakeProvider{err: fmt.Errorf("down")}
		secondary := &fakeProvider{err: fmt.Errorf("also down")}
		p := NewFallbackProvider(primary, secondary, "", "", nil)

		if _, _, err := p.Synthesize(context.Background(), "hi", ""); err == nil {
			t.Fatal("expected error when both providers fail")
		}
	})
}
