// Package tts synthesizes speech for voice-note announcements. Two
// backends are available: the OpenAI speech API and the free Microsoft
// Edge read-aloud service, with a fallback chain for "auto" mode.
package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxInputLen is the provider-side limit on synthesized text.
const maxInputLen = 4096

// Provider converts text into audio.
type Provider interface {
	// Synthesize returns the audio bytes and their MIME type.
	Synthesize(ctx context.Context, text, voice string) ([]byte, string, error)
}

// clampText enforces the input-length limit shared by the backends.
func clampText(text string) string {
	if len(text) > maxInputLen {
		return text[:maxInputLen-3] + "..."
	}
	return text
}

// OpenAIProvider calls the OpenAI speech endpoint. Output is Opus, which
// WhatsApp and Discord both accept as a voice note.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewOpenAIProvider creates the paid backend. Empty baseURL and model
// select the OpenAI defaults.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "tts-1"
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *OpenAIProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if voice == "" {
		voice = "nova"
	}

	body, err := json.Marshal(map[string]any{
		"model":           p.model,
		"input":           clampText(text),
		"voice":           voice,
		"response_format": "opus",
	})
	if err != nil {
		return nil, "", fmt.Errorf("tts: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tts: speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("tts: API returned %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("tts: reading audio: %w", err)
	}
	return audio, "audio/ogg", nil
}

// EdgeProvider uses the Microsoft Edge read-aloud REST endpoint: the same
// Azure voices as the edge-tts tooling, reached with plain HTTP instead of
// its WebSocket protocol. Free, no API key.
type EdgeProvider struct {
	client *http.Client
	logger *slog.Logger
}

// NewEdgeProvider creates the free backend.
func NewEdgeProvider(logger *slog.Logger) *EdgeProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &EdgeProvider{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With("component", "edge-tts"),
	}
}

const edgeEndpoint = "https://speech.platform.bing.com/consumer/speech/synthesize/readaloud/naturaltts/v1"

func (p *EdgeProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	if voice == "" {
		voice = "en-US-JennyNeural"
	}

	ssml := fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'><voice name='%s'><prosody pitch='+0Hz' rate='+0%%' volume='+0%%'>%s</prosody></voice></speak>`,
		voice, escapeSSML(clampText(text)))

	url := edgeEndpoint + "?TrustedClientToken=6A5AA1D4EAFF4E9FB37E23D68491D6F4&ConnectionId=gen&Enc=mp3&OutputFormat=audio-24khz-48kbitrate-mono-mp3"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(ssml))
	if err != nil {
		return nil, "", fmt.Errorf("edge-tts: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0")
	req.Header.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("edge-tts: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("edge-tts: HTTP %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("edge-tts: reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, "", fmt.Errorf("edge-tts: empty audio response")
	}

	return trimFraming(audio), "audio/mpeg", nil
}

// trimFraming drops any binary framing the read-aloud endpoint prepends
// before the MP3 stream.
func trimFraming(data []byte) []byte {
	// MP3 frames start with an 11-bit sync word.
	for i := 0; i < len(data)-1; i++ {
		if data[i] == 0xFF && (data[i+1]&0xE0) == 0xE0 {
			return data[i:]
		}
	}
	// Otherwise treat the first two bytes as a big-endian header length.
	if len(data) > 2 {
		n := int(binary.BigEndian.Uint16(data[:2]))
		if n > 0 && n < len(data) {
			return data[n:]
		}
	}
	return data
}

func escapeSSML(text string) string {
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	).Replace(text)
}

// FallbackProvider chains two backends: the primary is tried first, the
// secondary covers its failures. Each side can carry its own default
// voice, since voice names are not portable between backends.
type FallbackProvider struct {
	primary        Provider
	secondary      Provider
	primaryVoice   string
	secondaryVoice string
	logger         *slog.Logger
}

func NewFallbackProvider(primary, secondary Provider, primaryVoice, secondaryVoice string, logger *slog.Logger) *FallbackProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackProvider{
		primary:        primary,
		secondary:      secondary,
		primaryVoice:   primaryVoice,
		secondaryVoice: secondaryVoice,
		logger:         logger.With("component", "tts-fallback"),
	}
}

func (p *FallbackProvider) Synthesize(ctx context.Context, text, voice string) ([]byte, string, error) {
	primaryVoice := voice
	if primaryVoice == "" {
		primaryVoice = p.primaryVoice
	}
	audio, mime, err := p.primary.Synthesize(ctx, text, primaryVoice)
	if err == nil {
		return audio, mime, nil
	}

	p.logger.Warn("primary TTS failed, using fallback", "error", err)

	secondaryVoice := p.secondaryVoice
	if secondaryVoice == "" {
		secondaryVoice = voice
	}
	return p.secondary.Synthesize(ctx, text, secondaryVoice)
}
