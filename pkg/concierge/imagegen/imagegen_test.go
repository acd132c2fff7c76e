package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerate(t *testing.T) {
	png := []byte("\x89PNG fake image bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k1" {
			t.Errorf("auth = %q", got)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req["prompt"] != "a lighthouse" {
			t.Errorf("prompt = %v", req["prompt"])
		}
		if req["size"] != "1024x1024" {
			t.Errorf("size = %v", req["size"])
		}

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"b64_json": base64.StdEncoding.EncodeToString(png)},
			},
		})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "k1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	img, err := c.Generate(context.Background(), "a lighthouse")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !bytes.Equal(img, png) {
		t.Errorf("image bytes mismatch")
	}
}

func TestGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "content policy violation"},
		})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "k1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Generate(context.Background(), "x"); err == nil {
		t.Fatal("expected API error")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("missing api_key should fail")
	}
}
