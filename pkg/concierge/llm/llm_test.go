package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete(t *testing.T) {
	t.Run("returns trimmed content", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
				t.Errorf("Authorization = %q", got)
			}

			var req chatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decoding request: %v", err)
			}
			if req.Model != "test-model" {
				t.Errorf("model = %q", req.Model)
			}
			if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
				t.Errorf("messages = %+v", req.Messages)
			}

			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": "  hello  "}, "finish_reason": "stop"},
				},
			})
		})

		c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model"}, nil)
		got, err := c.Complete(context.Background(), "sys", "user")
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if got != "hello" {
			t.Errorf("content = %q, want %q", got, "hello")
		}
	})

	t.Run("missing api key", func(t *testing.T) {
		c := NewClient(Config{Model: "m"}, nil)
		if _, err := c.Complete(context.Background(), "", "hi"); err == nil {
			t.Error("expected error without API key")
		}
	})

	t.Run("http error surfaces body", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"rate limited"}}`))
		})

		c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"}, nil)
		if _, err := c.Complete(context.Background(), "", "hi"); err == nil {
			t.Error("expected error for 429 response")
		}
	})

	t.Run("api error field", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request"}}`))
		})

		c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"}, nil)
		if _, err := c.Complete(context.Background(), "", "hi"); err == nil {
			t.Error("expected error for error payload")
		}
	})

	t.Run("empty choices", func(t *testing.T) {
		srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		})

		c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"}, nil)
		if _, err := c.Complete(context.Background(), "", "hi"); err == nil {
			t.Error("expected error for empty choices")
		}
	})
}

func TestCompleteJSON(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %+v", req.ResponseFormat)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"intent\":\"none\"}"},"finish_reason":"stop"}]}`))
	})

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"}, nil)
	got, err := c.CompleteJSON(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if got != `{"intent":"none"}` {
		t.Errorf("content = %q", got)
	}
}
