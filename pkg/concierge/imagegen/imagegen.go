// Package imagegen generates images through the OpenAI images API,
// returning raw bytes ready for a media channel.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Config holds image generation settings.
type Config struct {
	// BaseURL is the API endpoint. Empty means the OpenAI default.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests.
	APIKey string `yaml:"api_key"`

	// Model is the image model. Empty means "gpt-image-1".
	Model string `yaml:"model"`

	// Size is the output resolution. Empty means "1024x1024".
	Size string `yaml:"size"`
}

// Client generates images.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates an image generation client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("imagegen: api_key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-image-1"
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type generateResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate renders one image for the prompt and returns PNG bytes.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"model":  c.cfg.Model,
		"prompt": prompt,
		"n":      1,
		"size":   c.cfg.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("imagegen: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("imagegen: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagegen: request: %w", err)
	}
	defer resp.Body.Close()

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("imagegen: decoding response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("imagegen: API error: %s", result.Error.Message)
	}
	if len(result.Data) == 0 || result.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("imagegen: no image in response")
	}

	img, err := base64.StdEncoding.DecodeString(result.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("imagegen: decoding image: %w", err)
	}
	return img, nil
}
