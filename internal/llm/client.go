// Package llm is a client for OpenAI-compatible chat completion APIs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Mode selects how requests reach the model provider.
type Mode string

const (
	// ModeManaged routes requests through the platform's metering proxy,
	// which attributes usage to the owner header.
	ModeManaged Mode = "managed"
	// ModeDirect calls the provider with the configured API key.
	ModeDirect Mode = "direct"
)

// ErrNotConfigured is returned by Complete when no API key is set.
var ErrNotConfigured = errors.New("llm client not configured")

// Config is resolved once at startup and injected into NewClient.
type Config struct {
	Mode        Mode
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Client talks to a chat completion endpoint.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion call.
type Request struct {
	Messages []Message
	// OwnerID is forwarded in managed mode for usage attribution.
	OwnerID string
}

// Response carries the completion text and token usage.
type Response struct {
	Content   string
	Model     string
	TokensIn  int
	TokensOut int
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func NewClient(cfg Config) *Client {
	if cfg.Mode == "" {
		cfg.Mode = ModeDirect
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// IsConfigured reports whether the client can make requests.
func (c *Client) IsConfigured() bool {
	return c.cfg.APIKey != "" && c.cfg.BaseURL != ""
}

// Complete sends a chat completion request.
func (c *Client) Complete(ctx context.Context, in Request) (*Response, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	bodyBytes, err := json.Marshal(chatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    in.Messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Mode == ModeManaged && in.OwnerID != "" {
		req.Header.Set("X-Owner-ID", in.OwnerID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm API error (status %d): %s", resp.StatusCode, truncate(string(respBody), 512))
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	model := chatResp.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Response{
		Content:   chatResp.Choices[0].Message.Content,
		Model:     model,
		TokensIn:  chatResp.Usage.PromptTokens,
		TokensOut: chatResp.Usage.CompletionTokens,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
