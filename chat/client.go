// Package chat generates conversational replies through an OpenAI-compatible
// chat completions API, with a persona system prompt and the session's
// bounded message window as context.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/m3rciful/charmbot/sessions"
)

// Config holds the LLM collaborator settings.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	Persona      string
	MaxReplyRune int
}

// Client calls the chat completions endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a client. A nil httpClient gets a bounded-timeout default.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Reply generates a reply for userText given the conversation window. The
// result is truncated to the configured rune budget.
func (c *Client) Reply(ctx context.Context, window []sessions.Turn, userText string) (string, error) {
	messages := make([]chatMessage, 0, len(window)+2)
	messages = append(messages, chatMessage{Role: "system", Content: c.cfg.Persona})
	for _, t := range window {
		messages = append(messages, chatMessage{Role: t.Role, Content: t.Text})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userText})

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chat: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat: completion call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("chat: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat: completion http %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("chat: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat: empty completion")
	}

	return Truncate(out.Choices[0].Message.Content, c.cfg.MaxReplyRune), nil
}

// Truncate bounds a reply to max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
