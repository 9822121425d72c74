// Package ai contains a minimal client for the external answer capability
// consumed by the ask command. The engine is responsible for length-bounding
// both the prompt instruction and the returned text.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Answerer produces a text completion for a viewer's question.
type Answerer interface {
	Answer(ctx context.Context, question string, maxLen int) (string, error)
}

// Client calls a chat-completions style HTTP endpoint.
type Client struct {
	Endpoint   string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Answer sends the question with an explicit instruction to stay within the
// chat platform's message-length ceiling, and truncates if the returned text
// still exceeds it.
func (c *Client) Answer(ctx context.Context, question string, maxLen int) (string, error) {
	if c.Endpoint == "" {
		return "", fmt.Errorf("ai endpoint not configured")
	}
	prompt := fmt.Sprintf("Answer in at most %d characters: %s", maxLen, question)
	payload := map[string]any{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai endpoint status %d", resp.StatusCode)
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("ai endpoint returned no choices")
	}
	answer := out.Choices[0].Message.Content
	if len(answer) > maxLen {
		answer = answer[:maxLen]
	}
	return answer, nil
}
