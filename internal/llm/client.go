// Package llm calls a chat-completion endpoint, speaking either the
// local Ollama protocol or the OpenAI one depending on the base URL.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a one-shot chat client for a single configured model.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	http    *http.Client
}

// NewClient builds a client for the endpoint at baseURL.
func NewClient(baseURL, model, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// looksLikeOllama sniffs the local protocol from the base URL: the
// default Ollama port, the word itself, or an explicit /api/chat path.
func (c *Client) looksLikeOllama() bool {
	s := strings.ToLower(c.baseURL)
	return strings.Contains(s, "11434") || strings.Contains(s, "ollama") || strings.HasSuffix(s, "/api/chat")
}

func normalizeURL(base string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/")
}

// OneShot sends userText as a single user message and returns the
// model's reply. extra is shallow-merged over the request body, so
// callers can set temperature or provider options per task.
func (c *Client) OneShot(ctx context.Context, userText string, extra json.RawMessage) (string, error) {
	if c.looksLikeOllama() {
		return c.ollamaChat(ctx, userText, extra)
	}
	return c.openAIChat(ctx, userText, extra)
}

func (c *Client) openAIChat(ctx context.Context, userText string, extra json.RawMessage) (string, error) {
	base := normalizeURL(c.baseURL)
	var url string
	switch {
	case strings.HasSuffix(base, "/v1/chat/completions"):
		url = base
	case strings.HasSuffix(base, "/v1"):
		url = base + "/chat/completions"
	default:
		url = base + "/v1/chat/completions"
	}

	payload := map[string]interface{}{
		"model":    c.model,
		"messages": []map[string]string{{"role": "user", "content": userText}},
	}
	if err := mergeExtra(payload, extra); err != nil {
		return "", err
	}

	body, err := c.post(ctx, url, payload, true)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse completion response: %w", err)
	}

	text := ""
	if len(parsed.Choices) > 0 {
		text = strings.TrimSpace(parsed.Choices[0].Message.Content)
	}
	if text == "" {
		return "", fmt.Errorf("empty model output")
	}
	return text, nil
}

func (c *Client) ollamaChat(ctx context.Context, userText string, extra json.RawMessage) (string, error) {
	base := normalizeURL(c.baseURL)
	url := base + "/api/chat"
	if strings.HasSuffix(base, "/api/chat") {
		url = base
	}

	payload := map[string]interface{}{
		"model":      c.model,
		"messages":   []map[string]string{{"role": "user", "content": userText}},
		"stream":     false,
		"keep_alive": "5m",
	}
	if err := mergeExtra(payload, extra); err != nil {
		return "", err
	}

	body, err := c.post(ctx, url, payload, false)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}

	text := strings.TrimSpace(parsed.Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty model output")
	}
	return text, nil
}

// mergeExtra overlays top-level keys of extra onto payload. Malformed
// extra is ignored rather than failing the task.
func mergeExtra(payload map[string]interface{}, extra json.RawMessage) error {
	if len(extra) == 0 {
		return nil
	}
	var overlay map[string]interface{}
	if err := json.Unmarshal(extra, &overlay); err != nil {
		return nil
	}
	for k, v := range overlay {
		payload[k] = v
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, payload map[string]interface{}, withAuth bool) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(c.apiKey); withAuth && key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read model response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 2000 {
			body = body[:2000]
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
