package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/novaadapt/novaadapt-core/pkg/models"
)

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []wireMsg `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type wireMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content interface{} `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// callOpenAICompatible POSTs to <base>/v1/chat/completions (or
// <base>/chat/completions when base already ends in /v1), the way
// _call_openai_compatible builds its URL and payload.
func callOpenAICompatible(ctx context.Context, ep models.Endpoint, messages []models.ChatMessage, temperature float64, maxTokens int) (string, error) {
	base := strings.TrimRight(ep.BaseURL, "/")
	var url string
	if strings.HasSuffix(base, "/v1") {
		url = base + "/chat/completions"
	} else {
		url = base + "/v1/chat/completions"
	}

	wireMessages := make([]wireMsg, 0, len(messages))
	for _, m := range messages {
		wireMessages = append(wireMessages, wireMsg{Role: string(m.Role), Content: m.Content})
	}
	payload, err := json.Marshal(chatCompletionRequest{
		Model:       ep.Model,
		Messages:    wireMessages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("model endpoint %q: encode request: %w", ep.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("model endpoint %q: build request: %w", ep.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	apiKey, err := apiKeyFor(ep)
	if err != nil {
		return "", err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("model endpoint %q unreachable: %w", ep.Name, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("model endpoint %q failed (%d): %s", ep.Name, resp.StatusCode, string(body))
	}

	var decoded chatCompletionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("model endpoint %q: decode response: %w", ep.Name, err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("model endpoint %q returned no choices", ep.Name)
	}

	switch content := decoded.Choices[0].Message.Content.(type) {
	case string:
		return strings.TrimSpace(content), nil
	case []interface{}:
		var parts []string
		for _, item := range content {
			if m, ok := item.(map[string]interface{}); ok {
				if text, ok := m["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.TrimSpace(strings.Join(parts, "\n")), nil
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", content)), nil
	}
}
