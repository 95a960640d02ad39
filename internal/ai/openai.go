package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/alekspetrov/hourglass/internal/provider"
)

const (
	openAIURL   = "https://api.openai.com"
	openAIModel = "gpt-4o"
)

// OpenAI calls the Chat Completions API.
type OpenAI struct {
	cfg        ProviderConfig
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI backend. BaseURL may point at any compatible
// endpoint.
func NewOpenAI(cfg ProviderConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = TypeOpenAI
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIURL
	}
	if cfg.Model == "" {
		cfg.Model = openAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &OpenAI{cfg: cfg, httpClient: &http.Client{}}
}

func (o *OpenAI) Name() string { return o.cfg.Name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends a system and user message and returns the first choice.
func (o *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	msgs := []chatMessage{{Role: "user", Content: prompt}}
	if system != "" {
		msgs = append([]chatMessage{{Role: "system", Content: system}}, msgs...)
	}
	body, err := json.Marshal(chatRequest{Model: o.cfg.Model, MaxTokens: o.cfg.MaxTokens, Messages: msgs})
	if err != nil {
		return "", provider.NewError(o.Name(), "complete", provider.KindPayload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(o.cfg.BaseURL, "/")+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", provider.NewError(o.Name(), "complete", provider.KindNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	var resp chatResponse
	if err := doJSON(o.httpClient, req, o.Name(), &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", provider.NewError(o.Name(), "complete", provider.KindPayload, fmt.Errorf("empty response"))
	}
	return resp.Choices[0].Message.Content, nil
}
