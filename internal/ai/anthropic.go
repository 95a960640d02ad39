package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alekspetrov/hourglass/internal/provider"
)

const (
	anthropicURL       = "https://api.anthropic.com"
	anthropicModel     = "claude-sonnet-4-5"
	anthropicVersion   = "2023-06-01"
	defaultMaxTokens   = 8192
	defaultHTTPTimeout = 5 * time.Minute
)

// Anthropic calls the Messages API.
type Anthropic struct {
	cfg        ProviderConfig
	httpClient *http.Client
}

// NewAnthropic creates an Anthropic backend.
func NewAnthropic(cfg ProviderConfig) *Anthropic {
	if cfg.Name == "" {
		cfg.Name = TypeAnthropic
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicURL
	}
	if cfg.Model == "" {
		cfg.Model = anthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &Anthropic{cfg: cfg, httpClient: &http.Client{}}
}

func (a *Anthropic) Name() string { return a.cfg.Name }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends one user message and returns the text blocks of the reply.
func (a *Anthropic) Complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(anthropicRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", provider.NewError(a.Name(), "complete", provider.KindPayload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", provider.NewError(a.Name(), "complete", provider.KindNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	var resp anthropicResponse
	if err := doJSON(a.httpClient, req, a.Name(), &resp); err != nil {
		return "", err
	}

	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if b.Len() == 0 {
		return "", provider.NewError(a.Name(), "complete", provider.KindPayload, fmt.Errorf("empty response"))
	}
	return b.String(), nil
}

// doJSON executes req and decodes a JSON success body into out, classifying
// failures as provider errors.
func doJSON(client *http.Client, req *http.Request, name string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return provider.NewError(name, "complete", provider.KindNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.NewError(name, "complete", provider.KindNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 300 {
			msg = msg[:300] + "..."
		}
		pe := provider.NewError(name, "complete", provider.KindResponse, fmt.Errorf("API returned status %d: %s", resp.StatusCode, msg))
		pe.StatusCode = resp.StatusCode
		return pe
	}
	if err := json.Unmarshal(data, out); err != nil {
		return provider.NewError(name, "complete", provider.KindPayload, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
