package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/inkstone-ai/inkstone/pkg/models"
)

const anthropicVersion = "2023-06-01"

// Anthropic is the adapter for Anthropic's messages API. Anthropic has no
// embedding endpoint, so Embed always fails with ErrUnsupported and the
// registry never lists an embedding descriptor for it.
type Anthropic struct {
	base
	endpoint string
	apiKey   string
}

// NewAnthropic creates an Anthropic adapter.
func NewAnthropic(endpoint, apiKey string, maxConcurrent int, timeout time.Duration) *Anthropic {
	if endpoint == "" {
		endpoint = "https://api.anthropic.com"
	}
	return &Anthropic{
		base:     newBase("anthropic", maxConcurrent, timeout),
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// Generate calls the messages endpoint.
func (p *Anthropic) Generate(ctx context.Context, model string, req *models.GenerationRequest) (*models.GeneratedText, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key not configured: %w", ErrUnavailable)
	}
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	start := time.Now()
	out, err := p.generate(ctx, model, req)
	p.observe(start, err)
	if err != nil {
		return nil, err
	}
	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}

func (p *Anthropic) generate(ctx context.Context, model string, req *models.GenerationRequest) (*models.GeneratedText, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body, _ := json.Marshal(anthropicRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, p.classifyStatus(resp.StatusCode, string(respBody))
	}

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	content := ""
	for _, c := range out.Content {
		if c.Type == "text" {
			content += c.Text
		}
	}

	return &models.GeneratedText{
		Content:  content,
		Provider: p.name,
		Model:    model,
		Usage: models.TokenUsage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
			TotalTokens:  out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}

// Embed is not supported by Anthropic.
func (p *Anthropic) Embed(ctx context.Context, model, text string) ([]float64, error) {
	return nil, fmt.Errorf("anthropic: embeddings: %w", ErrUnsupported)
}

// HealthCheck sends a minimal one-token message to validate credentials.
func (p *Anthropic) HealthCheck(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("anthropic: api key not configured: %w", ErrUnavailable)
	}

	body, _ := json.Marshal(anthropicRequest{
		Model:     "claude-3-5-haiku-20241022",
		Messages:  []chatMessage{{Role: "user", Content: "Say OK"}},
		MaxTokens: 1,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return p.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return p.classifyStatus(resp.StatusCode, string(respBody))
	}
	return nil
}
