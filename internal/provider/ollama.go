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

// Ollama is the adapter for a local Ollama runtime. Generation goes through
// Ollama's OpenAI-compatible chat endpoint; embeddings use the native
// /api/embed endpoint.
type Ollama struct {
	base
	endpoint string
}

// NewOllama creates an Ollama adapter.
func NewOllama(endpoint string, maxConcurrent int, timeout time.Duration) *Ollama {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &Ollama{
		base:     newBase("ollama", maxConcurrent, timeout),
		endpoint: endpoint,
	}
}

func (p *Ollama) Name() string { return "ollama" }

// Generate calls the OpenAI-compatible chat completions endpoint.
func (p *Ollama) Generate(ctx context.Context, model string, req *models.GenerationRequest) (*models.GeneratedText, error) {
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

func (p *Ollama) generate(ctx context.Context, model string, req *models.GenerationRequest) (*models.GeneratedText, error) {
	msgs := make([]chatMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	body, _ := json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, p.classifyStatus(resp.StatusCode, string(respBody))
	}

	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}

	content := ""
	if len(out.Choices) > 0 {
		content = out.Choices[0].Message.Content
	}

	return &models.GeneratedText{
		Content:  content,
		Provider: p.name,
		Model:    model,
		Usage: models.TokenUsage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		},
	}, nil
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed calls Ollama's native embedding endpoint.
func (p *Ollama) Embed(ctx context.Context, model, text string) ([]float64, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	start := time.Now()
	vec, err := p.embed(ctx, model, text)
	p.observe(start, err)
	return vec, err
}

func (p *Ollama) embed(ctx context.Context, model, text string) ([]float64, error) {
	body, _ := json.Marshal(ollamaEmbedRequest{Model: model, Input: text})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, p.classifyStatus(resp.StatusCode, string(respBody))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding response")
	}
	return out.Embeddings[0], nil
}

// HealthCheck verifies the daemon is running by listing pulled models.
func (p *Ollama) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}

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
