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

// OpenAI is the adapter for OpenAI's chat completion and embedding APIs.
type OpenAI struct {
	base
	endpoint string
	apiKey   string
}

// NewOpenAI creates an OpenAI adapter. endpoint defaults to the public API.
func NewOpenAI(endpoint, apiKey string, maxConcurrent int, timeout time.Duration) *OpenAI {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	return &OpenAI{
		base:     newBase("openai", maxConcurrent, timeout),
		endpoint: endpoint,
		apiKey:   apiKey,
	}
}

func (p *OpenAI) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Generate calls the chat completions endpoint.
func (p *OpenAI) Generate(ctx context.Context, model string, req *models.GenerationRequest) (*models.GeneratedText, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("openai: api key not configured: %w", ErrUnavailable)
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

func (p *OpenAI) generate(ctx context.Context, model string, req *models.GenerationRequest) (*models.GeneratedText, error) {
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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
		return nil, fmt.Errorf("openai: decode response: %w", err)
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

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed calls the embeddings endpoint.
func (p *OpenAI) Embed(ctx context.Context, model, text string) ([]float64, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("openai: api key not configured: %w", ErrUnavailable)
	}
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()

	start := time.Now()
	vec, err := p.embed(ctx, model, text)
	p.observe(start, err)
	return vec, err
}

func (p *OpenAI) embed(ctx context.Context, model, text string) ([]float64, error) {
	body, _ := json.Marshal(openAIEmbedRequest{Model: model, Input: text})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, p.classifyStatus(resp.StatusCode, string(respBody))
	}

	var out openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("openai: empty embedding response")
	}
	return out.Data[0].Embedding, nil
}

// HealthCheck lists models to validate credentials and reachability.
func (p *OpenAI) HealthCheck(ctx context.Context) error {
	if p.apiKey == "" {
		return fmt.Errorf("openai: api key not configured: %w", ErrUnavailable)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/models", nil)
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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
