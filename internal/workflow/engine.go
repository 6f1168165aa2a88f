// Package workflow implements the content generation state machine.
//
// Execution flow:
//  1. Generating: first draft from the model manager
//  2. Evaluating: deterministic rubric score in [0,1]
//  3. Below threshold: Feedback → Refining → Evaluating, bounded by the
//     iteration limit
//  4. Finalized with the best draft seen, or Failed when a model call
//     fails at any stage (the best draft so far is kept on the result)
//
// Hitting the iteration limit is a success: the caller gets the best draft
// and its score and can judge for itself.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/inkstone-ai/inkstone/internal/config"
	"github.com/inkstone-ai/inkstone/internal/store"
	"github.com/inkstone-ai/inkstone/pkg/models"
)

// Generator is the slice of the model manager the engine needs.
type Generator interface {
	Generate(ctx context.Context, req *models.GenerationRequest) (*models.GeneratedText, error)
}

// ContentRequest is a request to run the content generation workflow.
type ContentRequest struct {
	Prompt string `json:"prompt"`

	// Style optionally steers tone ("formal", "casual", ...).
	Style string `json:"style,omitempty"`

	// Model is an optional explicit model preference ("provider/model").
	Model string `json:"model,omitempty"`

	MaxTokens int `json:"max_tokens,omitempty"`
}

// Engine drives content generation runs.
type Engine struct {
	gen   Generator
	store store.Store

	qualityThreshold float64
	maxIterations    int
}

// NewEngine creates a workflow engine.
func NewEngine(gen Generator, s store.Store, cfg config.WorkflowConfig) *Engine {
	threshold := cfg.QualityThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	iterations := cfg.MaxIterations
	if iterations <= 0 {
		iterations = 3
	}
	return &Engine{
		gen:              gen,
		store:            s,
		qualityThreshold: threshold,
		maxIterations:    iterations,
	}
}

// Run executes the state machine to completion. A refinement-call failure
// yields a Failed result carrying the best draft so far; only the initial
// draft failing returns the provider error for the caller to map.
func (e *Engine) Run(ctx context.Context, req *ContentRequest) (*models.WorkflowResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt must not be empty")
	}

	runID := uuid.New().String()
	startedAt := time.Now().UTC()

	state := models.WorkflowState{Stage: StageOrder[0]}
	var bestContent string
	var bestScore float64
	var tokens int64
	var provider, model string

	log.Info().Str("run_id", runID).Msg("Content workflow started")

	// Generating: first draft.
	state.Attempts = 1
	draft, err := e.gen.Generate(ctx, &models.GenerationRequest{
		Prompt:    e.draftPrompt(req),
		System:    writerSystem,
		MaxTokens: req.MaxTokens,
		Model:     req.Model,
	})
	if err != nil {
		e.recordRun(runID, req.Prompt, &models.WorkflowResult{
			Stage: models.StageFailed,
			Error: err.Error(),
		}, startedAt)
		return nil, fmt.Errorf("initial draft: %w", err)
	}
	provider, model = draft.Provider, draft.Model
	state.Content = draft.Content
	tokens += draft.Usage.TotalTokens

	for {
		// Evaluating.
		state.Stage = models.StageEvaluating
		rubric := Score(state.Content, req.Prompt)
		state.Score = rubric.Total

		if rubric.Total > bestScore || bestContent == "" {
			bestContent = state.Content
			bestScore = rubric.Total
		}

		log.Debug().
			Str("run_id", runID).
			Int("attempt", state.Attempts).
			Float64("score", rubric.Total).
			Msg("Draft evaluated")

		if rubric.Total >= e.qualityThreshold || state.Attempts >= e.maxIterations {
			break
		}

		// Feedback: deterministic critique from the rubric.
		state.Stage = models.StageFeedback
		state.Feedback = strings.Join(rubric.Feedback, " ")

		// Refining.
		state.Stage = models.StageRefining
		state.Attempts++
		refined, err := e.gen.Generate(ctx, &models.GenerationRequest{
			Prompt:    e.refinePrompt(req, state.Content, state.Feedback),
			System:    writerSystem,
			MaxTokens: req.MaxTokens,
			Model:     req.Model,
		})
		if err != nil {
			// A failure mid-run ends the workflow as Failed, with the best
			// draft preserved for diagnostics.
			log.Warn().Str("run_id", runID).Err(err).Msg("Refinement failed")
			result := &models.WorkflowResult{
				Stage:    models.StageFailed,
				Content:  bestContent,
				Score:    bestScore,
				Attempts: state.Attempts,
				Provider: provider,
				Model:    model,
				Tokens:   tokens,
				Error:    err.Error(),
			}
			e.recordRun(runID, req.Prompt, result, startedAt)
			return result, nil
		}
		state.Content = refined.Content
		provider, model = refined.Provider, refined.Model
		tokens += refined.Usage.TotalTokens
	}

	result := &models.WorkflowResult{
		Stage:    models.StageFinalized,
		Content:  bestContent,
		Score:    bestScore,
		Attempts: state.Attempts,
		Provider: provider,
		Model:    model,
		Tokens:   tokens,
	}
	e.recordRun(runID, req.Prompt, result, startedAt)

	log.Info().
		Str("run_id", runID).
		Float64("score", bestScore).
		Int("attempts", state.Attempts).
		Msg("Content workflow finalized")
	return result, nil
}

// StageOrder is the canonical stage progression, first stage first.
var StageOrder = []models.WorkflowStage{
	models.StageGenerating,
	models.StageEvaluating,
	models.StageFeedback,
	models.StageRefining,
	models.StageFinalized,
}

const writerSystem = "You are a precise writing assistant. Produce only the requested content, without preamble or commentary."

func (e *Engine) draftPrompt(req *ContentRequest) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	if req.Style != "" {
		b.WriteString("\n\nWrite in a ")
		b.WriteString(req.Style)
		b.WriteString(" style.")
	}
	return b.String()
}

func (e *Engine) refinePrompt(req *ContentRequest, draft, feedback string) string {
	var b strings.Builder
	b.WriteString("Improve the draft below.\n\nOriginal request: ")
	b.WriteString(req.Prompt)
	if req.Style != "" {
		b.WriteString("\nStyle: ")
		b.WriteString(req.Style)
	}
	b.WriteString("\n\nFeedback: ")
	b.WriteString(feedback)
	b.WriteString("\n\nDraft:\n")
	b.WriteString(draft)
	return b.String()
}

// recordRun persists the finished run for diagnostics; failures only log.
func (e *Engine) recordRun(runID, input string, result *models.WorkflowResult, startedAt time.Time) {
	if e.store == nil {
		return
	}

	status := "completed"
	if result.Stage == models.StageFailed {
		status = "failed"
	}
	now := time.Now().UTC()
	run := &models.WorkflowRun{
		ID:          runID,
		Kind:        "generate",
		Stage:       result.Stage,
		Status:      status,
		Input:       input,
		Output:      result.Content,
		Score:       result.Score,
		Attempts:    result.Attempts,
		Error:       result.Error,
		StartedAt:   startedAt,
		CompletedAt: now,
		DurationMs:  now.Sub(startedAt).Milliseconds(),
	}
	if err := e.store.CreateRun(context.Background(), run); err != nil {
		log.Warn().Str("run_id", runID).Err(err).Msg("Failed to record workflow run")
	}
}
