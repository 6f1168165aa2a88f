// Package core is the request router: one Service facade over the model
// manager, the workflows, and the registry, recording a trace per provider
// operation.
package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/inkstone-ai/inkstone/internal/manager"
	"github.com/inkstone-ai/inkstone/internal/query"
	"github.com/inkstone-ai/inkstone/internal/registry"
	"github.com/inkstone-ai/inkstone/internal/store"
	"github.com/inkstone-ai/inkstone/internal/workflow"
	"github.com/inkstone-ai/inkstone/pkg/models"
)

var tracer = otel.Tracer("inkstone/core")

// Service is the single entry point the HTTP layer talks to.
type Service struct {
	manager  *manager.Manager
	engine   *workflow.Engine
	analyzer *workflow.Analyzer
	pipeline *query.Pipeline
	registry *registry.Registry
	store    store.Store
}

// NewService wires the facade.
func NewService(mgr *manager.Manager, engine *workflow.Engine, analyzer *workflow.Analyzer, pipeline *query.Pipeline, reg *registry.Registry, s store.Store) *Service {
	return &Service{
		manager:  mgr,
		engine:   engine,
		analyzer: analyzer,
		pipeline: pipeline,
		registry: reg,
		store:    s,
	}
}

// Generate runs the content generation workflow.
func (s *Service) Generate(ctx context.Context, req *workflow.ContentRequest) (*models.WorkflowResult, error) {
	ctx, span := tracer.Start(ctx, "core.Generate")
	defer span.End()

	start := time.Now()
	result, err := s.engine.Run(ctx, req)
	if err != nil {
		s.recordTrace("generate", "", "", start, err, 0)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("model", result.Model),
		attribute.Int("attempts", result.Attempts),
	)
	s.recordTrace("generate", result.Provider, result.Model, start, nil, result.Tokens)
	return result, nil
}

// Analyze runs a single-shot analysis.
func (s *Service) Analyze(ctx context.Context, content string, typ models.AnalysisType) (*models.AnalysisResult, error) {
	ctx, span := tracer.Start(ctx, "core.Analyze")
	defer span.End()

	start := time.Now()
	result, err := s.analyzer.Analyze(ctx, content, typ)
	if err != nil {
		s.recordTrace("analyze", "", "", start, err, 0)
		return nil, err
	}
	span.SetAttributes(attribute.String("type", string(typ)))
	s.recordTrace("analyze", result.Provider, result.Model, start, nil, result.Tokens)
	return result, nil
}

// Query runs the database query pipeline.
func (s *Service) Query(ctx context.Context, req *models.QueryRequest) (*models.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "core.Query")
	defer span.End()

	start := time.Now()
	result, err := s.pipeline.Run(ctx, req)
	if err != nil {
		s.recordTrace("query", "", "", start, err, 0)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("blocked", result.Blocked()))
	s.recordTrace("query", "", "", start, nil, result.Tokens)
	return result, nil
}

// Embed produces a vector embedding.
func (s *Service) Embed(ctx context.Context, text string) ([]float64, string, error) {
	ctx, span := tracer.Start(ctx, "core.Embed")
	defer span.End()

	start := time.Now()
	vec, id, err := s.manager.Embed(ctx, text)
	if err != nil {
		s.recordTrace("embed", "", "", start, err, 0)
		return nil, "", err
	}
	span.SetAttributes(attribute.String("model", id))
	s.recordTrace("embed", "", id, start, nil, 0)
	return vec, id, nil
}

// ListModels returns every known descriptor.
func (s *Service) ListModels() []models.ModelDescriptor {
	return s.registry.List()
}

// SetModelStatus is the installer hook.
func (s *Service) SetModelStatus(id string, status models.ModelStatus) error {
	return s.registry.SetStatus(id, status)
}

// ListTraces reads recorded operation traces.
func (s *Service) ListTraces(ctx context.Context, filter store.TraceFilter) ([]models.Trace, error) {
	return s.store.ListTraces(ctx, filter)
}

// ListRuns reads recorded workflow runs.
func (s *Service) ListRuns(ctx context.Context, kind string, limit int) ([]models.WorkflowRun, error) {
	return s.store.ListRuns(ctx, kind, limit)
}

// Health reports whether the core can serve anything: at least one
// text-generation model must be available.
func (s *Service) Health(ctx context.Context) bool {
	if err := s.store.Ping(ctx); err != nil {
		return false
	}
	return len(s.registry.ListAvailable(models.KindTextGeneration)) > 0
}

// recordTrace persists one operation trace; failures only log.
func (s *Service) recordTrace(operation, provider, model string, start time.Time, opErr error, tokens int64) {
	status := "completed"
	errMsg := ""
	if opErr != nil {
		status = "error"
		errMsg = opErr.Error()
	}

	trace := &models.Trace{
		ID:         uuid.New().String(),
		Operation:  operation,
		Provider:   provider,
		Model:      model,
		Status:     status,
		DurationMs: time.Since(start).Milliseconds(),
		Tokens:     tokens,
		CreatedAt:  time.Now().UTC(),
	}
	if errMsg != "" {
		trace.Metadata = map[string]interface{}{"error": errMsg}
	}
	if err := s.store.CreateTrace(context.Background(), trace); err != nil {
		log.Warn().Err(err).Msg("Failed to record trace")
	}
}
