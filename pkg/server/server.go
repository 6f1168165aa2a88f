// Package server provides the public entry point for initializing the
// Inkstone AI core server.
//
// This package exists in pkg/ (not internal/) so embedding applications can
// compose the core with their own middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/inkstone-ai/inkstone/internal/api"
	"github.com/inkstone-ai/inkstone/internal/api/handlers"
	"github.com/inkstone-ai/inkstone/internal/config"
	"github.com/inkstone-ai/inkstone/internal/core"
	"github.com/inkstone-ai/inkstone/internal/manager"
	"github.com/inkstone-ai/inkstone/internal/provider"
	"github.com/inkstone-ai/inkstone/internal/query"
	"github.com/inkstone-ai/inkstone/internal/registry"
	"github.com/inkstone-ai/inkstone/internal/safety"
	"github.com/inkstone-ai/inkstone/internal/schema"
	"github.com/inkstone-ai/inkstone/internal/store"
	"github.com/inkstone-ai/inkstone/internal/telemetry"
	"github.com/inkstone-ai/inkstone/internal/workflow"
	"github.com/inkstone-ai/inkstone/pkg/models"
)

// Server holds the initialized AI core.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store holds the observability records.
	Store store.Store

	// Registry is the model catalog, exposed for embedding applications.
	Registry *registry.Registry

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc stops the health prober and flushes telemetry. Call it
	// on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the core with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	telemetryShutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore := store.NewMemoryStore()
	log.Info().Msg("In-memory store initialized")

	reg := registry.New()
	registerProviders(reg, cfg.Providers)

	mgr := manager.New(reg, cfg.Routing)
	validator := safety.New(cfg.Safety.FullScanRowThreshold)
	engine := workflow.NewEngine(mgr, dataStore, cfg.Workflow)
	analyzer := workflow.NewAnalyzer(mgr)
	pipeline := query.New(mgr, validator, dataStore)
	svc := core.NewService(mgr, engine, analyzer, pipeline, reg, dataStore)

	log.Info().Msg("Model manager initialized")

	// Optional schema introspection for the query endpoint.
	var loader *schema.Loader
	if cfg.Schema.DatabaseURL != "" {
		loader, err = schema.NewLoader(ctx, cfg.Schema.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("Schema database unreachable, introspection disabled")
			loader = nil
		} else {
			log.Info().Msg("Schema introspection enabled")
		}
	}

	// The prober owns the unavailable → available transition; nothing is
	// usable until its first pass succeeds.
	proberCtx, stopProber := context.WithCancel(context.Background())
	go registry.NewProber(reg, cfg.Routing.ProbeInterval).Run(proberCtx)

	h := handlers.New(svc, loader, cfg.Version)

	return &Server{
		Handler:  api.NewRouter(h),
		Store:    dataStore,
		Registry: reg,
		Port:     cfg.Port,
		ShutdownFunc: func(ctx context.Context) error {
			stopProber()
			if loader != nil {
				loader.Close()
			}
			return telemetryShutdown(ctx)
		},
	}, nil
}

// registerProviders wires the configured adapters and seeds a descriptor per
// configured model. Everything starts unavailable; the first probe pass
// flips whatever is actually reachable.
func registerProviders(reg *registry.Registry, cfg config.ProvidersConfig) {
	ollama := provider.NewOllama(cfg.OllamaEndpoint, cfg.MaxConcurrentLocal, cfg.CallTimeout)
	reg.RegisterAdapter(ollama)
	for _, m := range cfg.OllamaModels {
		reg.Register(models.ModelDescriptor{
			Provider: "ollama", Model: m, Kind: models.KindTextGeneration,
			CostClass: "free", LatencyClass: "local",
		})
	}
	for _, m := range cfg.OllamaEmbedModels {
		reg.Register(models.ModelDescriptor{
			Provider: "ollama", Model: m, Kind: models.KindEmbedding,
			CostClass: "free", LatencyClass: "local",
		})
	}

	openai := provider.NewOpenAI(cfg.OpenAIEndpoint, cfg.OpenAIKey, cfg.MaxConcurrentCloud, cfg.CallTimeout)
	reg.RegisterAdapter(openai)
	for _, m := range cfg.OpenAIModels {
		reg.Register(models.ModelDescriptor{
			Provider: "openai", Model: m, Kind: models.KindTextGeneration,
			CostClass: "metered", LatencyClass: "fast",
		})
	}
	for _, m := range cfg.OpenAIEmbedModels {
		reg.Register(models.ModelDescriptor{
			Provider: "openai", Model: m, Kind: models.KindEmbedding,
			CostClass: "metered", LatencyClass: "fast",
		})
	}

	anthropic := provider.NewAnthropic(cfg.AnthropicEndpoint, cfg.AnthropicKey, cfg.MaxConcurrentCloud, cfg.CallTimeout)
	reg.RegisterAdapter(anthropic)
	// Anthropic has no embedding endpoint, so only text descriptors.
	for _, m := range cfg.AnthropicModels {
		reg.Register(models.ModelDescriptor{
			Provider: "anthropic", Model: m, Kind: models.KindTextGeneration,
			CostClass: "metered", LatencyClass: "fast",
		})
	}
}
