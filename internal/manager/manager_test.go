package manager_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/inkstone-ai/inkstone/internal/config"
	"github.com/inkstone-ai/inkstone/internal/manager"
	"github.com/inkstone-ai/inkstone/internal/provider"
	"github.com/inkstone-ai/inkstone/internal/registry"
	"github.com/inkstone-ai/inkstone/pkg/models"
)

// mockAdapter scripts provider behavior per call. When failFirst is set,
// genErr applies only to the first failFirst calls.
type mockAdapter struct {
	name      string
	genErr    error
	failFirst int
	embedErr  error
	genCalls  int
	embedCals int
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Generate(ctx context.Context, model string, req *models.GenerationRequest) (*models.GeneratedText, error) {
	m.genCalls++
	if m.genErr != nil && (m.failFirst == 0 || m.genCalls <= m.failFirst) {
		return nil, m.genErr
	}
	return &models.GeneratedText{Content: "ok from " + m.name, Provider: m.name, Model: model}, nil
}

func (m *mockAdapter) Embed(ctx context.Context, model, text string) ([]float64, error) {
	m.embedCals++
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	return []float64{0.1, 0.2, 0.3}, nil
}

func (m *mockAdapter) HealthCheck(ctx context.Context) error { return nil }
func (m *mockAdapter) Stats() provider.Stats                 { return provider.Stats{} }

// newTestSetup builds a registry with two text models (alpha first in the
// chain) and returns the manager plus the adapters for scripting.
func newTestSetup(t *testing.T) (*manager.Manager, *registry.Registry, *mockAdapter, *mockAdapter) {
	t.Helper()

	reg := registry.New()
	alpha := &mockAdapter{name: "alpha"}
	beta := &mockAdapter{name: "beta"}
	reg.RegisterAdapter(alpha)
	reg.RegisterAdapter(beta)

	reg.Register(models.ModelDescriptor{Provider: "alpha", Model: "m1", Kind: models.KindTextGeneration})
	reg.Register(models.ModelDescriptor{Provider: "beta", Model: "m2", Kind: models.KindTextGeneration})
	reg.Register(models.ModelDescriptor{Provider: "alpha", Model: "e1", Kind: models.KindEmbedding})
	reg.MarkAvailable("alpha/m1")
	reg.MarkAvailable("beta/m2")
	reg.MarkAvailable("alpha/e1")

	mgr := manager.New(reg, config.RoutingConfig{
		TextChain:        []string{"alpha/m1", "beta/m2"},
		EmbedChain:       []string{"alpha/e1"},
		BreakerThreshold: 3,
		BreakerWindow:    time.Minute,
		RetryCount:       0,
	})
	return mgr, reg, alpha, beta
}

// ─── Fallback ────────────────────────────────────────────────

func TestGeneratePrefersFirstChainEntry(t *testing.T) {
	mgr, _, alpha, beta := newTestSetup(t)

	out, err := mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Provider != "alpha" {
		t.Errorf("Provider = %q, want %q", out.Provider, "alpha")
	}
	if alpha.genCalls != 1 || beta.genCalls != 0 {
		t.Errorf("calls alpha=%d beta=%d, want 1/0", alpha.genCalls, beta.genCalls)
	}
}

func TestGenerateFallsBackOnRecoverableError(t *testing.T) {
	mgr, _, alpha, beta := newTestSetup(t)
	alpha.genErr = fmt.Errorf("boom: %w", provider.ErrUnavailable)

	out, err := mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Provider != "beta" {
		t.Errorf("Provider = %q, want fallback to %q", out.Provider, "beta")
	}
	if alpha.genCalls != 1 || beta.genCalls != 1 {
		t.Errorf("calls alpha=%d beta=%d, want 1/1", alpha.genCalls, beta.genCalls)
	}
}

func TestGenerateExplicitPreferenceTriedFirst(t *testing.T) {
	mgr, _, alpha, beta := newTestSetup(t)

	out, err := mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi", Model: "beta/m2"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Provider != "beta" {
		t.Errorf("Provider = %q, want preferred %q", out.Provider, "beta")
	}
	if alpha.genCalls != 0 || beta.genCalls != 1 {
		t.Errorf("calls alpha=%d beta=%d, want 0/1", alpha.genCalls, beta.genCalls)
	}
}

func TestGenerateAllExhausted(t *testing.T) {
	mgr, _, alpha, beta := newTestSetup(t)
	alpha.genErr = fmt.Errorf("a: %w", provider.ErrUnavailable)
	beta.genErr = fmt.Errorf("b: %w", provider.ErrTimeout)

	_, err := mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"})
	if !errors.Is(err, manager.ErrAllProvidersExhausted) {
		t.Fatalf("Generate() error = %v, want ErrAllProvidersExhausted", err)
	}
}

func TestGenerateNonRecoverableStopsWalk(t *testing.T) {
	mgr, _, alpha, beta := newTestSetup(t)
	alpha.genErr = errors.New("alpha: status 400: bad request")

	_, err := mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("Generate() error = nil, want permanent error")
	}
	if errors.Is(err, manager.ErrAllProvidersExhausted) {
		t.Errorf("error = %v, permanent failure must not read as exhaustion", err)
	}
	if beta.genCalls != 0 {
		t.Errorf("beta called %d times after permanent error, want 0", beta.genCalls)
	}
}

// ─── Same-provider retry ─────────────────────────────────────

func TestRetryRecoversTransportBlipOnSameProvider(t *testing.T) {
	_, reg, alpha, beta := newTestSetup(t)
	mgr := manager.New(reg, config.RoutingConfig{
		TextChain:        []string{"alpha/m1", "beta/m2"},
		BreakerThreshold: 3,
		BreakerWindow:    time.Minute,
		RetryCount:       1,
	})

	alpha.genErr = fmt.Errorf("dial tcp: refused: %w", provider.ErrUnavailable)
	alpha.failFirst = 1

	out, err := mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out.Provider != "alpha" {
		t.Errorf("Provider = %q, want retried %q", out.Provider, "alpha")
	}
	if alpha.genCalls != 2 || beta.genCalls != 0 {
		t.Errorf("calls alpha=%d beta=%d, want 2/0 (one retry, no fallback)", alpha.genCalls, beta.genCalls)
	}
}

func TestRateLimitAndTimeoutAdvanceChainWithoutRetry(t *testing.T) {
	for _, tt := range []struct {
		name string
		err  error
	}{
		{"rate limited", fmt.Errorf("status 429: %w", provider.ErrRateLimited)},
		{"timeout", fmt.Errorf("request timed out: %w", provider.ErrTimeout)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, reg, alpha, _ := newTestSetup(t)
			mgr := manager.New(reg, config.RoutingConfig{
				TextChain:        []string{"alpha/m1", "beta/m2"},
				BreakerThreshold: 3,
				BreakerWindow:    time.Minute,
				RetryCount:       1,
			})
			alpha.genErr = tt.err

			out, err := mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"})
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if out.Provider != "beta" {
				t.Errorf("Provider = %q, want fallback to %q", out.Provider, "beta")
			}
			if alpha.genCalls != 1 {
				t.Errorf("alpha called %d times, must not be retried", alpha.genCalls)
			}
		})
	}
}

// ─── Circuit breaker ─────────────────────────────────────────

func TestBreakerTripsAfterThreshold(t *testing.T) {
	mgr, reg, alpha, _ := newTestSetup(t)
	alpha.genErr = fmt.Errorf("down: %w", provider.ErrUnavailable)

	for i := 0; i < 3; i++ {
		if _, err := mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"}); err != nil {
			t.Fatalf("Generate() #%d error = %v (beta should serve)", i, err)
		}
	}

	d, ok := reg.Get("alpha/m1")
	if !ok {
		t.Fatal("alpha/m1 disappeared from registry")
	}
	if d.Status != models.StatusUnavailable {
		t.Fatalf("alpha/m1 status = %q after 3 failures, want unavailable", d.Status)
	}

	// Tripped models are skipped without a call.
	before := alpha.genCalls
	if _, err := mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("Generate() after trip error = %v", err)
	}
	if alpha.genCalls != before {
		t.Errorf("alpha called while tripped: %d → %d calls", before, alpha.genCalls)
	}
}

func TestBreakerSuccessResetsWindow(t *testing.T) {
	mgr, reg, alpha, _ := newTestSetup(t)

	fail := fmt.Errorf("down: %w", provider.ErrUnavailable)
	for i := 0; i < 2; i++ {
		alpha.genErr = fail
		mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"})
	}
	alpha.genErr = nil
	if _, err := mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// Two more failures must not trip a breaker with threshold 3.
	alpha.genErr = fail
	for i := 0; i < 2; i++ {
		mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"})
	}
	if d, _ := reg.Get("alpha/m1"); d.Status != models.StatusAvailable {
		t.Errorf("alpha/m1 status = %q, success should have reset the failure window", d.Status)
	}
}

// ─── No-call guarantees ──────────────────────────────────────

func TestNoNetworkCallWhenAllUnavailable(t *testing.T) {
	mgr, reg, alpha, beta := newTestSetup(t)
	reg.MarkUnavailable("alpha/m1", "down")
	reg.MarkUnavailable("beta/m2", "down")

	_, err := mgr.Generate(context.Background(), &models.GenerationRequest{Prompt: "hi"})
	if !errors.Is(err, manager.ErrAllProvidersExhausted) {
		t.Fatalf("Generate() error = %v, want ErrAllProvidersExhausted", err)
	}
	if alpha.genCalls != 0 || beta.genCalls != 0 {
		t.Errorf("adapters called (alpha=%d beta=%d) while everything unavailable", alpha.genCalls, beta.genCalls)
	}
}

// ─── Embeddings ──────────────────────────────────────────────

func TestEmbedReportsServingModel(t *testing.T) {
	mgr, _, _, _ := newTestSetup(t)

	vec, id, err := mgr.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("len(vec) = %d, want 3", len(vec))
	}
	if id != "alpha/e1" {
		t.Errorf("served by %q, want %q", id, "alpha/e1")
	}
}

func TestEmbedExhaustedWhenChainEmpty(t *testing.T) {
	reg := registry.New()
	mgr := manager.New(reg, config.RoutingConfig{})

	_, _, err := mgr.Embed(context.Background(), "hello")
	if !errors.Is(err, manager.ErrAllProvidersExhausted) {
		t.Fatalf("Embed() error = %v, want ErrAllProvidersExhausted", err)
	}
}
