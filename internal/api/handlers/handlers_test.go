package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/inkstone-ai/inkstone/internal/api"
	"github.com/inkstone-ai/inkstone/internal/api/handlers"
	"github.com/inkstone-ai/inkstone/internal/config"
	"github.com/inkstone-ai/inkstone/internal/core"
	"github.com/inkstone-ai/inkstone/internal/manager"
	"github.com/inkstone-ai/inkstone/internal/provider"
	"github.com/inkstone-ai/inkstone/internal/query"
	"github.com/inkstone-ai/inkstone/internal/registry"
	"github.com/inkstone-ai/inkstone/internal/safety"
	"github.com/inkstone-ai/inkstone/internal/store"
	"github.com/inkstone-ai/inkstone/internal/workflow"
	"github.com/inkstone-ai/inkstone/pkg/models"
)

// scriptedAdapter returns canned generations in order, repeating the last.
type scriptedAdapter struct {
	outputs []string
	calls   int
}

func (a *scriptedAdapter) Name() string { return "mock" }

func (a *scriptedAdapter) Generate(ctx context.Context, model string, req *models.GenerationRequest) (*models.GeneratedText, error) {
	i := a.calls
	a.calls++
	if i >= len(a.outputs) {
		i = len(a.outputs) - 1
	}
	return &models.GeneratedText{
		Content:  a.outputs[i],
		Provider: "mock",
		Model:    model,
		Usage:    models.TokenUsage{TotalTokens: 11},
	}, nil
}

func (a *scriptedAdapter) Embed(ctx context.Context, model, text string) ([]float64, error) {
	return []float64{0.5, 0.5}, nil
}

func (a *scriptedAdapter) HealthCheck(ctx context.Context) error { return nil }
func (a *scriptedAdapter) Stats() provider.Stats                 { return provider.Stats{} }

// newTestServer wires the full stack over a scripted adapter. Models start
// available unless markDown is set.
func newTestServer(t *testing.T, outputs []string, markDown bool) *httptest.Server {
	t.Helper()

	reg := registry.New()
	reg.RegisterAdapter(&scriptedAdapter{outputs: outputs})
	reg.Register(models.ModelDescriptor{Provider: "mock", Model: "m1", Kind: models.KindTextGeneration})
	reg.Register(models.ModelDescriptor{Provider: "mock", Model: "e1", Kind: models.KindEmbedding})
	if !markDown {
		reg.MarkAvailable("mock/m1")
		reg.MarkAvailable("mock/e1")
	}

	mgr := manager.New(reg, config.RoutingConfig{
		TextChain:        []string{"mock/m1"},
		EmbedChain:       []string{"mock/e1"},
		BreakerThreshold: 3,
		BreakerWindow:    time.Minute,
	})
	dataStore := store.NewMemoryStore()
	engine := workflow.NewEngine(mgr, dataStore, config.WorkflowConfig{QualityThreshold: 0.8, MaxIterations: 3})
	analyzer := workflow.NewAnalyzer(mgr)
	pipeline := query.New(mgr, safety.New(10000), dataStore)
	svc := core.NewService(mgr, engine, analyzer, pipeline, reg, dataStore)

	srv := httptest.NewServer(api.NewRouter(handlers.New(svc, nil, "test")))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// ─── Health & version ────────────────────────────────────────

func TestHealthReflectsAvailability(t *testing.T) {
	up := newTestServer(t, []string{"ok"}, false)
	resp, err := http.Get(up.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthy server: status = %d, want 200", resp.StatusCode)
	}

	down := newTestServer(t, []string{"ok"}, true)
	resp, err = http.Get(down.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("degraded server: status = %d, want 503", resp.StatusCode)
	}
}

func TestVersionEndpoint(t *testing.T) {
	srv := newTestServer(t, []string{"ok"}, false)
	resp, err := http.Get(srv.URL + "/version")
	if err != nil {
		t.Fatalf("GET /version error = %v", err)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["version"] != "test" {
		t.Errorf("version = %q, want %q", body["version"], "test")
	}
}

// ─── Models ──────────────────────────────────────────────────

func TestListModelsEndpoint(t *testing.T) {
	srv := newTestServer(t, []string{"ok"}, false)
	resp, err := http.Get(srv.URL + "/api/v1/models")
	if err != nil {
		t.Fatalf("GET /api/v1/models error = %v", err)
	}
	var got []models.ModelDescriptor
	decode(t, resp, &got)
	if len(got) != 2 {
		t.Fatalf("models = %d, want 2", len(got))
	}
}

func TestInstallerHookUpdatesStatus(t *testing.T) {
	srv := newTestServer(t, []string{"ok"}, false)

	resp := postJSON(t, srv.URL+"/api/v1/models/mock/m1/status", map[string]string{"status": "installing"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("installer hook status = %d, want 200", resp.StatusCode)
	}

	listResp, _ := http.Get(srv.URL + "/api/v1/models")
	var got []models.ModelDescriptor
	decode(t, listResp, &got)
	for _, d := range got {
		if d.ID == "mock/m1" && d.Status != models.StatusInstalling {
			t.Errorf("mock/m1 status = %q, want installing", d.Status)
		}
	}

	bad := postJSON(t, srv.URL+"/api/v1/models/mock/m1/status", map[string]string{"status": "melted"})
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid status accepted: %d", bad.StatusCode)
	}
}

// ─── Generate ────────────────────────────────────────────────

func TestGenerateEndpoint(t *testing.T) {
	srv := newTestServer(t, []string{
		"Container orchestration schedules workloads across a cluster of machines. " +
			"The scheduler watches for unassigned workloads and places each one on a node " +
			"with enough free capacity, respecting resource requests and constraints.\n\n" +
			"Failed nodes are detected through missing heartbeats, and their workloads are " +
			"rescheduled on healthy machines automatically. This self-healing rescheduling " +
			"behavior keeps services running through hardware failures, which is the main " +
			"reason operators adopt orchestration systems for production clusters instead " +
			"of supervising processes by hand on individual servers.",
	}, false)

	resp := postJSON(t, srv.URL+"/api/v1/generate", map[string]string{
		"prompt": "Explain container orchestration scheduling and rescheduling",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /generate status = %d, want 200", resp.StatusCode)
	}
	var result models.WorkflowResult
	decode(t, resp, &result)
	if result.Stage != models.StageFinalized {
		t.Errorf("Stage = %q, want finalized", result.Stage)
	}
	if result.Content == "" {
		t.Error("Content is empty")
	}
}

func TestGenerateExhaustedMapsTo503(t *testing.T) {
	srv := newTestServer(t, []string{"ok"}, true)

	resp := postJSON(t, srv.URL+"/api/v1/generate", map[string]string{"prompt": "anything"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when all providers are down", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["code"] != "all_providers_exhausted" {
		t.Errorf("code = %q, want all_providers_exhausted", body["code"])
	}
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	srv := newTestServer(t, []string{"ok"}, false)

	resp := postJSON(t, srv.URL+"/api/v1/generate", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing prompt", resp.StatusCode)
	}

	// Whitespace-only input is a client error, not an upstream failure.
	resp = postJSON(t, srv.URL+"/api/v1/generate", map[string]string{"prompt": "   \n\t"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for whitespace-only prompt", resp.StatusCode)
	}
}

// ─── Query ───────────────────────────────────────────────────

func TestQueryBlockedMapsTo422(t *testing.T) {
	srv := newTestServer(t, []string{"DELETE FROM users"}, false)

	resp := postJSON(t, srv.URL+"/api/v1/query", map[string]interface{}{
		"question": "delete inactive users",
		"schema": map[string]interface{}{
			"tables": []map[string]interface{}{
				{"name": "users", "columns": []string{"id", "active"}},
			},
		},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for blocked SQL", resp.StatusCode)
	}
	var result models.QueryResult
	decode(t, resp, &result)
	if result.SQL != "" {
		t.Errorf("SQL = %q, must be withheld", result.SQL)
	}
	if len(result.SafetyFlags) == 0 {
		t.Error("SafetyFlags empty in blocked response")
	}
}

func TestQueryRequiresSchema(t *testing.T) {
	srv := newTestServer(t, []string{"SELECT 1"}, false)
	resp := postJSON(t, srv.URL+"/api/v1/query", map[string]string{"question": "show users"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without schema or introspection", resp.StatusCode)
	}
}

func TestQueryRejectsEmptyTableName(t *testing.T) {
	srv := newTestServer(t, []string{"SELECT 1"}, false)

	resp := postJSON(t, srv.URL+"/api/v1/query", map[string]interface{}{
		"question": "show users",
		"schema": map[string]interface{}{
			"tables": []map[string]interface{}{
				{"name": "", "columns": []string{"x"}},
			},
		},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an empty table name", resp.StatusCode)
	}
}

// ─── Embed ───────────────────────────────────────────────────

func TestEmbedEndpoint(t *testing.T) {
	srv := newTestServer(t, []string{"ok"}, false)

	resp := postJSON(t, srv.URL+"/api/v1/embed", map[string]string{"text": "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Model     string    `json:"model"`
		Embedding []float64 `json:"embedding"`
		Dimension int       `json:"dimension"`
	}
	decode(t, resp, &body)
	if body.Model != "mock/e1" {
		t.Errorf("model = %q, want mock/e1", body.Model)
	}
	if body.Dimension != 2 || len(body.Embedding) != 2 {
		t.Errorf("dimension = %d embedding = %v, want 2 values", body.Dimension, body.Embedding)
	}
}

// ─── Observability ───────────────────────────────────────────

func TestTracesRecordedAcrossOperations(t *testing.T) {
	srv := newTestServer(t, []string{"ok"}, false)

	resp := postJSON(t, srv.URL+"/api/v1/embed", map[string]string{"text": "hello"})
	resp.Body.Close()

	tracesResp, err := http.Get(srv.URL + "/api/v1/traces?operation=embed")
	if err != nil {
		t.Fatalf("GET /api/v1/traces error = %v", err)
	}
	var traces []models.Trace
	decode(t, tracesResp, &traces)
	if len(traces) != 1 {
		t.Fatalf("traces = %d, want 1 embed trace", len(traces))
	}
	if traces[0].Status != "completed" {
		t.Errorf("trace status = %q, want completed", traces[0].Status)
	}

	// Generation traces carry the run's token usage.
	resp = postJSON(t, srv.URL+"/api/v1/generate", map[string]string{"prompt": "say ok"})
	resp.Body.Close()

	genResp, err := http.Get(srv.URL + "/api/v1/traces?operation=generate")
	if err != nil {
		t.Fatalf("GET /api/v1/traces error = %v", err)
	}
	decode(t, genResp, &traces)
	if len(traces) != 1 {
		t.Fatalf("traces = %d, want 1 generate trace", len(traces))
	}
	if traces[0].Tokens == 0 {
		t.Error("generate trace has zero tokens, want recorded usage")
	}
}
