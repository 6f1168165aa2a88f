// Package models contains the shared data model for the Inkstone AI core:
// model descriptors, generation and query requests, workflow state, safety
// flags, and the trace/run records used for observability.
package models

import "time"

// ── Model Catalog ───────────────────────────────────────────

// ModelKind classifies what a model can do.
type ModelKind string

const (
	KindTextGeneration ModelKind = "text-generation"
	KindEmbedding      ModelKind = "embedding"
)

// ModelStatus is the live availability of a model.
type ModelStatus string

const (
	StatusAvailable   ModelStatus = "available"
	StatusUnavailable ModelStatus = "unavailable"
	StatusInstalling  ModelStatus = "installing"
)

// ModelDescriptor identifies one provider/model pair and its live health.
// Descriptors are owned by the registry; the manager and the health prober
// are the only writers of Status.
type ModelDescriptor struct {
	// ID is "provider/model", e.g. "ollama/llama3:8b".
	ID       string      `json:"id"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Kind     ModelKind   `json:"kind"`
	Status   ModelStatus `json:"status"`

	// CostClass and LatencyClass are coarse buckets ("free", "cheap",
	// "premium" / "local", "fast", "slow") used for display and selection.
	CostClass    string `json:"cost_class,omitempty"`
	LatencyClass string `json:"latency_class,omitempty"`

	// LastProbe is when the health prober last checked this model.
	LastProbe time.Time `json:"last_probe,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// DescriptorID builds the canonical descriptor ID.
func DescriptorID(provider, model string) string {
	return provider + "/" + model
}

// ── Generation ──────────────────────────────────────────────

// GenerationRequest is an immutable request for text generation.
type GenerationRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// Model is an optional explicit preference ("provider/model").
	// When set and available it is tried before the fallback chain.
	Model string `json:"model,omitempty"`
}

// TokenUsage reports token counts for a single provider call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// GeneratedText is the result of a single provider generation call.
type GeneratedText struct {
	Content   string     `json:"content"`
	Provider  string     `json:"provider"`
	Model     string     `json:"model"`
	Usage     TokenUsage `json:"usage"`
	LatencyMs int64      `json:"latency_ms"`
}

// ── Content Generation Workflow ─────────────────────────────

// WorkflowStage is one stage of the content generation state machine.
type WorkflowStage string

const (
	StageGenerating WorkflowStage = "generating"
	StageEvaluating WorkflowStage = "evaluating"
	StageFeedback   WorkflowStage = "feedback"
	StageRefining   WorkflowStage = "refining"
	StageFinalized  WorkflowStage = "finalized"
	StageFailed     WorkflowStage = "failed"
)

// Terminal reports whether the stage ends the workflow.
func (s WorkflowStage) Terminal() bool {
	return s == StageFinalized || s == StageFailed
}

// WorkflowState is the mutable state of one content generation run.
// It is created per request, mutated only by the workflow driver, and
// discarded (after being recorded as a WorkflowRun) when the run ends.
type WorkflowState struct {
	Stage    WorkflowStage `json:"stage"`
	Content  string        `json:"content,omitempty"`
	Score    float64       `json:"score"`
	Feedback string        `json:"feedback,omitempty"`
	Attempts int           `json:"attempts"`
}

// WorkflowResult is what the content generation workflow returns.
// A Finalized result with a low score and Attempts == max iterations is a
// success, not a failure; callers can distinguish it by Score.
type WorkflowResult struct {
	Stage    WorkflowStage `json:"stage"`
	Content  string        `json:"content,omitempty"`
	Score    float64       `json:"score"`
	Attempts int           `json:"attempts"`
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model,omitempty"`

	// Tokens is the total token usage across every model call in the run.
	Tokens int64 `json:"tokens,omitempty"`

	// Error carries diagnostic detail when Stage == failed.
	Error string `json:"error,omitempty"`
}

// ── Analysis ────────────────────────────────────────────────

// AnalysisType selects the single-shot analysis performed on content.
type AnalysisType string

const (
	AnalysisSummary   AnalysisType = "summary"
	AnalysisKeywords  AnalysisType = "keywords"
	AnalysisSentiment AnalysisType = "sentiment"
)

// AnalysisResult is the output of a single-shot analysis call.
type AnalysisResult struct {
	Type     AnalysisType `json:"type"`
	Result   string       `json:"result"`
	Keywords []string     `json:"keywords,omitempty"`
	Provider string       `json:"provider,omitempty"`
	Model    string       `json:"model,omitempty"`
	Tokens   int64        `json:"tokens,omitempty"`
}

// ── Database Query Workflow ─────────────────────────────────

// SchemaTable describes one table available to the query workflow.
type SchemaTable struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`

	// RowEstimate is an approximate row count used by the full-scan
	// warning heuristic. Zero means unknown (treated as small).
	RowEstimate int64 `json:"row_estimate,omitempty"`
}

// Schema is the table/column universe a generated statement may reference.
type Schema struct {
	Tables []SchemaTable `json:"tables"`
}

// Table returns the named table, or nil. Matching is case-insensitive
// at the validator level; this helper is exact.
func (s *Schema) Table(name string) *SchemaTable {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// QueryRequest is an immutable natural-language query request.
type QueryRequest struct {
	Question string `json:"question"`
	Schema   Schema `json:"schema"`

	// MaxAlternatives caps the alternative formulations produced (0–2).
	MaxAlternatives int `json:"max_alternatives,omitempty"`
}

// SafetySeverity ranks a safety flag.
type SafetySeverity string

const (
	SeverityCritical SafetySeverity = "critical"
	SeverityWarning  SafetySeverity = "warning"
)

// SafetyFlag is one finding from the safety validator. Messages describe
// the problem but never quote the statement itself.
type SafetyFlag struct {
	Code     string         `json:"code"`
	Severity SafetySeverity `json:"severity"`
	Message  string         `json:"message"`
}

// QueryResult is the outcome of the database query workflow.
// SQL is empty whenever SafetyFlags contains a critical entry: the
// statement is withheld, never returned alongside the flags.
type QueryResult struct {
	SQL          string       `json:"sql,omitempty"`
	Explanation  string       `json:"explanation,omitempty"`
	Alternatives []string     `json:"alternatives,omitempty"`
	SafetyFlags  []SafetyFlag `json:"safety_flags"`

	// Tables are the schema tables the intent analysis implicated.
	Tables []string `json:"tables,omitempty"`

	// Tokens is the total token usage across every model call in the run.
	Tokens int64 `json:"tokens,omitempty"`
}

// Blocked reports whether the result carries a critical flag.
func (r *QueryResult) Blocked() bool {
	for _, f := range r.SafetyFlags {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ── Observability Records ───────────────────────────────────

// Trace records one completed provider call for observability.
type Trace struct {
	ID         string                 `json:"id"`
	Operation  string                 `json:"operation"` // generate, analyze, query, embed
	Provider   string                 `json:"provider"`
	Model      string                 `json:"model"`
	Status     string                 `json:"status"` // completed, error
	DurationMs int64                  `json:"duration_ms"`
	Tokens     int64                  `json:"tokens,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// WorkflowRun records one finished workflow execution (content generation
// or database query) for diagnostics. Runs are in-memory only; the core is
// stateless across restarts.
type WorkflowRun struct {
	ID          string        `json:"id"`
	Kind        string        `json:"kind"` // generate, query
	Stage       WorkflowStage `json:"stage,omitempty"`
	Status      string        `json:"status"` // completed, failed
	Input       string        `json:"input"`
	Output      string        `json:"output,omitempty"`
	Score       float64       `json:"score,omitempty"`
	Attempts    int           `json:"attempts,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	DurationMs  int64         `json:"duration_ms"`
}
