// Package query implements the natural-language database query pipeline:
// intent analysis, SQL generation, syntax validation with one bounded
// regeneration, the safety gate, a plain-language explanation, and optional
// alternative formulations.
//
// The pipeline never executes SQL. Unsafe statements are an outcome, not an
// error: the caller receives the safety flags with the SQL withheld.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/xwb1989/sqlparser"

	"github.com/inkstone-ai/inkstone/internal/safety"
	"github.com/inkstone-ai/inkstone/internal/store"
	"github.com/inkstone-ai/inkstone/pkg/models"
)

// ErrSQLGenerationFailed is returned when the model cannot produce a
// syntactically valid statement within the regeneration budget.
var ErrSQLGenerationFailed = errors.New("sql generation failed")

// Generator is the slice of the model manager the pipeline needs.
type Generator interface {
	Generate(ctx context.Context, req *models.GenerationRequest) (*models.GeneratedText, error)
}

// Pipeline runs natural-language questions through to validated SQL.
type Pipeline struct {
	gen       Generator
	validator *safety.Validator
	store     store.Store
}

// New creates a query pipeline.
func New(gen Generator, validator *safety.Validator, s store.Store) *Pipeline {
	return &Pipeline{gen: gen, validator: validator, store: s}
}

// maxAlternativesCap bounds the alternatives regardless of the request.
const maxAlternativesCap = 2

const sqlSystem = "You are a SQL expert. Respond with exactly one SQL statement and nothing else. No markdown, no explanation."

// Run executes the full pipeline. Provider errors and generation failures
// are returned as errors; safety rejections come back as a result with
// critical flags and the SQL withheld.
func (p *Pipeline) Run(ctx context.Context, req *models.QueryRequest) (*models.QueryResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	runID := uuid.New().String()
	startedAt := time.Now().UTC()

	// Intent: which schema tables does the question implicate.
	tables := implicatedTables(req.Question, &req.Schema)

	// Generate, with one regeneration on a parse failure.
	sql, stmt, tokens, err := p.generateSQL(ctx, req, tables)
	if err != nil {
		p.recordRun(runID, req.Question, nil, err, startedAt)
		return nil, err
	}

	result := &models.QueryResult{
		SafetyFlags: p.validator.Validate(sql, &req.Schema),
		Tables:      tables,
		Tokens:      tokens,
	}

	// Safety gate: critical flags withhold the statement entirely.
	if result.Blocked() {
		log.Warn().
			Str("run_id", runID).
			Int("flags", len(result.SafetyFlags)).
			Msg("Generated SQL blocked by safety gate")
		p.recordRun(runID, req.Question, result, nil, startedAt)
		return result, nil
	}
	result.SQL = sql

	// Explanation: model first, deterministic AST description as fallback.
	explanation, explainTokens := p.explain(ctx, sql, stmt)
	result.Explanation = explanation
	result.Tokens += explainTokens

	// Alternatives are best-effort; failures and unsafe candidates are
	// dropped without affecting the primary result.
	alternatives, altTokens := p.alternatives(ctx, req, sql, tables)
	result.Alternatives = alternatives
	result.Tokens += altTokens

	p.recordRun(runID, req.Question, result, nil, startedAt)
	return result, nil
}

// ── SQL Generation ──────────────────────────────────────────

// generateSQL asks the model for a statement and verifies it parses. On a
// parse failure it regenerates once, handing the parse error back as
// context. A second failure is ErrSQLGenerationFailed.
func (p *Pipeline) generateSQL(ctx context.Context, req *models.QueryRequest, tables []string) (string, sqlparser.Statement, int64, error) {
	prompt := p.buildPrompt(req, tables)

	raw, err := p.gen.Generate(ctx, &models.GenerationRequest{
		Prompt: prompt,
		System: sqlSystem,
	})
	if err != nil {
		return "", nil, 0, err
	}
	tokens := raw.Usage.TotalTokens

	sql := cleanSQL(raw.Content)
	stmt, parseErr := sqlparser.Parse(sql)
	if parseErr == nil {
		return sql, stmt, tokens, nil
	}

	log.Debug().Err(parseErr).Msg("Generated SQL failed to parse, regenerating")

	retry, err := p.gen.Generate(ctx, &models.GenerationRequest{
		Prompt: fmt.Sprintf("%s\n\nYour previous attempt failed to parse with error: %v\nProduce a corrected statement.", prompt, parseErr),
		System: sqlSystem,
	})
	if err != nil {
		return "", nil, 0, err
	}
	tokens += retry.Usage.TotalTokens

	sql = cleanSQL(retry.Content)
	stmt, parseErr = sqlparser.Parse(sql)
	if parseErr != nil {
		return "", nil, 0, fmt.Errorf("statement does not parse after regeneration: %v: %w", parseErr, ErrSQLGenerationFailed)
	}
	return sql, stmt, tokens, nil
}

func (p *Pipeline) buildPrompt(req *models.QueryRequest, tables []string) string {
	var b strings.Builder
	b.WriteString("Given this database schema:\n\n")
	for _, t := range req.Schema.Tables {
		b.WriteString(t.Name)
		b.WriteString(" (")
		b.WriteString(strings.Join(t.Columns, ", "))
		b.WriteString(")\n")
	}
	if len(tables) > 0 {
		b.WriteString("\nThe question most likely concerns: ")
		b.WriteString(strings.Join(tables, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\nWrite a SQL statement answering: ")
	b.WriteString(req.Question)
	return b.String()
}

// cleanSQL strips markdown fences and trailing prose the model may add.
func cleanSQL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		if i := strings.Index(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	s = strings.TrimSpace(s)
	return strings.TrimSuffix(s, ";")
}

// ── Intent ──────────────────────────────────────────────────

// implicatedTables matches schema table names against the question. A table
// matches on its exact name or a naive singular form. Tables with an empty
// name are skipped; they cannot match anything.
func implicatedTables(question string, schema *models.Schema) []string {
	lower := " " + strings.ToLower(question) + " "
	var out []string
	for _, t := range schema.Tables {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			continue
		}
		singular := strings.TrimSuffix(name, "s")
		if containsWord(lower, name) || (singular != name && containsWord(lower, singular)) {
			out = append(out, t.Name)
		}
	}
	return out
}

func containsWord(haystack, word string) bool {
	if word == "" {
		return false
	}
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := byte(' ')
		if i > 0 {
			before = haystack[i-1]
		}
		afterIdx := i + len(word)
		after := byte(' ')
		if afterIdx < len(haystack) {
			after = haystack[afterIdx]
		}
		if !isWordByte(before) && !isWordByte(after) {
			return true
		}
		idx = i + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

// ── Explanation ─────────────────────────────────────────────

// explain asks the model for a plain-language explanation; when that call
// fails the deterministic AST description stands in.
func (p *Pipeline) explain(ctx context.Context, sql string, stmt sqlparser.Statement) (string, int64) {
	out, err := p.gen.Generate(ctx, &models.GenerationRequest{
		Prompt: "Explain in one or two plain sentences, for a non-technical reader, what this SQL statement does:\n\n" + sql,
		System: "You explain SQL to non-technical readers. Be brief and concrete.",
	})
	if err == nil && strings.TrimSpace(out.Content) != "" {
		return strings.TrimSpace(out.Content), out.Usage.TotalTokens
	}
	log.Debug().Err(err).Msg("Explanation call failed, using structural description")
	return describeStatement(stmt), 0
}

// describeStatement derives a minimal explanation from the AST alone.
func describeStatement(stmt sqlparser.Statement) string {
	switch s := stmt.(type) {
	case *sqlparser.Select:
		var cols []string
		star := false
		for _, expr := range s.SelectExprs {
			switch e := expr.(type) {
			case *sqlparser.StarExpr:
				star = true
			case *sqlparser.AliasedExpr:
				if c, ok := e.Expr.(*sqlparser.ColName); ok {
					cols = append(cols, c.Name.String())
				}
			}
		}

		var tables []string
		_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
			if tn, ok := node.(sqlparser.TableName); ok {
				if name := tn.Name.String(); name != "" {
					tables = append(tables, name)
				}
			}
			return true, nil
		}, s.From)

		var b strings.Builder
		b.WriteString("Reads ")
		switch {
		case star:
			b.WriteString("all columns")
		case len(cols) > 0:
			b.WriteString(strings.Join(cols, ", "))
		default:
			b.WriteString("computed values")
		}
		if len(tables) > 0 {
			b.WriteString(" from ")
			b.WriteString(strings.Join(tables, ", "))
		}
		if s.Where != nil {
			b.WriteString(", filtered by a condition")
		}
		if s.Limit != nil {
			b.WriteString(", limited to a fixed number of rows")
		}
		b.WriteString(".")
		return b.String()

	case *sqlparser.Insert:
		return "Inserts new rows into a table."
	case *sqlparser.Update:
		return "Updates existing rows in a table."
	case *sqlparser.Delete:
		return "Deletes rows from a table."
	default:
		return "Performs a database operation."
	}
}

// ── Alternatives ────────────────────────────────────────────

// alternatives asks for up to the requested number of different
// formulations. Each candidate must parse, pass the safety gate, and differ
// from the primary; anything else is dropped silently.
func (p *Pipeline) alternatives(ctx context.Context, req *models.QueryRequest, primary string, tables []string) ([]string, int64) {
	n := req.MaxAlternatives
	if n <= 0 {
		return nil, 0
	}
	if n > maxAlternativesCap {
		n = maxAlternativesCap
	}

	canonical := func(sql string) string {
		if stmt, err := sqlparser.Parse(sql); err == nil {
			return sqlparser.String(stmt)
		}
		return sql
	}
	seen := map[string]bool{canonical(primary): true}

	var tokens int64
	var out []string
	for i := 0; i < n; i++ {
		raw, err := p.gen.Generate(ctx, &models.GenerationRequest{
			Prompt: fmt.Sprintf("%s\n\nYou already produced:\n%s\n\nWrite a different SQL statement answering the same question.",
				p.buildPrompt(req, tables), primary),
			System: sqlSystem,
		})
		if err != nil {
			break
		}
		tokens += raw.Usage.TotalTokens

		sql := cleanSQL(raw.Content)
		if _, parseErr := sqlparser.Parse(sql); parseErr != nil {
			continue
		}
		if hasCritical(p.validator.Validate(sql, &req.Schema)) {
			continue
		}
		if key := canonical(sql); !seen[key] {
			seen[key] = true
			out = append(out, sql)
		}
	}
	return out, tokens
}

func hasCritical(flags []models.SafetyFlag) bool {
	for _, f := range flags {
		if f.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

// recordRun persists the finished pipeline run for diagnostics.
func (p *Pipeline) recordRun(runID, question string, result *models.QueryResult, runErr error, startedAt time.Time) {
	if p.store == nil {
		return
	}

	run := &models.WorkflowRun{
		ID:        runID,
		Kind:      "query",
		Status:    "completed",
		Input:     question,
		StartedAt: startedAt,
	}
	if runErr != nil {
		run.Status = "failed"
		run.Error = runErr.Error()
	} else if result != nil {
		run.Output = result.SQL
		if result.Blocked() {
			run.Error = "blocked by safety gate"
		}
	}
	now := time.Now().UTC()
	run.CompletedAt = now
	run.DurationMs = now.Sub(startedAt).Milliseconds()

	if err := p.store.CreateRun(context.Background(), run); err != nil {
		log.Warn().Str("run_id", runID).Err(err).Msg("Failed to record query run")
	}
}
