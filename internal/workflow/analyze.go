package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkstone-ai/inkstone/pkg/models"
)

// Analyzer performs single-shot content analysis. Unlike the content
// workflow it has no refinement loop; one model call, one answer.
type Analyzer struct {
	gen Generator
}

// NewAnalyzer creates an analyzer over the model manager.
func NewAnalyzer(gen Generator) *Analyzer {
	return &Analyzer{gen: gen}
}

const analyzerSystem = "You are a careful text analyst. Answer with only the requested output, no preamble."

// Analyze runs the requested analysis over the content.
func (a *Analyzer) Analyze(ctx context.Context, content string, typ models.AnalysisType) (*models.AnalysisResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content must not be empty")
	}

	var prompt string
	switch typ {
	case models.AnalysisSummary:
		prompt = "Summarize the following text in at most three sentences:\n\n" + content
	case models.AnalysisKeywords:
		prompt = "List the 5 to 10 most important keywords of the following text, one per line, no numbering:\n\n" + content
	case models.AnalysisSentiment:
		prompt = "Classify the sentiment of the following text as exactly one of: positive, negative, neutral, mixed. Answer with the single word only.\n\n" + content
	default:
		return nil, fmt.Errorf("unknown analysis type %q", typ)
	}

	out, err := a.gen.Generate(ctx, &models.GenerationRequest{
		Prompt: prompt,
		System: analyzerSystem,
	})
	if err != nil {
		return nil, err
	}

	result := &models.AnalysisResult{
		Type:     typ,
		Result:   strings.TrimSpace(out.Content),
		Provider: out.Provider,
		Model:    out.Model,
		Tokens:   out.Usage.TotalTokens,
	}
	if typ == models.AnalysisKeywords {
		result.Keywords = parseKeywords(result.Result)
	}
	if typ == models.AnalysisSentiment {
		result.Result = normalizeSentiment(result.Result)
	}
	return result, nil
}

// parseKeywords splits a model keyword listing on newlines and commas,
// trimming bullets and whitespace.
func parseKeywords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == '\n' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		kw := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(f), "-*• \t"))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// normalizeSentiment clamps a chatty answer to one of the four labels.
func normalizeSentiment(s string) string {
	lower := strings.ToLower(s)
	for _, label := range []string{"positive", "negative", "neutral", "mixed"} {
		if strings.Contains(lower, label) {
			return label
		}
	}
	return "neutral"
}
