package workflow

import (
	"strings"
	"unicode"
)

// Rubric is the deterministic quality evaluation of one draft. Total is a
// weighted combination of the criteria, each in [0,1].
type Rubric struct {
	Total        float64
	Relevance    float64 // prompt term coverage
	Completeness float64 // length adequacy
	Structure    float64 // sentence and paragraph shape
	Diversity    float64 // vocabulary variety

	// Feedback lists the criteria that scored low, phrased as instructions
	// for the refinement prompt.
	Feedback []string
}

// Rubric weights. Relevance dominates: content that ignores the request is
// worthless however well written.
const (
	weightRelevance    = 0.4
	weightCompleteness = 0.3
	weightStructure    = 0.2
	weightDiversity    = 0.1
)

// completeWordCount is the word count granting full completeness credit.
const completeWordCount = 80

// Score evaluates a draft against its prompt. Same inputs always give the
// same score; the evaluation never calls a model.
func Score(content, prompt string) Rubric {
	var r Rubric

	words := tokenize(content)
	if len(words) == 0 {
		r.Feedback = []string{"The draft is empty; write the requested content."}
		return r
	}

	r.Relevance = relevance(words, prompt)
	r.Completeness = completeness(len(words))
	r.Structure = structure(content)
	r.Diversity = diversity(words)

	r.Total = weightRelevance*r.Relevance +
		weightCompleteness*r.Completeness +
		weightStructure*r.Structure +
		weightDiversity*r.Diversity

	if r.Relevance < 0.6 {
		r.Feedback = append(r.Feedback, "Address the request more directly; key terms from it are missing.")
	}
	if r.Completeness < 0.6 {
		r.Feedback = append(r.Feedback, "Expand the draft; it is too short to cover the request.")
	}
	if r.Structure < 0.6 {
		r.Feedback = append(r.Feedback, "Use complete sentences and break the text into paragraphs.")
	}
	if r.Diversity < 0.6 {
		r.Feedback = append(r.Feedback, "Reduce repetition; vary the wording.")
	}
	return r
}

// relevance is the fraction of significant prompt terms present in the draft.
func relevance(contentWords []string, prompt string) float64 {
	terms := significantTerms(prompt)
	if len(terms) == 0 {
		return 1
	}

	hits := 0
	for _, t := range terms {
		for _, w := range contentWords {
			if termMatches(t, w) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(terms))
}

// termMatches treats inflected forms as hits: exact match, or a shared
// five-letter stem ("scheduling" covers "scheduler").
func termMatches(term, word string) bool {
	if term == word {
		return true
	}
	if len(term) < 5 || len(word) < 5 {
		return false
	}
	return term[:5] == word[:5]
}

// completeness scales linearly up to the full-credit word count.
func completeness(wordCount int) float64 {
	if wordCount >= completeWordCount {
		return 1
	}
	return float64(wordCount) / float64(completeWordCount)
}

// structure rewards multiple terminated sentences and paragraph breaks.
func structure(content string) float64 {
	sentences := 0
	for _, r := range content {
		if r == '.' || r == '!' || r == '?' {
			sentences++
		}
	}

	score := 0.0
	if sentences >= 3 {
		score = 0.7
	} else {
		score = 0.7 * float64(sentences) / 3
	}

	if strings.Contains(content, "\n") {
		score += 0.3
	}
	if score > 1 {
		score = 1
	}
	return score
}

// diversity is the unique-word ratio, scaled so ordinary prose scores high.
func diversity(words []string) float64 {
	unique := make(map[string]bool, len(words))
	for _, w := range words {
		unique[w] = true
	}
	// Natural text repeats articles and prepositions; a 0.5 ratio is normal.
	ratio := float64(len(unique)) / float64(len(words))
	score := ratio * 2
	if score > 1 {
		score = 1
	}
	return score
}

// stopwords excluded from relevance terms. Instruction verbs count too; a
// draft is not better for echoing "explain" back.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "with": true,
	"this": true, "from": true, "about": true, "write": true, "please": true,
	"short": true, "long": true, "some": true, "what": true, "which": true,
	"into": true, "their": true, "have": true, "will": true, "your": true,
	"explain": true, "describe": true, "summarize": true, "detail": true,
	"paragraph": true, "sentence": true, "sentences": true,
}

// significantTerms extracts deduplicated prompt terms longer than three
// characters, minus stopwords.
func significantTerms(prompt string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, w := range tokenize(prompt) {
		if len(w) <= 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return terms
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
