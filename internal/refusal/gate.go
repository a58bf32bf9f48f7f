// Package refusal implements the anti-hallucination gates: a deterministic
// pre-generation refusal based on similarity scores, a keyword scan over
// generated text, and external-reference detection for selected-text mode.
package refusal

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Reason identifies why a refusal was produced.
type Reason string

const (
	ReasonLowSimilarity       Reason = "low_similarity"
	ReasonExternalReference   Reason = "external_reference"
	ReasonInsufficientContext Reason = "insufficient_context"
)

// QueryMode distinguishes book-wide questions from questions about a
// user-selected passage.
type QueryMode string

const (
	ModeBookWide     QueryMode = "book-wide"
	ModeSelectedText QueryMode = "selected-text"
)

// SelectedTextRefusal is the mandatory response whenever a selected-text
// answer would reach outside the selection.
const SelectedTextRefusal = "The selected text does not contain sufficient information to answer this question."

// Refusal keywords indicating the model could not answer from context.
// Matched case-insensitively as substrings.
var defaultKeywords = []string{
	"don't have information",
	"does not contain information",
	"not contain sufficient information",
	"cannot answer",
	"outside the scope",
	"not mentioned in",
	"not covered in",
	"insufficient information",
	"unable to find information",
}

// Patterns that indicate the response references book structure outside the
// selection (selected-text mode only).
var defaultExternalPatterns = []string{
	`Chapter\s+\d+`,
	`Module\s+\d+`,
	`Section\s+\d+`,
	`see\s+chapter`,
	`as\s+mentioned\s+in\s+chapter`,
	`described\s+in\s+chapter`,
}

// Gate holds the refusal keyword list and external-reference patterns.
// Both are data, not control flow, so deployments can tune them per locale.
type Gate struct {
	keywords []string
	patterns []*regexp.Regexp
}

// NewGate returns a gate with the built-in keyword and pattern sets.
func NewGate() *Gate {
	g := &Gate{keywords: append([]string(nil), defaultKeywords...)}
	for _, p := range defaultExternalPatterns {
		g.patterns = append(g.patterns, regexp.MustCompile(`(?i)`+p))
	}
	return g
}

type overridesFile struct {
	RefusalKeywords           []string `yaml:"refusal_keywords"`
	ExternalReferencePatterns []string `yaml:"external_reference_patterns"`
}

// LoadOverrides replaces keyword and pattern sets from a YAML file. Missing
// sections keep the built-in defaults.
func (g *Gate) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read refusal overrides: %w", err)
	}
	var of overridesFile
	if err := yaml.Unmarshal(data, &of); err != nil {
		return fmt.Errorf("parse refusal overrides: %w", err)
	}
	if len(of.RefusalKeywords) > 0 {
		g.keywords = of.RefusalKeywords
	}
	if len(of.ExternalReferencePatterns) > 0 {
		compiled := make([]*regexp.Regexp, 0, len(of.ExternalReferencePatterns))
		for _, p := range of.ExternalReferencePatterns {
			re, err := regexp.Compile(`(?i)` + p)
			if err != nil {
				return fmt.Errorf("compile pattern %q: %w", p, err)
			}
			compiled = append(compiled, re)
		}
		g.patterns = compiled
	}
	return nil
}

// ShouldRefuse decides, before calling the generator, whether the retrieved
// scores are too weak to answer from. True iff no scores or max below
// threshold.
func (g *Gate) ShouldRefuse(scores []float64, threshold float64) bool {
	if len(scores) == 0 {
		return true
	}
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	return max < threshold
}

// IsRefusal reports whether generated text contains a refusal keyword.
func (g *Gate) IsRefusal(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range g.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DetectExternalReferences returns all matches of the external-reference
// patterns in the response, or nil when none occur.
func (g *Gate) DetectExternalReferences(text string) []string {
	if text == "" {
		return nil
	}
	var refs []string
	for _, re := range g.patterns {
		refs = append(refs, re.FindAllString(text, -1)...)
	}
	return refs
}

// RefusalMessage builds the canonical user-visible refusal string.
func (g *Gate) RefusalMessage(mode QueryMode, reason Reason) string {
	if mode == ModeSelectedText {
		return SelectedTextRefusal
	}
	switch reason {
	case ReasonLowSimilarity:
		return "I don't have information about that topic in the book. Please try rephrasing your question or asking about content covered in the chapters."
	case ReasonExternalReference:
		return "I cannot answer questions that require information beyond the book's content."
	default:
		return "I cannot find sufficient information in the book to answer this question."
	}
}
