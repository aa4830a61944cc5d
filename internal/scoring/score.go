// Package scoring parses raw model output into a typed profile document and
// computes structural quality scores for it. Both scores are pure functions of
// the parsed content; nothing here makes external calls.
package scoring

import (
	"encoding/json"
	"strings"

	"github.com/jonathan/profile-orchestrator/internal/types"
)

// DefaultCompletenessThreshold is the completeness level below which a parsed
// document is flagged for the caller's attention.
const DefaultCompletenessThreshold = 0.7

// ParsedDocument is the result of parsing and scoring raw model output
type ParsedDocument struct {
	Content           *types.ProfileDocument `json:"content"`
	CompletenessScore float64                `json:"completeness_score"`
	ValidityScore     float64                `json:"validity_score"`
	// Flagged is set when completeness falls below the threshold. The document
	// is still returned; rejecting it is the caller's decision.
	Flagged bool `json:"flagged"`
}

// ParseAndScore interprets raw model output as a profile document and scores it.
// If the raw text does not parse directly, one normalization pass (stripping
// markdown fences and enclosing prose) is attempted before giving up.
// A completenessThreshold <= 0 uses DefaultCompletenessThreshold.
func ParseAndScore(raw string, completenessThreshold float64) (*ParsedDocument, error) {
	if completenessThreshold <= 0 {
		completenessThreshold = DefaultCompletenessThreshold
	}

	doc, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}

	completeness, validity := scoreDocument(doc)

	return &ParsedDocument{
		Content:           doc,
		CompletenessScore: completeness,
		ValidityScore:     validity,
		Flagged:           completeness < completenessThreshold,
	}, nil
}

// parseDocument attempts a direct parse, then one normalization pass
func parseDocument(raw string) (*types.ProfileDocument, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &ParseError{Message: "empty model output"}
	}

	doc, directErr := unmarshalDocument(raw)
	if directErr == nil {
		return doc, nil
	}

	normalized := normalizeRawOutput(raw)
	if normalized == "" {
		return nil, &ParseError{Message: "no JSON object found in model output", Cause: directErr}
	}

	doc, err := unmarshalDocument(normalized)
	if err != nil {
		return nil, &ParseError{Message: "failed to parse model output after normalization", Cause: err}
	}
	return doc, nil
}

// unmarshalDocument parses JSON text, unwrapping a single-key envelope such as
// {"profile": {...}} when the inner object carries the expected sections.
func unmarshalDocument(text string) (*types.ProfileDocument, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return nil, err
	}

	if len(probe) == 1 && !hasKnownSection(probe) {
		for _, inner := range probe {
			var innerProbe map[string]json.RawMessage
			if err := json.Unmarshal(inner, &innerProbe); err == nil && hasKnownSection(innerProbe) {
				text = string(inner)
			}
		}
	}

	var doc types.ProfileDocument
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// hasKnownSection reports whether any required section name appears as a key
func hasKnownSection(fields map[string]json.RawMessage) bool {
	for _, name := range types.SectionNames() {
		if _, ok := fields[name]; ok {
			return true
		}
	}
	return false
}

// normalizeRawOutput strips markdown code fences and surrounding prose,
// returning the outermost JSON object substring, or "" if none exists.
func normalizeRawOutput(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// scoreDocument computes the completeness and validity scores.
// Completeness is the fraction of required sections present and non-empty.
// Validity is the fraction of present sections that also satisfy the
// structural rules for that section.
func scoreDocument(doc *types.ProfileDocument) (completeness, validity float64) {
	sections := types.SectionNames()

	present := 0
	valid := 0
	for _, name := range sections {
		content, ok := sectionContent(doc, name)
		if !ok {
			continue
		}
		present++
		if sectionValid(name, content) {
			valid++
		}
	}

	completeness = float64(present) / float64(len(sections))
	if present > 0 {
		validity = float64(valid) / float64(present)
	}
	return completeness, validity
}

// sectionContent returns a section's JSON encoding and whether it is present
// and non-empty.
func sectionContent(doc *types.ProfileDocument, name string) (string, bool) {
	var value any
	switch name {
	case "summary":
		if strings.TrimSpace(doc.Summary) == "" {
			return "", false
		}
		value = doc.Summary
	case "responsibilities":
		if len(doc.Responsibilities) == 0 {
			return "", false
		}
		value = doc.Responsibilities
	case "requirements":
		if len(doc.Requirements) == 0 {
			return "", false
		}
		value = doc.Requirements
	case "skills":
		if len(doc.Skills) == 0 {
			return "", false
		}
		value = doc.Skills
	case "qualifications":
		q := doc.Qualifications
		if len(q.Education) == 0 && len(q.Experience) == 0 && len(q.Certifications) == 0 {
			return "", false
		}
		value = q
	default:
		return "", false
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return "", false
	}
	return string(encoded), true
}
