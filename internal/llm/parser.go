package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Veraticus/flowmatch/internal/common"
)

// Decision is the structured output contract both orchestrators expect
// from the model's final answer. A nil CandidateID means the model
// declined to match any candidate.
type Decision struct {
	CandidateID *string  `json:"candidateId"`
	Confidence  float64  `json:"confidence"`
	Reasons     []string `json:"reasons"`
	Reasoning   string   `json:"reasoning"`
}

// cleanMarkdownWrapper strips markdown code fences the model sometimes
// wraps its JSON in, despite instructions not to.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return content
}

// ParseDecision parses the strict JSON contract. Contract violations
// wrap common.ErrMalformedAdjudication.
func ParseDecision(content string) (Decision, error) {
	var decision Decision

	content = cleanMarkdownWrapper(content)

	if err := json.Unmarshal([]byte(content), &decision); err != nil {
		return Decision{}, fmt.Errorf("%w: failed to parse JSON response: %v", common.ErrMalformedAdjudication, err)
	}

	if decision.CandidateID != nil && strings.TrimSpace(*decision.CandidateID) == "" {
		return Decision{}, fmt.Errorf("%w: candidateId present but empty", common.ErrMalformedAdjudication)
	}

	if decision.Reasoning == "" && len(decision.Reasons) == 0 {
		return Decision{}, fmt.Errorf("%w: response carries neither reasoning nor reasons", common.ErrMalformedAdjudication)
	}

	return decision, nil
}

// ParseDecisionRelaxed attempts to recover a decision from a response
// that failed the strict contract. It first looks for an embedded JSON
// object, then falls back to scanning KEY: value lines.
func ParseDecisionRelaxed(content string) (Decision, error) {
	// An explanation wrapped around a valid JSON object is the most
	// common malformation; try the outermost braces first.
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		if decision, err := ParseDecision(content[start : end+1]); err == nil {
			return decision, nil
		}
	}

	// Line-oriented recovery for responses that ignored JSON entirely.
	var decision Decision
	var found bool

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "CANDIDATE:"), strings.HasPrefix(upper, "CANDIDATE_ID:"):
			value := strings.TrimSpace(line[strings.Index(line, ":")+1:])
			value = strings.Trim(value, `"'`)
			if value != "" && !strings.EqualFold(value, "null") && !strings.EqualFold(value, "none") {
				decision.CandidateID = &value
			}
			found = true
		case strings.HasPrefix(upper, "CONFIDENCE:"):
			value := strings.TrimSpace(line[strings.Index(line, ":")+1:])
			value = strings.TrimSuffix(value, "%")
			if score, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
				// Scores given as fractions are scaled up to the 0-100 contract.
				if score <= 1.0 {
					score *= 100
				}
				decision.Confidence = score
				found = true
			}
		case strings.HasPrefix(upper, "REASON:"), strings.HasPrefix(upper, "REASONING:"):
			value := strings.TrimSpace(line[strings.Index(line, ":")+1:])
			if value != "" {
				decision.Reasons = append(decision.Reasons, value)
				if decision.Reasoning == "" {
					decision.Reasoning = value
				}
				found = true
			}
		}
	}

	if !found {
		return Decision{}, fmt.Errorf("%w: unable to extract decision from response", common.ErrMalformedAdjudication)
	}

	if decision.Reasoning == "" {
		decision.Reasoning = "recovered from unstructured adjudicator response"
	}

	return decision, nil
}
