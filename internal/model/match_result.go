package model

// MatchResult is the terminal output of both orchestrators. Candidate is
// nil when no acceptable candidate exists; Reasoning always accompanies
// the result, even on a null match.
type MatchResult struct {
	Candidate  *CandidateItem `json:"candidate"`
	Reasoning  string         `json:"reasoning"`
	Reasons    []string       `json:"reasons"`
	Confidence float64        `json:"confidenceScore"`
	Degraded   bool           `json:"degraded,omitempty"`
}

// NoMatch builds a null-candidate result with the given reasons.
func NoMatch(reasoning string, reasons ...string) MatchResult {
	return MatchResult{
		Candidate: nil,
		Reasoning: reasoning,
		Reasons:   reasons,
	}
}

// ClampConfidence forces the confidence score into [0, 100]. Values
// outside that range are a contract violation by the adjudicator.
func (m *MatchResult) ClampConfidence() {
	if m.Confidence < 0 {
		m.Confidence = 0
	}
	if m.Confidence > 100 {
		m.Confidence = 100
	}
}
