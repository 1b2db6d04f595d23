package model

import (
	"fmt"
	"sort"
)

// RankedCandidate is a candidate with the derived fields the filters and
// the adjudicator reason about. Transient; recomputed per request.
type RankedCandidate struct {
	Item            CandidateItem
	Similarity      float64
	Utilization     float64
	RemainingBudget float64
}

// Validate ensures derived fields are within their contract ranges.
func (r *RankedCandidate) Validate() error {
	if r.Item.ID == "" {
		return fmt.Errorf("ranked candidate missing item ID")
	}
	if r.Utilization < 0 || r.Utilization > 100 {
		return fmt.Errorf("utilization must be in [0, 100], got %.2f", r.Utilization)
	}
	return nil
}

// RankedCandidates supports the ordering the budget ranker produces.
type RankedCandidates []RankedCandidate

// SortByUtilization orders by utilization descending, stable on ties so
// that earlier entries keep their original position.
func (r RankedCandidates) SortByUtilization() {
	sort.SliceStable(r, func(i, j int) bool {
		return r[i].Utilization > r[j].Utilization
	})
}

// Top returns the highest-ranked candidate, or nil if empty.
func (r RankedCandidates) Top() *RankedCandidate {
	if len(r) == 0 {
		return nil
	}
	return &r[0]
}

// TopN returns at most the first n candidates, preserving order.
func (r RankedCandidates) TopN(n int) RankedCandidates {
	if n <= 0 {
		return RankedCandidates{}
	}
	if n > len(r) {
		n = len(r)
	}
	result := make(RankedCandidates, n)
	copy(result, r[:n])
	return result
}

// IDs returns the candidate identifiers in order.
func (r RankedCandidates) IDs() []string {
	ids := make([]string, len(r))
	for i := range r {
		ids[i] = r[i].Item.ID
	}
	return ids
}

// ByID returns the candidate with the given identifier, or nil.
func (r RankedCandidates) ByID(id string) *RankedCandidate {
	for i := range r {
		if r[i].Item.ID == id {
			return &r[i]
		}
	}
	return nil
}
