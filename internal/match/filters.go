// Package match implements the deterministic filters and the fixed
// matching pipeline that narrows a candidate list down to one result.
package match

import (
	"github.com/Veraticus/flowmatch/internal/index"
	"github.com/Veraticus/flowmatch/internal/model"
)

// Ranked converts search hits into ranked candidates carrying only the
// similarity score; utilization fields are filled by RankByBudget.
func Ranked(results []index.Result) model.RankedCandidates {
	ranked := make(model.RankedCandidates, len(results))
	for i, r := range results {
		ranked[i] = model.RankedCandidate{Item: r.Item, Similarity: r.Score}
	}
	return ranked
}

// FilterByDate keeps candidates whose window contains the receipt date,
// boundaries inclusive. Pure function: empty in, empty out.
func FilterByDate(receipt model.ReceiptRecord, candidates model.RankedCandidates) model.RankedCandidates {
	kept := make(model.RankedCandidates, 0, len(candidates))
	for _, c := range candidates {
		if receipt.Date.Before(c.Item.WindowStart) || receipt.Date.After(c.Item.WindowEnd) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// RankByBudget drops candidates whose budget the receipt exceeds, then
// computes utilization and remaining budget for the survivors and sorts
// them by utilization descending (tightest plausible fit first), stable
// on ties. Pure function: empty in, empty out.
func RankByBudget(receipt model.ReceiptRecord, candidates model.RankedCandidates) model.RankedCandidates {
	ranked := make(model.RankedCandidates, 0, len(candidates))
	for _, c := range candidates {
		if receipt.Total > c.Item.Budget {
			continue
		}
		c.Utilization = receipt.Total / c.Item.Budget * 100
		c.RemainingBudget = c.Item.Budget - receipt.Total
		ranked = append(ranked, c)
	}
	ranked.SortByUtilization()
	return ranked
}
