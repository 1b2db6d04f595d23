package match

import (
	"context"

	"github.com/Veraticus/flowmatch/internal/index"
	"github.com/Veraticus/flowmatch/internal/model"
)

// Searcher defines the semantic retrieval contract the pipeline uses.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]index.Result, error)
}

// Adjudicator defines the reasoning step that picks among a shortlist.
type Adjudicator interface {
	Adjudicate(ctx context.Context, receipt model.ReceiptRecord, shortlist model.RankedCandidates, maxCandidates int) (model.MatchResult, error)
}
