package match

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/flowmatch/internal/model"
)

// Stage-specific reasons for null short-circuits.
const (
	ReasonNoSemanticMatches = "no semantically similar candidates"
	ReasonNoneActive        = "none active during receipt date"
	ReasonNoneWithinBudget  = "none within budget"
)

// Config holds configuration options for the matching pipeline.
type Config struct {
	TopK          int // candidates retrieved from the index
	ShortlistSize int // candidates shown to the adjudicator
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TopK:          10,
		ShortlistSize: 3,
	}
}

// Pipeline orchestrates the fixed matching sequence:
// SemanticSearch -> DateFilter -> BudgetRank -> Adjudicate.
// An empty intermediate list short-circuits straight to a null result;
// the adjudicator is never invoked on an empty shortlist.
type Pipeline struct {
	searcher    Searcher
	adjudicator Adjudicator
	logger      *slog.Logger
	config      Config
}

// New creates a pipeline with the default configuration.
func New(searcher Searcher, adjudicator Adjudicator, logger *slog.Logger) *Pipeline {
	return NewWithConfig(searcher, adjudicator, logger, DefaultConfig())
}

// NewWithConfig creates a pipeline with custom configuration.
func NewWithConfig(searcher Searcher, adjudicator Adjudicator, logger *slog.Logger, config Config) *Pipeline {
	if config.TopK <= 0 {
		config.TopK = 10
	}
	if config.ShortlistSize <= 0 {
		config.ShortlistSize = 3
	}
	return &Pipeline{
		searcher:    searcher,
		adjudicator: adjudicator,
		logger:      logger,
		config:      config,
	}
}

// Match runs the fixed pipeline for one receipt.
func (p *Pipeline) Match(ctx context.Context, receipt model.ReceiptRecord) (model.MatchResult, error) {
	query := receipt.SearchQuery()
	p.logger.Debug("pipeline started",
		"merchant", receipt.Merchant,
		"query", query)

	results, err := p.searcher.Search(ctx, query, p.config.TopK)
	if err != nil {
		return model.MatchResult{}, fmt.Errorf("semantic search failed: %w", err)
	}
	if len(results) == 0 {
		p.logger.Info("pipeline short-circuited", "stage", "semantic_search", "merchant", receipt.Merchant)
		return model.NoMatch(ReasonNoSemanticMatches, ReasonNoSemanticMatches), nil
	}

	candidates := FilterByDate(receipt, Ranked(results))
	if len(candidates) == 0 {
		p.logger.Info("pipeline short-circuited", "stage", "date_filter", "merchant", receipt.Merchant)
		return model.NoMatch(ReasonNoneActive, ReasonNoneActive), nil
	}

	candidates = RankByBudget(receipt, candidates)
	if len(candidates) == 0 {
		p.logger.Info("pipeline short-circuited", "stage", "budget_rank", "merchant", receipt.Merchant)
		return model.NoMatch(ReasonNoneWithinBudget, ReasonNoneWithinBudget), nil
	}

	result, err := p.adjudicator.Adjudicate(ctx, receipt, candidates, p.config.ShortlistSize)
	if err != nil {
		return model.MatchResult{}, fmt.Errorf("adjudication failed: %w", err)
	}

	p.logger.Info("pipeline completed",
		"merchant", receipt.Merchant,
		"matched", result.Candidate != nil,
		"confidence", result.Confidence,
		"degraded", result.Degraded)

	return result, nil
}
