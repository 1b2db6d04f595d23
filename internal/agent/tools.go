// Package agent implements the model-directed orchestrator: the same
// retrieval and filter capabilities as the fixed pipeline, exposed to
// the reasoning model as callable tools, with live event streaming.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Veraticus/flowmatch/internal/index"
	"github.com/Veraticus/flowmatch/internal/llm"
	"github.com/Veraticus/flowmatch/internal/match"
	"github.com/Veraticus/flowmatch/internal/model"
)

// Tool names exposed to the model.
const (
	ToolSearchCandidates = "search_candidates"
	ToolFilterByDate     = "filter_by_date"
	ToolRankByBudget     = "rank_by_budget"
)

// toolSpecs is the enumerated tool contract handed to the model.
func toolSpecs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        ToolSearchCandidates,
			Description: "Search the work item catalog semantically by free-text query. Returns up to limit candidates ordered by similarity.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "free-text search query"},
					"limit": {"type": "integer", "description": "maximum candidates to return, capped at 10"}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        ToolFilterByDate,
			Description: "Keep only the candidates whose date window contains the receipt date. Pass candidate ids from an earlier search.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"candidateIds": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["candidateIds"]
			}`),
		},
		{
			Name:        ToolRankByBudget,
			Description: "Drop candidates whose budget the receipt total exceeds, and rank the rest by budget utilization descending. Pass candidate ids from an earlier search.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"candidateIds": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["candidateIds"]
			}`),
		},
	}
}

// candidateSummary is what tool outputs show the model per candidate.
type candidateSummary struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	WindowStart string  `json:"windowStart"`
	WindowEnd   string  `json:"windowEnd"`
	Budget      float64 `json:"budget"`
	Similarity  float64 `json:"similarity,omitempty"`
	Utilization float64 `json:"utilization,omitempty"`
	Remaining   float64 `json:"remainingBudget,omitempty"`
}

func summarize(candidates model.RankedCandidates) []candidateSummary {
	out := make([]candidateSummary, len(candidates))
	for i, c := range candidates {
		out[i] = candidateSummary{
			ID:          c.Item.ID,
			Title:       c.Item.Title,
			WindowStart: c.Item.WindowStart.Format("2006-01-02"),
			WindowEnd:   c.Item.WindowEnd.Format("2006-01-02"),
			Budget:      c.Item.Budget,
			Similarity:  c.Similarity,
			Utilization: c.Utilization,
			Remaining:   c.RemainingBudget,
		}
	}
	return out
}

// toolbox executes tool calls for one matching request. It remembers
// every candidate surfaced by search so later calls can refer to ids.
type toolbox struct {
	searcher match.Searcher
	receipt  model.ReceiptRecord
	seen     map[string]model.RankedCandidate
	ranked   model.RankedCandidates // output of the last rank_by_budget
}

func newToolbox(searcher match.Searcher, receipt model.ReceiptRecord) *toolbox {
	return &toolbox{
		searcher: searcher,
		receipt:  receipt,
		seen:     make(map[string]model.RankedCandidate),
	}
}

// execute runs one tool call. Errors are tool-execution errors to be
// surfaced to the model, not failures of the orchestrator.
func (t *toolbox) execute(ctx context.Context, call llm.ToolCall) (json.RawMessage, error) {
	switch call.Name {
	case ToolSearchCandidates:
		return t.searchCandidates(ctx, call.Arguments)
	case ToolFilterByDate:
		return t.filterByDate(call.Arguments)
	case ToolRankByBudget:
		return t.rankByBudget(call.Arguments)
	default:
		return nil, fmt.Errorf("unknown tool: %s", call.Name)
	}
}

func (t *toolbox) searchCandidates(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var input struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("malformed arguments: %w", err)
	}
	if input.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if input.Limit <= 0 || input.Limit > index.MaxTopK {
		input.Limit = index.MaxTopK
	}

	results, err := t.searcher.Search(ctx, input.Query, input.Limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ranked := match.Ranked(results)
	for _, c := range ranked {
		t.seen[c.Item.ID] = c
	}

	return json.Marshal(summarize(ranked))
}

func (t *toolbox) filterByDate(args json.RawMessage) (json.RawMessage, error) {
	candidates, err := t.resolveIDs(args)
	if err != nil {
		return nil, err
	}

	kept := match.FilterByDate(t.receipt, candidates)
	return json.Marshal(summarize(kept))
}

func (t *toolbox) rankByBudget(args json.RawMessage) (json.RawMessage, error) {
	candidates, err := t.resolveIDs(args)
	if err != nil {
		return nil, err
	}

	t.ranked = match.RankByBudget(t.receipt, candidates)
	return json.Marshal(summarize(t.ranked))
}

// resolveIDs maps a candidateIds argument back onto candidates surfaced
// by an earlier search. Unknown ids are a tool-execution error the model
// can recover from by searching first.
func (t *toolbox) resolveIDs(args json.RawMessage) (model.RankedCandidates, error) {
	var input struct {
		CandidateIDs []string `json:"candidateIds"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("malformed arguments: %w", err)
	}

	candidates := make(model.RankedCandidates, 0, len(input.CandidateIDs))
	for _, id := range input.CandidateIDs {
		candidate, ok := t.seen[id]
		if !ok {
			return nil, fmt.Errorf("unknown candidate id %q: call %s first", id, ToolSearchCandidates)
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// lookup returns a catalog item previously surfaced by search.
func (t *toolbox) lookup(id string) *model.CandidateItem {
	if candidate, ok := t.seen[id]; ok {
		item := candidate.Item
		return &item
	}
	return nil
}

// topRanked returns the best candidate from the last budget ranking.
func (t *toolbox) topRanked() *model.RankedCandidate {
	return t.ranked.Top()
}
