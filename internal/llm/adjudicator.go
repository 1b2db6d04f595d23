package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/flowmatch/internal/common"
	"github.com/Veraticus/flowmatch/internal/model"
	"github.com/Veraticus/flowmatch/internal/service"
)

const (
	// fallbackConfidence is the conservative score assigned when the
	// adjudicator output could not be parsed and the top-ranked
	// candidate is selected deterministically.
	fallbackConfidence = 25

	// fallbackReason accompanies every degraded selection.
	fallbackReason = "automatic selection after adjudication parse failure"

	adjudicationSystemPrompt = "You are an expense attribution adjudicator. You MUST respond with ONLY a valid JSON object. Do not include any explanatory text, markdown formatting, or commentary before or after the JSON. Start your response directly with { and end with }."
)

// Adjudicator picks the best candidate from a pre-filtered shortlist
// using an LLM call with a strict output contract. Malformed output is
// retried once against a relaxed extraction and then degraded to a
// deterministic selection; the adjudicator never fails on malformation.
type Adjudicator struct {
	client      Client
	logger      *slog.Logger
	rateLimiter *rateLimiter
	retryOpts   service.RetryOptions
}

// NewAdjudicator creates an LLM-backed adjudicator.
func NewAdjudicator(cfg Config, logger *slog.Logger) (*Adjudicator, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	return NewAdjudicatorWithClient(client, cfg, logger), nil
}

// NewAdjudicatorWithClient wraps an existing client; used by tests and by
// callers that share one client between components.
func NewAdjudicatorWithClient(client Client, cfg Config, logger *slog.Logger) *Adjudicator {
	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	return &Adjudicator{
		client:      client,
		logger:      logger,
		retryOpts:   retryOpts,
		rateLimiter: newRateLimiter(cfg.RateLimit),
	}
}

// Adjudicate selects the best candidate from the shortlist. At most
// maxCandidates entries are shown to the model; the shortlist must not
// be empty (orchestrators short-circuit before calling).
func (a *Adjudicator) Adjudicate(ctx context.Context, receipt model.ReceiptRecord, shortlist model.RankedCandidates, maxCandidates int) (model.MatchResult, error) {
	if len(shortlist) == 0 {
		return model.MatchResult{}, fmt.Errorf("adjudication requires a non-empty shortlist")
	}
	if maxCandidates <= 0 {
		maxCandidates = 3
	}
	shortlist = shortlist.TopN(maxCandidates)

	if err := a.rateLimiter.wait(ctx); err != nil {
		return model.MatchResult{}, fmt.Errorf("rate limit error: %w", err)
	}

	prompt := a.buildPrompt(receipt, shortlist)

	var content string
	err := common.WithRetry(ctx, func() error {
		response, err := a.client.Complete(ctx, adjudicationSystemPrompt, prompt)
		if err != nil {
			a.logger.Warn("adjudication attempt failed",
				"error", err,
				"merchant", receipt.Merchant)
			return &common.RetryableError{Err: err, Retryable: true}
		}
		content = response
		return nil
	}, a.retryOpts)
	if err != nil {
		return model.MatchResult{}, fmt.Errorf("adjudication failed: %w", err)
	}

	decision, parseErr := ParseDecision(content)
	if parseErr != nil {
		a.logger.Warn("strict adjudication parse failed, retrying relaxed",
			"error", parseErr,
			"merchant", receipt.Merchant)
		decision, parseErr = ParseDecisionRelaxed(content)
	}
	if parseErr != nil {
		a.logger.Warn("relaxed adjudication parse failed, selecting deterministically",
			"error", parseErr,
			"merchant", receipt.Merchant)
		return a.fallback(shortlist), nil
	}

	return a.resolve(decision, shortlist), nil
}

// ToolTurn advances an agentic conversation by one model turn, applying
// the same rate limiting and retry discipline as Adjudicate.
func (a *Adjudicator) ToolTurn(ctx context.Context, req ChatRequest) (ChatTurn, error) {
	if err := a.rateLimiter.wait(ctx); err != nil {
		return ChatTurn{}, fmt.Errorf("rate limit error: %w", err)
	}

	var turn ChatTurn
	err := common.WithRetry(ctx, func() error {
		response, err := a.client.ChatWithTools(ctx, req)
		if err != nil {
			a.logger.Warn("tool turn attempt failed", "error", err)
			return &common.RetryableError{Err: err, Retryable: true}
		}
		turn = response
		return nil
	}, a.retryOpts)
	if err != nil {
		return ChatTurn{}, fmt.Errorf("tool turn failed: %w", err)
	}

	return turn, nil
}

// Close stops background goroutines and cleans up resources.
func (a *Adjudicator) Close() error {
	if a.rateLimiter != nil {
		a.rateLimiter.Close()
	}
	return nil
}

// resolve maps the parsed contract onto the shortlist. An identifier the
// shortlist does not contain is a contract violation and degrades to the
// deterministic fallback.
func (a *Adjudicator) resolve(decision Decision, shortlist model.RankedCandidates) model.MatchResult {
	if decision.CandidateID == nil {
		match := model.NoMatch(decision.Reasoning, decision.Reasons...)
		match.Confidence = decision.Confidence
		match.ClampConfidence()
		return match
	}

	ranked := shortlist.ByID(*decision.CandidateID)
	if ranked == nil {
		a.logger.Warn("adjudicator selected an unknown candidate, selecting deterministically",
			"candidate_id", *decision.CandidateID)
		return a.fallback(shortlist)
	}

	item := ranked.Item
	match := model.MatchResult{
		Candidate:  &item,
		Confidence: decision.Confidence,
		Reasons:    decision.Reasons,
		Reasoning:  decision.Reasoning,
	}
	match.ClampConfidence()

	a.logger.Info("receipt adjudicated",
		"candidate_id", item.ID,
		"confidence", match.Confidence)

	return match
}

// fallback selects the top-ranked shortlist candidate with a fixed low
// confidence; the pipeline degrades confidence instead of availability.
func (a *Adjudicator) fallback(shortlist model.RankedCandidates) model.MatchResult {
	top := shortlist.Top()
	item := top.Item
	return model.MatchResult{
		Candidate:  &item,
		Confidence: fallbackConfidence,
		Reasons:    []string{fallbackReason},
		Reasoning:  fallbackReason,
		Degraded:   true,
	}
}

// buildPrompt creates the adjudication prompt for a receipt and shortlist.
func (a *Adjudicator) buildPrompt(receipt model.ReceiptRecord, shortlist model.RankedCandidates) string {
	receiptDetails := fmt.Sprintf("Merchant: %s\nAmount: $%.2f\nDate: %s\nCategory: %s",
		receipt.Merchant,
		receipt.Total,
		receipt.Date.Format("2006-01-02"),
		receipt.Category)
	if receipt.Notes != "" {
		receiptDetails += fmt.Sprintf("\nNotes: %s", receipt.Notes)
	}

	var candidateList strings.Builder
	for _, ranked := range shortlist {
		fmt.Fprintf(&candidateList, "- id: %s\n  title: %s\n", ranked.Item.ID, ranked.Item.Title)
		if ranked.Item.Description != "" {
			fmt.Fprintf(&candidateList, "  description: %s\n", ranked.Item.Description)
		}
		fmt.Fprintf(&candidateList, "  window: %s to %s\n  budget: $%.2f (%.1f%% utilized by this receipt, $%.2f remaining)\n  similarity: %.3f\n",
			ranked.Item.WindowStart.Format("2006-01-02"),
			ranked.Item.WindowEnd.Format("2006-01-02"),
			ranked.Item.Budget,
			ranked.Utilization,
			ranked.RemainingBudget,
			ranked.Similarity)
	}

	return fmt.Sprintf(`Decide which work item this receipt should be attributed to, or whether none of them fits.

Receipt:
%s

Candidate work items (pre-filtered to the receipt's date window and budget):
%s
Instructions:
1. Pick the single best candidate, or null if none is a plausible attribution.
2. Respond with ONLY this JSON object:
{
  "candidateId": "<id or null>",
  "confidence": <0-100>,
  "reasons": ["<short reason>", "..."],
  "reasoning": "<one or two sentences explaining the decision>"
}`,
		receiptDetails,
		candidateList.String())
}
