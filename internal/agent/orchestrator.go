package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Veraticus/flowmatch/internal/common"
	"github.com/Veraticus/flowmatch/internal/llm"
	"github.com/Veraticus/flowmatch/internal/match"
	"github.com/Veraticus/flowmatch/internal/model"
)

// ReasonStepBudget is the null-match reason when the tool-call cap is hit.
var ReasonStepBudget = common.ErrStepBudgetExceeded.Error()

const agentSystemPrompt = `You are an expense attribution agent. Your goal is to attribute a receipt to the single best work item in a catalog, or decide that none fits.

You have tools to search the catalog semantically, filter candidates by the receipt date, and rank them by budget fit. Use them in whatever order helps; you choose the search phrasing.

When you have decided, respond with ONLY this JSON object and no tool calls:
{
  "candidateId": "<id or null>",
  "confidence": <0-100>,
  "reasons": ["<short reason>", "..."],
  "reasoning": "<one or two sentences explaining the decision>"
}`

// ToolChat advances a tool-calling conversation by one model turn.
// *llm.Adjudicator satisfies this.
type ToolChat interface {
	ToolTurn(ctx context.Context, req llm.ChatRequest) (llm.ChatTurn, error)
}

// Config holds configuration options for the agentic orchestrator.
type Config struct {
	MaxToolCalls int // hard cap on tool executions per run
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{MaxToolCalls: 6}
}

// Orchestrator lets the reasoning model sequence the retrieval and
// filter operations itself, emitting a PipelineEvent for every state
// transition. Event emission is synchronous with the transition: an
// observer sees tool_call strictly before the matching tool_result,
// and exactly one complete or error event last.
type Orchestrator struct {
	chat     ToolChat
	searcher match.Searcher
	logger   *slog.Logger
	config   Config
}

// New creates an agentic orchestrator with the default configuration.
func New(chat ToolChat, searcher match.Searcher, logger *slog.Logger) *Orchestrator {
	return NewWithConfig(chat, searcher, logger, DefaultConfig())
}

// NewWithConfig creates an agentic orchestrator with custom configuration.
func NewWithConfig(chat ToolChat, searcher match.Searcher, logger *slog.Logger, config Config) *Orchestrator {
	if config.MaxToolCalls <= 0 {
		config.MaxToolCalls = 6
	}
	return &Orchestrator{
		chat:     chat,
		searcher: searcher,
		logger:   logger,
		config:   config,
	}
}

// Run drives the tool-calling loop for one receipt, emitting events on
// the given channel. The channel is closed before Run returns. If the
// context is canceled mid-run (caller disconnect), remaining work is
// aborted and nothing further is emitted. Hitting the tool-call cap
// still completes the stream with a null match, and additionally
// returns common.ErrStepBudgetExceeded so callers can tell a truncated
// run from a considered null decision.
func (o *Orchestrator) Run(ctx context.Context, receipt model.ReceiptRecord, events chan<- model.PipelineEvent) (model.MatchResult, error) {
	defer close(events)

	// Blocking sends keep emission synchronous with state transitions.
	emit := func(ev model.PipelineEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(model.ProgressEvent(fmt.Sprintf("analyzing receipt from %s", receipt.Merchant))) {
		return model.MatchResult{}, ctx.Err()
	}

	tools := toolSpecs()
	box := newToolbox(o.searcher, receipt)
	messages := []llm.ChatMessage{{
		Role:    llm.RoleUser,
		Content: o.buildGoalPrompt(receipt),
	}}

	toolCalls := 0

	for {
		turn, err := o.chat.ToolTurn(ctx, llm.ChatRequest{
			System:   agentSystemPrompt,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			if ctx.Err() != nil {
				o.logger.Info("agentic run canceled", "merchant", receipt.Merchant)
				return model.MatchResult{}, ctx.Err()
			}
			o.logger.Error("agentic model turn failed", "error", err)
			emit(model.ErrorEvent(fmt.Sprintf("adjudication failed: %v", err)))
			return model.MatchResult{}, err
		}

		if turn.Content != "" && len(turn.ToolCalls) > 0 {
			if !emit(model.ReasoningEvent(turn.Content)) {
				return model.MatchResult{}, ctx.Err()
			}
		}

		if len(turn.ToolCalls) == 0 {
			result := o.finalize(turn.Content, box)
			if !emit(model.ReasoningEvent(result.Reasoning)) {
				return model.MatchResult{}, ctx.Err()
			}
			if !emit(model.CompleteEvent(result)) {
				return model.MatchResult{}, ctx.Err()
			}
			o.logger.Info("agentic run completed",
				"merchant", receipt.Merchant,
				"matched", result.Candidate != nil,
				"tool_calls", toolCalls)
			return result, nil
		}

		assistantMsg := llm.ChatMessage{
			Role:      llm.RoleAssistant,
			Content:   turn.Content,
			ToolCalls: turn.ToolCalls,
		}
		messages = append(messages, assistantMsg)

		for _, call := range turn.ToolCalls {
			if toolCalls >= o.config.MaxToolCalls {
				o.logger.Warn("agentic run exceeded tool-call cap",
					"merchant", receipt.Merchant,
					"cap", o.config.MaxToolCalls)
				result := model.NoMatch(ReasonStepBudget, ReasonStepBudget)
				if !emit(model.CompleteEvent(result)) {
					return model.MatchResult{}, ctx.Err()
				}
				return result, common.ErrStepBudgetExceeded
			}
			toolCalls++

			if !emit(model.ToolCallEvent(call.Name, call.Arguments)) {
				return model.MatchResult{}, ctx.Err()
			}

			output, execErr := box.execute(ctx, call)
			resultMsg := llm.ChatMessage{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
			}
			if execErr != nil {
				// Tool failures go back to the model; it can recover by
				// correcting arguments or calling a different tool.
				o.logger.Warn("tool execution failed",
					"tool", call.Name,
					"error", execErr)
				payload, _ := json.Marshal(map[string]string{"error": execErr.Error()})
				output = payload
				resultMsg.IsError = true
			}
			resultMsg.Content = string(output)
			messages = append(messages, resultMsg)

			if !emit(model.ToolResultEvent(call.Name, output)) {
				return model.MatchResult{}, ctx.Err()
			}
		}
	}
}

// finalize parses the model's final answer, degrading to the top-ranked
// candidate from the last budget ranking when the contract is violated.
func (o *Orchestrator) finalize(content string, box *toolbox) model.MatchResult {
	decision, err := llm.ParseDecision(content)
	if err != nil {
		o.logger.Warn("strict final-answer parse failed, retrying relaxed", "error", err)
		decision, err = llm.ParseDecisionRelaxed(content)
	}
	if err != nil {
		o.logger.Warn("relaxed final-answer parse failed, selecting deterministically", "error", err)
		return o.fallback(box)
	}

	if decision.CandidateID == nil {
		result := model.NoMatch(decision.Reasoning, decision.Reasons...)
		result.Confidence = decision.Confidence
		result.ClampConfidence()
		return result
	}

	item := box.lookup(*decision.CandidateID)
	if item == nil {
		o.logger.Warn("final answer named an unknown candidate", "candidate_id", *decision.CandidateID)
		return o.fallback(box)
	}

	result := model.MatchResult{
		Candidate:  item,
		Confidence: decision.Confidence,
		Reasons:    decision.Reasons,
		Reasoning:  decision.Reasoning,
	}
	result.ClampConfidence()
	return result
}

func (o *Orchestrator) fallback(box *toolbox) model.MatchResult {
	top := box.topRanked()
	if top == nil {
		return model.NoMatch("adjudication response could not be parsed and no ranked candidates were available",
			"adjudication response unparseable")
	}
	item := top.Item
	return model.MatchResult{
		Candidate:  &item,
		Confidence: 25,
		Reasons:    []string{"automatic selection after adjudication parse failure"},
		Reasoning:  "automatic selection after adjudication parse failure",
		Degraded:   true,
	}
}

// buildGoalPrompt states the receipt and the task in natural language;
// search phrasing is deliberately left to the model.
func (o *Orchestrator) buildGoalPrompt(receipt model.ReceiptRecord) string {
	details := fmt.Sprintf("Merchant: %s\nAmount: $%.2f\nDate: %s\nCategory: %s",
		receipt.Merchant,
		receipt.Total,
		receipt.Date.Format("2006-01-02"),
		receipt.Category)
	if receipt.Notes != "" {
		details += fmt.Sprintf("\nNotes: %s", receipt.Notes)
	}

	return fmt.Sprintf(`Attribute this receipt to the best matching work item in the catalog, or to none.

Receipt:
%s

Search the catalog first, narrow the candidates with the date and budget tools, then answer with the JSON contract.`, details)
}
