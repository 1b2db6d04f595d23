package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/flowmatch/internal/common"
)

// Client defines the interface for LLM providers.
type Client interface {
	// Complete sends a single-shot prompt and returns the raw response text.
	Complete(ctx context.Context, systemPrompt, prompt string) (string, error)
	// ChatWithTools advances a tool-calling conversation by one model turn.
	ChatWithTools(ctx context.Context, req ChatRequest) (ChatTurn, error)
	// Embed computes one embedding vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Config holds configuration for LLM clients.
type Config struct {
	Provider       string
	APIKey         string
	Model          string
	EmbeddingModel string
	MaxRetries     int
	RetryDelay     time.Duration
	RateLimit      int
	Temperature    float64
	MaxTokens      int
}

// NewClient creates a raw LLM client based on the provided configuration.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIClient(cfg)
	case "anthropic":
		return newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider %q", common.ErrInvalidConfig, cfg.Provider)
	}
}

// ToolSpec describes a callable operation exposed to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema for the tool arguments
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Message roles in a tool-calling conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is one turn in a tool-calling conversation.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCallID string     // set on tool-result turns
	IsError    bool       // tool-result turns only: execution failed
	ToolCalls  []ToolCall // set on assistant turns that requested tools
}

// ChatRequest carries the full conversation state for one model turn.
type ChatRequest struct {
	System   string
	Messages []ChatMessage
	Tools    []ToolSpec
}

// ChatTurn is the model's response: free text, tool calls, or both.
type ChatTurn struct {
	Content   string
	ToolCalls []ToolCall
}
