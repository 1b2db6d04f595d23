// Package llm provides language model interfaces for receipt-to-budget
// adjudication. It supports multiple LLM providers including OpenAI and
// Anthropic, with retry logic, rate limiting, tool-calling conversations
// for the agentic orchestrator, and embedding generation for the
// candidate index.
package llm
