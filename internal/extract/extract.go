// Package extract turns uploaded receipt documents into validated
// ReceiptRecords, or a typed rejection when the document cannot be one.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Veraticus/flowmatch/internal/common"
	"github.com/Veraticus/flowmatch/internal/llm"
	"github.com/Veraticus/flowmatch/internal/model"
)

const extractionSystemPrompt = `You extract structured fields from receipt text. You MUST respond with ONLY a valid JSON object, no markdown and no commentary.

If the text is a receipt, respond:
{"merchant": "<name>", "date": "YYYY-MM-DD", "total": <number>, "category": "<food|retail|office|travel|entertainment|other>", "notes": "<optional free text>"}

If the text is not a receipt at all, respond:
{"rejection": "not_a_receipt"}

If the text is a receipt but a required field (merchant, date, or total) cannot be determined, respond:
{"rejection": "partial"}`

// maxDocumentBytes bounds what we will send to the model.
const maxDocumentBytes = 64 * 1024

// LLMExtractor extracts receipt fields from plain-text documents using
// a single model call.
type LLMExtractor struct {
	client llm.Client
	logger *slog.Logger
}

// NewLLMExtractor creates an extractor backed by the given client.
func NewLLMExtractor(client llm.Client, logger *slog.Logger) *LLMExtractor {
	return &LLMExtractor{client: client, logger: logger}
}

// Extract reads the document at path and returns a validated record.
// Rejections are reported through the common error taxonomy so callers
// can distinguish them from transport failures.
func (e *LLMExtractor) Extract(ctx context.Context, path string) (model.ReceiptRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.ReceiptRecord{}, fmt.Errorf("%w: %v", common.ErrUnreadable, err)
	}
	if len(data) > maxDocumentBytes {
		// Back off to a rune boundary so truncation never splits a
		// multi-byte character.
		cut := maxDocumentBytes
		for cut > 0 && !utf8.RuneStart(data[cut]) {
			cut--
		}
		data = data[:cut]
	}
	if len(data) == 0 || !utf8.Valid(data) {
		return model.ReceiptRecord{}, fmt.Errorf("%w: document is empty or not text", common.ErrUnreadable)
	}

	content, err := e.client.Complete(ctx, extractionSystemPrompt, string(data))
	if err != nil {
		return model.ReceiptRecord{}, fmt.Errorf("extraction call failed: %w", err)
	}

	record, err := parseExtraction(content)
	if err != nil {
		e.logger.Warn("extraction rejected", "path", path, "error", err)
		return model.ReceiptRecord{}, err
	}

	if err := record.Validate(); err != nil {
		return model.ReceiptRecord{}, fmt.Errorf("%w: %v", common.ErrPartialExtraction, err)
	}
	return record, nil
}

type extractionResponse struct {
	Rejection string  `json:"rejection"`
	Merchant  string  `json:"merchant"`
	Date      string  `json:"date"`
	Category  string  `json:"category"`
	Notes     string  `json:"notes"`
	Total     float64 `json:"total"`
}

func parseExtraction(content string) (model.ReceiptRecord, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	var resp extractionResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return model.ReceiptRecord{}, fmt.Errorf("%w: unparseable extraction response", common.ErrUnreadable)
	}

	switch resp.Rejection {
	case "":
	case "not_a_receipt":
		return model.ReceiptRecord{}, common.ErrNotAReceipt
	case "partial":
		return model.ReceiptRecord{}, common.ErrPartialExtraction
	default:
		return model.ReceiptRecord{}, fmt.Errorf("%w: %s", common.ErrUnreadable, resp.Rejection)
	}

	date, err := time.Parse("2006-01-02", resp.Date)
	if err != nil {
		return model.ReceiptRecord{}, fmt.Errorf("%w: bad date %q", common.ErrPartialExtraction, resp.Date)
	}

	return model.ReceiptRecord{
		Merchant: resp.Merchant,
		Date:     date,
		Total:    resp.Total,
		Category: model.Category(resp.Category),
		Notes:    resp.Notes,
	}, nil
}
