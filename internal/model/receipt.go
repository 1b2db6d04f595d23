package model

import (
	"fmt"
	"strings"
	"time"
)

// Category is the coarse spending category assigned during extraction.
type Category string

// Valid receipt categories.
const (
	CategoryFood          Category = "food"
	CategoryRetail        Category = "retail"
	CategoryOffice        Category = "office"
	CategoryTravel        Category = "travel"
	CategoryEntertainment Category = "entertainment"
	CategoryOther         Category = "other"
)

// Validate checks that the category is one of the known values.
func (c Category) Validate() error {
	switch c {
	case CategoryFood, CategoryRetail, CategoryOffice, CategoryTravel, CategoryEntertainment, CategoryOther:
		return nil
	}
	return fmt.Errorf("unknown category: %q", c)
}

// ReceiptRecord is the structured result of extracting a single receipt.
// It is immutable once produced; its lifetime is one matching request.
type ReceiptRecord struct {
	Date     time.Time `json:"date"`
	Merchant string    `json:"merchant"`
	Notes    string    `json:"notes,omitempty"`
	Category Category  `json:"category"`
	Total    float64   `json:"total"`
}

// Validate ensures the record carries the fields the matchers depend on.
func (r *ReceiptRecord) Validate() error {
	if strings.TrimSpace(r.Merchant) == "" {
		return fmt.Errorf("merchant is required")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("transaction date is required")
	}
	if r.Total <= 0 {
		return fmt.Errorf("total must be positive, got %.2f", r.Total)
	}
	return r.Category.Validate()
}

// SearchQuery builds the fixed free-text query used by the pipeline
// orchestrator: merchant, category, and notes concatenated.
func (r *ReceiptRecord) SearchQuery() string {
	parts := []string{r.Merchant, string(r.Category)}
	if r.Notes != "" {
		parts = append(parts, r.Notes)
	}
	return strings.Join(parts, " ")
}
