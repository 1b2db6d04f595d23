package model

import (
	"fmt"
	"strings"
	"time"
)

// CandidateItem is a catalog work item a receipt may be attributed to.
// The catalog is loaded once at startup and is read-only thereafter.
type CandidateItem struct {
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerId,omitempty"`
	Budget      float64   `json:"budget"`
}

// Validate checks the catalog invariants for a single item.
func (c *CandidateItem) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("candidate ID is required")
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("candidate %s: title is required", c.ID)
	}
	if c.Budget < 0 {
		return fmt.Errorf("candidate %s: budget must be non-negative, got %.2f", c.ID, c.Budget)
	}
	if c.WindowStart.IsZero() || c.WindowEnd.IsZero() {
		return fmt.Errorf("candidate %s: both window dates are required", c.ID)
	}
	if c.WindowEnd.Before(c.WindowStart) {
		return fmt.Errorf("candidate %s: window start %s is after window end %s",
			c.ID, c.WindowStart.Format("2006-01-02"), c.WindowEnd.Format("2006-01-02"))
	}
	return nil
}

// EmbeddingText is the text the index embeds for this item.
func (c *CandidateItem) EmbeddingText() string {
	if c.Description == "" {
		return c.Title
	}
	return c.Title + " " + c.Description
}

// IndexedCandidate pairs a catalog item with its embedding vector.
// Created at index build time and never mutated afterwards.
type IndexedCandidate struct {
	Item      CandidateItem
	Embedding []float64
}
