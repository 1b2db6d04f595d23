// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/flowmatch/internal/model"
)

// CatalogStore defines the contract for the candidate catalog collaborator.
// The matching core reads the catalog once at startup (or on an explicit
// reload) and never writes on the request path.
type CatalogStore interface {
	SaveCandidates(ctx context.Context, items []model.CandidateItem) error
	ListCandidates(ctx context.Context) ([]model.CandidateItem, error)
	GetCandidate(ctx context.Context, id string) (*model.CandidateItem, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Extractor defines the contract for the extraction collaborator. It
// returns a validated record, or one of the typed rejections in
// internal/common (not-a-receipt, unreadable, partial).
type Extractor interface {
	Extract(ctx context.Context, path string) (model.ReceiptRecord, error)
}

// Matcher is the shared shape of both orchestrators' synchronous entry.
type Matcher interface {
	Match(ctx context.Context, receipt model.ReceiptRecord) (model.MatchResult, error)
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
