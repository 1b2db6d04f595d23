package index

import (
	"context"
	"sync/atomic"
)

// Swappable wraps an Index behind an atomic pointer so the catalog can
// be rebuilt and swapped in while searches proceed lock-free.
type Swappable struct {
	ptr atomic.Pointer[Index]
}

// NewSwappable creates a swappable index seeded with idx.
func NewSwappable(idx *Index) *Swappable {
	s := &Swappable{}
	s.ptr.Store(idx)
	return s
}

// Search delegates to the current index.
func (s *Swappable) Search(ctx context.Context, query string, k int) ([]Result, error) {
	return s.ptr.Load().Search(ctx, query, k)
}

// Len reports the current index size.
func (s *Swappable) Len() int {
	return s.ptr.Load().Len()
}

// Swap replaces the current index.
func (s *Swappable) Swap(idx *Index) {
	s.ptr.Store(idx)
}
