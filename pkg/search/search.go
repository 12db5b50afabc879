// Package search provides the web-search capability used for learning
// resource recommendations, with result classification and fallbacks.
package search

import (
	"context"
)

// Result is one raw search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Type    string `json:"type,omitempty"`
}

// Client performs web searches. Implementations own their transport; the
// rate-limit fabric caps concurrency.
type Client interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Func adapts a function to Client for tests.
type Func func(ctx context.Context, query string, limit int) ([]Result, error)

func (f Func) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	return f(ctx, query, limit)
}
