package litsource

import (
	"context"

	"github.com/ppiankov/beplan/internal/model"
)

// Searcher finds candidate literature sources for an INN.
type Searcher interface {
	Search(ctx context.Context, inn string, retMax int) ([]model.SourceCandidate, error)
}

// Fetcher retrieves the abstract text behind one source.
type Fetcher interface {
	FetchAbstract(ctx context.Context, refID string) (string, error)
}

// Source combines search and fetch; the pipeline depends on this, not
// on a concrete client.
type Source interface {
	Searcher
	Fetcher
}
