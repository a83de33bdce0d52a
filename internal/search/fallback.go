package search

import (
	"context"
	"fmt"

	"pinboard/internal/store"
)

// RowSource loads the searchable rows for a page. *store.PostgresStore
// satisfies it.
type RowSource interface {
	PinSearchRows(ctx context.Context, appID, pagePath string) ([]store.PinSearchRow, error)
}

// Fallback answers searches straight from the database with the token
// matcher. Slower than Meilisearch but always available, and it defines
// the reference semantics for what a query matches.
type Fallback struct {
	rows RowSource
}

func NewFallback(rows RowSource) *Fallback {
	return &Fallback{rows: rows}
}

func (f *Fallback) SearchPins(ctx context.Context, q Query) ([]int64, error) {
	rows, err := f.rows.PinSearchRows(ctx, q.AppID, q.PagePath)
	if err != nil {
		return nil, fmt.Errorf("search fallback: %w", err)
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if Match(q.Text, row.Text+" "+row.UserName) {
			ids = append(ids, row.PinID)
		}
	}
	return ids, nil
}
