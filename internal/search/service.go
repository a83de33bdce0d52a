package search

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Service is the facade that tries Meilisearch first and falls back to the
// database matcher. meili may be nil when not configured.
type Service struct {
	meili    *Meili
	fallback *Fallback
}

func NewService(meili *Meili, fallback *Fallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// SearchPins resolves a query to pin ids.
func (s *Service) SearchPins(ctx context.Context, q Query) ([]int64, error) {
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.SearchPins(q)
		if err == nil {
			return ids, nil
		}
		log.Warn().Err(err).Msg("search: meilisearch error, falling back to database")
	}
	return s.fallback.SearchPins(ctx, q)
}

// IndexPin pushes a pin's searchable record, fire-and-forget.
func (s *Service) IndexPin(record Record) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPin(record); err != nil {
			log.Warn().Err(err).Int64("pin", record.ID).Msg("search: index pin")
		}
	}()
}

// DeletePin removes a pin from the index, fire-and-forget.
func (s *Service) DeletePin(id int64) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeletePin(id); err != nil {
			log.Warn().Err(err).Int64("pin", id).Msg("search: delete pin")
		}
	}()
}

// ReindexAll reloads every searchable row for an app and pushes it to
// Meilisearch. Called at startup when the index may be stale.
func (s *Service) ReindexAll(ctx context.Context, appIDs []string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	for _, appID := range appIDs {
		rows, err := s.fallback.rows.PinSearchRows(ctx, appID, "")
		if err != nil {
			log.Warn().Err(err).Str("app", appID).Msg("search: reindex load failed")
			continue
		}
		records := make([]Record, 0, len(rows))
		for _, row := range rows {
			records = append(records, Record{
				ID:       row.PinID,
				AppID:    appID,
				PagePath: row.PagePath,
				Text:     row.Text,
				UserName: row.UserName,
			})
		}
		if err := s.meili.IndexPins(records); err != nil {
			log.Warn().Err(err).Str("app", appID).Msg("search: reindex push failed")
		}
	}
}
