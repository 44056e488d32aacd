package gorm

import (
	"database/sql"

	"github.com/thebtf/searchlog/pkg/models"
)

// deleteBatchSize keeps IN lists under SQLite's bound-variable limit.
const deleteBatchSize = 500

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func fromModelEntry(e *models.HistoryEntry) *SearchHistory {
	return &SearchHistory{
		UserID:          e.UserID,
		Query:           e.Query,
		NormalizedQuery: e.NormalizedQuery,
		Filters:         e.Filters.Clone(),
		ResultCount:     nullInt(e.ResultCount),
		CreatedAt:       e.CreatedAt,
		CreatedAtEpoch:  e.CreatedAtEpoch,
	}
}

func toModelEntry(row *SearchHistory) *models.HistoryEntry {
	e := &models.HistoryEntry{
		ID:              row.ID,
		UserID:          row.UserID,
		Query:           row.Query,
		NormalizedQuery: row.NormalizedQuery,
		Filters:         row.Filters,
		CreatedAt:       row.CreatedAt,
		CreatedAtEpoch:  row.CreatedAtEpoch,
	}
	if row.ResultCount.Valid {
		n := int(row.ResultCount.Int64)
		e.ResultCount = &n
	}
	return e
}

func toModelEntries(rows []SearchHistory) []*models.HistoryEntry {
	out := make([]*models.HistoryEntry, len(rows))
	for i := range rows {
		out[i] = toModelEntry(&rows[i])
	}
	return out
}

func toPopular(stats []QueryStat) []models.PopularQuery {
	out := make([]models.PopularQuery, len(stats))
	for i, s := range stats {
		out[i] = models.PopularQuery{
			Query:           s.DisplayQuery,
			NormalizedQuery: s.NormalizedQuery,
			Count:           s.SearchCount,
			LastSearchedAt:  s.LastSearchedEpoch,
			LastEntryID:     s.LastEntryID,
		}
	}
	return out
}
