// Package models contains domain models for searchlog.
package models

import "time"

// HistoryEntry is a single recorded search query for a user.
// Entries are append/delete only; nothing updates one in place.
type HistoryEntry struct {
	Filters         Filters `db:"filters" json:"filters,omitempty"`
	ResultCount     *int    `db:"result_count" json:"result_count,omitempty"`
	UserID          string  `db:"user_id" json:"user_id"`
	Query           string  `db:"query" json:"query"`
	NormalizedQuery string  `db:"normalized_query" json:"-"`
	CreatedAt       string  `db:"created_at" json:"created_at"`
	ID              int64   `db:"id" json:"id"`
	CreatedAtEpoch  int64   `db:"created_at_epoch" json:"created_at_epoch"`
}

// Time returns CreatedAtEpoch as a time.Time.
func (e *HistoryEntry) Time() time.Time {
	return time.UnixMilli(e.CreatedAtEpoch)
}

// SetCreated stamps both timestamp representations from t.
func (e *HistoryEntry) SetCreated(t time.Time) {
	e.CreatedAtEpoch = t.UnixMilli()
	e.CreatedAt = t.UTC().Format(time.RFC3339)
}

// Clone returns a deep copy of the entry.
func (e *HistoryEntry) Clone() *HistoryEntry {
	c := *e
	c.Filters = e.Filters.Clone()
	if e.ResultCount != nil {
		n := *e.ResultCount
		c.ResultCount = &n
	}
	return &c
}

// EntryRef is the minimal identity of an entry, used by the eviction sweep.
type EntryRef struct {
	ID             int64 `db:"id" json:"id"`
	CreatedAtEpoch int64 `db:"created_at_epoch" json:"created_at_epoch"`
}

// PopularQuery is an aggregated search across all users.
type PopularQuery struct {
	Query           string `db:"display_query" json:"query"`
	NormalizedQuery string `db:"normalized_query" json:"-"`
	Count           int64  `db:"search_count" json:"count"`
	LastSearchedAt  int64  `db:"last_searched_epoch" json:"last_searched_at_epoch"`
	LastEntryID     int64  `db:"last_entry_id" json:"-"`
}

// Less reports whether p ranks before o: higher count first, then the most
// recent occurrence, then the most recent entry id.
func (p PopularQuery) Less(o PopularQuery) bool {
	if p.Count != o.Count {
		return p.Count > o.Count
	}
	if p.LastSearchedAt != o.LastSearchedAt {
		return p.LastSearchedAt > o.LastSearchedAt
	}
	return p.LastEntryID > o.LastEntryID
}
