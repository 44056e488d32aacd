package history

import (
	"context"
	"time"

	"github.com/thebtf/searchlog/internal/querytext"
)

// DedupFilter suppresses a query the same user issued within the window.
type DedupFilter struct {
	store  *Store
	window time.Duration
}

// NewDedupFilter creates a filter reading from store.
func NewDedupFilter(store *Store, window time.Duration) *DedupFilter {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &DedupFilter{store: store, window: window}
}

// ShouldRecord reports whether query may be recorded for userID at now.
// It returns false when an entry with the same normalized query was created
// less than one window before now. A backend fault also returns false.
// It never mutates the store.
func (f *DedupFilter) ShouldRecord(ctx context.Context, userID, query string, now time.Time) bool {
	normalized := querytext.Normalize(query)
	if normalized == "" || userID == "" {
		return false
	}

	after := now.Add(-f.window).UnixMilli()
	latest, err := f.store.findLatestByQuery(ctx, userID, normalized, after)
	if err != nil {
		f.store.fault(ctx, "dedup", userID, err)
		return false
	}
	return latest == nil
}
