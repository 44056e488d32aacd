// Package history implements the bounded, debounced, deduplicating
// search-history store for searchlog.
//
// Writes flow Schedule → debounce → Recorder (dedup → append → sweep).
// Reads go straight to the Engine. Backend faults never reach callers:
// they are logged and degrade to empty results.
package history

import (
	"context"
	"errors"

	"github.com/thebtf/searchlog/pkg/models"
)

// ErrBackendUnavailable is returned by a backend that has been closed.
var ErrBackendUnavailable = errors.New("history backend unavailable")

// Backend is the persistence layer behind the Store.
// Ordering for every list method is newest first: created_at_epoch DESC, id DESC.
type Backend interface {
	// Insert stores entry and returns its newly assigned id.
	Insert(ctx context.Context, entry *models.HistoryEntry) (int64, error)

	// DeleteByID removes one entry if it exists and belongs to userID.
	DeleteByID(ctx context.Context, userID string, id int64) (bool, error)

	// DeleteByIDs removes the given entries of userID in one batch.
	DeleteByIDs(ctx context.Context, userID string, ids []int64) (int64, error)

	// DeleteByUser removes every entry of userID.
	DeleteByUser(ctx context.Context, userID string) (int64, error)

	// ListRecent returns up to limit entries of userID.
	ListRecent(ctx context.Context, userID string, limit int) ([]*models.HistoryEntry, error)

	// ListRefs returns (id, created_at_epoch) for every entry of userID.
	ListRefs(ctx context.Context, userID string) ([]models.EntryRef, error)

	// FindLatestByQuery returns the newest entry of userID whose normalized
	// query equals normalized and whose created_at_epoch is strictly greater
	// than afterEpoch, or nil if there is none.
	FindLatestByQuery(ctx context.Context, userID, normalized string, afterEpoch int64) (*models.HistoryEntry, error)

	// SearchPrefix returns every entry of userID whose normalized query starts
	// with normalizedPrefix.
	SearchPrefix(ctx context.Context, userID, normalizedPrefix string) ([]*models.HistoryEntry, error)

	// RecordSearch bumps the cross-user popularity counter for entry's query.
	RecordSearch(ctx context.Context, entry *models.HistoryEntry) error

	// Popular returns up to limit aggregated queries ordered by count DESC,
	// last occurrence DESC, last entry id DESC.
	Popular(ctx context.Context, limit int) ([]models.PopularQuery, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// PopularCache is an optional read-through cache for popular queries.
type PopularCache interface {
	GetPopular(ctx context.Context, limit int) ([]models.PopularQuery, bool)
	SetPopular(ctx context.Context, limit int, queries []models.PopularQuery)
	InvalidatePopular(ctx context.Context)
}
