package history

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/searchlog/internal/querytext"
	"github.com/thebtf/searchlog/pkg/models"
)

// Store is the per-user append-and-evict log over a Backend.
// The exported methods never return errors: a backend fault is logged and
// the call degrades to 0, false or an empty slice.
type Store struct {
	backend Backend
	clock   Clock
	metrics *metrics
	timeout time.Duration
}

// NewStore creates a Store. A nil clock uses SystemClock and a non-positive
// timeout uses DefaultBackendTimeout.
func NewStore(backend Backend, clock Clock, timeout time.Duration) *Store {
	if clock == nil {
		clock = SystemClock{}
	}
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	return &Store{
		backend: backend,
		clock:   clock,
		metrics: newMetrics(),
		timeout: timeout,
	}
}

// withTimeout bounds a single backend call.
func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// fault logs a degraded backend call.
func (s *Store) fault(ctx context.Context, op, userID string, err error) {
	s.metrics.add(ctx, s.metrics.faults, 1)
	log.Warn().
		Err(err).
		Str("op", op).
		Str("user", userID).
		Msg("History backend fault, degrading")
}

// Append inserts entry with a fresh id and created_at = now, and returns the id.
// The entry's ID, Query, NormalizedQuery and timestamps are filled in place.
// Capacity is not checked here; the Sweeper enforces it afterwards.
// Returns 0 if the backend failed.
func (s *Store) Append(ctx context.Context, entry *models.HistoryEntry) int64 {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock.Now()

	// Keep created_at non-decreasing per user even if the clock steps back.
	latest, err := s.backend.ListRecent(ctx, entry.UserID, 1)
	if err != nil {
		s.fault(ctx, "append", entry.UserID, err)
		return 0
	}
	if len(latest) > 0 && latest[0].CreatedAtEpoch > now.UnixMilli() {
		now = latest[0].Time()
	}

	entry.Query = querytext.Clean(entry.Query)
	entry.NormalizedQuery = strings.ToLower(entry.Query)
	entry.ID = 0
	entry.SetCreated(now)

	id, err := s.backend.Insert(ctx, entry.Clone())
	if err != nil {
		s.fault(ctx, "append", entry.UserID, err)
		return 0
	}
	entry.ID = id
	return id
}

// DeleteOne removes the entry if it exists and belongs to userID.
func (s *Store) DeleteOne(ctx context.Context, userID string, id int64) bool {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	deleted, err := s.backend.DeleteByID(ctx, userID, id)
	if err != nil {
		s.fault(ctx, "delete_one", userID, err)
		return false
	}
	return deleted
}

// DeleteAll removes every entry of userID. It succeeds when there is nothing to delete.
func (s *Store) DeleteAll(ctx context.Context, userID string) bool {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.backend.DeleteByUser(ctx, userID); err != nil {
		s.fault(ctx, "delete_all", userID, err)
		return false
	}
	return true
}

// ListRecent returns up to limit entries of userID, newest first.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) []*models.HistoryEntry {
	if limit <= 0 {
		return []*models.HistoryEntry{}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entries, err := s.backend.ListRecent(ctx, userID, limit)
	if err != nil {
		s.fault(ctx, "list_recent", userID, err)
		return []*models.HistoryEntry{}
	}
	sortNewestFirst(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// ListAllIDs returns the identity of every entry of userID, newest first.
// The sweep is its only consumer.
func (s *Store) ListAllIDs(ctx context.Context, userID string) []models.EntryRef {
	refs, err := s.listAllIDs(ctx, userID)
	if err != nil {
		s.fault(ctx, "list_ids", userID, err)
		return []models.EntryRef{}
	}
	return refs
}

func (s *Store) listAllIDs(ctx context.Context, userID string) ([]models.EntryRef, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	refs, err := s.backend.ListRefs(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].CreatedAtEpoch != refs[j].CreatedAtEpoch {
			return refs[i].CreatedAtEpoch > refs[j].CreatedAtEpoch
		}
		return refs[i].ID > refs[j].ID
	})
	return refs, nil
}

// evict removes ids of userID as one batch. Only the Sweeper calls it.
func (s *Store) evict(ctx context.Context, userID string, ids []int64) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.backend.DeleteByIDs(ctx, userID, ids)
}

// findLatestByQuery is the dedup lookup.
func (s *Store) findLatestByQuery(ctx context.Context, userID, normalized string, afterEpoch int64) (*models.HistoryEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.backend.FindLatestByQuery(ctx, userID, normalized, afterEpoch)
}

// searchPrefix returns entries matching normalizedPrefix, newest first.
func (s *Store) searchPrefix(ctx context.Context, userID, normalizedPrefix string) ([]*models.HistoryEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	entries, err := s.backend.SearchPrefix(ctx, userID, normalizedPrefix)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(entries)
	return entries, nil
}

// recordSearch bumps the popularity counter. Failure only costs analytics.
func (s *Store) recordSearch(ctx context.Context, entry *models.HistoryEntry) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.backend.RecordSearch(ctx, entry); err != nil {
		s.fault(ctx, "record_search", entry.UserID, err)
	}
}

// popular returns the cross-user ranking.
func (s *Store) popular(ctx context.Context, limit int) ([]models.PopularQuery, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	queries, err := s.backend.Popular(ctx, limit)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(queries, func(i, j int) bool { return queries[i].Less(queries[j]) })
	if len(queries) > limit {
		queries = queries[:limit]
	}
	return queries, nil
}

// sortNewestFirst orders entries by created_at_epoch DESC, id DESC.
func sortNewestFirst(entries []*models.HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAtEpoch != entries[j].CreatedAtEpoch {
			return entries[i].CreatedAtEpoch > entries[j].CreatedAtEpoch
		}
		return entries[i].ID > entries[j].ID
	})
}
