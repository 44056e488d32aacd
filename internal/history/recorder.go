package history

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/searchlog/internal/querytext"
	"github.com/thebtf/searchlog/pkg/models"
)

// Request is one user-issued query waiting to be recorded.
type Request struct {
	Filters     models.Filters
	ResultCount *int
	UserID      string
	Query       string
}

// RecordResult describes a committed write.
type RecordResult struct {
	Entry   *models.HistoryEntry
	Evicted []int64
}

// Recorder runs dedup → append → sweep as one critical section per user.
type Recorder struct {
	store   *Store
	dedup   *DedupFilter
	sweeper *Sweeper
	clock   Clock
	locks   *userLocks
}

// NewRecorder creates a Recorder.
func NewRecorder(store *Store, dedup *DedupFilter, sweeper *Sweeper, clock Clock) *Recorder {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Recorder{
		store:   store,
		dedup:   dedup,
		sweeper: sweeper,
		clock:   clock,
		locks:   &userLocks{},
	}
}

// Record writes req unless it is blank or a duplicate within the window.
// The second return value reports whether an entry was appended.
func (r *Recorder) Record(ctx context.Context, req Request) (RecordResult, bool) {
	userID := cleanUserID(req.UserID)
	query := querytext.Clean(req.Query)
	if userID == "" || query == "" {
		return RecordResult{}, false
	}

	unlock := r.locks.lock(userID)
	defer unlock()

	now := r.clock.Now()
	if !r.dedup.ShouldRecord(ctx, userID, query, now) {
		r.store.metrics.add(ctx, r.store.metrics.suppressed, 1)
		log.Debug().
			Str("user", userID).
			Str("query", query).
			Msg("Query suppressed by dedup window")
		return RecordResult{}, false
	}

	entry := &models.HistoryEntry{
		UserID:      userID,
		Query:       query,
		Filters:     req.Filters.Clone(),
		ResultCount: nonNegative(req.ResultCount),
	}
	if id := r.store.Append(ctx, entry); id == 0 {
		return RecordResult{}, false
	}
	r.store.metrics.add(ctx, r.store.metrics.recorded, 1)
	r.store.recordSearch(ctx, entry)

	evicted := r.sweeper.Sweep(ctx, userID)
	return RecordResult{Entry: entry, Evicted: evicted}, true
}

// withUser runs fn while holding the user's write lock.
func (r *Recorder) withUser(userID string, fn func()) {
	unlock := r.locks.lock(userID)
	defer unlock()
	fn()
}

// nonNegative drops negative result counts.
func nonNegative(n *int) *int {
	if n == nil || *n < 0 {
		return nil
	}
	v := *n
	return &v
}
