package history

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Sweeper enforces the per-user capacity after each append.
type Sweeper struct {
	store    *Store
	capacity int
}

// NewSweeper creates a Sweeper keeping at most capacity entries per user.
func NewSweeper(store *Store, capacity int) *Sweeper {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sweeper{store: store, capacity: capacity}
}

// Sweep keeps the capacity newest entries of userID and deletes the rest in
// one batch, oldest first with equal timestamps evicting the lower id.
// Returns the evicted ids (nil when nothing was over capacity or on fault).
func (s *Sweeper) Sweep(ctx context.Context, userID string) []int64 {
	refs, err := s.store.listAllIDs(ctx, userID)
	if err != nil {
		s.store.fault(ctx, "sweep", userID, err)
		return nil
	}
	if len(refs) <= s.capacity {
		return nil
	}

	overflow := refs[s.capacity:]
	ids := make([]int64, len(overflow))
	for i, ref := range overflow {
		ids[i] = ref.ID
	}

	deleted, err := s.store.evict(ctx, userID, ids)
	if err != nil {
		s.store.fault(ctx, "sweep", userID, err)
		return nil
	}
	s.store.metrics.add(ctx, s.store.metrics.evicted, deleted)

	log.Debug().
		Str("user", userID).
		Int("kept", s.capacity).
		Int64("evicted", deleted).
		Msg("History sweep evicted old entries")

	return ids
}
