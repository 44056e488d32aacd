package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/searchlog/pkg/models"
)

func TestSweep_EvictsOldestBeyondCapacity(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := NewMemoryBackend()
	store := NewStore(backend, clock, time.Second)
	sweeper := NewSweeper(store, DefaultCapacity)

	var ids []int64
	for i := 0; i < DefaultCapacity+1; i++ {
		id := store.Append(ctx, &models.HistoryEntry{UserID: "u1", Query: fmt.Sprintf("query %d", i)})
		require.NotZero(t, id)
		ids = append(ids, id)
		clock.Advance(time.Second)
	}
	require.Equal(t, DefaultCapacity+1, backend.Count("u1"))

	evicted := sweeper.Sweep(ctx, "u1")

	assert.Equal(t, []int64{ids[0]}, evicted)
	assert.Equal(t, DefaultCapacity, backend.Count("u1"))

	refs := store.ListAllIDs(ctx, "u1")
	require.Len(t, refs, DefaultCapacity)
	assert.Equal(t, ids[len(ids)-1], refs[0].ID)
	assert.Equal(t, ids[1], refs[len(refs)-1].ID)
}

func TestSweep_UnderCapacityIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), newFakeClock(), time.Second)
	sweeper := NewSweeper(store, 5)

	for i := 0; i < 5; i++ {
		store.Append(ctx, &models.HistoryEntry{UserID: "u1", Query: fmt.Sprintf("q%d", i)})
	}

	assert.Nil(t, sweeper.Sweep(ctx, "u1"))
	assert.Len(t, store.ListAllIDs(ctx, "u1"), 5)
	assert.Nil(t, sweeper.Sweep(ctx, "nobody"))
}

func TestSweep_EqualTimestampsEvictLowerIDFirst(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), newFakeClock(), time.Second)
	sweeper := NewSweeper(store, 2)

	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, store.Append(ctx, &models.HistoryEntry{UserID: "u1", Query: fmt.Sprintf("tie %d", i)}))
	}

	evicted := sweeper.Sweep(ctx, "u1")
	assert.ElementsMatch(t, []int64{ids[0], ids[1]}, evicted)

	remaining := store.ListRecent(ctx, "u1", 10)
	assert.Equal(t, []string{"tie 3", "tie 2"}, queriesOf(remaining))
}

func TestSweep_BatchOvershoot(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := NewMemoryBackend()
	store := NewStore(backend, clock, time.Second)
	sweeper := NewSweeper(store, 10)

	for i := 0; i < 35; i++ {
		store.Append(ctx, &models.HistoryEntry{UserID: "u1", Query: fmt.Sprintf("q%d", i)})
		clock.Advance(time.Millisecond)
	}

	evicted := sweeper.Sweep(ctx, "u1")
	assert.Len(t, evicted, 25)
	assert.Equal(t, 10, backend.Count("u1"))
	assert.Equal(t, "q34", store.ListRecent(ctx, "u1", 1)[0].Query)
}

func TestSweep_OnlyTouchesOneUser(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := NewStore(backend, newFakeClock(), time.Second)
	sweeper := NewSweeper(store, 1)

	store.Append(ctx, &models.HistoryEntry{UserID: "u1", Query: "a"})
	store.Append(ctx, &models.HistoryEntry{UserID: "u1", Query: "b"})
	store.Append(ctx, &models.HistoryEntry{UserID: "u2", Query: "c"})
	store.Append(ctx, &models.HistoryEntry{UserID: "u2", Query: "d"})

	sweeper.Sweep(ctx, "u1")
	assert.Equal(t, 1, backend.Count("u1"))
	assert.Equal(t, 2, backend.Count("u2"))
}
