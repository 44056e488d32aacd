package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thebtf/searchlog/pkg/models"
)

var errSimulatedFault = errors.New("simulated backend fault")

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// faultyBackend wraps MemoryBackend and fails every call while fail is set.
type faultyBackend struct {
	*MemoryBackend
	fail atomic.Bool
}

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{MemoryBackend: NewMemoryBackend()}
}

func (f *faultyBackend) Insert(ctx context.Context, e *models.HistoryEntry) (int64, error) {
	if f.fail.Load() {
		return 0, errSimulatedFault
	}
	return f.MemoryBackend.Insert(ctx, e)
}

func (f *faultyBackend) DeleteByID(ctx context.Context, userID string, id int64) (bool, error) {
	if f.fail.Load() {
		return false, errSimulatedFault
	}
	return f.MemoryBackend.DeleteByID(ctx, userID, id)
}

func (f *faultyBackend) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	if f.fail.Load() {
		return 0, errSimulatedFault
	}
	return f.MemoryBackend.DeleteByUser(ctx, userID)
}

func (f *faultyBackend) ListRecent(ctx context.Context, userID string, limit int) ([]*models.HistoryEntry, error) {
	if f.fail.Load() {
		return nil, errSimulatedFault
	}
	return f.MemoryBackend.ListRecent(ctx, userID, limit)
}

func (f *faultyBackend) ListRefs(ctx context.Context, userID string) ([]models.EntryRef, error) {
	if f.fail.Load() {
		return nil, errSimulatedFault
	}
	return f.MemoryBackend.ListRefs(ctx, userID)
}

func (f *faultyBackend) FindLatestByQuery(ctx context.Context, userID, normalized string, after int64) (*models.HistoryEntry, error) {
	if f.fail.Load() {
		return nil, errSimulatedFault
	}
	return f.MemoryBackend.FindLatestByQuery(ctx, userID, normalized, after)
}

func (f *faultyBackend) SearchPrefix(ctx context.Context, userID, prefix string) ([]*models.HistoryEntry, error) {
	if f.fail.Load() {
		return nil, errSimulatedFault
	}
	return f.MemoryBackend.SearchPrefix(ctx, userID, prefix)
}

func (f *faultyBackend) Popular(ctx context.Context, limit int) ([]models.PopularQuery, error) {
	if f.fail.Load() {
		return nil, errSimulatedFault
	}
	return f.MemoryBackend.Popular(ctx, limit)
}

// blockingBackend never answers ListRecent until the context gives up.
type blockingBackend struct {
	*MemoryBackend
}

func (b *blockingBackend) ListRecent(ctx context.Context, _ string, _ int) ([]*models.HistoryEntry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// fakeCache is an in-memory PopularCache.
type fakeCache struct {
	entries     map[int][]models.PopularQuery
	gets        int
	invalidated int
	mu          sync.Mutex
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[int][]models.PopularQuery)}
}

func (c *fakeCache) GetPopular(_ context.Context, limit int) ([]models.PopularQuery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	q, ok := c.entries[limit]
	return q, ok
}

func (c *fakeCache) SetPopular(_ context.Context, limit int, queries []models.PopularQuery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[limit] = queries
}

func (c *fakeCache) InvalidatePopular(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	c.entries = make(map[int][]models.PopularQuery)
}

// newTestService builds a Service over backend with a fake clock and a short debounce.
func newTestService(backend Backend, clock Clock, opts Options) *Service {
	opts.Clock = clock
	if opts.DebounceDelay == 0 {
		opts.DebounceDelay = 50 * time.Millisecond
	}
	return New(backend, opts)
}

func queriesOf(entries []*models.HistoryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Query
	}
	return out
}

// gatedBackend holds Popular until release is closed, signalling entered first.
type gatedBackend struct {
	*MemoryBackend
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		MemoryBackend: NewMemoryBackend(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (g *gatedBackend) Popular(ctx context.Context, limit int) ([]models.PopularQuery, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MemoryBackend.Popular(ctx, limit)
}
