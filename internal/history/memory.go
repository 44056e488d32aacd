package history

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/thebtf/searchlog/pkg/models"
)

// MemoryBackend keeps history in process memory. It is the sole store when
// no durable backend is configured, and the reference backend in tests.
type MemoryBackend struct {
	byUser map[string][]*models.HistoryEntry
	stats  map[string]*models.PopularQuery
	nextID int64
	mu     sync.RWMutex
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		byUser: make(map[string][]*models.HistoryEntry),
		stats:  make(map[string]*models.PopularQuery),
	}
}

// Insert implements Backend.
func (m *MemoryBackend) Insert(ctx context.Context, entry *models.HistoryEntry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrBackendUnavailable
	}

	m.nextID++
	stored := entry.Clone()
	stored.ID = m.nextID
	m.byUser[entry.UserID] = append(m.byUser[entry.UserID], stored)
	return stored.ID, nil
}

// DeleteByID implements Backend.
func (m *MemoryBackend) DeleteByID(ctx context.Context, userID string, id int64) (bool, error) {
	n, err := m.DeleteByIDs(ctx, userID, []int64{id})
	return n > 0, err
}

// DeleteByIDs implements Backend.
func (m *MemoryBackend) DeleteByIDs(ctx context.Context, userID string, ids []int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrBackendUnavailable
	}
	if len(ids) == 0 {
		return 0, nil
	}

	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	entries := m.byUser[userID]
	kept := entries[:0]
	var deleted int64
	for _, e := range entries {
		if _, ok := drop[e.ID]; ok {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		delete(m.byUser, userID)
	} else {
		m.byUser[userID] = kept
	}
	return deleted, nil
}

// DeleteByUser implements Backend.
func (m *MemoryBackend) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrBackendUnavailable
	}

	n := int64(len(m.byUser[userID]))
	delete(m.byUser, userID)
	return n, nil
}

// newestFirst returns clones of userID's entries matching keep, newest first.
// Callers hold at least the read lock.
func (m *MemoryBackend) newestFirst(userID string, keep func(*models.HistoryEntry) bool) []*models.HistoryEntry {
	entries := m.byUser[userID]
	out := make([]*models.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if keep == nil || keep(e) {
			out = append(out, e.Clone())
		}
	}
	sortNewestFirst(out)
	return out
}

// ListRecent implements Backend.
func (m *MemoryBackend) ListRecent(ctx context.Context, userID string, limit int) ([]*models.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrBackendUnavailable
	}

	out := m.newestFirst(userID, nil)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListRefs implements Backend.
func (m *MemoryBackend) ListRefs(ctx context.Context, userID string) ([]models.EntryRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrBackendUnavailable
	}

	entries := m.newestFirst(userID, nil)
	refs := make([]models.EntryRef, len(entries))
	for i, e := range entries {
		refs[i] = models.EntryRef{ID: e.ID, CreatedAtEpoch: e.CreatedAtEpoch}
	}
	return refs, nil
}

// FindLatestByQuery implements Backend.
func (m *MemoryBackend) FindLatestByQuery(ctx context.Context, userID, normalized string, afterEpoch int64) (*models.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrBackendUnavailable
	}

	matches := m.newestFirst(userID, func(e *models.HistoryEntry) bool {
		return e.NormalizedQuery == normalized && e.CreatedAtEpoch > afterEpoch
	})
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// SearchPrefix implements Backend.
func (m *MemoryBackend) SearchPrefix(ctx context.Context, userID, normalizedPrefix string) ([]*models.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrBackendUnavailable
	}

	return m.newestFirst(userID, func(e *models.HistoryEntry) bool {
		return strings.HasPrefix(e.NormalizedQuery, normalizedPrefix)
	}), nil
}

// RecordSearch implements Backend.
func (m *MemoryBackend) RecordSearch(ctx context.Context, entry *models.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrBackendUnavailable
	}

	stat, ok := m.stats[entry.NormalizedQuery]
	if !ok {
		stat = &models.PopularQuery{NormalizedQuery: entry.NormalizedQuery}
		m.stats[entry.NormalizedQuery] = stat
	}
	stat.Count++
	stat.Query = entry.Query
	stat.LastSearchedAt = entry.CreatedAtEpoch
	stat.LastEntryID = entry.ID
	return nil
}

// Popular implements Backend.
func (m *MemoryBackend) Popular(ctx context.Context, limit int) ([]models.PopularQuery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrBackendUnavailable
	}

	out := make([]models.PopularQuery, 0, len(m.stats))
	for _, stat := range m.stats {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrBackendUnavailable
	}
	return ctx.Err()
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Count returns the number of entries held for userID.
func (m *MemoryBackend) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID])
}
