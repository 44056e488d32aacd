package history

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/thebtf/searchlog/internal/querytext"
	"github.com/thebtf/searchlog/pkg/models"
)

// Engine serves the read views. Reads take no per-user write lock.
type Engine struct {
	store *Store
	cache PopularCache
	group singleflight.Group
	opts  Options

	// cacheMu orders SetPopular against invalidation; gen counts invalidations.
	cacheMu sync.Mutex
	gen     uint64
}

// NewEngine creates an Engine reading from store. opts zero fields take defaults.
func NewEngine(store *Store, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		store: store,
		cache: opts.Cache,
		opts:  opts,
	}
}

// RecentHistory returns up to limit entries of userID, newest first.
// A non-positive limit uses the default; limits above capacity are clamped.
func (e *Engine) RecentHistory(ctx context.Context, userID string, limit int) []*models.HistoryEntry {
	if limit <= 0 {
		limit = e.opts.RecentLimit
	}
	if limit > e.opts.Capacity {
		limit = e.opts.Capacity
	}
	return e.store.ListRecent(ctx, userID, limit)
}

// Suggestions returns up to SuggestionLimit distinct stored queries of userID
// whose normalized form starts with the lower-cased prefix, newest first by
// most recent occurrence. Prefixes shorter than MinPrefixLength return nothing.
func (e *Engine) Suggestions(ctx context.Context, userID, prefix string) []string {
	suggestions := []string{}
	if querytext.RuneLen(prefix) < e.opts.MinPrefixLength {
		return suggestions
	}
	normalized := querytext.Normalize(prefix)

	entries, err := e.store.searchPrefix(ctx, userID, normalized)
	if err != nil {
		e.store.fault(ctx, "suggestions", userID, err)
		return suggestions
	}

	seen := make(map[string]struct{}, e.opts.SuggestionLimit)
	for _, entry := range entries {
		if !strings.HasPrefix(entry.NormalizedQuery, normalized) {
			continue
		}
		if _, dup := seen[entry.Query]; dup {
			continue
		}
		seen[entry.Query] = struct{}{}
		suggestions = append(suggestions, entry.Query)
		if len(suggestions) == e.opts.SuggestionLimit {
			break
		}
	}
	return suggestions
}

// PopularQueries returns the cross-user ranking: count DESC, then most recent
// occurrence. Concurrent calls with the same limit share one backend read,
// which runs detached from any single caller's cancellation.
func (e *Engine) PopularQueries(ctx context.Context, limit int) []models.PopularQuery {
	if limit <= 0 {
		limit = e.opts.PopularLimit
	}

	v, _, _ := e.group.Do(strconv.Itoa(limit), func() (interface{}, error) {
		shared := context.WithoutCancel(ctx)

		if e.cache != nil {
			if cached, ok := e.cache.GetPopular(shared, limit); ok {
				return cached, nil
			}
		}

		gen := e.generation()
		queries, err := e.store.popular(shared, limit)
		if err != nil {
			e.store.fault(shared, "popular", "", err)
			return []models.PopularQuery{}, nil
		}
		if queries == nil {
			queries = []models.PopularQuery{}
		}
		e.fillCache(shared, gen, limit, queries)
		return queries, nil
	})

	shared := v.([]models.PopularQuery)
	out := make([]models.PopularQuery, len(shared))
	copy(out, shared)
	return out
}

func (e *Engine) generation() uint64 {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	return e.gen
}

// fillCache stores queries unless a write invalidated the cache after the
// read began.
func (e *Engine) fillCache(ctx context.Context, gen uint64, limit int, queries []models.PopularQuery) {
	if e.cache == nil {
		return
	}
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	if e.gen != gen {
		return
	}
	e.cache.SetPopular(ctx, limit, queries)
}

// invalidatePopular drops cached rankings after a committed write.
func (e *Engine) invalidatePopular(ctx context.Context) {
	e.cacheMu.Lock()
	defer e.cacheMu.Unlock()
	e.gen++
	if e.cache != nil {
		e.cache.InvalidatePopular(ctx)
	}
}
