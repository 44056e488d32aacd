package history

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/searchlog/internal/debounce"
	"github.com/thebtf/searchlog/internal/querytext"
	"github.com/thebtf/searchlog/pkg/models"
)

// Service is the query-history store: one explicitly constructed instance,
// shared by reference, alive from New until Shutdown. It does not own the
// Backend; close that after Shutdown returns.
type Service struct {
	ctx       context.Context
	store     *Store
	engine    *Engine
	recorder  *Recorder
	scheduler *debounce.Scheduler[Request]
	cancel    context.CancelFunc
	listeners []Listener
	opts      Options
	mu        sync.RWMutex
}

// New wires a Service over backend.
func New(backend Backend, opts Options) *Service {
	opts = opts.withDefaults()

	store := NewStore(backend, opts.Clock, opts.BackendTimeout)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		ctx:    ctx,
		cancel: cancel,
		store:  store,
		engine: NewEngine(store, opts),
		recorder: NewRecorder(
			store,
			NewDedupFilter(store, opts.DedupWindow),
			NewSweeper(store, opts.Capacity),
			opts.Clock,
		),
		opts: opts,
	}
	s.scheduler = debounce.New(opts.DebounceDelay, s.commit)
	return s
}

// Options returns the effective tuning.
func (s *Service) Options() Options {
	return s.opts
}

// OnChange registers a listener for committed mutations.
func (s *Service) OnChange(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Schedule records the intent to write query for userID. Calls on one Service
// share a single debounce channel: a call within the quiet period replaces the
// pending one, and only the last is committed. Blank queries are ignored.
func (s *Service) Schedule(userID, query string, filters models.Filters, resultCount *int) {
	userID = cleanUserID(userID)
	if userID == "" || querytext.IsBlank(query) {
		return
	}
	req := Request{
		UserID:      userID,
		Query:       query,
		Filters:     filters.Clone(),
		ResultCount: nonNegative(resultCount),
	}
	if !s.scheduler.Schedule(req) {
		log.Debug().Str("user", userID).Msg("Schedule after shutdown ignored")
	}
}

// commit runs on the scheduler's worker once a quiet period closes.
func (s *Service) commit(req Request) {
	s.Record(s.ctx, req)
}

// Record writes req immediately, bypassing the debounce. It returns the new
// entry, or nil if the request was blank, a duplicate, or the backend failed.
func (s *Service) Record(ctx context.Context, req Request) *models.HistoryEntry {
	result, ok := s.recorder.Record(ctx, req)
	if !ok {
		return nil
	}

	s.engine.invalidatePopular(ctx)

	s.emit(ChangeEvent{Type: EventRecorded, UserID: result.Entry.UserID, Entry: result.Entry.Clone()})
	if len(result.Evicted) > 0 {
		s.emit(ChangeEvent{Type: EventEvicted, UserID: result.Entry.UserID, IDs: result.Evicted})
	}
	return result.Entry
}

// RecentHistory returns up to limit entries of userID, newest first.
func (s *Service) RecentHistory(ctx context.Context, userID string, limit int) []*models.HistoryEntry {
	userID = cleanUserID(userID)
	if userID == "" {
		return []*models.HistoryEntry{}
	}
	return s.engine.RecentHistory(ctx, userID, limit)
}

// Suggestions returns prefix suggestions from userID's history.
func (s *Service) Suggestions(ctx context.Context, userID, prefix string) []string {
	userID = cleanUserID(userID)
	if userID == "" {
		return []string{}
	}
	return s.engine.Suggestions(ctx, userID, prefix)
}

// PopularQueries returns the cross-user popularity ranking.
func (s *Service) PopularQueries(ctx context.Context, limit int) []models.PopularQuery {
	return s.engine.PopularQueries(ctx, limit)
}

// DeleteOne removes a single entry of userID.
func (s *Service) DeleteOne(ctx context.Context, userID string, id int64) bool {
	userID = cleanUserID(userID)
	if userID == "" {
		return false
	}
	var deleted bool
	s.recorder.withUser(userID, func() {
		deleted = s.store.DeleteOne(ctx, userID, id)
	})
	if deleted {
		s.emit(ChangeEvent{Type: EventDeleted, UserID: userID, IDs: []int64{id}})
	}
	return deleted
}

// DeleteAll clears userID's history. A blank user id is rejected.
func (s *Service) DeleteAll(ctx context.Context, userID string) bool {
	userID = cleanUserID(userID)
	if userID == "" {
		return false
	}
	var ok bool
	s.recorder.withUser(userID, func() {
		ok = s.store.DeleteAll(ctx, userID)
	})
	if ok {
		s.emit(ChangeEvent{Type: EventCleared, UserID: userID})
	}
	return ok
}

// Pending reports whether a debounced write is waiting for its quiet period.
func (s *Service) Pending() bool {
	return s.scheduler.Pending()
}

// Shutdown cancels any pending debounced write without committing it and
// waits for writes whose quiet period already closed.
func (s *Service) Shutdown() {
	s.scheduler.Shutdown()
	s.cancel()
}

// cleanUserID is applied on every entry point so reads, deletes and writes
// address the same user.
func cleanUserID(userID string) string {
	return strings.TrimSpace(userID)
}

func (s *Service) emit(ev ChangeEvent) {
	ev.At = s.opts.Clock.Now().UnixMilli()

	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
