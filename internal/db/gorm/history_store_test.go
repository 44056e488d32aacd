package gorm

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/searchlog/internal/history"
	"github.com/thebtf/searchlog/pkg/models"
)

// testStore opens a migrated SQLite database in a temporary directory.
func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(Config{
		Path:     filepath.Join(t.TempDir(), "history.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func entryAt(userID, query string, epoch int64) *models.HistoryEntry {
	e := &models.HistoryEntry{
		UserID:          userID,
		Query:           query,
		NormalizedQuery: query,
	}
	e.SetCreated(time.UnixMilli(epoch))
	return e
}

// HistoryStoreSuite runs the backend contract against SQLite.
type HistoryStoreSuite struct {
	suite.Suite
	store *HistoryStore
	ctx   context.Context
}

func (s *HistoryStoreSuite) SetupTest() {
	s.store = NewHistoryStore(testStore(s.T()))
	s.ctx = context.Background()
}

func TestHistoryStoreSuite(t *testing.T) {
	suite.Run(t, new(HistoryStoreSuite))
}

func (s *HistoryStoreSuite) insert(e *models.HistoryEntry) int64 {
	id, err := s.store.Insert(s.ctx, e)
	s.Require().NoError(err)
	s.Require().NotZero(id)
	return id
}

func (s *HistoryStoreSuite) TestInsert_RoundTrip() {
	n := 12
	e := entryAt("u1", "laptop stand", 1_000)
	e.Filters = models.Filters{"category": "office"}
	e.ResultCount = &n
	id := s.insert(e)

	got, err := s.store.ListRecent(s.ctx, "u1", 10)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(id, got[0].ID)
	s.Equal("laptop stand", got[0].Query)
	s.Equal("laptop stand", got[0].NormalizedQuery)
	s.Equal(models.Filters{"category": "office"}, got[0].Filters)
	s.Require().NotNil(got[0].ResultCount)
	s.Equal(12, *got[0].ResultCount)
	s.Equal(int64(1_000), got[0].CreatedAtEpoch)
	s.Equal(e.CreatedAt, got[0].CreatedAt)

	s.insert(entryAt("u1", "no extras", 2_000))
	got, err = s.store.ListRecent(s.ctx, "u1", 1)
	s.Require().NoError(err)
	s.Nil(got[0].Filters)
	s.Nil(got[0].ResultCount)
}

func (s *HistoryStoreSuite) TestListRecent_Ordering() {
	a := s.insert(entryAt("u1", "a", 1_000))
	b := s.insert(entryAt("u1", "b", 3_000))
	c := s.insert(entryAt("u1", "c", 3_000))
	s.insert(entryAt("u2", "other", 5_000))

	got, err := s.store.ListRecent(s.ctx, "u1", 0)
	s.Require().NoError(err)
	ids := make([]int64, len(got))
	for i, e := range got {
		ids[i] = e.ID
	}
	s.Equal([]int64{c, b, a}, ids)

	refs, err := s.store.ListRefs(s.ctx, "u1")
	s.Require().NoError(err)
	s.Equal([]models.EntryRef{
		{ID: c, CreatedAtEpoch: 3_000},
		{ID: b, CreatedAtEpoch: 3_000},
		{ID: a, CreatedAtEpoch: 1_000},
	}, refs)
}

func (s *HistoryStoreSuite) TestFindLatestByQuery_StrictWindow() {
	s.insert(entryAt("u1", "monitor", 1_000))
	latest := s.insert(entryAt("u1", "monitor", 2_000))

	got, err := s.store.FindLatestByQuery(s.ctx, "u1", "monitor", 0)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(latest, got.ID)

	got, err = s.store.FindLatestByQuery(s.ctx, "u1", "monitor", 2_000)
	s.Require().NoError(err)
	s.Nil(got, "entry exactly at the bound is outside the window")

	got, err = s.store.FindLatestByQuery(s.ctx, "u2", "monitor", 0)
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *HistoryStoreSuite) TestSearchPrefix_EscapesWildcards() {
	s.insert(entryAt("u1", "50% off", 1_000))
	s.insert(entryAt("u1", "500 gb ssd", 2_000))
	s.insert(entryAt("u1", "usb_c hub", 3_000))
	s.insert(entryAt("u1", "usbac adapter", 4_000))
	s.insert(entryAt("u1", `back\slash`, 5_000))

	cases := map[string][]string{
		"50%":    {"50% off"},
		"50":     {"500 gb ssd", "50% off"},
		"usb_":   {"usb_c hub"},
		`back\s`: {`back\slash`},
		"zzz":    {},
	}
	for prefix, want := range cases {
		got, err := s.store.SearchPrefix(s.ctx, "u1", prefix)
		s.Require().NoError(err, prefix)
		queries := make([]string, 0, len(got))
		for _, e := range got {
			queries = append(queries, e.Query)
		}
		s.Equal(want, queries, "prefix %q", prefix)
	}
}

func (s *HistoryStoreSuite) TestDelete() {
	id := s.insert(entryAt("u1", "keep?", 1_000))
	other := s.insert(entryAt("u2", "theirs", 1_000))

	ok, err := s.store.DeleteByID(s.ctx, "u1", other)
	s.Require().NoError(err)
	s.False(ok, "cannot delete another user's entry")

	ok, err = s.store.DeleteByID(s.ctx, "u1", id)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.DeleteByID(s.ctx, "u1", id)
	s.Require().NoError(err)
	s.False(ok)

	n, err := s.store.DeleteByUser(s.ctx, "nobody")
	s.Require().NoError(err)
	s.Zero(n)

	n, err = s.store.DeleteByUser(s.ctx, "u2")
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *HistoryStoreSuite) TestDeleteByIDs_LargeBatch() {
	var ids []int64
	for i := 0; i < deleteBatchSize+120; i++ {
		ids = append(ids, s.insert(entryAt("u1", fmt.Sprintf("q%d", i), int64(i))))
	}
	keep := s.insert(entryAt("u1", "newest", 1_000_000))

	n, err := s.store.DeleteByIDs(s.ctx, "u1", ids)
	s.Require().NoError(err)
	s.Equal(int64(len(ids)), n)

	refs, err := s.store.ListRefs(s.ctx, "u1")
	s.Require().NoError(err)
	s.Require().Len(refs, 1)
	s.Equal(keep, refs[0].ID)

	n, err = s.store.DeleteByIDs(s.ctx, "u1", nil)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *HistoryStoreSuite) TestRecordSearch_Upsert() {
	first := entryAt("u1", "Headphones", 1_000)
	first.NormalizedQuery = "headphones"
	first.ID = s.insert(first)
	s.Require().NoError(s.store.RecordSearch(s.ctx, first))

	second := entryAt("u2", "headphones", 2_000)
	second.ID = s.insert(second)
	s.Require().NoError(s.store.RecordSearch(s.ctx, second))

	mouse := entryAt("u1", "mouse", 3_000)
	mouse.ID = s.insert(mouse)
	s.Require().NoError(s.store.RecordSearch(s.ctx, mouse))

	popular, err := s.store.Popular(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(popular, 2)
	s.Equal(models.PopularQuery{
		Query:           "headphones",
		NormalizedQuery: "headphones",
		Count:           2,
		LastSearchedAt:  2_000,
		LastEntryID:     second.ID,
	}, popular[0])
	s.Equal("mouse", popular[1].Query)

	top, err := s.store.Popular(s.ctx, 1)
	s.Require().NoError(err)
	s.Len(top, 1)
}

func (s *HistoryStoreSuite) TestPopular_TieBreak() {
	for i, q := range []string{"alpha", "beta", "gamma"} {
		e := entryAt("u1", q, 5_000)
		e.ID = s.insert(e)
		s.Require().NoError(s.store.RecordSearch(s.ctx, e), "stat %d", i)
	}

	popular, err := s.store.Popular(s.ctx, 0)
	s.Require().NoError(err)
	got := make([]string, len(popular))
	for i, p := range popular {
		got[i] = p.Query
	}
	s.Equal([]string{"gamma", "beta", "alpha"}, got)
}

func (s *HistoryStoreSuite) TestClosed() {
	s.Require().NoError(s.store.Close())

	_, err := s.store.Insert(s.ctx, entryAt("u1", "late", 1))
	s.Error(err)
	s.Error(s.store.Ping(s.ctx))
}

func TestNewStore_Migrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	cfg := Config{Path: dbPath, LogLevel: logger.Silent}

	store, err := NewStore(cfg)
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, store.Driver())
	require.NoError(t, store.Ping(context.Background()))

	for _, table := range []string{"search_history", "query_stats", "migrations"} {
		assert.True(t, store.DB.Migrator().HasTable(table), "table %q", table)
	}
	assert.True(t, store.DB.Migrator().HasIndex(&SearchHistory{}, "idx_search_history_lookup"))

	var journalMode string
	require.NoError(t, store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)
	require.NoError(t, store.Close())

	// Reopening applies no migration twice.
	store, err = NewStore(cfg)
	require.NoError(t, err)
	defer store.Close()

	var applied int64
	require.NoError(t, store.DB.Table("migrations").Count(&applied).Error)
	assert.Equal(t, int64(3), applied)
}

func TestNewStore_BadConfig(t *testing.T) {
	_, err := NewStore(Config{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")

	_, err = NewStore(Config{})
	assert.Error(t, err)

	_, err = NewStore(Config{Driver: DriverPostgres})
	assert.ErrorContains(t, err, "empty DSN")
}

// TestHistoryStore_WithService drives the full write path against SQLite.
func TestHistoryStore_WithService(t *testing.T) {
	ctx := context.Background()
	backend := NewHistoryStore(testStore(t))
	svc := history.New(backend, history.Options{Capacity: 3})
	defer svc.Shutdown()

	for i := 0; i < 5; i++ {
		require.NotNil(t, svc.Record(ctx, history.Request{UserID: "u1", Query: fmt.Sprintf("Query %d", i)}))
		time.Sleep(2 * time.Millisecond)
	}
	assert.Nil(t, svc.Record(ctx, history.Request{UserID: "u1", Query: "query 4"}))

	recent := svc.RecentHistory(ctx, "u1", 10)
	require.Len(t, recent, 3)
	assert.Equal(t, "Query 4", recent[0].Query)

	assert.Equal(t, []string{"Query 4", "Query 3", "Query 2"}, svc.Suggestions(ctx, "u1", "qu"))

	popular := svc.PopularQueries(ctx, 10)
	assert.Len(t, popular, 5, "counters survive eviction")

	assert.True(t, svc.DeleteAll(ctx, "u1"))
	assert.Empty(t, svc.RecentHistory(ctx, "u1", 10))
}
