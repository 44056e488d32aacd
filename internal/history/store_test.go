package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/searchlog/pkg/models"
)

// StoreSuite is a test suite for the bounded Store.
type StoreSuite struct {
	suite.Suite
	backend *faultyBackend
	clock   *fakeClock
	store   *Store
	ctx     context.Context
}

func (s *StoreSuite) SetupTest() {
	s.backend = newFaultyBackend()
	s.clock = newFakeClock()
	s.store = NewStore(s.backend, s.clock, time.Second)
	s.ctx = context.Background()
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) append(userID, query string) int64 {
	id := s.store.Append(s.ctx, &models.HistoryEntry{UserID: userID, Query: query})
	s.Require().NotZero(id)
	return id
}

// TestAppend_AssignsIdentityAndTime checks ids and timestamps come from the store.
func (s *StoreSuite) TestAppend_AssignsIdentityAndTime() {
	entry := &models.HistoryEntry{UserID: "u1", Query: "  Laptop   Stand ", ID: 999}
	id := s.store.Append(s.ctx, entry)

	s.NotZero(id)
	s.Equal(id, entry.ID)
	s.Equal("Laptop Stand", entry.Query)
	s.Equal("laptop stand", entry.NormalizedQuery)
	s.Equal(s.clock.Now().UnixMilli(), entry.CreatedAtEpoch)

	id2 := s.append("u2", "desk")
	s.NotEqual(id, id2)
}

// TestAppend_MonotonicPerUser verifies created_at never steps backwards.
func (s *StoreSuite) TestAppend_MonotonicPerUser() {
	s.append("u1", "first")
	first := s.store.ListRecent(s.ctx, "u1", 1)[0]

	s.clock.Advance(-time.Minute)
	entry := &models.HistoryEntry{UserID: "u1", Query: "second"}
	s.store.Append(s.ctx, entry)

	s.Equal(first.CreatedAtEpoch, entry.CreatedAtEpoch)
	recent := s.store.ListRecent(s.ctx, "u1", 10)
	s.Equal([]string{"second", "first"}, queriesOf(recent))
}

// TestListRecent_NewestFirst checks ordering and limits.
func (s *StoreSuite) TestListRecent_NewestFirst() {
	for _, q := range []string{"a1", "a2", "a3", "a4"} {
		s.append("u1", q)
		s.clock.Advance(time.Second)
	}

	s.Equal([]string{"a4", "a3", "a2", "a1"}, queriesOf(s.store.ListRecent(s.ctx, "u1", 10)))
	s.Equal([]string{"a4", "a3"}, queriesOf(s.store.ListRecent(s.ctx, "u1", 2)))
	s.Empty(s.store.ListRecent(s.ctx, "u1", 0))
	s.Empty(s.store.ListRecent(s.ctx, "nobody", 10))
}

// TestListRecent_TieBrokenByID orders equal timestamps by descending id.
func (s *StoreSuite) TestListRecent_TieBrokenByID() {
	id1 := s.append("u1", "same-time-1")
	id2 := s.append("u1", "same-time-2")

	refs := s.store.ListAllIDs(s.ctx, "u1")
	s.Require().Len(refs, 2)
	s.Equal(id2, refs[0].ID)
	s.Equal(id1, refs[1].ID)
}

// TestDeleteOne covers existing, missing and foreign ids.
func (s *StoreSuite) TestDeleteOne() {
	id := s.append("u1", "keep me?")
	other := s.append("u2", "not yours")

	s.False(s.store.DeleteOne(s.ctx, "u1", 424242), "missing id")
	s.Len(s.store.ListRecent(s.ctx, "u1", 10), 1, "store unchanged")

	s.False(s.store.DeleteOne(s.ctx, "u1", other), "entry of another user")
	s.Len(s.store.ListRecent(s.ctx, "u2", 10), 1)

	s.True(s.store.DeleteOne(s.ctx, "u1", id))
	s.Empty(s.store.ListRecent(s.ctx, "u1", 10))
	s.False(s.store.DeleteOne(s.ctx, "u1", id), "already deleted")
}

// TestDeleteAll covers the populated and empty cases.
func (s *StoreSuite) TestDeleteAll() {
	s.True(s.store.DeleteAll(s.ctx, "empty-user"))

	s.append("u1", "one")
	s.append("u1", "two")
	s.append("u2", "other")

	s.True(s.store.DeleteAll(s.ctx, "u1"))
	s.Empty(s.store.ListRecent(s.ctx, "u1", 10))
	s.Len(s.store.ListRecent(s.ctx, "u2", 10), 1)
}

// TestBackendFault_Degrades verifies faults never escape.
func (s *StoreSuite) TestBackendFault_Degrades() {
	s.append("u1", "before fault")
	s.backend.fail.Store(true)

	s.Zero(s.store.Append(s.ctx, &models.HistoryEntry{UserID: "u1", Query: "during fault"}))
	s.NotNil(s.store.ListRecent(s.ctx, "u1", 10))
	s.Empty(s.store.ListRecent(s.ctx, "u1", 10))
	s.Empty(s.store.ListAllIDs(s.ctx, "u1"))
	s.False(s.store.DeleteOne(s.ctx, "u1", 1))
	s.False(s.store.DeleteAll(s.ctx, "u1"))

	s.backend.fail.Store(false)
	s.Len(s.store.ListRecent(s.ctx, "u1", 10), 1)
}

func TestStore_BackendTimeout(t *testing.T) {
	backend := &blockingBackend{MemoryBackend: NewMemoryBackend()}
	store := NewStore(backend, newFakeClock(), 20*time.Millisecond)

	start := time.Now()
	entries := store.ListRecent(context.Background(), "u1", 10)

	assert.Empty(t, entries)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStore_ClosedBackend(t *testing.T) {
	backend := NewMemoryBackend()
	store := NewStore(backend, nil, 0)
	require.NoError(t, backend.Close())

	assert.Zero(t, store.Append(context.Background(), &models.HistoryEntry{UserID: "u", Query: "q"}))
	assert.Empty(t, store.ListRecent(context.Background(), "u", 5))
}
