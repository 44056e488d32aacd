package gorm

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/searchlog/internal/history"
	"github.com/thebtf/searchlog/internal/querytext"
	"github.com/thebtf/searchlog/pkg/models"
)

// newestFirst is the list ordering shared by every history read.
const newestFirst = "created_at_epoch DESC, id DESC"

// HistoryStore implements history.Backend on top of Store.
type HistoryStore struct {
	db    *gorm.DB
	store *Store
}

var _ history.Backend = (*HistoryStore)(nil)

// NewHistoryStore creates a new history store.
func NewHistoryStore(store *Store) *HistoryStore {
	return &HistoryStore{
		db:    store.DB,
		store: store,
	}
}

// Insert stores entry and returns the assigned id.
func (s *HistoryStore) Insert(ctx context.Context, entry *models.HistoryEntry) (int64, error) {
	row := fromModelEntry(entry)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, fmt.Errorf("insert history entry: %w", err)
	}
	return row.ID, nil
}

// DeleteByID removes one entry of userID.
func (s *HistoryStore) DeleteByID(ctx context.Context, userID string, id int64) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&SearchHistory{})
	if result.Error != nil {
		return false, fmt.Errorf("delete history entry %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteByIDs removes ids of userID in a single transaction.
func (s *HistoryStore) DeleteByIDs(ctx context.Context, userID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(ids); start += deleteBatchSize {
			end := min(start+deleteBatchSize, len(ids))
			result := tx.Where("user_id = ? AND id IN ?", userID, ids[start:end]).
				Delete(&SearchHistory{})
			if result.Error != nil {
				return result.Error
			}
			deleted += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete %d history entries: %w", len(ids), err)
	}
	return deleted, nil
}

// DeleteByUser removes every entry of userID.
func (s *HistoryStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&SearchHistory{})
	if result.Error != nil {
		return 0, fmt.Errorf("clear history: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ListRecent returns up to limit entries of userID, newest first.
func (s *HistoryStore) ListRecent(ctx context.Context, userID string, limit int) ([]*models.HistoryEntry, error) {
	var rows []SearchHistory
	query := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(newestFirst)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return toModelEntries(rows), nil
}

// ListRefs returns the identity of every entry of userID, newest first.
func (s *HistoryStore) ListRefs(ctx context.Context, userID string) ([]models.EntryRef, error) {
	var refs []models.EntryRef
	err := s.db.WithContext(ctx).
		Model(&SearchHistory{}).
		Select("id", "created_at_epoch").
		Where("user_id = ?", userID).
		Order(newestFirst).
		Scan(&refs).Error
	if err != nil {
		return nil, fmt.Errorf("list history ids: %w", err)
	}
	return refs, nil
}

// FindLatestByQuery returns the newest matching entry created after afterEpoch.
func (s *HistoryStore) FindLatestByQuery(ctx context.Context, userID, normalized string, afterEpoch int64) (*models.HistoryEntry, error) {
	var row SearchHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND normalized_query = ? AND created_at_epoch > ?", userID, normalized, afterEpoch).
		Order(newestFirst).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest query: %w", err)
	}
	return toModelEntry(&row), nil
}

// SearchPrefix returns entries of userID whose normalized query starts with
// normalizedPrefix. Wildcards in the prefix match literally.
func (s *HistoryStore) SearchPrefix(ctx context.Context, userID, normalizedPrefix string) ([]*models.HistoryEntry, error) {
	var rows []SearchHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND normalized_query LIKE ? ESCAPE '\\'", userID, querytext.EscapeLike(normalizedPrefix)+"%").
		Order(newestFirst).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("search prefix: %w", err)
	}
	return toModelEntries(rows), nil
}

// RecordSearch upserts the popularity counter for entry's normalized query.
func (s *HistoryStore) RecordSearch(ctx context.Context, entry *models.HistoryEntry) error {
	stat := QueryStat{
		NormalizedQuery:   entry.NormalizedQuery,
		DisplayQuery:      entry.Query,
		SearchCount:       1,
		LastSearchedEpoch: entry.CreatedAtEpoch,
		LastEntryID:       entry.ID,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "normalized_query"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"search_count":        gorm.Expr("query_stats.search_count + 1"),
				"display_query":       stat.DisplayQuery,
				"last_searched_epoch": stat.LastSearchedEpoch,
				"last_entry_id":       stat.LastEntryID,
			}),
		}).
		Create(&stat).Error
	if err != nil {
		return fmt.Errorf("record search: %w", err)
	}
	return nil
}

// Popular returns the top limit queries across all users.
func (s *HistoryStore) Popular(ctx context.Context, limit int) ([]models.PopularQuery, error) {
	var stats []QueryStat
	query := s.db.WithContext(ctx).
		Order("search_count DESC, last_searched_epoch DESC, last_entry_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("popular queries: %w", err)
	}
	return toPopular(stats), nil
}

// Ping verifies the database is reachable.
func (s *HistoryStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close closes the underlying Store.
func (s *HistoryStore) Close() error {
	return s.store.Close()
}
