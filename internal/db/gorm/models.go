package gorm

import (
	"database/sql"

	"github.com/thebtf/searchlog/pkg/models"
)

// SearchHistory is one recorded query of one user.
type SearchHistory struct {
	ID              int64          `gorm:"primaryKey;autoIncrement"`
	UserID          string         `gorm:"type:varchar(255);not null;index:idx_search_history_user_created,priority:1"`
	Query           string         `gorm:"type:text;not null"`
	NormalizedQuery string         `gorm:"type:text;not null"`
	Filters         models.Filters `gorm:"type:text"` // JSON object
	ResultCount     sql.NullInt64
	CreatedAt       string `gorm:"not null"`
	CreatedAtEpoch  int64  `gorm:"not null;index:idx_search_history_user_created,priority:2,sort:desc"`
}

func (SearchHistory) TableName() string { return "search_history" }

// QueryStat is the cross-user popularity counter for one normalized query.
// Counters only grow; deleting history does not decrement them.
type QueryStat struct {
	NormalizedQuery   string `gorm:"primaryKey;type:varchar(2000)"`
	DisplayQuery      string `gorm:"type:text;not null"`
	SearchCount       int64  `gorm:"not null;index:idx_query_stats_rank,priority:1,sort:desc"`
	LastSearchedEpoch int64  `gorm:"not null;index:idx_query_stats_rank,priority:2,sort:desc"`
	LastEntryID       int64  `gorm:"not null"`
}

func (QueryStat) TableName() string { return "query_stats" }
