package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: per-user history log
		{
			ID: "001_search_history",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&SearchHistory{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("search_history")
			},
		},

		// Migration 002: popularity counters
		{
			ID: "002_query_stats",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&QueryStat{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("query_stats")
			},
		},

		// Migration 003: dedup and prefix lookups
		{
			ID: "003_search_history_lookup_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_search_history_lookup
					ON search_history (user_id, normalized_query, created_at_epoch DESC)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_search_history_lookup").Error
			},
		},
	})

	return m.Migrate()
}
