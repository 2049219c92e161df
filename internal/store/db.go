package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// DB wraps a *gorm.DB handle the way the teacher's repository layer wrapped
// BoltDB access: constructor-injected, no ambient singleton (SPEC_FULL.md
// §3.1), with one reconnect attempt before surfacing a connection error.
type DB struct {
	*gorm.DB
}

// New wraps an already-opened *gorm.DB (Postgres, or a sqlite file when no
// DSN is given; the tests use a sqlite file in a temp dir).
func New(gdb *gorm.DB) *DB {
	return &DB{DB: gdb}
}

// Ping verifies connectivity, retrying the underlying ping once the way
// auto_ensure_db_connection retried in the source system.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("store: obtain sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		if err2 := sqlDB.PingContext(ctx); err2 != nil {
			return fmt.Errorf("store: ping failed after retry: %w", err2)
		}
	}
	return nil
}

// AutoMigrate creates or updates every table in AllModels.
func (d *DB) AutoMigrate() error {
	return d.DB.AutoMigrate(AllModels()...)
}
