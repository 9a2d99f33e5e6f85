package kv

import (
	"context"
	"database/sql"

	"github.com/hpungsan/overseer/internal/db"
)

// SQLite stores values in the kv table created by db.Init.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an initialized database.
func NewSQLite(database *sql.DB) *SQLite {
	return &SQLite{db: database}
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return db.GetValue(ctx, s.db, key)
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	return db.PutValue(ctx, s.db, key, value)
}
