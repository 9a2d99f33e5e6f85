package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/overseer/internal/errors"
)

// GetValue returns the value stored under key.
// The boolean is false when the key has never been written.
func GetValue(ctx context.Context, db *sql.DB, key string) ([]byte, bool, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewInternal(err)
	}
	return value, true, nil
}

// PutValue writes value under key, replacing any previous value.
func PutValue(ctx context.Context, db *sql.DB, key string, value []byte) error {
	query := `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := db.ExecContext(ctx, query, key, value, time.Now().Unix()); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// TrainingExample is one recorded prompt/response pair.
type TrainingExample struct {
	ID        string
	Source    string
	ModelUsed string
	System    string
	User      string
	Context   string
	Output    string
	CreatedAt int64
}

// InsertTrainingExample appends an example to the training log.
func InsertTrainingExample(ctx context.Context, db *sql.DB, ex *TrainingExample) error {
	query := `
		INSERT INTO training_examples (
			id, source, model_used, system_text, user_text, context, output, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		ex.ID, ex.Source, ex.ModelUsed, toNullString(ex.System), ex.User,
		toNullString(ex.Context), ex.Output, ex.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListTrainingExamples returns examples newest first. An empty source matches all.
func ListTrainingExamples(ctx context.Context, db *sql.DB, source string, limit int) ([]TrainingExample, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, source, model_used, system_text, user_text, context, output, created_at
		FROM training_examples
	`
	args := []any{}
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []TrainingExample
	for rows.Next() {
		var (
			ex       TrainingExample
			system   sql.NullString
			extraCtx sql.NullString
		)
		if err := rows.Scan(&ex.ID, &ex.Source, &ex.ModelUsed, &system, &ex.User, &extraCtx, &ex.Output, &ex.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		ex.System = system.String
		ex.Context = extraCtx.String
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// toNullString maps an empty string to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
