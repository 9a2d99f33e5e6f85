// Package training records prompt/response pairs from the dispatcher and supervisor.
package training

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/overseer/internal/db"
	"github.com/hpungsan/overseer/internal/ids"
	"github.com/hpungsan/overseer/internal/logging"
	"github.com/hpungsan/overseer/internal/worker"
)

// Example sources.
const (
	SourceDispatcher = "dispatcher"
	SourceSupervisor = "supervisor"
)

// Input is the prompt side of an example.
type Input struct {
	System  string
	User    string
	Context string
}

// Sink accepts training examples. Record must not block the caller on storage and must
// never fail the operation that produced the example.
type Sink interface {
	Record(ctx context.Context, source, modelUsed string, in Input, output string)
}

// Discard drops every example.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(context.Context, string, string, Input, string) {}

// SQLiteSink writes examples to the training_examples table on a worker pool.
type SQLiteSink struct {
	db     *sql.DB
	pool   *worker.Pool
	logger *zap.Logger
}

// NewSQLiteSink creates a sink. Examples submitted while the pool is saturated are dropped.
func NewSQLiteSink(database *sql.DB, pool *worker.Pool, logger *zap.Logger) *SQLiteSink {
	return &SQLiteSink{db: database, pool: pool, logger: logging.OrNop(logger)}
}

// Record queues the example for insertion.
func (s *SQLiteSink) Record(_ context.Context, source, modelUsed string, in Input, output string) {
	ex := &db.TrainingExample{
		ID:        ids.New(),
		Source:    source,
		ModelUsed: modelUsed,
		System:    in.System,
		User:      in.User,
		Context:   in.Context,
		Output:    output,
		CreatedAt: time.Now().Unix(),
	}
	s.pool.Submit("training_record", func(ctx context.Context) error {
		return db.InsertTrainingExample(ctx, s.db, ex)
	})
}
