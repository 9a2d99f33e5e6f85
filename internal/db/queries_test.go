package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestGetValue_Missing(t *testing.T) {
	database := openTestDB(t)

	value, ok, err := GetValue(context.Background(), database, "overseer:streams")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, value)
}

func TestPutValue_Overwrites(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	require.NoError(t, PutValue(ctx, database, "k", []byte("v1")))
	require.NoError(t, PutValue(ctx, database, "k", []byte("v2")))

	value, ok, err := GetValue(ctx, database, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(value))

	var count int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM kv").Scan(&count))
	require.Equal(t, 1, count)
}

func TestTrainingExamples_InsertAndList(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	require.NoError(t, InsertTrainingExample(ctx, database, &TrainingExample{
		ID: "01A", Source: "dispatcher", ModelUsed: "m", User: "prompt a", Output: "out a", CreatedAt: 1,
	}))
	require.NoError(t, InsertTrainingExample(ctx, database, &TrainingExample{
		ID: "01B", Source: "supervisor", ModelUsed: "m", System: "sys", User: "prompt b",
		Context: "ctx", Output: "out b", CreatedAt: 2,
	}))

	all, err := ListTrainingExamples(ctx, database, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "01B", all[0].ID, "newest first")
	require.Equal(t, "sys", all[0].System)
	require.Equal(t, "", all[1].System, "NULL maps back to empty")

	onlyDispatcher, err := ListTrainingExamples(ctx, database, "dispatcher", 10)
	require.NoError(t, err)
	require.Len(t, onlyDispatcher, 1)
	require.Equal(t, "prompt a", onlyDispatcher[0].User)
}
