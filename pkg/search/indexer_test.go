package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestReindexAllWithoutIssuesTable(t *testing.T) {
	ix := NewIndexer(setupTestDB(t), nil)
	require.NoError(t, ix.AutoMigrate())

	n, err := ix.ReindexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReindexAllIndexesLabelsWhenPresent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	ix := NewIndexer(db, nil)
	ix.batchSize = 2
	require.NoError(t, ix.AutoMigrate())

	require.NoError(t, db.Exec(`CREATE TABLE issues (id INTEGER PRIMARY KEY, issue_key TEXT, summary TEXT, assignee TEXT)`).Error)
	for i := 1; i <= 5; i++ {
		require.NoError(t, db.Exec(`INSERT INTO issues (id, issue_key, summary, assignee) VALUES (?, ?, ?, ?)`,
			i, fmt.Sprintf("ABC-%d", i), fmt.Sprintf("Crash number %d", i), "Alice").Error)
	}

	n, err := ix.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	keys, err := ix.Search(ctx, "CRASH NUMBER 3")
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC-3"}, keys)

	require.NoError(t, db.Exec(`ALTER TABLE issues ADD COLUMN labels TEXT`).Error)
	require.NoError(t, db.Exec(`UPDATE issues SET labels = 'backend,urgent' WHERE id = 2`).Error)

	keys, err = ix.Search(ctx, "urgent")
	require.NoError(t, err)
	assert.Empty(t, keys)

	n, err = ix.ReindexAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	keys, err = ix.Search(ctx, "urgent")
	require.NoError(t, err)
	assert.Equal(t, []string{"ABC-2"}, keys)

	var docs int64
	require.NoError(t, db.Model(&Document{}).Count(&docs).Error)
	assert.Equal(t, int64(5), docs)
}
