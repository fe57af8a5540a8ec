package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type account struct {
	ID       uint   `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex"`
}

func (account) TableName() string { return "accounts" }

func setupAccounts(t *testing.T, names ...string) *Store {
	t.Helper()
	s := setupTestStore(t)
	require.NoError(t, s.db.AutoMigrate(&account{}))
	for _, n := range names {
		require.NoError(t, s.db.Create(&account{Username: n}).Error)
	}
	return s
}

func lowercase(tx *gorm.DB, a account) error {
	err := tx.Model(&account{}).Where("id = ?", a.ID).Update("username", strings.ToLower(a.Username)).Error
	if IsUniqueViolation(err) {
		return Skip("username "+a.Username+" collides", err)
	}
	return err
}

func loadAccounts(t *testing.T, s *Store) []account {
	t.Helper()
	var all []account
	require.NoError(t, s.db.Order("id").Find(&all).Error)
	return all
}

func TestForEachWithSavepoints(t *testing.T) {
	s := setupAccounts(t, "Alice", "bob", "BOB", "Carol")
	require.True(t, s.Capabilities().Savepoints)

	results, err := ForEach(context.Background(), s, loadAccounts(t, s), BatchOptions{ChunkSize: 2}, lowercase)
	require.NoError(t, err)
	require.Len(t, results, 4)

	skipped := Skipped(results)
	require.Len(t, skipped, 1)
	assert.Equal(t, "BOB", skipped[0].Item.Username)
	assert.Contains(t, skipped[0].Reason, "collides")

	var names []string
	for _, a := range loadAccounts(t, s) {
		names = append(names, a.Username)
	}
	assert.Equal(t, []string{"alice", "bob", "BOB", "carol"}, names)
}

func TestForEachWithoutSavepoints(t *testing.T) {
	s := setupAccounts(t, "Alice", "bob", "BOB")
	s.DisableSavepoints()

	results, err := ForEach(context.Background(), s, loadAccounts(t, s), BatchOptions{}, lowercase)
	require.NoError(t, err)
	assert.Len(t, Skipped(results), 1)
	assert.Equal(t, "alice", loadAccounts(t, s)[0].Username)
}

func TestForEachFatalErrorStops(t *testing.T) {
	s := setupAccounts(t, "A", "B", "C")
	boom := errors.New("disk full")

	calls := 0
	results, err := ForEach(context.Background(), s, loadAccounts(t, s), BatchOptions{ChunkSize: 10}, func(tx *gorm.DB, a account) error {
		calls++
		if a.Username == "B" {
			return boom
		}
		return lowercase(tx, a)
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.Empty(t, results, "the failed chunk is rolled back")
	assert.Equal(t, "A", loadAccounts(t, s)[0].Username)
}

func TestSchemaHelpers(t *testing.T) {
	s := setupAccounts(t, "alice")
	ctx := context.Background()

	assert.True(t, s.HasTable(ctx, "accounts"))
	assert.False(t, s.HasTable(ctx, "issues"))
	assert.False(t, s.HasColumn(ctx, "accounts", "email"))

	added, err := s.AddColumnIfMissing(ctx, "accounts", "email", "varchar(255)")
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, s.HasColumn(ctx, "accounts", "email"))

	added, err = s.AddColumnIfMissing(ctx, "accounts", "email", "varchar(255)")
	require.NoError(t, err)
	assert.False(t, added)

	created, err := s.CreateIndexIfMissing(ctx, "accounts", "idx_accounts_email", "email")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, s.HasIndex(ctx, "accounts", "idx_accounts_email"))

	created, err = s.CreateIndexIfMissing(ctx, "accounts", "idx_accounts_email", "email")
	require.NoError(t, err)
	assert.False(t, created)
}
