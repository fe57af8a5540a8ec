package store

import (
	"context"
	"fmt"
)

// HasTable reports whether table exists.
func (s *Store) HasTable(ctx context.Context, table string) bool {
	return s.DB(ctx).Migrator().HasTable(table)
}

// HasColumn reports whether table has column.
func (s *Store) HasColumn(ctx context.Context, table, column string) bool {
	return s.DB(ctx).Migrator().HasColumn(table, column)
}

// HasIndex reports whether table has the named index.
func (s *Store) HasIndex(ctx context.Context, table, index string) bool {
	return s.DB(ctx).Migrator().HasIndex(table, index)
}

// AddColumnIfMissing adds column with the given SQL type unless it exists
// already. It reports whether the column was added.
func (s *Store) AddColumnIfMissing(ctx context.Context, table, column, sqlType string) (bool, error) {
	if s.HasColumn(ctx, table, column) {
		return false, nil
	}
	db := s.DB(ctx)
	q := db.Statement.Quote
	if err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", q(table), q(column), sqlType)).Error; err != nil {
		return false, fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return true, nil
}

// CreateIndexIfMissing creates a plain index over columns unless it exists.
func (s *Store) CreateIndexIfMissing(ctx context.Context, table, index string, columns ...string) (bool, error) {
	if s.HasIndex(ctx, table, index) {
		return false, nil
	}
	db := s.DB(ctx)
	q := db.Statement.Quote
	cols := ""
	for i, c := range columns {
		if i > 0 {
			cols += ", "
		}
		cols += q(c)
	}
	if err := db.Exec(fmt.Sprintf("CREATE INDEX %s ON %s (%s)", q(index), q(table), cols)).Error; err != nil {
		return false, fmt.Errorf("create index %s on %s: %w", index, table, err)
	}
	return true, nil
}
