package tasks

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kubeflow/upgrade-manager/pkg/store"
	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// LowercaseUsernames lower-cases a user name column. A row whose lower-cased
// name already exists within the same scope is left alone and reported as a
// validation warning.
type LowercaseUsernames struct {
	deps    Deps
	build   int64
	table   string
	column  string
	scope   []string
	keyName string
}

var _ upgrade.Task = (*LowercaseUsernames)(nil)

// NewLowercaseUsernames returns the task for table.column. Names only
// collide when the scope columns hold equal values.
func NewLowercaseUsernames(deps Deps, build int64, table, column string, scope ...string) *LowercaseUsernames {
	return &LowercaseUsernames{
		deps:    deps,
		build:   build,
		table:   table,
		column:  column,
		scope:   scope,
		keyName: "id",
	}
}

func (t *LowercaseUsernames) TargetVersion() version.Version { return version.Build(t.build) }

func (t *LowercaseUsernames) ShortDescription() string {
	return fmt.Sprintf("Lower-case %s.%s", t.table, t.column)
}

func (t *LowercaseUsernames) IsReindexRequired(context.Context) (bool, error) { return false, nil }

func (t *LowercaseUsernames) Apply(ctx context.Context, _ bool) error {
	s := t.deps.Store
	if !s.HasTable(ctx, t.table) {
		t.deps.Logger.Info("table not present, nothing to lower-case", "table", t.table)
		return nil
	}

	rows, err := t.pending(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	results, err := store.ForEach(ctx, s, rows, t.deps.Batch, t.lowercaseRow)
	if err != nil {
		return fmt.Errorf("lower-case %s.%s: %w", t.table, t.column, err)
	}

	var problems upgrade.Collector
	for _, r := range store.Skipped(results) {
		problems.Addf("%s row %v: %s", t.table, r.Item[t.keyName], r.Reason)
	}
	t.deps.Logger.Info("lower-cased user names",
		"table", t.table,
		"updated", len(results)-problems.Len(),
		"skipped", problems.Len())
	return problems.Err()
}

// pending returns the rows whose name is not lower-case yet, in key order.
func (t *LowercaseUsernames) pending(ctx context.Context) ([]map[string]any, error) {
	db := t.deps.Store.DB(ctx)
	q := db.Statement.Quote
	cols := append([]string{t.keyName, t.column}, t.scope...)

	var rows []map[string]any
	err := db.Table(t.table).
		Select(cols).
		Where(fmt.Sprintf("%s <> LOWER(%s)", q(t.column), q(t.column))).
		Order(q(t.keyName)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load %s.%s: %w", t.table, t.column, err)
	}
	return rows, nil
}

func (t *LowercaseUsernames) lowercaseRow(tx *gorm.DB, row map[string]any) error {
	q := tx.Statement.Quote
	name := asString(row[t.column])
	lowered := strings.ToLower(name)

	dup := tx.Table(t.table).
		Where(q(t.column)+" = ?", lowered).
		Where(q(t.keyName)+" <> ?", row[t.keyName])
	for _, c := range t.scope {
		dup = dup.Where(q(c)+" = ?", row[c])
	}
	var n int64
	if err := dup.Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return store.Skip(fmt.Sprintf("%q collides with existing %q", name, lowered), nil)
	}

	return tx.Table(t.table).
		Where(q(t.keyName)+" = ?", row[t.keyName]).
		Update(t.column, lowered).Error
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
