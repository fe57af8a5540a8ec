//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

func startPostgres(t *testing.T) *Config {
	t.Helper()
	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("upgrades"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return &Config{Type: "postgres", DSN: dsn, LogLevel: "silent"}
}

func startMySQL(t *testing.T) *Config {
	t.Helper()
	ctx := context.Background()
	ctr, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("upgrades"),
		tcmysql.WithUsername("app"),
		tcmysql.WithPassword("secret"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	return &Config{Type: "mysql", DSN: dsn, LogLevel: "silent"}
}

func TestBackends(t *testing.T) {
	backends := map[string]func(*testing.T) *Config{
		"postgres": startPostgres,
		"mysql":    startMySQL,
	}
	for name, start := range backends {
		t.Run(name, func(t *testing.T) {
			db, err := Open(start(t))
			require.NoError(t, err)
			s := NewStore(db)
			require.NoError(t, s.AutoMigrate())
			require.True(t, s.Capabilities().Savepoints)

			ctx := context.Background()
			registry := upgrade.NewRegistry()
			for _, n := range []int64{100, 200, 300} {
				v := version.Build(n)
				registry.MustRegister(&upgrade.Func{
					Version: v,
					InTx:    true,
					ApplyFunc: func(ctx context.Context, _ bool) error {
						return s.SetProperty(ctx, "migrated."+v.String(), "true")
					},
				})
			}

			o := upgrade.NewOrchestrator(registry, s, nil)
			report, err := o.Run(ctx, false)
			require.NoError(t, err)
			assert.Len(t, report.Executed, 3)

			current, err := s.CurrentVersion(ctx)
			require.NoError(t, err)
			assert.Equal(t, "300", current.String())

			report, err = o.Run(ctx, false)
			require.NoError(t, err)
			assert.Empty(t, report.Executed)

			added, err := s.AddColumnIfMissing(ctx, "upgrade_history", "run_id", "varchar(36)")
			require.NoError(t, err)
			assert.True(t, added)
			assert.True(t, s.HasColumn(ctx, "upgrade_history", "run_id"))
		})
	}
}
