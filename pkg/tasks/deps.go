package tasks

import (
	"errors"
	"log/slog"

	"github.com/kubeflow/upgrade-manager/pkg/cache"
	"github.com/kubeflow/upgrade-manager/pkg/store"
)

// Deps are the collaborators the built-in tasks need.
type Deps struct {
	// Store is required.
	Store *store.Store
	// Properties defaults to Store.
	Properties cache.PropertyStore
	// Cache is told about property writes made with raw SQL. Defaults to a no-op.
	Cache  cache.Invalidator
	Logger *slog.Logger
	Batch  store.BatchOptions
}

func (d *Deps) setDefaults() error {
	if d.Store == nil {
		return errors.New("tasks: a store is required")
	}
	if d.Properties == nil {
		d.Properties = d.Store
	}
	if d.Cache == nil {
		d.Cache = cache.NoopInvalidator{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return nil
}
