package tasks

import (
	"context"
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

const (
	legacyDirectoryPrefix = "legacy.directory."
	directoryPrefix       = "directory."
)

// Parameters a directory needs before it can be enabled.
var requiredDirectoryParams = mapset.NewThreadUnsafeSet("url", "base_dn")

// MigrateDirectoryConfig moves user directory settings from the flat legacy
// keys legacy.directory.<name>.<param> to directory.<name>.<param>. A
// directory missing a required parameter is migrated disabled and reported.
// New installations have no legacy settings, so setup mode does nothing.
type MigrateDirectoryConfig struct {
	deps Deps
}

var (
	_ upgrade.Task          = (*MigrateDirectoryConfig)(nil)
	_ upgrade.Transactional = (*MigrateDirectoryConfig)(nil)
)

func (t *MigrateDirectoryConfig) TargetVersion() version.Version { return version.Build(300) }

func (t *MigrateDirectoryConfig) ShortDescription() string {
	return "Migrate user directory configuration"
}

func (t *MigrateDirectoryConfig) Atomic() bool { return true }

func (t *MigrateDirectoryConfig) IsReindexRequired(context.Context) (bool, error) { return false, nil }

func (t *MigrateDirectoryConfig) Apply(ctx context.Context, setupMode bool) error {
	if setupMode {
		return nil
	}
	s := t.deps.Store

	legacy, err := s.ListProperties(ctx, legacyDirectoryPrefix)
	if err != nil {
		return err
	}
	if len(legacy) == 0 {
		return nil
	}

	var problems upgrade.Collector
	params := map[string]mapset.Set[string]{}
	var order []string
	for _, p := range legacy {
		name, param, ok := strings.Cut(strings.TrimPrefix(p.Key, legacyDirectoryPrefix), ".")
		if !ok || name == "" || param == "" {
			problems.Addf("ignoring unrecognised directory setting %q", p.Key)
			if err := s.RemoveProperty(ctx, p.Key); err != nil {
				return err
			}
			continue
		}
		if _, seen := params[name]; !seen {
			params[name] = mapset.NewThreadUnsafeSet[string]()
			order = append(order, name)
		}
		params[name].Add(param)

		if err := s.SetProperty(ctx, directoryPrefix+name+"."+param, p.Value); err != nil {
			return err
		}
		if err := s.RemoveProperty(ctx, p.Key); err != nil {
			return err
		}
	}

	for _, name := range order {
		enabled := "true"
		if missing := requiredDirectoryParams.Difference(params[name]); missing.Cardinality() > 0 {
			enabled = "false"
			names := missing.ToSlice()
			slices.Sort(names)
			problems.Addf("directory %s: missing required parameter(s) %s, left disabled",
				name, strings.Join(names, ", "))
		}
		if err := s.SetProperty(ctx, fmt.Sprintf("%s%s.enabled", directoryPrefix, name), enabled); err != nil {
			return err
		}
	}

	t.deps.Cache.InvalidatePrefix(directoryPrefix)
	t.deps.Cache.InvalidatePrefix(legacyDirectoryPrefix)
	t.deps.Logger.Info("migrated directory configuration", "directories", len(order), "warnings", problems.Len())
	return problems.Err()
}
