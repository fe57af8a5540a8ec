package tasks

import (
	"context"
	"fmt"

	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// PropertyRename maps a legacy property key to its replacement.
type PropertyRename struct {
	From string
	To   string
}

// LegacyPropertyRenames are the keys renamed at build 500.
var LegacyPropertyRenames = []PropertyRename{
	{From: "jira.title", To: "app.title"},
	{From: "jira.baseurl", To: "app.base_url"},
	{From: "jira.option.allowunassigned", To: "app.option.allow_unassigned"},
	{From: "jira.option.voting", To: "app.option.voting"},
}

// RenameLegacyProperties renames legacy property keys. A value already
// stored under the new key wins over the legacy one. It also runs during
// setup, where default data may still carry legacy keys.
type RenameLegacyProperties struct {
	deps    Deps
	renames []PropertyRename
}

var _ upgrade.Task = (*RenameLegacyProperties)(nil)

func (t *RenameLegacyProperties) TargetVersion() version.Version { return version.Build(500) }

func (t *RenameLegacyProperties) ShortDescription() string { return "Rename legacy property keys" }

func (t *RenameLegacyProperties) IsReindexRequired(context.Context) (bool, error) { return false, nil }

func (t *RenameLegacyProperties) Apply(ctx context.Context, _ bool) error {
	props := t.deps.Properties
	renamed := 0
	for _, r := range t.renames {
		value, ok, err := props.GetProperty(ctx, r.From)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		exists, err := props.PropertyExists(ctx, r.To)
		if err != nil {
			return err
		}
		if !exists {
			if err := props.SetProperty(ctx, r.To, value); err != nil {
				return fmt.Errorf("rename %s: %w", r.From, err)
			}
		}
		if err := props.RemoveProperty(ctx, r.From); err != nil {
			return fmt.Errorf("rename %s: %w", r.From, err)
		}
		t.deps.Cache.InvalidateProperty(r.From)
		t.deps.Cache.InvalidateProperty(r.To)
		renamed++
	}
	if renamed > 0 {
		t.deps.Logger.Info("renamed legacy properties", "count", renamed)
	}
	return nil
}
