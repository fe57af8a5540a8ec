package tasks

import (
	"context"
	"fmt"

	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// AddIssueLabels adds the searchable issues.labels column.
type AddIssueLabels struct {
	deps Deps
}

var _ upgrade.Task = (*AddIssueLabels)(nil)

func (t *AddIssueLabels) TargetVersion() version.Version { return version.Build(200) }

func (t *AddIssueLabels) ShortDescription() string { return "Add labels column to issues" }

// Indexed documents gain a labels field.
func (t *AddIssueLabels) IsReindexRequired(context.Context) (bool, error) { return true, nil }

func (t *AddIssueLabels) Apply(ctx context.Context, _ bool) error {
	s := t.deps.Store
	if !s.HasTable(ctx, "issues") {
		var problems upgrade.Collector
		problems.Addf("issues table not found, labels column not added")
		return problems.Err()
	}

	added, err := s.AddColumnIfMissing(ctx, "issues", "labels", "varchar(255)")
	if err != nil {
		return err
	}
	if _, err := s.CreateIndexIfMissing(ctx, "issues", "idx_issues_labels", "labels"); err != nil {
		return fmt.Errorf("index issues.labels: %w", err)
	}
	t.deps.Logger.Info("issues labels column ready", "added", added)
	return nil
}
