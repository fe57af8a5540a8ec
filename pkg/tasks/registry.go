// Package tasks holds the upgrade tasks shipped with the application.
package tasks

import (
	"fmt"

	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
)

// NewRegistry returns a registry holding every built-in task.
func NewRegistry(deps Deps) (*upgrade.Registry, error) {
	if err := deps.setDefaults(); err != nil {
		return nil, err
	}

	reg := upgrade.NewRegistry()
	entries := []struct {
		task upgrade.Task
		opts []upgrade.RegisterOption
	}{
		{task: NewLowercaseUsernames(deps, 100, "user_accounts", "username")},
		{task: NewLowercaseUsernames(deps, 110, "group_memberships", "username", "group_name")},
		{task: &AddIssueLabels{deps: deps}},
		{task: &MigrateDirectoryConfig{deps: deps}},
		{task: &ConvertCascadingSelects{deps: deps}},
		{task: &RenameLegacyProperties{deps: deps, renames: LegacyPropertyRenames}, opts: []upgrade.RegisterOption{upgrade.AlsoOnSetup()}},
	}
	for _, e := range entries {
		if err := reg.Register(e.task, e.opts...); err != nil {
			return nil, fmt.Errorf("register %s: %w", upgrade.TaskID(e.task), err)
		}
	}
	return reg, nil
}
