package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kubeflow/upgrade-manager/pkg/store"
	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
)

// backup is the snapshot written before an upgrade run changes anything.
type backup struct {
	CreatedAt        time.Time         `yaml:"createdAt"`
	InstalledVersion string            `yaml:"installedVersion"`
	Plan             []backupTask      `yaml:"plan"`
	History          []backupTask      `yaml:"history"`
	Properties       map[string]string `yaml:"properties"`
}

type backupTask struct {
	TaskID      string     `yaml:"taskId"`
	Version     string     `yaml:"version"`
	Description string     `yaml:"description,omitempty"`
	AppliedAt   *time.Time `yaml:"appliedAt,omitempty"`
}

// backupHook returns a pre-upgrade hook that writes the upgrade history and
// application properties to path. The run does not start if the file cannot
// be written.
func backupHook(s *store.Store, path string, logger *slog.Logger) upgrade.PreUpgradeHook {
	return func(ctx context.Context, plan []upgrade.Task) error {
		b, err := snapshot(ctx, s, plan)
		if err != nil {
			return err
		}
		if err := writeBackup(path, b); err != nil {
			return err
		}
		logger.Info("wrote pre-upgrade backup",
			"path", path,
			"plannedTasks", len(b.Plan),
			"properties", len(b.Properties))
		return nil
	}
}

func snapshot(ctx context.Context, s *store.Store, plan []upgrade.Task) (*backup, error) {
	current, err := s.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	history, err := s.ListHistory(ctx)
	if err != nil {
		return nil, err
	}
	props, err := s.ListProperties(ctx, "")
	if err != nil {
		return nil, err
	}

	b := &backup{
		CreatedAt:        time.Now().UTC(),
		InstalledVersion: current.String(),
		Plan:             make([]backupTask, 0, len(plan)),
		History:          make([]backupTask, 0, len(history)),
		Properties:       make(map[string]string, len(props)),
	}
	for _, t := range plan {
		b.Plan = append(b.Plan, backupTask{
			TaskID:      upgrade.TaskID(t),
			Version:     t.TargetVersion().String(),
			Description: t.ShortDescription(),
		})
	}
	for _, h := range history {
		applied := h.AppliedAt
		b.History = append(b.History, backupTask{
			TaskID:      h.TaskID,
			Version:     h.TargetVersion.String(),
			Description: h.Description,
			AppliedAt:   &applied,
		})
	}
	for _, p := range props {
		b.Properties[p.Key] = p.Value
	}
	return b, nil
}

// writeBackup replaces path atomically so a failed write never leaves a
// truncated backup behind.
func writeBackup(path string, b *backup) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}
