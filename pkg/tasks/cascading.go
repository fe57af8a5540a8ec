package tasks

import (
	"context"
	"fmt"

	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// Custom field types touched by ConvertCascadingSelects.
const (
	FieldTypeLegacyCascadingSelect = "cascadingselect-legacy"
	FieldTypeCascadingSelect       = "cascadingselect"
)

// ConvertCascadingSelects moves legacy cascading-select custom fields to the
// current field type. Only installations that use cascading selects need a
// reindex afterwards.
type ConvertCascadingSelects struct {
	deps Deps
}

var (
	_ upgrade.Task          = (*ConvertCascadingSelects)(nil)
	_ upgrade.Transactional = (*ConvertCascadingSelects)(nil)
)

func (t *ConvertCascadingSelects) TargetVersion() version.Version { return version.Build(400) }

func (t *ConvertCascadingSelects) ShortDescription() string {
	return "Convert legacy cascading-select custom fields"
}

func (t *ConvertCascadingSelects) Atomic() bool { return true }

func (t *ConvertCascadingSelects) Apply(ctx context.Context, _ bool) error {
	s := t.deps.Store
	if !s.HasTable(ctx, "custom_fields") {
		return nil
	}
	res := s.DB(ctx).Model(&CustomField{}).
		Where("field_type = ?", FieldTypeLegacyCascadingSelect).
		Update("field_type", FieldTypeCascadingSelect)
	if res.Error != nil {
		return fmt.Errorf("convert cascading selects: %w", res.Error)
	}
	t.deps.Logger.Info("converted cascading-select fields", "count", res.RowsAffected)
	return nil
}

func (t *ConvertCascadingSelects) IsReindexRequired(ctx context.Context) (bool, error) {
	s := t.deps.Store
	if !s.HasTable(ctx, "custom_fields") {
		return false, nil
	}
	var n int64
	err := s.DB(ctx).Model(&CustomField{}).
		Where("field_type = ?", FieldTypeCascadingSelect).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count cascading selects: %w", err)
	}
	return n > 0, nil
}
