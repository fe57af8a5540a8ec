package store

import (
	"time"

	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// UpgradeHistory is one completed upgrade task.
type UpgradeHistory struct {
	ID            uint            `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	TaskID        string          `gorm:"column:task_id;type:varchar(255);uniqueIndex:idx_upgrade_history_task;not null" json:"taskId"`
	TargetVersion version.Version `gorm:"column:target_version;type:varchar(64);index:idx_upgrade_history_version;not null" json:"targetVersion"`
	Description   string          `gorm:"column:description;type:text" json:"description"`
	Warnings      []string        `gorm:"column:warnings;type:text;serializer:json" json:"warnings,omitempty"`
	AppliedAt     time.Time       `gorm:"column:applied_at;not null" json:"appliedAt"`
}

// TableName returns the GORM table name.
func (UpgradeHistory) TableName() string { return "upgrade_history" }

// UpgradeVersionHistory records when the installation first reached a version.
type UpgradeVersionHistory struct {
	TargetVersion version.Version `gorm:"primaryKey;column:target_version;type:varchar(64)" json:"targetVersion"`
	ReachedAt     time.Time       `gorm:"column:reached_at;not null" json:"reachedAt"`
}

// TableName returns the GORM table name.
func (UpgradeVersionHistory) TableName() string { return "upgrade_version_history" }

// Property is an application key/value setting.
type Property struct {
	Key       string    `gorm:"primaryKey;column:property_key;type:varchar(255)" json:"key"`
	Value     string    `gorm:"column:property_value;type:text" json:"value"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName returns the GORM table name.
func (Property) TableName() string { return "application_properties" }

// Property keys owned by the upgrade machinery.
const (
	PropertyPatchedVersion  = "upgrade.patched.version"
	PropertyReindexDeferred = "upgrade.reindex.deferred"
)
