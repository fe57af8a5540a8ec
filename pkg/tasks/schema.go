package tasks

import (
	"fmt"

	"gorm.io/gorm"
)

// UserAccount is an application user.
type UserAccount struct {
	ID          int64  `gorm:"primaryKey;autoIncrement;column:id"`
	Username    string `gorm:"column:username;type:varchar(255);not null"`
	DisplayName string `gorm:"column:display_name;type:varchar(255)"`
}

func (UserAccount) TableName() string { return "user_accounts" }

// GroupMembership links a user name to a group.
type GroupMembership struct {
	ID        int64  `gorm:"primaryKey;autoIncrement;column:id"`
	GroupName string `gorm:"column:group_name;type:varchar(255);not null"`
	Username  string `gorm:"column:username;type:varchar(255);not null"`
}

func (GroupMembership) TableName() string { return "group_memberships" }

// Issue is a tracked issue.
type Issue struct {
	ID       int64  `gorm:"primaryKey;autoIncrement;column:id"`
	IssueKey string `gorm:"column:issue_key;type:varchar(64);uniqueIndex;not null"`
	Summary  string `gorm:"column:summary;type:text"`
	Assignee string `gorm:"column:assignee;type:varchar(255)"`
	Labels   string `gorm:"column:labels;type:varchar(255);index:idx_issues_labels"`
}

func (Issue) TableName() string { return "issues" }

// CustomField is a user-defined issue field.
type CustomField struct {
	ID        int64  `gorm:"primaryKey;autoIncrement;column:id"`
	Name      string `gorm:"column:name;type:varchar(255);not null"`
	FieldType string `gorm:"column:field_type;type:varchar(64);not null"`
}

func (CustomField) TableName() string { return "custom_fields" }

// MigrateSchema creates the application tables at their latest shape. It
// is used for new installations, whose data needs none of the upgrade
// tasks.
func MigrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(&UserAccount{}, &GroupMembership{}, &Issue{}, &CustomField{}); err != nil {
		return fmt.Errorf("migrate application schema: %w", err)
	}
	return nil
}
