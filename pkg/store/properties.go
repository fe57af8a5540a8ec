package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetProperty returns the value stored under key and whether it exists.
func (s *Store) GetProperty(ctx context.Context, key string) (string, bool, error) {
	var p Property
	err := s.DB(ctx).Where("property_key = ?", key).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get property %s: %w", key, err)
	}
	return p.Value, true, nil
}

// SetProperty creates or replaces the value stored under key.
func (s *Store) SetProperty(ctx context.Context, key, value string) error {
	p := Property{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "property_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"property_value", "updated_at"}),
	}).Create(&p).Error
	if err != nil {
		return fmt.Errorf("set property %s: %w", key, err)
	}
	return nil
}

// PropertyExists reports whether key is set.
func (s *Store) PropertyExists(ctx context.Context, key string) (bool, error) {
	var count int64
	if err := s.DB(ctx).Model(&Property{}).Where("property_key = ?", key).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check property %s: %w", key, err)
	}
	return count > 0, nil
}

// RemoveProperty deletes key. Removing a missing key is not an error.
func (s *Store) RemoveProperty(ctx context.Context, key string) error {
	if err := s.DB(ctx).Where("property_key = ?", key).Delete(&Property{}).Error; err != nil {
		return fmt.Errorf("remove property %s: %w", key, err)
	}
	return nil
}

// ListProperties returns the properties whose key starts with prefix.
func (s *Store) ListProperties(ctx context.Context, prefix string) ([]Property, error) {
	var props []Property
	q := s.DB(ctx).Order("property_key ASC")
	if prefix != "" {
		q = q.Where("property_key LIKE ?", prefix+"%")
	}
	if err := q.Find(&props).Error; err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	return props, nil
}
