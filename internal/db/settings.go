package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetSetting returns the raw JSON value stored under key, or ErrKeyNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (datatypes.JSON, error) {
	var kv KeyValue
	err := s.gdb.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return kv.Value, nil
}

// SetSetting stores value under key, last write wins. The value must be
// valid JSON; updated_at is refreshed on every write.
func (s *Store) SetSetting(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("%w: empty settings key", ErrValidation)
	}
	if !json.Valid(value) {
		return fmt.Errorf("%w: settings value is not valid JSON", ErrValidation)
	}

	kv := KeyValue{
		Key:       key,
		Value:     datatypes.JSON(value),
		UpdatedAt: time.Now().UTC(),
	}
	return s.gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&kv).Error
}

// DeleteSetting removes key. Deleting a missing key is not an error.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	return s.gdb.WithContext(ctx).Where("key = ?", key).Delete(&KeyValue{}).Error
}

// ListSettings returns all entries whose key starts with prefix. An empty
// prefix lists everything.
func (s *Store) ListSettings(ctx context.Context, prefix string) ([]KeyValue, error) {
	q := s.gdb.WithContext(ctx).Order("key")
	if prefix != "" {
		q = q.Where("key LIKE ?", prefix+"%")
	}

	var out []KeyValue
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
