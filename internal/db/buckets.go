package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// BucketInfo is a Bucket plus the aggregate metadata returned by listings:
// the span of stored events, if any.
type BucketInfo struct {
	Bucket
	FirstEvent *time.Time `json:"first,omitempty"`
	LastEvent  *time.Time `json:"last,omitempty"`
}

// CreateBucket creates the bucket with Created set to now. Returns
// ErrBucketExists if the bucket id is already taken.
func (s *Store) CreateBucket(ctx context.Context, b *Bucket) error {
	if b.BucketID == "" {
		return fmt.Errorf("%w: empty bucket id", ErrValidation)
	}
	if b.Created.IsZero() {
		b.Created = time.Now().UTC()
	}

	err := s.gdb.WithContext(ctx).Create(b).Error
	if err != nil && (errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err)) {
		return fmt.Errorf("%w: %q", ErrBucketExists, b.BucketID)
	}
	return err
}

// CreateBucketIfAbsent is the idempotent variant of CreateBucket: when the
// bucket already exists it is returned unchanged and no error is raised.
// The boolean reports whether a new bucket was created.
func (s *Store) CreateBucketIfAbsent(ctx context.Context, b *Bucket) (*Bucket, bool, error) {
	err := s.CreateBucket(ctx, b)
	if err == nil {
		return b, true, nil
	}
	if !errors.Is(err, ErrBucketExists) {
		return nil, false, err
	}
	existing, err := s.GetBucket(ctx, b.BucketID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetBucket returns the bucket or ErrBucketNotFound.
func (s *Store) GetBucket(ctx context.Context, bucketID string) (*Bucket, error) {
	var b Bucket
	err := s.gdb.WithContext(ctx).Where("bucket_id = ?", bucketID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrBucketNotFound, bucketID)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// DeleteBucket removes the bucket and all of its events in one
// transaction. Returns ErrBucketNotFound if the bucket is absent.
// Holding the bucket's heartbeat lock makes the race with an in-flight
// heartbeat deterministic: the heartbeat either lands before the cascade
// or fails its existence check afterwards.
func (s *Store) DeleteBucket(ctx context.Context, bucketID string) error {
	unlock := s.hb.lock(bucketID)
	defer unlock()

	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("bucket_id = ?", bucketID).Delete(&Bucket{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %q", ErrBucketNotFound, bucketID)
		}
		if err := tx.Where("bucket_id = ?", bucketID).Delete(&Event{}).Error; err != nil {
			return err
		}
		return tx.Where("bucket_id = ?", bucketID).Delete(&ActivityRollup{}).Error
	})
}

// ListBuckets returns all buckets with their event span metadata.
// Insertion order is not meaningful. The span is read through the Event
// model, not a MIN/MAX aggregate: aggregate columns lose their declared
// type under sqlite and come back as strings, which cannot scan into
// time.Time.
func (s *Store) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	var buckets []Bucket
	if err := s.gdb.WithContext(ctx).Find(&buckets).Error; err != nil {
		return nil, err
	}

	out := make([]BucketInfo, 0, len(buckets))
	for _, b := range buckets {
		info := BucketInfo{Bucket: b}
		first, err := s.edgeEvent(ctx, b.BucketID, "timestamp ASC, id ASC")
		if err != nil {
			return nil, err
		}
		if first != nil {
			last, err := s.edgeEvent(ctx, b.BucketID, "timestamp DESC, id DESC")
			if err != nil {
				return nil, err
			}
			info.FirstEvent = &first.Timestamp
			info.LastEvent = &last.Timestamp
		}
		out = append(out, info)
	}
	return out, nil
}

// edgeEvent returns the bucket's first or last event depending on order,
// or nil when the bucket is empty.
func (s *Store) edgeEvent(ctx context.Context, bucketID, order string) (*Event, error) {
	var e Event
	err := s.gdb.WithContext(ctx).
		Where("bucket_id = ?", bucketID).
		Order(order).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// bucketExists is the existence check run inside event-path transactions.
func bucketExists(tx *gorm.DB, bucketID string) error {
	var count int64
	if err := tx.Model(&Bucket{}).Where("bucket_id = ?", bucketID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %q", ErrBucketNotFound, bucketID)
	}
	return nil
}
