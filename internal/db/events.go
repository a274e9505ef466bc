package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// chunkOf truncates t to the start of its UTC month, the granularity the
// events table is partitioned at.
func chunkOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func validateEvent(e *Event) error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: event timestamp is required", ErrValidation)
	}
	if e.DurationUs < 0 {
		return fmt.Errorf("%w: negative duration", ErrValidation)
	}
	return nil
}

// prepare normalizes an event for storage: UTC timestamp, chunk column,
// cleared id so the database assigns the sequence.
func (e *Event) prepare(bucketID string) {
	e.ID = 0
	e.BucketID = bucketID
	e.Timestamp = e.Timestamp.UTC()
	e.Chunk = chunkOf(e.Timestamp)
	if e.Data == nil {
		e.Data = datatypes.JSONMap{}
	}
}

// Heartbeat merges the incoming event into the bucket's most recent event
// when both carry the same payload and the gap between them is within
// pulsetime (seconds); otherwise it inserts the event as a new row. The
// returned event is the stored row either way.
//
// The read-decide-write sequence runs under the bucket's lock and inside
// one transaction, so concurrent heartbeats to the same bucket are
// linearized and an abandoned request leaves no partial merge behind.
// The boolean reports whether the heartbeat merged into an existing row.
func (s *Store) Heartbeat(ctx context.Context, bucketID string, ev Event, pulsetime float64) (*Event, bool, error) {
	if err := validateEvent(&ev); err != nil {
		return nil, false, err
	}
	ev.prepare(bucketID)

	unlock := s.hb.lock(bucketID)
	defer unlock()

	didMerge := false
	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bucketExists(tx, bucketID); err != nil {
			return err
		}

		var last Event
		err := tx.Where("bucket_id = ?", bucketID).
			Order("timestamp DESC, id DESC").
			First(&last).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err == nil {
			if merged, ok := mergeHeartbeat(&last, &ev, pulsetime); ok {
				if err := tx.Model(&Event{}).Where("id = ?", last.ID).
					Update("duration_us", merged).Error; err != nil {
					return err
				}
				last.DurationUs = merged
				ev = last
				didMerge = true
				return nil
			}
		}

		didMerge = false
		return tx.Create(&ev).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &ev, didMerge, nil
}

// mergeHeartbeat decides merge eligibility and, when eligible, returns the
// extended duration for last in microseconds. last keeps its timestamp;
// the new duration covers at least its old extent and at most the end of
// the incoming heartbeat. A negative gap (overlap) merges too.
func mergeHeartbeat(last, incoming *Event, pulsetime float64) (int64, bool) {
	if !payloadEqual(last.Data, incoming.Data) {
		return 0, false
	}
	if incoming.Timestamp.Before(last.Timestamp) {
		return 0, false
	}
	gap := incoming.Timestamp.Sub(last.End())
	if float64(gap) > pulsetime*float64(time.Second) {
		return 0, false
	}

	extended := incoming.End().Sub(last.Timestamp).Microseconds()
	if extended < last.DurationUs {
		extended = last.DurationUs
	}
	return extended, true
}

// InsertEvents stores events unconditionally, bypassing merge logic.
// The whole batch is one transaction: on any failure nothing is stored.
func (s *Store) InsertEvents(ctx context.Context, bucketID string, events []Event) ([]Event, error) {
	for i := range events {
		if err := validateEvent(&events[i]); err != nil {
			return nil, err
		}
		events[i].prepare(bucketID)
	}

	err := s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bucketExists(tx, bucketID); err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		return tx.Create(&events).Error
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// QueryRange returns events with timestamp in [start, end), newest first
// (ties broken by id, descending). Zero start/end leave that bound open;
// limit <= 0 means unlimited.
func (s *Store) QueryRange(ctx context.Context, bucketID string, start, end time.Time, limit int) ([]Event, error) {
	if err := bucketExists(s.gdb.WithContext(ctx), bucketID); err != nil {
		return nil, err
	}

	q := s.gdb.WithContext(ctx).Where("bucket_id = ?", bucketID)
	if !start.IsZero() {
		q = q.Where("timestamp >= ?", start.UTC())
	}
	if !end.IsZero() {
		q = q.Where("timestamp < ?", end.UTC())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var out []Event
	if err := q.Order("timestamp DESC, id DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// QueryByPayload returns the bucket's events whose payload value at the
// given key path equals value, newest first.
func (s *Store) QueryByPayload(ctx context.Context, bucketID string, value interface{}, path ...string) ([]Event, error) {
	if err := bucketExists(s.gdb.WithContext(ctx), bucketID); err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty payload key path", ErrValidation)
	}

	var out []Event
	err := s.gdb.WithContext(ctx).
		Where("bucket_id = ?", bucketID).
		Where(datatypes.JSONQuery("data").Equals(value, path...)).
		Order("timestamp DESC, id DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountEvents counts events with timestamp in [start, end); zero bounds
// are open.
func (s *Store) CountEvents(ctx context.Context, bucketID string, start, end time.Time) (int64, error) {
	if err := bucketExists(s.gdb.WithContext(ctx), bucketID); err != nil {
		return 0, err
	}

	q := s.gdb.WithContext(ctx).Model(&Event{}).Where("bucket_id = ?", bucketID)
	if !start.IsZero() {
		q = q.Where("timestamp >= ?", start.UTC())
	}
	if !end.IsZero() {
		q = q.Where("timestamp < ?", end.UTC())
	}

	var count int64
	if err := q.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GetEvent returns a single event by id within a bucket.
func (s *Store) GetEvent(ctx context.Context, bucketID string, eventID uint) (*Event, error) {
	if err := bucketExists(s.gdb.WithContext(ctx), bucketID); err != nil {
		return nil, err
	}

	var e Event
	err := s.gdb.WithContext(ctx).
		Where("bucket_id = ? AND id = ?", bucketID, eventID).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteEventsByID removes the given events from a bucket. Unknown ids
// are ignored, matching bulk-delete semantics.
func (s *Store) DeleteEventsByID(ctx context.Context, bucketID string, eventIDs []uint) error {
	if err := bucketExists(s.gdb.WithContext(ctx), bucketID); err != nil {
		return err
	}
	if len(eventIDs) == 0 {
		return nil
	}
	return s.gdb.WithContext(ctx).
		Where("bucket_id = ? AND id IN ?", bucketID, eventIDs).
		Delete(&Event{}).Error
}

// DeleteEventsBefore removes all of the bucket's events that start before
// cutoff. The chunk bound lets the delete cut along the time partition
// instead of walking the (bucket, timestamp) index for old history.
func (s *Store) DeleteEventsBefore(ctx context.Context, bucketID string, cutoff time.Time) (int64, error) {
	if err := bucketExists(s.gdb.WithContext(ctx), bucketID); err != nil {
		return 0, err
	}

	res := s.gdb.WithContext(ctx).
		Where("bucket_id = ? AND chunk <= ? AND timestamp < ?", bucketID, chunkOf(cutoff), cutoff.UTC()).
		Delete(&Event{})
	return res.RowsAffected, res.Error
}
