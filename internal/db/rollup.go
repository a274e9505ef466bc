package db

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"
)

// runRollupOnce aggregates events for the given hour (hourStart to
// hourStart+1h) into ActivityRollup rows. Call with hourStart = time in
// UTC truncated to hour.
func runRollupOnce(s *Store, hourStart time.Time) error {
	hourEnd := hourStart.Add(time.Hour)

	type agg struct {
		BucketID        string
		EventCount      int64
		TotalDurationUs int64
	}
	var groups []agg
	err := s.gdb.Model(&Event{}).
		Select("bucket_id, COUNT(*) AS event_count, SUM(duration_us) AS total_duration_us").
		Where("timestamp >= ? AND timestamp < ?", hourStart, hourEnd).
		Group("bucket_id").
		Scan(&groups).Error
	if err != nil {
		return err
	}

	for _, g := range groups {
		row := ActivityRollup{
			BucketID:        g.BucketID,
			HourStart:       hourStart,
			EventCount:      g.EventCount,
			TotalDurationUs: g.TotalDurationUs,
		}
		var existing ActivityRollup
		err := s.gdb.Where("bucket_id = ? AND hour_start = ?", g.BucketID, hourStart).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = s.gdb.Create(&row).Error
		} else if err == nil {
			err = s.gdb.Model(&existing).Updates(map[string]interface{}{
				"event_count":       row.EventCount,
				"total_duration_us": row.TotalDurationUs,
			}).Error
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// StartRollupWorker runs rollups for the last 24 completed hours at
// startup, then every hour. Hours are in UTC.
func StartRollupWorker(s *Store) {
	go func() {
		now := time.Now().UTC()
		for i := 1; i <= 24; i++ {
			hourStart := now.Truncate(time.Hour).Add(-time.Duration(i) * time.Hour)
			if err := runRollupOnce(s, hourStart); err != nil {
				log.Printf("rollup error (startup) for %s: %v", hourStart.Format(time.RFC3339), err)
			}
		}

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for t := range ticker.C {
			hourStart := t.UTC().Truncate(time.Hour).Add(-time.Hour)
			if err := runRollupOnce(s, hourStart); err != nil {
				log.Printf("rollup error for %s: %v", hourStart.Format(time.RFC3339), err)
			}
		}
	}()
}

// ListRollups returns the bucket's hourly rollups for the trailing
// `hours` window, newest first.
func (s *Store) ListRollups(ctx context.Context, bucketID string, hours int) ([]ActivityRollup, error) {
	if err := bucketExists(s.gdb.WithContext(ctx), bucketID); err != nil {
		return nil, err
	}
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().UTC().Truncate(time.Hour).Add(-time.Duration(hours) * time.Hour)

	var out []ActivityRollup
	err := s.gdb.WithContext(ctx).
		Where("bucket_id = ? AND hour_start >= ?", bucketID, since).
		Order("hour_start DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
