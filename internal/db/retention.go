package db

import (
	"context"
	"log"
	"time"
)

// runRetentionOnce performs a single pass of retention cleanup, pruning
// events older than retentionDays from every bucket.
func runRetentionOnce(s *Store, retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	ctx := context.Background()
	buckets, err := s.ListBuckets(ctx)
	if err != nil {
		return err
	}
	for _, b := range buckets {
		n, err := s.DeleteEventsBefore(ctx, b.BucketID, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Printf("retention: pruned %d events from %s (before %s)", n, b.BucketID, cutoff.Format(time.RFC3339))
		}
	}
	return nil
}

// StartRetentionWorker launches a background goroutine that runs the
// retention cleanup once at startup and then once per day. A retention of
// zero days disables the worker.
func StartRetentionWorker(s *Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	go func() {
		if err := runRetentionOnce(s, retentionDays); err != nil {
			log.Printf("retention cleanup error (startup): %v", err)
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			if err := runRetentionOnce(s, retentionDays); err != nil {
				log.Printf("retention cleanup error: %v", err)
			}
		}
	}()
}
