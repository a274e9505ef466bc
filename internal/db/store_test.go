package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"pulsetrack/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.Config{DatabaseURL: filepath.Join(t.TempDir(), "test.db")}
	s, err := Connect(cfg)
	require.NoError(t, err)
	return s
}

func makeBucket(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.CreateBucket(context.Background(), &Bucket{
		BucketID: id,
		Type:     "currentwindow",
		Client:   "test-watcher",
		Hostname: "testhost",
	})
	require.NoError(t, err)
}

func TestCreateBucket_SetsCreated(t *testing.T) {
	s := newTestStore(t)

	before := time.Now().UTC().Add(-time.Second)
	makeBucket(t, s, "b1")

	b, err := s.GetBucket(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", b.BucketID)
	assert.Equal(t, "currentwindow", b.Type)
	assert.False(t, b.Created.Before(before), "created should be set to now")
}

func TestCreateBucket_DuplicateConflicts(t *testing.T) {
	s := newTestStore(t)
	makeBucket(t, s, "b1")

	err := s.CreateBucket(context.Background(), &Bucket{
		BucketID: "b1",
		Type:     "afkstatus",
		Client:   "other",
	})
	require.ErrorIs(t, err, ErrBucketExists)
}

func TestCreateBucketIfAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b, created, err := s.CreateBucketIfAbsent(ctx, &Bucket{
		BucketID: "b1", Type: "currentwindow", Client: "w",
	})
	require.NoError(t, err)
	assert.True(t, created)

	// Second call returns the original, not the new attributes.
	b2, created, err := s.CreateBucketIfAbsent(ctx, &Bucket{
		BucketID: "b1", Type: "afkstatus", Client: "other",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, b.BucketID, b2.BucketID)
	assert.Equal(t, "currentwindow", b2.Type)
}

func TestGetBucket_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetBucket(context.Background(), "missing")
	require.ErrorIs(t, err, ErrBucketNotFound)
}

func TestDeleteBucket_CascadesEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	makeBucket(t, s, "b1")
	makeBucket(t, s, "b2")

	now := time.Now().UTC()
	_, err := s.InsertEvents(ctx, "b1", []Event{
		{Timestamp: now, DurationUs: 1000, Data: datatypes.JSONMap{"app": "X"}},
		{Timestamp: now.Add(time.Minute), DurationUs: 2000, Data: datatypes.JSONMap{"app": "Y"}},
	})
	require.NoError(t, err)
	_, err = s.InsertEvents(ctx, "b2", []Event{
		{Timestamp: now, DurationUs: 500, Data: datatypes.JSONMap{"app": "Z"}},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteBucket(ctx, "b1"))

	_, err = s.GetBucket(ctx, "b1")
	assert.ErrorIs(t, err, ErrBucketNotFound)
	_, err = s.QueryRange(ctx, "b1", time.Time{}, time.Time{}, 0)
	assert.ErrorIs(t, err, ErrBucketNotFound)

	// No orphaned rows left behind.
	var count int64
	require.NoError(t, s.gdb.Model(&Event{}).Where("bucket_id = ?", "b1").Count(&count).Error)
	assert.Zero(t, count)

	// Other bucket untouched.
	events, err := s.QueryRange(ctx, "b2", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestDeleteBucket_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.DeleteBucket(context.Background(), "missing")
	require.ErrorIs(t, err, ErrBucketNotFound)
}

func TestListBuckets_EventSpan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	makeBucket(t, s, "b1")
	makeBucket(t, s, "empty")

	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	_, err := s.InsertEvents(ctx, "b1", []Event{
		{Timestamp: t0, DurationUs: 1_000_000, Data: datatypes.JSONMap{"app": "X"}},
		{Timestamp: t0.Add(time.Hour), DurationUs: 1_000_000, Data: datatypes.JSONMap{"app": "X"}},
	})
	require.NoError(t, err)

	buckets, err := s.ListBuckets(ctx)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	byID := map[string]BucketInfo{}
	for _, b := range buckets {
		byID[b.BucketID] = b
	}

	b1 := byID["b1"]
	require.NotNil(t, b1.FirstEvent)
	require.NotNil(t, b1.LastEvent)
	assert.True(t, b1.FirstEvent.Equal(t0))
	assert.True(t, b1.LastEvent.Equal(t0.Add(time.Hour)))

	empty := byID["empty"]
	assert.Nil(t, empty.FirstEvent)
	assert.Nil(t, empty.LastEvent)
}
