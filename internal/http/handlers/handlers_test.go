package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"gorm.io/datatypes"

	"pulsetrack/internal/config"
	dbpkg "pulsetrack/internal/db"
	httpctx "pulsetrack/internal/http/ctx"
)

func TestMain(m *testing.M) {
	InitPrometheusMetrics()
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) *dbpkg.Store {
	t.Helper()
	cfg := &config.Config{DatabaseURL: filepath.Join(t.TempDir(), "test.db")}
	s, err := dbpkg.Connect(cfg)
	require.NoError(t, err)
	return s
}

func newRequestCtx(method, uri string, body []byte, userValues map[string]any) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI(uri)
	ctx.Request.Header.SetMethod(method)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	for k, v := range userValues {
		ctx.SetUserValue(k, v)
	}
	return ctx
}

func makeBucket(t *testing.T, s *dbpkg.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateBucket(context.Background(), &dbpkg.Bucket{
		BucketID: id, Type: "currentwindow", Client: "test-watcher", Hostname: "testhost",
	}))
}

func TestCreateBucketHandler(t *testing.T) {
	s := newTestStore(t)
	handler := CreateBucket(s)
	body := []byte(`{"type":"currentwindow","client":"test-watcher","hostname":"h"}`)

	ctx := newRequestCtx("POST", "/api/0/buckets/b1", body, map[string]any{"bucket": "b1"})
	handler(ctx)
	assert.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	// Duplicate create conflicts.
	ctx = newRequestCtx("POST", "/api/0/buckets/b1", body, map[string]any{"bucket": "b1"})
	handler(ctx)
	assert.Equal(t, fasthttp.StatusConflict, ctx.Response.StatusCode())

	// The idempotent variant returns the existing bucket instead.
	ctx = newRequestCtx("POST", "/api/0/buckets/b1?if-absent", body, map[string]any{"bucket": "b1"})
	handler(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	// Missing required fields.
	ctx = newRequestCtx("POST", "/api/0/buckets/b2", []byte(`{"type":""}`), map[string]any{"bucket": "b2"})
	handler(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestCreateBucketHandler_ClientFromAPIKey(t *testing.T) {
	s := newTestStore(t)
	issued, err := s.IssueAPIKey(context.Background(), "laptop-watcher", "")
	require.NoError(t, err)

	ctx := newRequestCtx("POST", "/api/0/buckets/b1", []byte(`{"type":"currentwindow"}`), map[string]any{"bucket": "b1"})
	httpctx.SetAPIKey(ctx, &issued.APIKey)
	CreateBucket(s)(ctx)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	b, err := s.GetBucket(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, "laptop-watcher", b.Client)
}

func TestHeartbeatHandler_MergesAndConvertsSeconds(t *testing.T) {
	s := newTestStore(t)
	makeBucket(t, s, "b")
	handler := Heartbeat(s)

	mkBody := func(ts time.Time, durSeconds float64, app string) []byte {
		b, _ := json.Marshal(map[string]any{
			"timestamp": ts.Format(time.RFC3339),
			"duration":  durSeconds,
			"data":      map[string]any{"app": app},
		})
		return b
	}
	base := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)

	ctx := newRequestCtx("POST", "/api/0/buckets/b/heartbeat?pulsetime=5", mkBody(base, 30, "X"), map[string]any{"bucket": "b"})
	handler(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = newRequestCtx("POST", "/api/0/buckets/b/heartbeat?pulsetime=5", mkBody(base.Add(32*time.Second), 10, "X"), map[string]any{"bucket": "b"})
	handler(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var resp struct {
		ID        uint      `json:"id"`
		Timestamp time.Time `json:"timestamp"`
		Duration  float64   `json:"duration"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.True(t, resp.Timestamp.Equal(base), "merge keeps original start")
	assert.InDelta(t, 42.0, resp.Duration, 1e-6)

	events, err := s.QueryRange(context.Background(), "b", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestHeartbeatHandler_RequiresPulsetime(t *testing.T) {
	s := newTestStore(t)
	makeBucket(t, s, "b")

	ctx := newRequestCtx("POST", "/api/0/buckets/b/heartbeat", []byte(`{}`), map[string]any{"bucket": "b"})
	Heartbeat(s)(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestHeartbeatHandler_MissingBucket(t *testing.T) {
	s := newTestStore(t)

	body := []byte(`{"timestamp":"2026-08-15T09:00:00Z","duration":1,"data":{"app":"X"}}`)
	ctx := newRequestCtx("POST", "/api/0/buckets/nope/heartbeat?pulsetime=5", body, map[string]any{"bucket": "nope"})
	Heartbeat(s)(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestPostEventsHandler_AcceptsObjectAndArray(t *testing.T) {
	s := newTestStore(t)
	makeBucket(t, s, "b")
	handler := PostEvents(s)

	one := []byte(`{"timestamp":"2026-08-15T09:00:00Z","duration":1.5,"data":{"app":"X"}}`)
	ctx := newRequestCtx("POST", "/api/0/buckets/b/events", one, map[string]any{"bucket": "b"})
	handler(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	many := []byte(`[
		{"timestamp":"2026-08-15T10:00:00Z","duration":1,"data":{"app":"Y"}},
		{"timestamp":"2026-08-15T11:00:00Z","duration":2,"data":{"app":"Z"}}
	]`)
	ctx = newRequestCtx("POST", "/api/0/buckets/b/events", many, map[string]any{"bucket": "b"})
	handler(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	count, err := s.CountEvents(context.Background(), "b", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// Fractional seconds survive the microsecond conversion.
	events, err := s.QueryByPayload(context.Background(), "b", "X", "app")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1_500_000), events[0].DurationUs)
}

func TestGetEventsHandler_InvalidStart(t *testing.T) {
	s := newTestStore(t)
	makeBucket(t, s, "b")

	ctx := newRequestCtx("GET", "/api/0/buckets/b/events?start=not-a-time", nil, map[string]any{"bucket": "b"})
	GetEvents(s)(ctx)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestAPIKeyHandlers_PlaintextOnlyOnCreate(t *testing.T) {
	s := newTestStore(t)

	ctx := newRequestCtx("POST", "/api/0/apikeys", []byte(`{"client_id":"watcher-1","description":"desk"}`), nil)
	CreateAPIKey(s)(ctx)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode())

	var created struct {
		ID       string `json:"id"`
		ClientID string `json:"client_id"`
		APIKey   string `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &created))
	assert.Len(t, created.APIKey, 64)
	assert.Equal(t, "watcher-1", created.ClientID)

	ctx = newRequestCtx("GET", "/api/0/apikeys", nil, nil)
	ListAPIKeys(s)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.NotContains(t, string(ctx.Response.Body()), created.APIKey)

	ctx = newRequestCtx("DELETE", fmt.Sprintf("/api/0/apikeys/%s", created.ID), nil, map[string]any{"id": created.ID})
	RevokeAPIKey(s)(ctx)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = newRequestCtx("DELETE", "/api/0/apikeys/unknown", nil, map[string]any{"id": "unknown"})
	RevokeAPIKey(s)(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestSettingsHandlers_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	ctx := newRequestCtx("POST", "/api/0/settings/theme", []byte(`"dark"`), map[string]any{"key": "theme"})
	SetSetting(s)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = newRequestCtx("GET", "/api/0/settings/theme", nil, map[string]any{"key": "theme"})
	GetSetting(s)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.JSONEq(t, `"dark"`, string(ctx.Response.Body()))

	ctx = newRequestCtx("GET", "/api/0/settings/missing", nil, map[string]any{"key": "missing"})
	GetSetting(s)(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestDeleteBucketHandler_Cascade(t *testing.T) {
	s := newTestStore(t)
	makeBucket(t, s, "b")
	_, err := s.InsertEvents(context.Background(), "b", []dbpkg.Event{
		{Timestamp: time.Now().UTC(), DurationUs: 1000, Data: datatypes.JSONMap{"app": "X"}},
	})
	require.NoError(t, err)

	ctx := newRequestCtx("DELETE", "/api/0/buckets/b", nil, map[string]any{"bucket": "b"})
	DeleteBucket(s)(ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = newRequestCtx("GET", "/api/0/buckets/b", nil, map[string]any{"bucket": "b"})
	GetBucket(s)(ctx)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}
