package handlers

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
	"gorm.io/datatypes"

	dbpkg "pulsetrack/internal/db"
	httpctx "pulsetrack/internal/http/ctx"
)

// ListBuckets returns all buckets keyed by bucket id, the shape watchers
// expect when checking what already exists on the host.
func ListBuckets(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		buckets, err := store.ListBuckets(dbCtx(ctx))
		if err != nil {
			writeError(ctx, err)
			return
		}
		out := make(map[string]dbpkg.BucketInfo, len(buckets))
		for _, b := range buckets {
			out[b.BucketID] = b
		}
		writeJSON(ctx, fasthttp.StatusOK, out)
	}
}

func GetBucket(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		bucketID := ctx.UserValue("bucket").(string)

		b, err := store.GetBucket(dbCtx(ctx), bucketID)
		if err != nil {
			writeError(ctx, err)
			return
		}
		count, err := store.CountEvents(dbCtx(ctx), bucketID, time.Time{}, time.Time{})
		if err != nil {
			writeError(ctx, err)
			return
		}

		writeJSON(ctx, fasthttp.StatusOK, struct {
			dbpkg.Bucket
			EventCount int64 `json:"event_count"`
		}{Bucket: *b, EventCount: count})
	}
}

type createBucketRequest struct {
	Name     string            `json:"name,omitempty"`
	Type     string            `json:"type"`
	Client   string            `json:"client"`
	Hostname string            `json:"hostname"`
	Data     datatypes.JSONMap `json:"data,omitempty"`
}

// CreateBucket creates the bucket named in the path. 409 on duplicate,
// unless ?if-absent is set, in which case the existing bucket comes back
// with 200. An omitted client field defaults to the verified API key's
// client id when the request came through the gate.
func CreateBucket(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		bucketID := ctx.UserValue("bucket").(string)

		var req createBucketRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			writeErrorMsg(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Client == "" {
			if ak, ok := httpctx.APIKeyFromCtx(ctx); ok && ak != nil {
				req.Client = ak.ClientID
			}
		}
		if req.Type == "" || req.Client == "" {
			writeErrorMsg(ctx, fasthttp.StatusBadRequest, "type and client required")
			return
		}

		b := &dbpkg.Bucket{
			BucketID: bucketID,
			Name:     req.Name,
			Type:     req.Type,
			Client:   req.Client,
			Hostname: req.Hostname,
			Data:     req.Data,
		}

		if ctx.QueryArgs().Has("if-absent") {
			existing, created, err := store.CreateBucketIfAbsent(dbCtx(ctx), b)
			if err != nil {
				writeError(ctx, err)
				return
			}
			status := fasthttp.StatusOK
			if created {
				status = fasthttp.StatusCreated
			}
			writeJSON(ctx, status, existing)
			return
		}

		if err := store.CreateBucket(dbCtx(ctx), b); err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusCreated, b)
	}
}

// DeleteBucket removes the bucket and, by cascade, all of its events.
func DeleteBucket(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		bucketID := ctx.UserValue("bucket").(string)

		if err := store.DeleteBucket(dbCtx(ctx), bucketID); err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "deleted"})
	}
}
