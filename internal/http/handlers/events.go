package handlers

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	dbpkg "pulsetrack/internal/db"
)

func parseTimeArg(ctx *fasthttp.RequestCtx, name string) (time.Time, bool) {
	raw := string(ctx.QueryArgs().Peek(name))
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeErrorMsg(ctx, fasthttp.StatusBadRequest, "invalid "+name+" (want RFC3339)")
		return time.Time{}, false
	}
	return t, true
}

// GetEvents serves the range query: events with timestamp in
// [start, end), newest first, capped at limit.
func GetEvents(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		bucketID := ctx.UserValue("bucket").(string)

		start, ok := parseTimeArg(ctx, "start")
		if !ok {
			return
		}
		end, ok := parseTimeArg(ctx, "end")
		if !ok {
			return
		}
		limit := ctx.QueryArgs().GetUintOrZero("limit")

		events, err := store.QueryRange(dbCtx(ctx), bucketID, start, end, limit)
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, toWireList(events))
	}
}

// PostEvents bulk-inserts events, bypassing merge logic. The body may be
// a single event object or an array; the batch is all-or-nothing.
func PostEvents(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		bucketID := ctx.UserValue("bucket").(string)

		body := bytes.TrimSpace(ctx.PostBody())
		var incoming []eventJSON
		if len(body) > 0 && body[0] == '[' {
			if err := json.Unmarshal(body, &incoming); err != nil {
				writeErrorMsg(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
				return
			}
		} else {
			var one eventJSON
			if err := json.Unmarshal(body, &one); err != nil {
				writeErrorMsg(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
				return
			}
			incoming = []eventJSON{one}
		}
		if len(incoming) == 0 {
			writeErrorMsg(ctx, fasthttp.StatusBadRequest, "no events provided")
			return
		}

		events := make([]dbpkg.Event, 0, len(incoming))
		for _, w := range incoming {
			events = append(events, fromWire(w))
		}

		inserted, err := store.InsertEvents(dbCtx(ctx), bucketID, events)
		if err != nil {
			writeError(ctx, err)
			return
		}

		eventsInsertedTotal.WithLabelValues(bucketID).Add(float64(len(inserted)))
		writeJSON(ctx, fasthttp.StatusOK, toWireList(inserted))
	}
}

// Heartbeat merges the submitted event into the bucket's latest event
// when contiguous within pulsetime, otherwise inserts it. Returns the
// stored event either way.
func Heartbeat(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		bucketID := ctx.UserValue("bucket").(string)

		raw := string(ctx.QueryArgs().Peek("pulsetime"))
		if raw == "" {
			writeErrorMsg(ctx, fasthttp.StatusBadRequest, "pulsetime query parameter required")
			return
		}
		pulsetime, err := strconv.ParseFloat(raw, 64)
		if err != nil || pulsetime < 0 {
			writeErrorMsg(ctx, fasthttp.StatusBadRequest, "invalid pulsetime")
			return
		}

		var w eventJSON
		if err := json.Unmarshal(ctx.PostBody(), &w); err != nil {
			writeErrorMsg(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}

		stored, merged, err := store.Heartbeat(dbCtx(ctx), bucketID, fromWire(w), pulsetime)
		if err != nil {
			writeError(ctx, err)
			return
		}

		result := "inserted"
		if merged {
			result = "merged"
		}
		heartbeatsTotal.WithLabelValues(bucketID, result).Inc()

		writeJSON(ctx, fasthttp.StatusOK, toWire(*stored))
	}
}

// CountEvents serves the event count over an optional [start, end) range.
func CountEvents(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		bucketID := ctx.UserValue("bucket").(string)

		start, ok := parseTimeArg(ctx, "start")
		if !ok {
			return
		}
		end, ok := parseTimeArg(ctx, "end")
		if !ok {
			return
		}

		count, err := store.CountEvents(dbCtx(ctx), bucketID, start, end)
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]int64{"count": count})
	}
}

// GetEvent serves a single event by id.
func GetEvent(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		bucketID := ctx.UserValue("bucket").(string)
		id, err := strconv.ParseUint(ctx.UserValue("id").(string), 10, 64)
		if err != nil {
			writeErrorMsg(ctx, fasthttp.StatusBadRequest, "invalid event id")
			return
		}

		e, err := store.GetEvent(dbCtx(ctx), bucketID, uint(id))
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, toWire(*e))
	}
}

// DeleteEvent removes a single event by id.
func DeleteEvent(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		bucketID := ctx.UserValue("bucket").(string)
		id, err := strconv.ParseUint(ctx.UserValue("id").(string), 10, 64)
		if err != nil {
			writeErrorMsg(ctx, fasthttp.StatusBadRequest, "invalid event id")
			return
		}

		if err := store.DeleteEventsByID(dbCtx(ctx), bucketID, []uint{uint(id)}); err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "deleted"})
	}
}

// Rollups serves the hourly activity rollups for the trailing window.
func Rollups(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		bucketID := ctx.UserValue("bucket").(string)
		hours := ctx.QueryArgs().GetUintOrZero("hours")

		rollups, err := store.ListRollups(dbCtx(ctx), bucketID, hours)
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, rollups)
	}
}
