package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/valyala/fasthttp"

	dbpkg "pulsetrack/internal/db"
)

// dbCtx returns the context datastore calls run under for a request.
// fasthttp recycles RequestCtx values and ties their Done channel to the
// server loop, so the RequestCtx itself must never reach database/sql.
func dbCtx(_ *fasthttp.RequestCtx) context.Context {
	return context.Background()
}

// RequestLogger logs every request with status and latency.
func RequestLogger(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		log.Printf("%s %s -> %d (%s) ip=%s", ctx.Method(), ctx.Path(), ctx.Response.StatusCode(), time.Since(start), ctx.RemoteAddr())
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"error":"failed to encode response"}`)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func writeErrorMsg(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// writeError maps datastore errors onto the HTTP status taxonomy:
// validation 400, unauthorized 401, not-found 404, conflict 409,
// anything else is a storage failure.
func writeError(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, dbpkg.ErrValidation):
		writeErrorMsg(ctx, fasthttp.StatusBadRequest, err.Error())
	case errors.Is(err, dbpkg.ErrUnauthorized):
		writeErrorMsg(ctx, fasthttp.StatusUnauthorized, err.Error())
	case errors.Is(err, dbpkg.ErrBucketNotFound),
		errors.Is(err, dbpkg.ErrEventNotFound),
		errors.Is(err, dbpkg.ErrKeyNotFound),
		errors.Is(err, dbpkg.ErrAPIKeyNotFound):
		writeErrorMsg(ctx, fasthttp.StatusNotFound, err.Error())
	case errors.Is(err, dbpkg.ErrBucketExists):
		writeErrorMsg(ctx, fasthttp.StatusConflict, err.Error())
	default:
		log.Printf("storage error: %v", err)
		writeErrorMsg(ctx, fasthttp.StatusInternalServerError, "storage failure")
	}
}

// eventJSON is the wire shape of an event. Durations cross the wire in
// seconds (fractional), the store keeps microseconds.
type eventJSON struct {
	ID        uint           `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  float64        `json:"duration"`
	Data      map[string]any `json:"data"`
}

func toWire(e dbpkg.Event) eventJSON {
	return eventJSON{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Duration:  float64(e.DurationUs) / 1e6,
		Data:      e.Data,
	}
}

func toWireList(events []dbpkg.Event) []eventJSON {
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, toWire(e))
	}
	return out
}

func fromWire(w eventJSON) dbpkg.Event {
	return dbpkg.Event{
		Timestamp:  w.Timestamp,
		DurationUs: int64(w.Duration * 1e6),
		Data:       w.Data,
	}
}
