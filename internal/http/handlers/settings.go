package handlers

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	dbpkg "pulsetrack/internal/db"
)

// ListSettings returns all settings, optionally filtered by ?prefix=.
func ListSettings(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		prefix := string(ctx.QueryArgs().Peek("prefix"))

		entries, err := store.ListSettings(dbCtx(ctx), prefix)
		if err != nil {
			writeError(ctx, err)
			return
		}

		out := make(map[string]json.RawMessage, len(entries))
		for _, kv := range entries {
			out[kv.Key] = json.RawMessage(kv.Value)
		}
		writeJSON(ctx, fasthttp.StatusOK, out)
	}
}

func GetSetting(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key := ctx.UserValue("key").(string)

		value, err := store.GetSetting(dbCtx(ctx), key)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/json")
		ctx.SetBody(value)
	}
}

// SetSetting stores the request body as the key's value, last write wins.
func SetSetting(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key := ctx.UserValue("key").(string)

		if err := store.SetSetting(dbCtx(ctx), key, json.RawMessage(ctx.PostBody())); err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
	}
}

func DeleteSetting(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key := ctx.UserValue("key").(string)

		if err := store.DeleteSetting(dbCtx(ctx), key); err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "deleted"})
	}
}
