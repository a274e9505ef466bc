package handlers

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	dbpkg "pulsetrack/internal/db"
)

type createAPIKeyRequest struct {
	ClientID    string `json:"client_id"`
	Description string `json:"description,omitempty"`
}

// CreateAPIKey issues a new credential. The response is the only place
// the plaintext secret ever appears; it cannot be retrieved again.
func CreateAPIKey(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req createAPIKeyRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			writeErrorMsg(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ClientID == "" {
			writeErrorMsg(ctx, fasthttp.StatusBadRequest, "client_id required")
			return
		}

		issued, err := store.IssueAPIKey(dbCtx(ctx), req.ClientID, req.Description)
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusCreated, issued)
	}
}

// ListAPIKeys returns key metadata only: no plaintexts, no digests.
func ListAPIKeys(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		keys, err := store.ListAPIKeys(dbCtx(ctx))
		if err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, keys)
	}
}

// RevokeAPIKey deactivates the key. One-way; there is no un-revoke.
func RevokeAPIKey(store *dbpkg.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := ctx.UserValue("id").(string)

		if err := store.RevokeAPIKey(dbCtx(ctx), id); err != nil {
			writeError(ctx, err)
			return
		}
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "revoked"})
	}
}
