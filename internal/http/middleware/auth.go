package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"

	"pulsetrack/internal/config"
	dbpkg "pulsetrack/internal/db"
	httpctx "pulsetrack/internal/http/ctx"
)

// APIKeyHeader carries the credential on every gated request.
const APIKeyHeader = "X-API-Key"

// Gate validates the X-API-Key header against issued keys before the
// wrapped handler runs. When auth is disabled in config the gate is a
// no-op, so every mutating route can be wrapped unconditionally. Store
// errors fail closed with 500; a missing/invalid/revoked key is 401 and
// the handler never executes.
func Gate(store *dbpkg.Store, cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if !cfg.AuthEnabled {
				next(ctx)
				return
			}

			token := strings.TrimSpace(string(ctx.Request.Header.Peek(APIKeyHeader)))
			if token == "" {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetContentType("application/json")
				ctx.SetBodyString(`{"error":"missing ` + APIKeyHeader + ` header"}`)
				return
			}

			// fasthttp recycles the RequestCtx and ties its Done channel
			// to the server loop; the verify call gets a fresh context.
			key, err := store.VerifyAPIKey(context.Background(), token)
			if err != nil {
				if errors.Is(err, dbpkg.ErrUnauthorized) {
					ctx.SetStatusCode(fasthttp.StatusUnauthorized)
					ctx.SetContentType("application/json")
					ctx.SetBodyString(`{"error":"invalid API key"}`)
					return
				}
				ctx.SetStatusCode(fasthttp.StatusInternalServerError)
				ctx.SetContentType("application/json")
				ctx.SetBodyString(`{"error":"database error"}`)
				return
			}

			httpctx.SetAPIKey(ctx, key)
			next(ctx)
		}
	}
}

// ReadGate applies the same policy as Gate to read-only routes, but only
// when the deployment opted in via PT_GATE_READS. Kept separate so the
// read path can be credential-gated without touching handler wiring.
func ReadGate(store *dbpkg.Store, cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	gate := Gate(store, cfg)
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		if !cfg.GateReads {
			return next
		}
		return gate(next)
	}
}
