package handlers

import (
	"os"

	"github.com/valyala/fasthttp"

	"pulsetrack/internal/config"
)

// Version is the server version reported by /api/0/info.
const Version = "0.3.0"

// Info reports server metadata so clients can discover the host they are
// reporting against and whether they need a credential.
func Info(cfg *config.Config) fasthttp.RequestHandler {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return func(ctx *fasthttp.RequestCtx) {
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"hostname":     hostname,
			"version":      Version,
			"auth_enabled": cfg.AuthEnabled,
		})
	}
}
