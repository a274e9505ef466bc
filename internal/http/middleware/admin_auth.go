package middleware

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"

	"pulsetrack/internal/config"
)

// AdminAuth guards the key management endpoints with HTTP basic auth
// against the admin credential from config. The password is compared via
// a bcrypt hash computed once at wrap time. When no admin credential is
// configured the endpoints are unavailable (503), never open.
func AdminAuth(cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	var pwHash []byte
	if cfg.AdminUser != "" && cfg.AdminPassword != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
		if err == nil {
			pwHash = h
		}
	}

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if pwHash == nil {
				ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
				ctx.SetBodyString("admin credential not configured")
				return
			}

			user, pass, ok := basicAuth(ctx)
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(cfg.AdminUser)) != 1 ||
				bcrypt.CompareHashAndPassword(pwHash, []byte(pass)) != nil {
				ctx.Response.Header.Set("WWW-Authenticate", `Basic realm="pulsetrack"`)
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("unauthorized")
				return
			}

			next(ctx)
		}
	}
}

func basicAuth(ctx *fasthttp.RequestCtx) (user, pass string, ok bool) {
	auth := ctx.Request.Header.Peek("Authorization")
	const prefix = "Basic "
	if !bytes.HasPrefix(auth, []byte(prefix)) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(string(auth[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	i := bytes.IndexByte(decoded, ':')
	if i < 0 {
		return "", "", false
	}
	return string(decoded[:i]), string(decoded[i+1:]), true
}
