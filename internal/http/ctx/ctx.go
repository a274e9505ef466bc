package ctx

import (
	"github.com/valyala/fasthttp"

	dbpkg "pulsetrack/internal/db"
)

const (
	APIKeyKey   = "apiKey"
	ClientIDKey = "clientID"
)

// SetAPIKey records the verified credential on the request.
func SetAPIKey(ctx *fasthttp.RequestCtx, key *dbpkg.APIKey) {
	ctx.SetUserValue(APIKeyKey, key)
	ctx.SetUserValue(ClientIDKey, key.ClientID)
}

func APIKeyFromCtx(ctx *fasthttp.RequestCtx) (*dbpkg.APIKey, bool) {
	v := ctx.UserValue(APIKeyKey)
	if v == nil {
		return nil, false
	}
	k, ok := v.(*dbpkg.APIKey)
	return k, ok
}

// ClientIDFromCtx returns the verified client label, if any. Empty when
// the request passed through a disabled gate.
func ClientIDFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(ClientIDKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
