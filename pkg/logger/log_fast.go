package logger

import (
	"strings"

	"github.com/valyala/fasthttp"
)

var redactedHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"x-relay-token": true,
}

func redactHeaderValue(key, v string) string {
	if redactedHeaders[strings.ToLower(key)] {
		return "<redacted>"
	}
	return v
}

// SafeHeadersFast builds a redacted header string for fasthttp requests.
func SafeHeadersFast(ctx *fasthttp.RequestCtx) string {
	parts := make([]string, 0)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		key := string(k)
		parts = append(parts, key+"="+redactHeaderValue(key, string(v)))
	})
	return strings.Join(parts, "; ")
}

// LogRequestFast logs a concise, safe summary of an incoming request at
// debug level.
func LogRequestFast(ctx *fasthttp.RequestCtx) {
	if Log == nil {
		return
	}
	Debug("incoming_request", "method", string(ctx.Method()), "path", string(ctx.Path()), "remote", ctx.RemoteAddr().String(), "headers", SafeHeadersFast(ctx))
}
