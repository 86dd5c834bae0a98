package router

import (
	"encoding/json"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/valyala/fasthttp"
)

var cborEnc, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// WriteJSON writes a JSON response with the provided status code. A zero
// status leaves the default 200.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, data any) error {
	ctx.Response.Header.Set("Content-Type", ContentTypeJSON)
	if status != 0 {
		ctx.SetStatusCode(status)
	}
	return json.NewEncoder(ctx).Encode(data)
}

// WriteJSONError writes a JSON error response.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", ContentTypeJSON)
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": message})
}

// WriteCBOR writes a CBOR response.
func WriteCBOR(ctx *fasthttp.RequestCtx, status int, data any) error {
	b, err := cborEnc.Marshal(data)
	if err != nil {
		return err
	}
	ctx.Response.Header.Set("Content-Type", ContentTypeCBOR)
	if status != 0 {
		ctx.SetStatusCode(status)
	}
	ctx.SetBody(b)
	return nil
}

// Write picks CBOR when the client accepts it and JSON otherwise.
func Write(ctx *fasthttp.RequestCtx, status int, data any) error {
	if WantsCBOR(ctx) {
		return WriteCBOR(ctx, status, data)
	}
	return WriteJSON(ctx, status, data)
}

// WantsCBOR reports whether the Accept header asks for CBOR.
func WantsCBOR(ctx *fasthttp.RequestCtx) bool {
	return strings.Contains(string(ctx.Request.Header.Peek("Accept")), ContentTypeCBOR)
}

// IsCBOR reports whether the request body is CBOR.
func IsCBOR(ctx *fasthttp.RequestCtx) bool {
	return strings.HasPrefix(string(ctx.Request.Header.ContentType()), ContentTypeCBOR)
}
