package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/valyala/fasthttp"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/ingest"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/router"
)

// TokenHeader carries a relay token on network uploads.
const TokenHeader = "X-Relay-Token"

// UploadResult is the response body of both upload routes.
type UploadResult struct {
	Received int `json:"received"`
	Queued   int `json:"queued,omitempty"`
	Accepted int `json:"accepted,omitempty"`
	Rejected int `json:"rejected,omitempty"`
	Invalid  int `json:"invalid"`
}

// PostRelays queues a batch observed by another client.
func (a *API) PostRelays(ctx *fasthttp.RequestCtx) {
	if len(a.opts.RelayTokens) > 0 && !a.relayTokenOK(string(ctx.Request.Header.Peek(TokenHeader))) {
		router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "unauthorized")
		logger.Warn("relay_token_rejected", "remote", clientIP(ctx))
		return
	}
	batch, ok := a.decodeBatch(ctx)
	if !ok {
		return
	}
	seen := batch.SeenAt
	if seen.After(a.deps.Now()) {
		// sender clock is ahead; zero means processing time
		seen = time.Time{}
	}

	res := UploadResult{Received: len(batch.Relays)}
	for _, env := range batch.Relays {
		r, err := env.Unwrap()
		if err != nil {
			res.Invalid++
			continue
		}
		err = a.deps.Intake.Enqueue(ingest.Item{Relay: r, Remote: true, Seen: seen})
		switch {
		case err == nil:
			res.Queued++
		case errors.Is(err, ingest.ErrQueueFull):
			logger.Warn("intake_full", "remote", clientIP(ctx), "queued", res.Queued, "received", res.Received)
			_ = router.WriteJSON(ctx, fasthttp.StatusTooManyRequests, res)
			return
		case errors.Is(err, ingest.ErrQueueClosed):
			router.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "server shutting down")
			return
		default:
			logger.Error("enqueue_failed", "error", err)
			router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, "enqueue failed")
			return
		}
	}
	_ = router.WriteJSON(ctx, fasthttp.StatusAccepted, res)
}

// PostLocalRelays feeds a batch observed by this client synchronously.
func (a *API) PostLocalRelays(ctx *fasthttp.RequestCtx) {
	batch, ok := a.decodeBatch(ctx)
	if !ok {
		return
	}
	res := UploadResult{Received: len(batch.Relays)}
	for _, env := range batch.Relays {
		r, err := env.Unwrap()
		if err != nil {
			res.Invalid++
			continue
		}
		if a.deps.Engine.Feed(r) {
			res.Accepted++
		} else {
			res.Rejected++
		}
	}
	_ = router.WriteJSON(ctx, fasthttp.StatusOK, res)
}

func (a *API) relayTokenOK(got string) bool {
	for _, t := range a.opts.RelayTokens {
		if tokenMatches(got, t) {
			return true
		}
	}
	return false
}

// decodeBatch reads a JSON or CBOR batch; on failure it writes the error
// response and returns false.
func (a *API) decodeBatch(ctx *fasthttp.RequestCtx) (relay.Batch, bool) {
	var batch relay.Batch
	body := ctx.PostBody()
	if len(body) == 0 {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "empty request payload")
		return batch, false
	}
	var err error
	if router.IsCBOR(ctx) {
		err = cbor.Unmarshal(body, &batch)
	} else {
		err = json.Unmarshal(body, &batch)
	}
	if err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid relay batch")
		logger.Debug("batch_decode_failed", "remote", clientIP(ctx), "error", err)
		return batch, false
	}
	if len(batch.Relays) > a.opts.MaxBatch {
		router.WriteJSONError(ctx, fasthttp.StatusRequestEntityTooLarge, fmt.Sprintf("batch exceeds %d relays", a.opts.MaxBatch))
		return batch, false
	}
	return batch, true
}
