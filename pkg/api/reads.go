package api

import (
	"errors"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/router"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/store"
)

// ListStates returns stored states, optionally narrowed to one index key.
func (a *API) ListStates(ctx *fasthttp.RequestCtx) {
	tr, ok := a.routes(ctx)
	if !ok {
		return
	}
	limit, ok := parseLimit(ctx)
	if !ok {
		return
	}
	index := string(ctx.QueryArgs().Peek("index"))
	states, err := tr.states(index, limit)
	if errors.Is(err, store.ErrIndexingDisabled) {
		router.WriteJSONError(ctx, fasthttp.StatusConflict, "indexing is disabled")
		return
	}
	if err != nil {
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, "failed to list states")
		return
	}
	_ = router.Write(ctx, fasthttp.StatusOK, map[string]any{
		"total":  tr.count(),
		"states": states,
	})
}

// GetState returns one state by relay key.
func (a *API) GetState(ctx *fasthttp.RequestCtx) {
	t, ok := relay.ParseType(router.Param(ctx, "type"))
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "unknown relay type")
		return
	}
	snap, ok := a.deps.Engine.StateInfo(t, router.Param(ctx, "key"))
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "state not found")
		return
	}
	_ = router.Write(ctx, fasthttp.StatusOK, snap)
}

// GetView returns the current members of the type's default view.
func (a *API) GetView(ctx *fasthttp.RequestCtx) {
	tr, ok := a.routes(ctx)
	if !ok {
		return
	}
	states := tr.view()
	if states == nil {
		states = []any{}
	}
	_ = router.Write(ctx, fasthttp.StatusOK, map[string]any{
		"count":  len(states),
		"states": states,
	})
}

func parseLimit(ctx *fasthttp.RequestCtx) (int, bool) {
	raw := ctx.QueryArgs().Peek("limit")
	if len(raw) == 0 {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n <= 0 {
		router.WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return min(n, maxListLimit), true
}
