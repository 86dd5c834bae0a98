package api

import (
	"time"

	"github.com/valyala/fasthttp"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/router"
)

type typeHealth struct {
	States int `json:"states"`
	View   int `json:"view"`
}

type intakeHealth struct {
	Queued   int    `json:"queued"`
	Capacity int    `json:"capacity"`
	Accepted uint64 `json:"accepted"`
	Dropped  uint64 `json:"dropped"`
}

// HealthResponse is the body of /admin/health.
type HealthResponse struct {
	Status       string                `json:"status"`
	Version      string                `json:"version,omitempty"`
	Uptime       string                `json:"uptime"`
	Contributing bool                  `json:"contributing"`
	Pending      int                   `json:"pending"`
	Types        map[string]typeHealth `json:"types"`
	Intake       intakeHealth          `json:"intake"`
}

// Health reports liveness together with store and queue sizes.
func (a *API) Health(ctx *fasthttp.RequestCtx) {
	in := a.deps.Intake
	res := HealthResponse{
		Status:       "ok",
		Version:      a.deps.Version,
		Uptime:       a.deps.Now().Sub(a.started).Truncate(time.Second).String(),
		Contributing: a.deps.Engine.Contributing(),
		Pending:      a.deps.Engine.Pending(),
		Types:        make(map[string]typeHealth, len(a.types)),
		Intake: intakeHealth{
			Queued:   in.Len(),
			Capacity: in.Cap(),
			Accepted: in.Accepted(),
			Dropped:  in.Dropped(),
		},
	}
	for t, tr := range a.types {
		res.Types[t.String()] = typeHealth{States: tr.count(), View: tr.viewLen()}
	}
	_ = router.WriteJSON(ctx, fasthttp.StatusOK, res)
}

// DebugConsistency lists index inconsistencies; an empty list means healthy.
func (a *API) DebugConsistency(ctx *fasthttp.RequestCtx) {
	tr, ok := a.routes(ctx)
	if !ok {
		return
	}
	issues := tr.consistency()
	if issues == nil {
		issues = []string{}
	}
	_ = router.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{
		"consistent": len(issues) == 0,
		"issues":     issues,
	})
}

func (a *API) DebugRebuild(ctx *fasthttp.RequestCtx) {
	tr, ok := a.routes(ctx)
	if !ok {
		return
	}
	tr.rebuild()
	logger.Info("index_rebuilt", "type", typeName(router.Param(ctx, "type")))
	_ = router.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"rebuilt": true})
}

func (a *API) DebugCleanup(ctx *fasthttp.RequestCtx) {
	tr, ok := a.routes(ctx)
	if !ok {
		return
	}
	n := tr.cleanup()
	logger.Info("index_cleaned", "type", typeName(router.Param(ctx, "type")), "removed", n)
	_ = router.WriteJSON(ctx, fasthttp.StatusOK, map[string]any{"removed": n})
}

// typeName normalizes a {type} parameter for logs.
func typeName(raw string) string {
	if t, ok := relay.ParseType(raw); ok {
		return t.String()
	}
	return raw
}
