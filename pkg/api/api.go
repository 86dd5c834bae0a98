// Package api serves the relayd HTTP surface: relay uploads, state and
// view reads, admin diagnostics and prometheus metrics.
package api

import (
	"crypto/subtle"
	"iter"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/ingest"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/router"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/store"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/telemetry"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/view"
)

const (
	defaultListLimit = 500
	maxListLimit     = 5000
)

type Deps struct {
	Engine   *ingest.Engine
	Intake   *ingest.Intake
	HuntView *view.View[*relay.HuntRelay]
	FateView *view.View[*relay.FateRelay]
	Metrics  *telemetry.Metrics
	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
	Version  string
	Now      func() time.Time
}

type Options struct {
	RateRPS   float64
	RateBurst int
	// AdminToken, when set, is required as a bearer token on /admin routes
	// (except health) and on the local feed.
	AdminToken string
	// RelayTokens, when set, restricts network uploads to these tokens.
	RelayTokens []string
	MaxBatch    int
}

// API holds the handlers and their collaborators.
type API struct {
	deps     Deps
	opts     Options
	limiters *limiterPool
	types    map[relay.Type]typeRoutes
	started  time.Time
}

// typeRoutes erases the relay type parameter for the per-type handlers.
type typeRoutes struct {
	count       func() int
	states      func(index string, limit int) ([]any, error)
	view        func() []any
	viewLen     func() int
	consistency func() []string
	rebuild     func()
	cleanup     func() int
}

func bind[T relay.Entity[T]](st *store.RelayStore[T], v *view.View[T]) typeRoutes {
	tr := typeRoutes{
		count:       st.Count,
		consistency: st.DebugConsistencyCheck,
		rebuild:     st.DebugRebuildIndex,
		cleanup:     st.DebugCleanupIndex,
		states: func(index string, limit int) ([]any, error) {
			var seq iter.Seq[*relay.State[T]]
			if index == "" {
				seq = st.States()
			} else {
				c, err := st.GetIndexStates(index)
				if err != nil {
					return nil, err
				}
				seq = c.All()
			}
			out := []any{}
			for s := range seq {
				if len(out) >= limit {
					break
				}
				out = append(out, s.Snapshot())
			}
			return out, nil
		},
		view:    func() []any { return nil },
		viewLen: func() int { return 0 },
	}
	if v != nil {
		tr.view = func() []any {
			snaps := v.Snapshot()
			out := make([]any, len(snaps))
			for i := range snaps {
				out[i] = snaps[i]
			}
			return out
		}
		tr.viewLen = v.Len
	}
	return tr
}

func New(deps Deps, opts Options) *API {
	if deps.Engine == nil || deps.Intake == nil {
		panic("api.New: engine and intake are required; ensure the app wired its collaborators")
	}
	if opts.RateRPS <= 0 || opts.RateBurst <= 0 {
		panic("api.New: rate limit must be > 0; ensure config.ValidateConfig() applied defaults")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 4096
	}
	a := &API{
		deps:     deps,
		opts:     opts,
		limiters: newLimiterPool(opts.RateRPS, opts.RateBurst, deps.Now),
		started:  deps.Now(),
		types: map[relay.Type]typeRoutes{
			relay.TypeHunt: bind(deps.Engine.Hunts.Store(), deps.HuntView),
			relay.TypeFate: bind(deps.Engine.Fates.Store(), deps.FateView),
		},
	}
	return a
}

// RegisterRoutes wires all API routes onto r.
func (a *API) RegisterRoutes(r *router.Router) {
	r.Use(a.observe)

	// relay uploads
	r.POST("/v1/relays", a.limited(a.PostRelays))
	r.POST("/v1/relays/local", a.admin(a.PostLocalRelays))

	// state reads
	r.GET("/v1/{type}/states", a.ListStates)
	r.GET("/v1/{type}/states/{key}", a.GetState)
	r.GET("/v1/{type}/view", a.GetView)

	// admin
	r.GET("/admin/health", a.Health)
	r.GET("/admin/debug/{type}/consistency", a.admin(a.DebugConsistency))
	r.POST("/admin/debug/{type}/rebuild", a.admin(a.DebugRebuild))
	r.POST("/admin/debug/{type}/cleanup", a.admin(a.DebugCleanup))

	if a.deps.Gatherer != nil {
		h := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(a.deps.Gatherer, promhttp.HandlerOpts{}))
		r.GET("/metrics", h)
	}
}

// Handler returns the fasthttp handler for the relayd API.
func (a *API) Handler() fasthttp.RequestHandler {
	r := router.New()
	a.RegisterRoutes(r)
	return r.Handler
}

// Close stops background limiter cleanup.
func (a *API) Close() { a.limiters.Shutdown() }

// observe logs each request and counts it by route pattern.
func (a *API) observe(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequestFast(ctx)
		next(ctx)
		a.deps.Metrics.Request(routeLabel(ctx), ctx.Response.StatusCode())
	}
}

// routeLabel collapses path parameters so metric cardinality stays bounded.
func routeLabel(ctx *fasthttp.RequestCtx) string {
	path := string(ctx.Path())
	if key := router.Param(ctx, "key"); key != "" {
		path = strings.TrimSuffix(path, key) + "{key}"
	}
	if t := router.Param(ctx, "type"); t != "" {
		path = strings.Replace(path, "/"+t+"/", "/{type}/", 1)
	}
	return path
}

// limited applies the per-remote rate limit.
func (a *API) limited(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		ip := clientIP(ctx)
		if !a.limiters.Allow(ip) {
			router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
			logger.Warn("rate_limited", "remote", ip, "path", string(ctx.Path()))
			return
		}
		next(ctx)
	}
}

// admin requires the admin bearer token when one is configured.
func (a *API) admin(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if a.opts.AdminToken != "" && !tokenMatches(bearer(ctx), a.opts.AdminToken) {
			router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "unauthorized")
			logger.Warn("request_unauthorized", "path", string(ctx.Path()), "remote", ctx.RemoteAddr().String())
			return
		}
		next(ctx)
	}
}

func bearer(ctx *fasthttp.RequestCtx) string {
	h := string(ctx.Request.Header.Peek("Authorization"))
	if v, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func tokenMatches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// routes resolves the {type} parameter or writes a 404.
func (a *API) routes(ctx *fasthttp.RequestCtx) (typeRoutes, bool) {
	t, ok := relay.ParseType(router.Param(ctx, "type"))
	if ok {
		if tr, ok := a.types[t]; ok {
			return tr, true
		}
	}
	router.WriteJSONError(ctx, fasthttp.StatusNotFound, "unknown relay type")
	return typeRoutes{}, false
}
