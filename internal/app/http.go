package app

import (
	"time"

	"github.com/valyala/fasthttp"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/router"
)

// readyzHandlerFast answers once the app has entered Run.
func (a *App) readyzHandlerFast(ctx *fasthttp.RequestCtx) {
	if a.State() != "running" {
		router.WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, "not ready")
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	_ = router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok", "version": ver})
}

func (a *App) healthzHandlerFast(ctx *fasthttp.RequestCtx) {
	_ = router.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

// handler builds the full route table.
func (a *App) handler() fasthttp.RequestHandler {
	r := router.New()
	r.GET("/healthz", a.healthzHandlerFast)
	r.GET("/readyz", a.readyzHandlerFast)
	a.api.RegisterRoutes(r)
	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		router.WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
	})
	return r.Handler
}

// startHTTP builds and starts the fasthttp server, returning a channel that delivers errors.
func (a *App) startHTTP() <-chan error {
	const (
		readBufferSize       = 64 * 1024 // 64 KiB read buffer per connection
		idleTimeout          = 30 * time.Second
		maxKeepaliveDuration = 2 * time.Minute
	)
	srv := a.cfg.Server
	a.srvFast = &fasthttp.Server{
		Name:                 "relayd",
		Handler:              a.handler(),
		ReadBufferSize:       readBufferSize,
		MaxRequestBodySize:   int(srv.MaxBodySize.Int64()),
		ReadTimeout:          srv.ReadTimeout.Duration(),
		WriteTimeout:         srv.WriteTimeout.Duration(),
		IdleTimeout:          idleTimeout,
		MaxKeepaliveDuration: maxKeepaliveDuration,
		ReduceMemoryUsage:    true,
	}

	errCh := make(chan error, 1)
	addr := a.cfg.Addr()
	go func() {
		if srv.TLS.CertFile != "" {
			errCh <- a.srvFast.ListenAndServeTLS(addr, srv.TLS.CertFile, srv.TLS.KeyFile)
			return
		}
		errCh <- a.srvFast.ListenAndServe(addr)
	}()
	return errCh
}
