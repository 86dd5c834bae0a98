package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/config"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
)

const testCatalog = `
worlds:
  - {id: 40, name: Alpha, datacenter: 4, region: 2, audience: 1}
zones:
  - {id: 961, name: Field}
`

func newTestApp(t *testing.T) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))

	cfg := &config.Config{}
	cfg.Catalog.Path = path
	cfg.Jurisdiction.Home.WorldID = 40
	cfg.Jurisdiction.Home.ZoneID = 961
	cfg.Expiry.Enabled = true
	require.NoError(t, cfg.ValidateConfig())

	a, err := New(cfg, "test", "v0.0.0-test")
	require.NoError(t, err)
	return a
}

func serve(h fasthttp.RequestHandler, method, uri string, body []byte) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	h(ctx)
	return ctx
}

func TestNewWiresRoutes(t *testing.T) {
	a := newTestApp(t)
	h := a.handler()

	ctx := serve(h, "GET", "/healthz", nil)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	ctx = serve(h, "GET", "/readyz", nil)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())

	ctx = serve(h, "GET", "/nope", nil)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	h1 := &relay.HuntRelay{
		Base:      relay.Base{ID: 4375, Location: relay.Location{WorldID: 40, ZoneID: 961}},
		CurrentHP: 100,
		MaxHP:     100,
	}
	body, err := json.Marshal(relay.Batch{Relays: relay.WrapAll([]relay.Relay{h1})})
	require.NoError(t, err)
	ctx = serve(h, "POST", "/v1/relays/local", body)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, 1, a.engine.Hunts.Store().Count())

	ctx = serve(h, "GET", "/metrics", nil)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.True(t, strings.Contains(string(ctx.Response.Body()), `relayd_states{type="hunt"} 1`))

	removed := a.expiry.RunOnce()
	assert.Equal(t, 0, removed["hunt"])
}

func TestNewRejectsMissingCatalog(t *testing.T) {
	cfg := &config.Config{}
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "missing.yaml")
	require.NoError(t, cfg.ValidateConfig())
	_, err := New(cfg, "test", "dev")
	assert.Error(t, err)
}

func TestShutdownWithoutRun(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.Shutdown(context.Background()))
	assert.Equal(t, "stopped", a.State())
}

func TestFateShownUntilTimerRunsOut(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := relay.Base{ID: 7, Location: relay.Location{WorldID: 40, ZoneID: 961}}
	running := relay.NewState(&relay.FateRelay{Base: base, Status: relay.FateRunning, EndsAt: start.Add(time.Minute)}, start)
	open := relay.NewState(&relay.FateRelay{Base: base, Status: relay.FateRunning}, start)
	done := relay.NewState(&relay.FateRelay{Base: base, Status: relay.FateComplete}, start)

	assert.True(t, fateShown(running, start))
	assert.False(t, fateShown(running, start.Add(2*time.Minute)))
	assert.True(t, fateShown(open, start.Add(time.Hour)))
	assert.False(t, fateShown(done, start))
}
