// Package shutdown handles signals and the ordered teardown of relayd.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/valyala/fasthttp"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/ingest"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/telemetry"
)

// Stopper is anything with a blocking, idempotent Stop or Close.
type Stopper interface{ Stop() }

// StopFunc adapts a plain function to Stopper.
type StopFunc func()

func (f StopFunc) Stop() { f() }

// Components lists what ShutdownApp tears down. Nil fields are skipped.
type Components struct {
	Server *fasthttp.Server
	// Background cancels the tick, view, peer and expiry loops.
	Background context.CancelFunc
	Intake     *ingest.Intake
	Engine     *ingest.Engine
	// Extra is stopped last, in order, before tracing closes.
	Extra []Stopper
}

// ShutdownApp stops the components in dependency order: the listener
// first so no new relays arrive, then the intake so queued relays reach
// the engine, then a final tick to flush contributions.
func ShutdownApp(ctx context.Context, c Components) error {
	logger.Info("shutdown_requested")

	if c.Server != nil {
		logger.Info("shutdown_step", "step", "http_server")
		if err := c.Server.Shutdown(); err != nil {
			logger.Error("shutdown_http_failed", "error", err)
		}
	}

	if c.Intake != nil {
		logger.Info("shutdown_step", "step", "intake_drain", "queued", c.Intake.Len())
		c.Intake.Close()
	}

	if c.Background != nil {
		logger.Info("shutdown_step", "step", "background_loops")
		c.Background()
	}

	if c.Engine != nil {
		logger.Info("shutdown_step", "step", "contribution_flush", "pending", c.Engine.Pending())
		if _, err := c.Engine.Tick(ctx); err != nil {
			logger.Warn("shutdown_flush_failed", "error", err)
		}
	}

	for _, s := range c.Extra {
		if s != nil {
			s.Stop()
		}
	}

	logger.Info("shutdown_step", "step", "telemetry")
	telemetry.CloseTracing()

	logger.Info("shutdown_complete")
	return nil
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
// SIGPIPE dumps goroutine stacks before cancelling.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String(), "msg", "shutdown requested")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()

	sigpipe := make(chan os.Signal, 1)
	signal.Notify(sigpipe, syscall.SIGPIPE)
	go func() {
		select {
		case s := <-sigpipe:
			logger.Info("signal_received", "signal", s.String(), "msg", "SIGPIPE - dumping goroutine stacks")
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			logger.Info("goroutine_stack_dump", "dump", string(buf[:n]))
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigpipe)
	}()

	return ctx, cancel
}

// Abort logs the failure, prints it to stderr and exits with status 1.
func Abort(msg string, err error) {
	logger.Error("fatal", "context", msg, "error", err)
	logger.Sync()
	fmt.Fprintf(os.Stderr, "relayd: %s: %v\n", msg, err)
	os.Exit(1)
}
