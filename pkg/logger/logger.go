package logger

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

var Log *slog.Logger

type asyncWriter struct {
	ch chan []byte
}

func (a *asyncWriter) Write(p []byte) (n int, err error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case a.ch <- cp:
	default:
		// drop if queue full to avoid blocking ingestion
	}
	return len(p), nil
}

var (
	logCh     chan []byte
	logStopCh chan struct{}
	logWG     sync.WaitGroup
)

// ParseLevel maps a level name to a slog level; unknown names give Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the global logger with an async buffered text handler.
// An empty level falls back to RELAYD_LOG_LEVEL. RELAYD_LOG_SINK may name
// a file as "file:/path/to/log"; otherwise logs go to stdout.
func Init(level string) {
	if strings.TrimSpace(level) == "" {
		level = os.Getenv("RELAYD_LOG_LEVEL")
	}
	sink := os.Getenv("RELAYD_LOG_SINK")

	logCh = make(chan []byte, 10000)
	logStopCh = make(chan struct{})
	Log = slog.New(slog.NewTextHandler(&asyncWriter{ch: logCh}, &slog.HandlerOptions{Level: ParseLevel(level)}))

	logWG.Add(1)
	go func() {
		defer logWG.Done()
		var out io.Writer = os.Stdout
		var f *os.File
		if path, ok := strings.CutPrefix(sink, "file:"); ok {
			var err error
			f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
			} else {
				out = f
			}
		}
		buf := bufio.NewWriterSize(out, 8192)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case b := <-logCh:
				buf.Write(b)
			case <-ticker.C:
				buf.Flush()
			case <-logStopCh:
				// drain what is already queued
				for {
					select {
					case b := <-logCh:
						buf.Write(b)
						continue
					default:
					}
					break
				}
				buf.Flush()
				if f != nil {
					f.Close()
				}
				return
			}
		}
	}()
}

// InitWriter points the global logger at w synchronously. Tests use it to
// capture output.
func InitWriter(w io.Writer, level string) {
	Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Sync flushes any buffered logs.
func Sync() {
	if logStopCh != nil {
		close(logStopCh)
		logWG.Wait()
		logStopCh = nil
	}
}

// Debug logs with slog-style key/value pairs.
func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

// Info logs with slog-style key/value pairs.
func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

// Warn logs with slog-style key/value pairs.
func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

// Error logs with slog-style key/value pairs.
func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}

// LogConfigSummary prints a titled, hyphenated list to stdout regardless
// of the configured level so startup settings are easy to read.
func LogConfigSummary(title string, items []string) {
	if len(items) == 0 {
		return
	}
	header := "== " + strings.ToUpper(strings.ReplaceAll(title, "_", " ")) + " "
	const width = 60
	if len(header) < width {
		header += strings.Repeat("=", width-len(header))
	}
	fmt.Fprintln(os.Stdout, header)
	for _, it := range items {
		fmt.Fprintln(os.Stdout, "- "+it)
	}
	fmt.Fprintln(os.Stdout)
}
