package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Step is one marked section of a trace.
type Step struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration_ms"`
}

// Trace times one run of a periodic job (an ingest tick, a view scan, an
// expiry sweep) and is written as one JSON line to <dir>/<name>.jsonl.
type Trace struct {
	Name     string            `json:"name"`
	Start    time.Time         `json:"start"`
	Steps    []Step            `json:"steps"`
	TotalMS  float64           `json:"total_ms"`
	Fields   map[string]uint64 `json:"fields,omitempty"`
	lastMark time.Time
	tel      *Tracer
}

// Tracer writes finished traces in the background, one file per trace
// name.
type Tracer struct {
	dir              string
	mu               sync.Mutex
	files            map[string]*os.File
	buffers          map[string]*bufio.Writer
	traces           chan *Trace
	stopCh           chan struct{}
	stopOnce         sync.Once
	wg               sync.WaitGroup
	flushInt         time.Duration
	maxFileSizeBytes int64
	bufferSize       int
	dropped          atomic.Uint64
}

var tracer atomic.Pointer[Tracer]

// InitTracing starts the global tracer.
func InitTracing(dir string, bufferSize, queueCapacity int, flushInterval time.Duration, maxFileSize int64) error {
	t, err := NewTracer(dir, bufferSize, queueCapacity, flushInterval, maxFileSize)
	if err != nil {
		return err
	}
	if old := tracer.Swap(t); old != nil {
		old.Close()
	}
	return nil
}

// Track starts a trace on the global tracer. Without one the trace is
// inert.
func Track(name string) *Trace {
	return tracer.Load().Track(name)
}

// CloseTracing stops the global tracer.
func CloseTracing() {
	if t := tracer.Swap(nil); t != nil {
		t.Close()
	}
}

// NewTracer creates a tracer with its background writer running.
func NewTracer(dir string, bufferSize, queueCapacity int, flushInterval time.Duration, maxFileSize int64) (*Tracer, error) {
	if bufferSize <= 0 || queueCapacity <= 0 || flushInterval <= 0 {
		panic("telemetry.NewTracer: sizes and interval must be > 0; ensure config.ValidateConfig() applied defaults")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry dir: %w", err)
	}
	t := &Tracer{
		dir:              dir,
		files:            make(map[string]*os.File),
		buffers:          make(map[string]*bufio.Writer),
		traces:           make(chan *Trace, queueCapacity),
		stopCh:           make(chan struct{}),
		flushInt:         flushInterval,
		maxFileSizeBytes: maxFileSize,
		bufferSize:       bufferSize,
	}
	t.wg.Add(1)
	go t.writerLoop()
	return t, nil
}

// Track starts a new trace linked to t. A nil tracer gives an inert trace.
func (t *Tracer) Track(name string) *Trace {
	now := time.Now()
	return &Trace{Name: name, Start: now, lastMark: now, tel: t}
}

// Dropped returns the number of traces discarded because the queue was
// full.
func (t *Tracer) Dropped() uint64 { return t.dropped.Load() }

// Mark records the elapsed duration since the last mark.
func (tr *Trace) Mark(label string) {
	if tr.tel == nil {
		return
	}
	now := time.Now()
	tr.Steps = append(tr.Steps, Step{Name: label, Duration: now.Sub(tr.lastMark).Seconds() * 1000})
	tr.lastMark = now
}

// Set attaches a counter to the trace.
func (tr *Trace) Set(key string, v uint64) {
	if tr.tel == nil {
		return
	}
	if tr.Fields == nil {
		tr.Fields = make(map[string]uint64)
	}
	tr.Fields[key] = v
}

// Finish completes the trace and hands it to the writer. Safe to call
// more than once.
func (tr *Trace) Finish() {
	t := tr.tel
	if t == nil {
		return
	}
	tr.tel = nil
	tr.TotalMS = time.Since(tr.Start).Seconds() * 1000

	var sum float64
	for _, s := range tr.Steps {
		sum += s.Duration
	}
	if remaining := tr.TotalMS - sum; remaining > 0.001 {
		tr.Steps = append(tr.Steps, Step{Name: "unmarked", Duration: remaining})
	}

	select {
	case t.traces <- tr:
	default:
		t.dropped.Add(1)
	}
}

func (t *Tracer) writerLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.flushInt)
	defer ticker.Stop()

	for {
		select {
		case tr := <-t.traces:
			t.write(tr)

		case <-ticker.C:
			t.mu.Lock()
			for name, b := range t.buffers {
				b.Flush()
				f := t.files[name]
				if fi, err := f.Stat(); err == nil && t.maxFileSizeBytes > 0 && fi.Size() > t.maxFileSizeBytes {
					// start over when the file outgrew its budget
					f.Close()
					newF, err := os.OpenFile(f.Name(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
					if err != nil {
						delete(t.files, name)
						delete(t.buffers, name)
						continue
					}
					t.files[name] = newF
					t.buffers[name] = bufio.NewWriterSize(newF, t.bufferSize)
				}
			}
			t.mu.Unlock()

		case <-t.stopCh:
			for {
				select {
				case tr := <-t.traces:
					t.write(tr)
					continue
				default:
				}
				break
			}
			t.mu.Lock()
			for _, b := range t.buffers {
				b.Flush()
			}
			for _, f := range t.files {
				f.Sync()
				f.Close()
			}
			t.mu.Unlock()
			return
		}
	}
}

func (t *Tracer) write(tr *Trace) {
	data, err := json.Marshal(tr)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.bufferFor(tr.Name)
	if b == nil {
		return
	}
	b.Write(data)
	b.WriteByte('\n')
}

func (t *Tracer) bufferFor(name string) *bufio.Writer {
	if b, ok := t.buffers[name]; ok {
		return b
	}
	path := filepath.Join(t.dir, name+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry: failed to open %s: %v\n", path, err)
		return nil
	}
	b := bufio.NewWriterSize(f, t.bufferSize)
	t.files[name] = f
	t.buffers[name] = b
	return b
}

// Close stops the background writer and flushes everything queued.
func (t *Tracer) Close() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.wg.Wait()
	})
}
