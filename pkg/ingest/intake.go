package ingest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/telemetry"
)

var (
	ErrQueueFull   = errors.New("ingest queue full")
	ErrQueueClosed = errors.New("ingest queue closed")
)

// Item is one queued observation.
type Item struct {
	Relay  relay.Relay
	Remote bool
	// Seen is the peer's observation time; zero means when processed.
	Seen time.Time
}

// Intake decouples request handlers from the engine: Enqueue never blocks
// and a fixed pool of workers feeds the engine.
type Intake struct {
	engine   *Engine
	ch       chan Item
	capacity int
	dropped  atomic.Uint64
	accepted atomic.Uint64
	closed   atomic.Bool

	enqWg     sync.WaitGroup
	workers   sync.WaitGroup
	closeOnce sync.Once
}

// NewIntake creates a bounded intake queue in front of e.
func NewIntake(e *Engine, capacity int) *Intake {
	if capacity <= 0 {
		panic("ingest.NewIntake: capacity must be > 0; ensure config.ValidateConfig() applied defaults")
	}
	return &Intake{engine: e, ch: make(chan Item, capacity), capacity: capacity}
}

// Enqueue queues it without blocking.
func (q *Intake) Enqueue(it Item) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	q.enqWg.Add(1)
	defer q.enqWg.Done()
	// re-check: Close may have started between the load and Add
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- it:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// Start launches n workers.
func (q *Intake) Start(n int) {
	if n <= 0 {
		panic("ingest.Intake.Start: workers must be > 0; ensure config.ValidateConfig() applied defaults")
	}
	for range n {
		q.workers.Add(1)
		go q.run()
	}
}

func (q *Intake) run() {
	defer q.workers.Done()
	for it := range q.ch {
		if q.process(it) {
			q.accepted.Add(1)
		}
	}
}

func (q *Intake) process(it Item) bool {
	if !it.Remote {
		return q.engine.Feed(it.Relay)
	}
	return q.engine.FeedRemoteAt(it.Relay, it.Seen)
}

// Close stops accepting items, lets the workers drain what is queued and
// waits for them.
func (q *Intake) Close() {
	if q.closed.Swap(true) {
		return
	}
	q.enqWg.Wait()
	q.closeOnce.Do(func() { close(q.ch) })
	tr := telemetry.Track("ingest.intake_drain")
	q.workers.Wait()
	tr.Finish()
}

func (q *Intake) Len() int         { return len(q.ch) }
func (q *Intake) Cap() int         { return q.capacity }
func (q *Intake) Dropped() uint64  { return q.dropped.Load() }
func (q *Intake) Accepted() uint64 { return q.accepted.Load() }
