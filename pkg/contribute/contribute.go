// Package contribute batches locally observed relays for the upstream
// network. Within one batch only the latest observation per entity is
// kept.
package contribute

import (
	"context"
	"errors"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/sharded"
)

// ErrNotConnected is returned by senders that have no upstream link.
var ErrNotConnected = errors.New("contribute: not connected")

// Sender transmits a batch upstream. Implementations own serialization
// and transport.
type Sender interface {
	Connected() bool
	SendBatch(ctx context.Context, batch []relay.Relay) error
}

// Queue holds the pending outbound batch keyed by RelayKey.
type Queue struct {
	pending *sharded.Map[string, relay.Relay]
}

func NewQueue() *Queue {
	return &Queue{pending: sharded.New[string, relay.Relay]()}
}

// Push queues r, replacing any earlier observation of the same entity.
func (q *Queue) Push(r relay.Relay) {
	q.pending.Set(r.Key(), r)
}

func (q *Queue) Len() int { return q.pending.Len() }

// Flush removes and returns everything queued so far.
func (q *Queue) Flush() []relay.Relay {
	batch := make([]relay.Relay, 0, q.pending.Len())
	q.pending.Drain(func(_ string, r relay.Relay) {
		batch = append(batch, r)
	})
	return batch
}

// Discard is a Sender that is never connected.
type Discard struct{}

func (Discard) Connected() bool                                { return false }
func (Discard) SendBatch(context.Context, []relay.Relay) error { return ErrNotConnected }
