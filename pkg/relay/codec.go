package relay

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	v, ok := ParseType(string(b))
	if !ok {
		return fmt.Errorf("unknown relay type %q", b)
	}
	*t = v
	return nil
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s FateStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *FateStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "preparation":
		*s = FatePreparation
	case "running":
		*s = FateRunning
	case "complete":
		*s = FateComplete
	case "failed":
		*s = FateFailed
	case "unknown", "":
		*s = FateUnknown
	default:
		return fmt.Errorf("unknown fate status %q", b)
	}
	return nil
}

// Envelope carries one relay of any type on the wire.
type Envelope struct {
	Type Type       `json:"type"`
	Hunt *HuntRelay `json:"hunt,omitempty"`
	Fate *FateRelay `json:"fate,omitempty"`
}

// Wrap puts r into an Envelope.
func Wrap(r Relay) (Envelope, error) {
	switch v := r.(type) {
	case *HuntRelay:
		return Envelope{Type: TypeHunt, Hunt: v}, nil
	case *FateRelay:
		return Envelope{Type: TypeFate, Fate: v}, nil
	}
	return Envelope{}, fmt.Errorf("unsupported relay %T", r)
}

// Unwrap returns the relay carried by e.
func (e Envelope) Unwrap() (Relay, error) {
	switch e.Type {
	case TypeHunt:
		if e.Hunt != nil {
			return e.Hunt, nil
		}
	case TypeFate:
		if e.Fate != nil {
			return e.Fate, nil
		}
	}
	return nil, fmt.Errorf("envelope of type %s has no payload", e.Type)
}

// WrapAll wraps every relay, skipping unsupported ones.
func WrapAll(rs []Relay) []Envelope {
	out := make([]Envelope, 0, len(rs))
	for _, r := range rs {
		if e, err := Wrap(r); err == nil {
			out = append(out, e)
		}
	}
	return out
}

// Batch is the body of a relay upload. SeenAt, when set, stamps every
// relay in the batch instead of the receiver's clock.
type Batch struct {
	Relays []Envelope `json:"relays"`
	SeenAt time.Time  `json:"seen_at,omitzero"`
}

// CBOR encodes wire types with nanosecond RFC 3339 timestamps.
var CBOR = mustEncMode(cbor.EncOptions{Time: cbor.TimeRFC3339Nano})

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	m, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return m
}
