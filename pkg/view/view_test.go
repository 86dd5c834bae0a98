package view

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/store"
)

var now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type hunts = store.RelayStore[*relay.HuntRelay]

func fill(t *testing.T, n int, world uint32) *hunts {
	t.Helper()
	s := store.New[*relay.HuntRelay](store.Options{Indexing: true})
	for i := 1; i <= n; i++ {
		h := &relay.HuntRelay{
			Base:      relay.Base{ID: uint32(i), Location: relay.Location{WorldID: world, ZoneID: 1}},
			CurrentHP: 1,
			MaxHP:     1,
		}
		require.True(t, s.TryAddState(relay.NewState(h, now)))
	}
	return s
}

func TestQuota(t *testing.T) {
	cases := []struct {
		total int
		rate  ScanRate
		accel Acceleration
		level int
		want  int
	}{
		{0, RateNormal, AccelNone, 0, 0},
		{100, RateDisabled, AccelExponential, 5, 0},
		{100, RateNormal, AccelNone, 3, 10},
		{100, RateSlow, AccelNone, 0, 5},
		{100, RateFast, AccelNone, 0, 20},
		{100, RateNormal, AccelLinear, 2, 30},
		{100, RateNormal, AccelTriangular, 2, 60},
		{100, RateNormal, AccelExponential, 3, 80},
		{100, RateNormal, AccelExponential, 4, 100},
		{1, RateSlow, AccelNone, 0, 1},
		{2, RateSlow, AccelNone, 0, 1},
	}
	for _, tc := range cases {
		got := Quota(tc.total, tc.rate, tc.accel, tc.level)
		if got != tc.want {
			t.Errorf("Quota(%d, %s, %s, %d) = %d, want %d", tc.total, tc.rate, tc.accel, tc.level, got, tc.want)
		}
	}
}

func TestParsePace(t *testing.T) {
	r, err := ParseScanRate("Fast")
	require.NoError(t, err)
	assert.Equal(t, RateFast, r)
	a, err := ParseAcceleration("triangular")
	require.NoError(t, err)
	assert.Equal(t, AccelTriangular, a)
	_, err = ParseScanRate("warp")
	assert.Error(t, err)
}

func TestScanCatchesUp(t *testing.T) {
	s := fill(t, 500, 40)
	v := New[*relay.HuntRelay](s, nil, Options[*relay.HuntRelay]{
		IndexKey:     "hunt_world_40",
		Rate:         RateNormal,
		Acceleration: AccelExponential,
	})
	defer v.Close()

	for i := 0; i < 20 && v.Len() < 500; i++ {
		_, err := v.Tick()
		require.NoError(t, err)
	}
	assert.Equal(t, 500, v.Len())
}

func TestStalenessBound(t *testing.T) {
	const n = 4096
	s := fill(t, n, 40)
	var rejectOdd atomic.Bool
	v := New[*relay.HuntRelay](s, nil, Options[*relay.HuntRelay]{
		Rate:         RateNormal,
		Acceleration: AccelExponential,
		Predicate: func(st *relay.State[*relay.HuntRelay]) bool {
			return !rejectOdd.Load() || st.Relay().ID%2 == 0
		},
	})
	defer v.Close()

	for i := 0; i < 64 && v.Len() < n; i++ {
		v.Tick()
	}
	require.Equal(t, n, v.Len())

	// settle: a quiet tick drops the level back to zero
	for {
		st, _ := v.Tick()
		if st.Level == 0 {
			break
		}
	}

	rejectOdd.Store(true)
	bound := 2 * int(math.Ceil(math.Log2(n)))
	for range bound {
		v.Tick()
	}
	for _, snap := range v.Snapshot() {
		require.Zero(t, snap.Relay.ID%2, "stale member %d still present after %d ticks", snap.Relay.ID, bound)
	}
	assert.Equal(t, n/2, v.Len())
}

func TestEventsApplyImmediately(t *testing.T) {
	s := store.New[*relay.HuntRelay](store.Options{Indexing: true})
	v := New[*relay.HuntRelay](s, nil, Options[*relay.HuntRelay]{
		IndexKey: "hunt_world_40",
		Rate:     RateNormal,
	})
	defer v.Close()

	in := relay.NewState(&relay.HuntRelay{Base: relay.Base{ID: 1, Location: relay.Location{WorldID: 40, ZoneID: 1}}}, now)
	out := relay.NewState(&relay.HuntRelay{Base: relay.Base{ID: 2, Location: relay.Location{WorldID: 41, ZoneID: 1}}}, now)
	s.TryAddState(in)
	s.TryAddState(out)
	assert.True(t, v.Contains(in))
	assert.False(t, v.Contains(out), "other bucket")

	s.RemoveState(in)
	assert.Equal(t, 0, v.Len())

	s.TryAddState(relay.NewState(&relay.HuntRelay{Base: relay.Base{ID: 3, Location: relay.Location{WorldID: 40, ZoneID: 1}}}, now))
	require.Equal(t, 1, v.Len())
	s.Clear()
	assert.Equal(t, 0, v.Len())
}

func TestLimit(t *testing.T) {
	s := fill(t, 100, 40)
	v := New[*relay.HuntRelay](s, nil, Options[*relay.HuntRelay]{
		Rate:         RateFast,
		Acceleration: AccelExponential,
		Limit:        10,
	})
	defer v.Close()
	for range 10 {
		v.Tick()
	}
	assert.Equal(t, 10, v.Len())
}

func TestPredicatePanicRejects(t *testing.T) {
	s := fill(t, 10, 40)
	v := New[*relay.HuntRelay](s, nil, Options[*relay.HuntRelay]{
		Rate:      RateFast,
		Predicate: func(*relay.State[*relay.HuntRelay]) bool { panic("broken predicate") },
	})
	defer v.Close()
	for range 5 {
		_, err := v.Tick()
		require.NoError(t, err)
	}
	assert.Equal(t, 0, v.Len())
}

func TestDisabledRateDoesNoWork(t *testing.T) {
	s := fill(t, 10, 40)
	v := New[*relay.HuntRelay](s, nil, Options[*relay.HuntRelay]{Rate: RateDisabled})
	st, err := v.Tick()
	require.NoError(t, err)
	assert.Zero(t, st.Quota)
	assert.Zero(t, v.Len())

	v.Close()
	_, err = v.Tick()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWithoutIndexing(t *testing.T) {
	s := store.New[*relay.HuntRelay](store.Options{})
	for i := 1; i <= 20; i++ {
		world := uint32(40 + i%2)
		s.TryAddState(relay.NewState(&relay.HuntRelay{Base: relay.Base{ID: uint32(i), Location: relay.Location{WorldID: world, ZoneID: 1}}}, now))
	}
	v := New[*relay.HuntRelay](s, nil, Options[*relay.HuntRelay]{
		IndexKey:     "hunt_world_40",
		Rate:         RateFast,
		Acceleration: AccelExponential,
	})
	defer v.Close()
	for range 10 {
		v.Tick()
	}
	assert.Equal(t, 10, v.Len())
}

func TestPredicateChurnKeepsQueueBounded(t *testing.T) {
	for _, rate := range []ScanRate{RateDisabled, RateNormal} {
		s := fill(t, 1, 40)
		var pass atomic.Bool
		v := New[*relay.HuntRelay](s, nil, Options[*relay.HuntRelay]{
			Rate:      rate,
			Predicate: func(*relay.State[*relay.HuntRelay]) bool { return pass.Load() },
		})
		var st *relay.State[*relay.HuntRelay]
		for cur := range s.States() {
			st = cur
		}
		require.NotNil(t, st)
		for i := range 100_000 {
			pass.Store(i%2 == 0)
			v.observe(st)
			if i%1000 == 999 {
				_, err := v.Tick()
				require.NoError(t, err)
			}
			require.LessOrEqual(t, len(v.fifo), 2*len(v.members)+compactSlack+1, "rate %s", rate)
		}
		v.Close()
	}
}
