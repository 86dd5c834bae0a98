package events

import (
	"errors"
	"testing"
)

func TestFireOrderAndRemove(t *testing.T) {
	var l List[int]
	var got []int
	a := l.Add(func(v int) { got = append(got, v) })
	l.Add(func(v int) { got = append(got, v*10) })

	l.Fire(1, nil)
	if len(got) != 2 || got[0] != 1 || got[1] != 10 {
		t.Fatalf("unexpected calls: %v", got)
	}

	a.Remove()
	a.Remove()
	if l.Len() != 1 {
		t.Fatalf("expected 1 handler, got %d", l.Len())
	}
	got = nil
	l.Fire(2, nil)
	if len(got) != 1 || got[0] != 20 {
		t.Fatalf("unexpected calls after remove: %v", got)
	}
}

func TestPanicIsolation(t *testing.T) {
	var l List[string]
	boom := errors.New("boom")
	l.Add(func(string) { panic(boom) })
	reached := false
	l.Add(func(string) { reached = true })

	var faults []error
	l.Fire("x", func(err error) { faults = append(faults, err) })
	if !reached {
		t.Fatal("second handler was not called")
	}
	if len(faults) != 1 {
		t.Fatalf("expected one fault, got %d", len(faults))
	}
	var pe *PanicError
	if !errors.As(faults[0], &pe) || !errors.Is(faults[0], boom) {
		t.Fatalf("fault does not wrap the panic: %v", faults[0])
	}
}

func TestPanickingFaultHandlerIsSwallowed(t *testing.T) {
	var l List[int]
	l.Add(func(int) { panic("a") })
	l.Fire(0, func(error) { panic("b") })
}

func TestRemoveDuringFire(t *testing.T) {
	var l List[int]
	calls := 0
	var sub *Subscription
	sub = l.Add(func(int) {
		calls++
		sub.Remove()
	})
	l.Fire(0, nil)
	l.Fire(0, nil)
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
}
