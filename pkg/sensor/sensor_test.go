package sensor

import (
	"testing"
	"time"
)

func TestAlertAndRecovery(t *testing.T) {
	s := NewSensor(MonitorConfig{
		PollInterval:   time.Second,
		HeapHighBytes:  100,
		RecoveryWindow: time.Minute,
	}, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	heap := uint64(50)
	s.read = func() (Reading, error) { return Reading{HeapBytes: heap}, nil }

	s.Check()
	if _, h := s.Alerts(); h {
		t.Fatal("alert raised below threshold")
	}

	heap = 200
	s.Check()
	if _, h := s.Alerts(); !h {
		t.Fatal("alert not raised above threshold")
	}

	heap = 10
	now = now.Add(30 * time.Second)
	s.Check()
	if _, h := s.Alerts(); !h {
		t.Fatal("alert cleared before the recovery window")
	}

	now = now.Add(time.Minute)
	s.Check()
	if _, h := s.Alerts(); h {
		t.Fatal("alert not cleared after the recovery window")
	}
	if s.Last().HeapBytes != 10 {
		t.Fatalf("unexpected last reading: %+v", s.Last())
	}
}

func TestReadProcess(t *testing.T) {
	r, err := readProcess()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if r.HeapBytes == 0 || r.Goroutines == 0 {
		t.Fatalf("implausible reading: %+v", r)
	}
}

func TestStartStop(t *testing.T) {
	s := NewSensor(MonitorConfig{PollInterval: time.Millisecond}, nil)
	s.Start()
	time.Sleep(5 * time.Millisecond)
	s.Stop()
	s.Stop()
}
