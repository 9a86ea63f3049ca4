package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_RunsOnce(t *testing.T) {
	d := New(10 * time.Millisecond)
	var runs atomic.Int32
	d.Schedule(func() { runs.Add(1) })

	if !d.Pending() {
		t.Error("expected pending task")
	}
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if d.Pending() {
		t.Error("expected no pending task after run")
	}
}

func TestDebouncer_LatestWins(t *testing.T) {
	d := New(20 * time.Millisecond)
	var first, second atomic.Int32

	t1 := d.Schedule(func() { first.Add(1) })
	t2 := d.Schedule(func() { second.Add(1) })
	if d.Current(t1) || !d.Current(t2) {
		t.Error("expected only the latest token to be current")
	}

	time.Sleep(60 * time.Millisecond)
	if first.Load() != 0 || second.Load() != 1 {
		t.Errorf("first=%d second=%d, want 0 and 1", first.Load(), second.Load())
	}
}

func TestDebouncer_Cancel(t *testing.T) {
	d := New(10 * time.Millisecond)
	var runs atomic.Int32
	tok := d.Schedule(func() { runs.Add(1) })
	d.Cancel()

	time.Sleep(40 * time.Millisecond)
	if runs.Load() != 0 {
		t.Error("cancelled task ran")
	}
	if d.Current(tok) {
		t.Error("cancelled token must not be current")
	}
	d.Cancel()
}

func TestDebouncer_ScheduleAfterOverridesDelay(t *testing.T) {
	d := New(time.Hour)
	ran := make(chan struct{})
	d.ScheduleAfter(time.Millisecond, func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}
