package process

import (
	"testing"
	"time"
)

type fakeHandle struct {
	last  time.Time
	quits int
}

func (f *fakeHandle) LastActivity() time.Time { return f.last }
func (f *fakeHandle) QuitProcess()            { f.quits++ }

func TestSweepEvictsOnlyIdleHandles(t *testing.T) {
	m := NewManager()
	idle := &fakeHandle{last: time.Now().Add(-time.Hour)}
	busy := &fakeHandle{last: time.Now()}
	m.Add(idle)
	m.Add(busy)

	if n := m.Sweep(10 * time.Minute); n != 1 {
		t.Fatalf("evicted %d handles, want 1", n)
	}
	if idle.quits != 1 {
		t.Fatalf("idle handle quit %d times, want 1", idle.quits)
	}
	if busy.quits != 0 {
		t.Fatalf("busy handle was quit")
	}
}

func TestSweepKeepsEvictedHandlesRegistered(t *testing.T) {
	m := NewManager()
	h := &fakeHandle{last: time.Now().Add(-time.Hour)}
	m.Add(h)

	m.Sweep(time.Minute)
	m.Sweep(time.Minute)
	if h.quits != 2 {
		t.Fatalf("handle quit %d times across two sweeps, want 2", h.quits)
	}
}

func TestSweepIgnoresRemovedHandles(t *testing.T) {
	m := NewManager()
	h := &fakeHandle{last: time.Now().Add(-time.Hour)}
	m.Add(h)
	m.Remove(h)

	if n := m.Sweep(time.Minute); n != 0 {
		t.Fatalf("evicted %d handles after removal, want 0", n)
	}
	if h.quits != 0 {
		t.Fatalf("removed handle was quit")
	}
}
