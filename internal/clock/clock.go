// Package clock provides the one-shot timer scheduling seam used by the
// stage pipelines and the sandbox manager. Production code uses the real
// scheduler; tests substitute the virtual one and advance it manually.
package clock

import (
	"sort"
	"sync"
	"time"
)

// CancelFunc cancels a scheduled callback. Safe to call multiple times;
// cancelling an already-fired callback is a no-op.
type CancelFunc func()

// Scheduler schedules a callback to run once after a delay.
type Scheduler interface {
	After(d time.Duration, fn func()) CancelFunc
}

// Real schedules callbacks with time.AfterFunc.
type Real struct{}

// NewReal returns the wall-clock scheduler.
func NewReal() *Real { return &Real{} }

func (*Real) After(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Virtual is a manually advanced scheduler for deterministic tests.
// Callbacks run synchronously inside Advance, in deadline order; ties fire
// in scheduling order.
type Virtual struct {
	mu     sync.Mutex
	now    time.Duration
	nextID int
	timers []*virtualTimer
}

type virtualTimer struct {
	id       int
	deadline time.Duration
	fn       func()
}

// NewVirtual returns a virtual scheduler starting at time zero.
func NewVirtual() *Virtual {
	return &Virtual{}
}

func (v *Virtual) After(d time.Duration, fn func()) CancelFunc {
	v.mu.Lock()
	defer v.mu.Unlock()

	t := &virtualTimer{
		id:       v.nextID,
		deadline: v.now + d,
		fn:       fn,
	}
	v.nextID++
	v.timers = append(v.timers, t)

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		for i, other := range v.timers {
			if other.id == t.id {
				v.timers = append(v.timers[:i], v.timers[i+1:]...)
				return
			}
		}
	}
}

// Advance moves virtual time forward by d, firing every callback whose
// deadline falls inside the window. Callbacks scheduled while advancing
// also fire if they land inside the same window.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now + d
	for {
		t := v.popDueLocked(target)
		if t == nil {
			break
		}
		v.now = t.deadline
		v.mu.Unlock()
		t.fn()
		v.mu.Lock()
	}
	v.now = target
	v.mu.Unlock()
}

// popDueLocked removes and returns the earliest timer due at or before
// target, or nil if none is due. Caller holds v.mu.
func (v *Virtual) popDueLocked(target time.Duration) *virtualTimer {
	if len(v.timers) == 0 {
		return nil
	}
	sort.SliceStable(v.timers, func(i, j int) bool {
		if v.timers[i].deadline != v.timers[j].deadline {
			return v.timers[i].deadline < v.timers[j].deadline
		}
		return v.timers[i].id < v.timers[j].id
	})
	if v.timers[0].deadline > target {
		return nil
	}
	t := v.timers[0]
	v.timers = v.timers[1:]
	return t
}

// Pending returns the number of scheduled, unfired callbacks.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}

// Now returns the current virtual time offset.
func (v *Virtual) Now() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

var (
	_ Scheduler = (*Real)(nil)
	_ Scheduler = (*Virtual)(nil)
)
