package zone

import (
	"sync"
	"time"
)

// Timer is the armed countdown handle. The default implementation wraps
// time.AfterFunc; tests inject manual timers to drive expiry deterministically.
type Timer interface {
	Stop() bool
}

type NewTimerFunc func(d time.Duration, f func()) Timer

func stdTimer(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type armedTimer struct {
	timer Timer
	gen   uint64
}

// roundTimers tracks at most one armed round timer per zone id.
//
// Every armed timer carries a generation number. A firing callback must
// trade its generation in through consume before acting, which makes a fire
// racing a concurrent disarm a detectable no-op: whichever side runs first
// under the zone's exclusion wins.
type roundTimers struct {
	mu       sync.Mutex
	newTimer NewTimerFunc
	gen      uint64
	armed    map[string]*armedTimer
}

func newRoundTimers(f NewTimerFunc) *roundTimers {
	if f == nil {
		f = stdTimer
	}
	return &roundTimers{
		newTimer: f,
		armed:    make(map[string]*armedTimer),
	}
}

// arm schedules fire after d, replacing any timer already armed for the id.
func (t *roundTimers) arm(id string, d time.Duration, fire func(gen uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a, ok := t.armed[id]; ok {
		a.timer.Stop()
	}

	t.gen++
	gen := t.gen
	t.armed[id] = &armedTimer{
		gen:   gen,
		timer: t.newTimer(d, func() { fire(gen) }),
	}
}

// disarm cancels the pending timer if present. Disarming an absent or
// already-consumed timer is a no-op.
func (t *roundTimers) disarm(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a, ok := t.armed[id]; ok {
		a.timer.Stop()
		delete(t.armed, id)
	}
}

// consume reports whether the given generation is still the armed one for
// the id, removing it if so. A false return means the timer was disarmed or
// replaced between scheduling and firing.
func (t *roundTimers) consume(id string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.armed[id]
	if !ok || a.gen != gen {
		return false
	}

	delete(t.armed, id)
	return true
}
