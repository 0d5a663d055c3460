package processing

import (
	"sync"
	"time"
)

// TimerGuard tracks the timers scheduled by a single sandbox invocation so
// they can all be cancelled when the invocation settles. Callbacks are handed
// to schedule, which runs them on the goroutine that owns the runtime.
type TimerGuard struct {
	mu        sync.Mutex
	schedule  func(job func()) bool
	nextID    int64
	timeouts  map[int64]*time.Timer
	intervals map[int64]*time.Timer
	released  bool
}

// NewTimerGuard creates a guard that dispatches fired callbacks through schedule.
func NewTimerGuard(schedule func(job func()) bool) *TimerGuard {
	return &TimerGuard{
		schedule:  schedule,
		timeouts:  make(map[int64]*time.Timer),
		intervals: make(map[int64]*time.Timer),
	}
}

// SetTimeout runs fn once after delay and returns the timer handle.
func (g *TimerGuard) SetTimeout(fn func(), delay time.Duration) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	id := g.nextID
	if g.released {
		return id
	}
	if delay < 0 {
		delay = 0
	}

	g.timeouts[id] = time.AfterFunc(delay, func() {
		g.schedule(func() {
			if g.takeTimeout(id) {
				fn()
			}
		})
	})
	return id
}

// SetInterval runs fn every interval until cleared or released.
func (g *TimerGuard) SetInterval(fn func(), interval time.Duration) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	id := g.nextID
	if g.released {
		return id
	}
	if interval <= 0 {
		interval = time.Millisecond
	}

	g.intervals[id] = time.AfterFunc(interval, func() {
		g.mu.Lock()
		timer, ok := g.intervals[id]
		if ok {
			timer.Reset(interval)
		}
		g.mu.Unlock()
		if !ok {
			return
		}

		g.schedule(func() {
			if g.intervalActive(id) {
				fn()
			}
		})
	})
	return id
}

// ClearTimeout cancels a pending one-shot timer. Unknown handles are ignored.
func (g *TimerGuard) ClearTimeout(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if timer, ok := g.timeouts[id]; ok {
		timer.Stop()
		delete(g.timeouts, id)
	}
}

// ClearInterval cancels a repeating timer. Unknown handles are ignored.
func (g *TimerGuard) ClearInterval(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if timer, ok := g.intervals[id]; ok {
		timer.Stop()
		delete(g.intervals, id)
	}
}

// Release cancels every tracked timer. Timers scheduled afterwards never fire.
// Calling it again is a no-op.
func (g *TimerGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.released = true
	for id, timer := range g.timeouts {
		timer.Stop()
		delete(g.timeouts, id)
	}
	for id, timer := range g.intervals {
		timer.Stop()
		delete(g.intervals, id)
	}
}

// pending returns the number of timers that can still fire.
func (g *TimerGuard) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timeouts) + len(g.intervals)
}

func (g *TimerGuard) takeTimeout(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.timeouts[id]; !ok {
		return false
	}
	delete(g.timeouts, id)
	return true
}

func (g *TimerGuard) intervalActive(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.intervals[id]
	return ok
}
