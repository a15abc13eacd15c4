package session

import (
	"sync"
	"time"
)

// Clock abstracts the time source so the session client's two periodic tasks
// can be driven by a virtual clock in tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is a repeating task handle with a cancel.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

// NewRealClock returns a Clock backed by the runtime timers.
func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// VirtualClock is a manually advanced Clock for tests. Advance moves time
// forward and fires every due ticker synchronously.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*virtualTicker
}

func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (v *VirtualClock) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *VirtualClock) NewTicker(d time.Duration) Ticker {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &virtualTicker{
		ch:     make(chan time.Time, 64),
		period: d,
		next:   v.now.Add(d),
	}
	v.tickers = append(v.tickers, t)
	return t
}

// Advance moves the clock by d, delivering every tick that falls inside the
// window in chronological order.
func (v *VirtualClock) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	for {
		var earliest *virtualTicker
		for _, t := range v.tickers {
			if t.stopped {
				continue
			}
			if !t.next.After(target) && (earliest == nil || t.next.Before(earliest.next)) {
				earliest = t
			}
		}
		if earliest == nil {
			break
		}
		v.now = earliest.next
		earliest.next = earliest.next.Add(earliest.period)
		select {
		case earliest.ch <- v.now:
		default: // receiver lagging; drop like the runtime ticker does
		}
	}
	v.now = target
	v.mu.Unlock()
}

type virtualTicker struct {
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func (t *virtualTicker) C() <-chan time.Time { return t.ch }
func (t *virtualTicker) Stop()               { t.stopped = true }
