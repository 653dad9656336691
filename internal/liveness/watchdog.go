// Package liveness infers whether the bin sensor is online from how recently
// a reading arrived. It is unrelated to the state of any network connection.
package liveness

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 10 * time.Second
)

type State string

const (
	Live    State = "LIVE"
	Offline State = "OFFLINE"
)

type Option func(*Watchdog)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// OnChange registers a callback run on every state transition, outside the
// watchdog lock.
func OnChange(fn func(from, to State)) Option {
	return func(w *Watchdog) { w.onChange = fn }
}

// Watchdog starts Offline. Observe moves it to Live; Check moves it back to
// Offline once more than timeout has passed since the last Observe.
type Watchdog struct {
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	onChange func(from, to State)

	mu        sync.Mutex
	state     State
	last      time.Time
	transport bool
}

func New(interval, timeout time.Duration, opts ...Option) *Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	w := &Watchdog{
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		state:    Offline,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Observe records a reading arrival and resets the timer.
func (w *Watchdog) Observe() {
	w.mu.Lock()
	w.last = w.now()
	from := w.state
	w.state = Live
	w.mu.Unlock()
	w.notify(from, Live)
}

// Check applies the timeout and returns the resulting state.
func (w *Watchdog) Check() State {
	w.mu.Lock()
	from := w.state
	if w.state == Live && w.now().Sub(w.last) > w.timeout {
		w.state = Offline
	}
	to := w.state
	w.mu.Unlock()
	w.notify(from, to)
	return to
}

func (w *Watchdog) notify(from, to State) {
	if from != to && w.onChange != nil {
		w.onChange(from, to)
	}
}

// Run calls Check every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastSeen is the time of the last Observe, zero if none.
func (w *Watchdog) LastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// DeviceOnline is the flag to display for a reading that reported online:
// it is forced false while the watchdog is Offline.
func (w *Watchdog) DeviceOnline(reported bool) bool {
	return reported && w.State() == Live
}

// SetTransportConnected records the observer's own connection state. It has
// no effect on the device state.
func (w *Watchdog) SetTransportConnected(up bool) {
	w.mu.Lock()
	w.transport = up
	w.mu.Unlock()
}

func (w *Watchdog) TransportConnected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.transport
}
