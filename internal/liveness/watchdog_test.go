package liveness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestWatchdog_StartsOffline(t *testing.T) {
	w := New(0, 0)
	require.Equal(t, Offline, w.State())
	require.False(t, w.DeviceOnline(true))
	require.True(t, w.LastSeen().IsZero())
}

func TestWatchdog_TimeoutAndRecovery(t *testing.T) {
	clock := newClock()
	w := New(2*time.Second, 10*time.Second, WithClock(clock.Now))

	w.Observe()
	require.Equal(t, Live, w.State())
	require.True(t, w.DeviceOnline(true))
	require.False(t, w.DeviceOnline(false))

	clock.Advance(10 * time.Second)
	require.Equal(t, Live, w.Check(), "exactly the timeout is still live")

	clock.Advance(time.Millisecond)
	require.Equal(t, Offline, w.Check())
	require.False(t, w.DeviceOnline(true))

	w.Observe()
	require.Equal(t, Live, w.State())
	require.True(t, w.DeviceOnline(true))
}

func TestWatchdog_ObserveResetsTimer(t *testing.T) {
	clock := newClock()
	w := New(time.Second, 10*time.Second, WithClock(clock.Now))

	w.Observe()
	for i := 0; i < 5; i++ {
		clock.Advance(8 * time.Second)
		w.Observe()
		require.Equal(t, Live, w.Check())
	}
}

func TestWatchdog_TransportIsIndependent(t *testing.T) {
	clock := newClock()
	w := New(time.Second, 10*time.Second, WithClock(clock.Now))

	w.SetTransportConnected(true)
	require.True(t, w.TransportConnected())
	require.Equal(t, Offline, w.State())

	w.Observe()
	clock.Advance(11 * time.Second)
	require.Equal(t, Offline, w.Check())
	require.True(t, w.TransportConnected())

	w.SetTransportConnected(false)
	w.Observe()
	require.Equal(t, Live, w.State())
	require.False(t, w.TransportConnected())
}

func TestWatchdog_OnChange(t *testing.T) {
	clock := newClock()
	var transitions []string
	w := New(time.Second, 10*time.Second, WithClock(clock.Now), OnChange(func(from, to State) {
		transitions = append(transitions, string(from)+">"+string(to))
	}))

	w.Observe()
	w.Observe()
	clock.Advance(time.Minute)
	w.Check()
	w.Check()

	require.Equal(t, []string{"OFFLINE>LIVE", "LIVE>OFFLINE"}, transitions)
}

func TestWatchdog_RunTicksAndStops(t *testing.T) {
	clock := newClock()
	w := New(5*time.Millisecond, 10*time.Second, WithClock(clock.Now))
	w.Observe()
	clock.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return w.State() == Offline }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
