package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartbin/internal/cache"
	"github.com/LeonardoBeccarini/smartbin/internal/model"
	"github.com/LeonardoBeccarini/smartbin/internal/transform"
)

type fakeHub struct {
	mu  sync.Mutex
	got []model.Reading
}

func (h *fakeHub) Broadcast(r model.Reading) {
	h.mu.Lock()
	h.got = append(h.got, r)
	h.mu.Unlock()
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

type fakeStore struct {
	mu      sync.Mutex
	rows    []model.Reading
	err     error
	block   chan struct{}
	started chan struct{}
}

func (s *fakeStore) Append(ctx context.Context, r model.Reading) (int64, error) {
	if s.block != nil {
		if s.started != nil {
			close(s.started)
			s.started = nil
		}
		select {
		case <-s.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.rows = append(s.rows, r)
	return int64(len(s.rows)), nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func setup(st *fakeStore) (*Dispatcher, *cache.Latest, *fakeHub) {
	c := cache.New()
	h := &fakeHub{}
	return New(Options{Cache: c, Hub: h, Store: st}), c, h
}

func reading(d float64) model.Reading {
	return transform.Default().Transform(d)
}

func TestRoutes(t *testing.T) {
	d, _, _ := setup(&fakeStore{})
	require.Equal(t, []string{SinkCache, SinkBroadcast}, d.Route(model.ChannelRealtime))
	require.Equal(t, []string{SinkPersist}, d.Route(model.ChannelDurable))
	require.Equal(t, []string{SinkCache, SinkBroadcast, SinkPersist}, d.Route(model.ChannelManual))

	withMirror := New(Options{Cache: cache.New(), Hub: &fakeHub{}, Store: &fakeStore{}, Mirror: &fakeStore{}})
	require.Equal(t, []string{SinkPersist, SinkMirror}, withMirror.Route(model.ChannelDurable))
}

func TestDispatch_RealtimeDoesNotPersist(t *testing.T) {
	st := &fakeStore{}
	d, c, h := setup(st)

	errs := d.Dispatch(context.Background(), model.Delivery{Channel: model.ChannelRealtime, Reading: reading(12)})
	require.Empty(t, errs)

	got, ok := c.Read()
	require.True(t, ok)
	require.Equal(t, 12.0, got.Distance)
	require.Equal(t, 1, h.count())
	require.Equal(t, 0, st.count())
}

func TestDispatch_DurableDoesNotBroadcast(t *testing.T) {
	st := &fakeStore{}
	d, c, h := setup(st)

	errs := d.Dispatch(context.Background(), model.Delivery{Channel: model.ChannelDurable, Reading: reading(12)})
	require.Empty(t, errs)

	_, ok := c.Read()
	require.False(t, ok)
	require.Equal(t, 0, h.count())
	require.Equal(t, 1, st.count())
}

func TestDispatch_ManualSurvivesStoreFailure(t *testing.T) {
	st := &fakeStore{err: errors.New("disk full")}
	d, c, h := setup(st)

	errs := d.Dispatch(context.Background(), model.Delivery{Channel: model.ChannelManual, Reading: reading(4)})
	require.Len(t, errs, 1)
	require.ErrorContains(t, errs[0], "persist")

	got, ok := c.Read()
	require.True(t, ok)
	require.Equal(t, model.StatusFull, got.Status)
	require.Equal(t, 1, h.count())
}

func TestDispatch_UnknownChannel(t *testing.T) {
	d, _, h := setup(&fakeStore{})
	errs := d.Dispatch(context.Background(), model.Delivery{Channel: "bogus", Reading: reading(4)})
	require.Len(t, errs, 1)
	require.Equal(t, 0, h.count())
}

func TestRun_SlowStoreDoesNotDelayBroadcast(t *testing.T) {
	st := &fakeStore{block: make(chan struct{}), started: make(chan struct{})}
	started := st.started
	d, _, h := setup(st)

	ctx, cancel := context.WithCancel(context.Background())
	inbox := make(chan model.Delivery, 4)
	done := make(chan struct{})
	go func() {
		d.Run(ctx, inbox)
		close(done)
	}()

	inbox <- model.Delivery{Channel: model.ChannelDurable, Reading: reading(20)}
	<-started
	inbox <- model.Delivery{Channel: model.ChannelRealtime, Reading: reading(10)}

	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, st.count())

	close(st.block)
	require.Eventually(t, func() bool { return st.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_KeepsOrderWithinChannel(t *testing.T) {
	d, _, h := setup(&fakeStore{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbox := make(chan model.Delivery, 10)
	for i := 0; i < 10; i++ {
		inbox <- model.Delivery{Channel: model.ChannelRealtime, Reading: reading(float64(5 + i))}
	}
	close(inbox)
	d.Run(ctx, inbox)

	require.Equal(t, 10, h.count())
	for i, r := range h.got {
		require.Equal(t, float64(5+i), r.Distance)
	}
}
