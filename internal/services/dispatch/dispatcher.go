// Package dispatch routes readings to sinks by the channel they arrived on.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/smartbin/internal/metrics"
	"github.com/LeonardoBeccarini/smartbin/internal/model"
	"github.com/LeonardoBeccarini/smartbin/internal/store"
)

const (
	DefaultPersistTimeout = 5 * time.Second
	DefaultLaneSize       = 128
)

// Sink names, used in logs and metric labels.
const (
	SinkCache     = "cache"
	SinkBroadcast = "broadcast"
	SinkPersist   = "persist"
	SinkMirror    = "mirror"
)

type CacheWriter interface {
	Update(model.Reading)
}

type Broadcaster interface {
	Broadcast(model.Reading)
}

type Options struct {
	Cache  CacheWriter
	Hub    Broadcaster
	Store  store.Appender
	Mirror store.Appender // optional

	PersistTimeout time.Duration
	LaneSize       int
}

type sink struct {
	name    string
	deliver func(ctx context.Context, r model.Reading) error
}

// Dispatcher holds a routing table fixed at construction. Sinks of a route run
// in order and a failing sink never stops the next one.
type Dispatcher struct {
	routes   map[model.Channel][]sink
	laneSize int
}

func New(opts Options) *Dispatcher {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.LaneSize <= 0 {
		opts.LaneSize = DefaultLaneSize
	}

	live := []sink{
		{name: SinkCache, deliver: func(_ context.Context, r model.Reading) error {
			opts.Cache.Update(r)
			return nil
		}},
		{name: SinkBroadcast, deliver: func(_ context.Context, r model.Reading) error {
			opts.Hub.Broadcast(r)
			return nil
		}},
	}
	durable := []sink{persistSink(SinkPersist, opts.Store, opts.PersistTimeout)}
	if opts.Mirror != nil {
		durable = append(durable, persistSink(SinkMirror, opts.Mirror, opts.PersistTimeout))
	}

	manual := make([]sink, 0, len(live)+len(durable))
	manual = append(manual, live...)
	manual = append(manual, durable...)

	return &Dispatcher{
		routes: map[model.Channel][]sink{
			model.ChannelRealtime: live,
			model.ChannelDurable:  durable,
			model.ChannelManual:   manual,
		},
		laneSize: opts.LaneSize,
	}
}

func persistSink(name string, a store.Appender, timeout time.Duration) sink {
	return sink{name: name, deliver: func(ctx context.Context, r model.Reading) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		id, err := a.Append(ctx, r)
		if err != nil {
			return err
		}
		log.Debug().Str("sink", name).Int64("id", id).Int("capacity", r.Capacity).Msg("reading persisted")
		return nil
	}}
}

// Route returns the sink names bound to ch, in delivery order.
func (d *Dispatcher) Route(ch model.Channel) []string {
	names := make([]string, 0, len(d.routes[ch]))
	for _, s := range d.routes[ch] {
		names = append(names, s.name)
	}
	return names
}

// Dispatch delivers synchronously to every sink of the delivery's channel and
// returns the sink errors, if any.
func (d *Dispatcher) Dispatch(ctx context.Context, del model.Delivery) []error {
	sinks, ok := d.routes[del.Channel]
	if !ok {
		log.Warn().Str("channel", string(del.Channel)).Msg("no route for channel, reading dropped")
		return []error{fmt.Errorf("no route for channel %q", del.Channel)}
	}

	var errs []error
	for _, s := range sinks {
		if err := s.deliver(ctx, del.Reading); err != nil {
			metrics.SinkFailures.WithLabelValues(s.name).Inc()
			log.Error().Err(err).Str("sink", s.name).Str("channel", string(del.Channel)).Msg("sink failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		metrics.SinkDeliveries.WithLabelValues(s.name).Inc()
	}
	return errs
}

// Run drains inbox until ctx is cancelled. Each channel gets its own lane so a
// slow store never holds back the realtime path; order within a channel is
// kept.
func (d *Dispatcher) Run(ctx context.Context, inbox <-chan model.Delivery) {
	var wg sync.WaitGroup
	lanes := make(map[model.Channel]chan model.Delivery, len(d.routes))
	for ch := range d.routes {
		lane := make(chan model.Delivery, d.laneSize)
		lanes[ch] = lane
		wg.Add(1)
		go func(lane <-chan model.Delivery) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case del, ok := <-lane:
					if !ok {
						return
					}
					d.Dispatch(ctx, del)
				}
			}
		}(lane)
	}

	defer func() {
		for _, lane := range lanes {
			close(lane)
		}
		wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case del, ok := <-inbox:
			if !ok {
				return
			}
			lane, found := lanes[del.Channel]
			if !found {
				d.Dispatch(ctx, del)
				continue
			}
			select {
			case lane <- del:
			default:
				metrics.ReadingsDropped.WithLabelValues(string(del.Channel)).Inc()
				log.Warn().Str("channel", string(del.Channel)).Msg("dispatch lane full, reading dropped")
			}
		}
	}
}
