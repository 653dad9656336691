// Package broadcast fans readings out to WebSocket observers and brings newly
// connected observers up to date.
package broadcast

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/smartbin/internal/cache"
	"github.com/LeonardoBeccarini/smartbin/internal/metrics"
	"github.com/LeonardoBeccarini/smartbin/internal/model"
	"github.com/LeonardoBeccarini/smartbin/internal/store"
	"github.com/LeonardoBeccarini/smartbin/internal/transform"
)

// Reconciliation sources.
const (
	SourceStore = "store"
	SourceCache = "cache"
	SourceNone  = "none"
)

var ErrNoRouter = errors.New("broadcast: no router configured")

// Router is the dispatcher entry point used for injected readings.
type Router interface {
	Dispatch(ctx context.Context, d model.Delivery) []error
}

type Options struct {
	Store       store.LatestReader
	Cache       cache.Reader
	Transformer *transform.Transformer

	// Broker reports the broker link state for connectionStatus.
	Broker   func() bool
	Channels []string

	ReconcileTimeout time.Duration
	BreakerFails     int
	BreakerOpen      time.Duration

	SendQueue     int
	AllowedOrigin string // "*" or empty accepts any origin

	// OnBroadcast sees every reading pushed to observers.
	OnBroadcast func(model.Reading)
}

// Hub tracks connected observers. Their identities stay internal; only the
// count is exposed.
type Hub struct {
	opts     Options
	cb       *gobreaker.CircuitBreaker
	upgrader websocket.Upgrader

	routerMu sync.RWMutex
	router   Router

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func New(opts Options) *Hub {
	if opts.ReconcileTimeout <= 0 {
		opts.ReconcileTimeout = 2 * time.Second
	}
	if opts.BreakerFails <= 0 {
		opts.BreakerFails = 3
	}
	if opts.BreakerOpen <= 0 {
		opts.BreakerOpen = 10 * time.Second
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 16
	}
	if opts.Broker == nil {
		opts.Broker = func() bool { return false }
	}
	if opts.Transformer == nil {
		opts.Transformer = transform.Default()
	}

	h := &Hub{
		opts:    opts,
		cb:      mkCB("store-latest", opts.BreakerFails, opts.BreakerOpen),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func mkCB(name string, fails int, open time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: open,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.opts.AllowedOrigin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == h.opts.AllowedOrigin
}

// SetRouter binds the dispatcher. It is set after construction because the
// dispatcher itself broadcasts through the hub.
func (h *Hub) SetRouter(r Router) {
	h.routerMu.Lock()
	h.router = r
	h.routerMu.Unlock()
}

// Count is the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast pushes r to every observer. A full observer queue drops the event
// for that observer only.
func (h *Hub) Broadcast(r model.Reading) {
	if h.opts.OnBroadcast != nil {
		h.opts.OnBroadcast(r)
	}
	msg, err := encode(EventSensorData, r)
	if err != nil {
		log.Error().Err(err).Msg("encode sensorData")
		return
	}
	h.sendAll(msg)
}

// NotifyBrokerStatus tells every observer about a broker link change.
func (h *Hub) NotifyBrokerStatus(connected bool) {
	msg, err := encode(EventConnectionStatus, ConnectionStatus{BrokerConnected: connected, Channels: h.opts.Channels})
	if err != nil {
		log.Error().Err(err).Msg("encode connectionStatus")
		return
	}
	h.sendAll(msg)
}

func (h *Hub) sendAll(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.trySend(msg)
	}
}

// Reconcile resolves the current reading: the store's latest record when the
// store answers with one, otherwise the cache. ok is false when neither has
// data.
func (h *Hub) Reconcile(ctx context.Context) (r model.Reading, source string, ok bool) {
	defer func() { metrics.ReconcileSource.WithLabelValues(source).Inc() }()

	res, err := h.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, h.opts.ReconcileTimeout)
		defer cancel()
		return h.opts.Store.Latest(ctx)
	})
	if err != nil {
		log.Warn().Err(err).Msg("store unavailable for reconciliation, using cache")
	} else if rec, _ := res.(*model.Record); rec != nil {
		return rec.Reading(), SourceStore, true
	}

	if cached, found := h.opts.Cache.Read(); found {
		return cached, SourceCache, true
	}
	return model.Reading{}, SourceNone, false
}

// Inject builds a reading from distance and routes it like a manual message.
// The reading is returned even when a sink failed; the error then joins the
// sink failures. Routing outlives ctx so a caller that goes away does not
// abort the store write; each persist sink keeps its own timeout.
func (h *Hub) Inject(ctx context.Context, distance float64) (model.Reading, error) {
	h.routerMu.RLock()
	router := h.router
	h.routerMu.RUnlock()

	r := h.opts.Transformer.Transform(distance)
	if router == nil {
		return r, ErrNoRouter
	}
	errs := router.Dispatch(context.WithoutCancel(ctx), model.Delivery{Channel: model.ChannelManual, Reading: r})
	return r, errors.Join(errs...)
}

// sync sends the reconciled reading to one observer, followed by the
// connection status when withStatus is set (on connect only).
func (h *Hub) sync(ctx context.Context, c *client, withStatus bool) {
	if r, source, ok := h.Reconcile(ctx); ok {
		if msg, err := encode(EventSensorData, r); err == nil {
			h.sendTo(c, msg)
		}
		log.Debug().Str("observer", c.id).Str("source", source).Msg("observer synced")
	}
	if !withStatus {
		return
	}
	status := ConnectionStatus{BrokerConnected: h.opts.Broker(), Channels: h.opts.Channels}
	if msg, err := encode(EventConnectionStatus, status); err == nil {
		h.sendTo(c, msg)
	}
}

func (h *Hub) sendTo(c *client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		c.trySend(msg)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.Observers.Set(float64(n))
	log.Info().Str("observer", c.id).Int("observers", n).Msg("observer connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.Observers.Set(float64(n))
	log.Info().Str("observer", c.id).Int("observers", n).Msg("observer disconnected")
}

// ServeHTTP upgrades the request and serves the observer until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.opts.SendQueue),
	}
	h.register(c)
	go c.writePump()

	h.sync(r.Context(), c, true)
	c.readPump(func(env Envelope) {
		if env.Event == EventRequestData {
			h.sync(r.Context(), c, false)
		}
	})
	h.unregister(c)
}

// Close disconnects every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
	}
}
