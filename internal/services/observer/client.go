// Package observer is a terminal client of the broadcast hub. It infers
// device liveness locally from how recently readings arrived.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/smartbin/internal/liveness"
	"github.com/LeonardoBeccarini/smartbin/internal/model"
	"github.com/LeonardoBeccarini/smartbin/internal/services/broadcast"
)

const historySize = 50

type AlertLevel string

const (
	AlertWarning AlertLevel = "warning"
	AlertDanger  AlertLevel = "danger"
)

type Alert struct {
	Level    AlertLevel
	Capacity int
	Message  string
}

// AlertFor returns the alert raised by a reading of the given capacity.
func AlertFor(capacity int) (Alert, bool) {
	switch {
	case capacity >= 100:
		return Alert{Level: AlertDanger, Capacity: capacity, Message: "Waste bin is FULL, empty it now"}, true
	case capacity >= 80:
		return Alert{Level: AlertWarning, Capacity: capacity, Message: "Waste bin is nearly full (80%+)"}, true
	default:
		return Alert{}, false
	}
}

// View is what the observer displays. Latest.DeviceOnline is already forced
// false while the watchdog is offline.
type View struct {
	Latest            *model.Reading
	Device            liveness.State
	ObserverConnected bool
	BrokerConnected   bool
	Channels          []string
}

type Options struct {
	ReconnectDelay time.Duration
	Interval       time.Duration // watchdog polling
	Timeout        time.Duration // watchdog timeout
	OnUpdate       func(View)
	OnAlert        func(Alert)
}

type Client struct {
	url    string
	opts   Options
	wd     *liveness.Watchdog
	dialer *websocket.Dialer

	mu       sync.Mutex
	latest   *model.Reading
	history  []model.Reading
	broker   bool
	channels []string
}

func New(url string, opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	c := &Client{url: url, opts: opts, dialer: websocket.DefaultDialer}
	c.wd = liveness.New(opts.Interval, opts.Timeout, liveness.OnChange(func(from, to liveness.State) {
		log.Info().Str("from", string(from)).Str("to", string(to)).Msg("device liveness changed")
		c.publish()
	}))
	return c
}

// Run keeps a session open until ctx is cancelled, redialling after a fixed
// delay. The watchdog loop stops with it.
func (c *Client) Run(ctx context.Context) error {
	wdCtx, stop := context.WithCancel(ctx)
	defer stop()
	go c.wd.Run(wdCtx)

	bo := backoff.WithContext(backoff.NewConstantBackOff(c.opts.ReconnectDelay), ctx)
	err := backoff.RetryNotify(func() error {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errors.New("connection closed by server")
		}
		return err
	}, bo, func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("observer disconnected")
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.wd.SetTransportConnected(true)
	c.publish()
	defer func() {
		c.wd.SetTransportConnected(false)
		c.publish()
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(broadcast.Envelope{Event: broadcast.EventRequestData}); err != nil {
		return err
	}
	log.Info().Str("url", c.url).Msg("observer connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		var env broadcast.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed event")
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env broadcast.Envelope) {
	switch env.Event {
	case broadcast.EventSensorData:
		r, err := broadcast.DecodeSensorData(env)
		if err != nil {
			log.Debug().Err(err).Msg("ignoring malformed sensorData")
			return
		}
		c.wd.Observe()
		c.mu.Lock()
		c.latest = &r
		c.history = append(c.history, r)
		if len(c.history) > historySize {
			c.history = c.history[len(c.history)-historySize:]
		}
		c.mu.Unlock()
		if a, ok := AlertFor(r.Capacity); ok && c.opts.OnAlert != nil {
			c.opts.OnAlert(a)
		}
	case broadcast.EventConnectionStatus:
		var st broadcast.ConnectionStatus
		if err := json.Unmarshal(env.Data, &st); err != nil {
			return
		}
		c.mu.Lock()
		c.broker = st.BrokerConnected
		c.channels = st.Channels
		c.mu.Unlock()
	default:
		return
	}
	c.publish()
}

func (c *Client) publish() {
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(c.View())
	}
}

// View snapshots the current display state.
func (c *Client) View() View {
	state := c.wd.State()
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		Device:            state,
		ObserverConnected: c.wd.TransportConnected(),
		BrokerConnected:   c.broker,
		Channels:          c.channels,
	}
	if c.latest != nil {
		r := *c.latest
		r.DeviceOnline = r.DeviceOnline && state == liveness.Live
		v.Latest = &r
	}
	return v
}

// History returns the most recent readings, oldest first.
func (c *Client) History() []model.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Reading(nil), c.history...)
}
