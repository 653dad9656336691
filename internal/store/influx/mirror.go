// Package influx mirrors durable readings into InfluxDB for dashboards.
package influx

import (
	"context"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/smartbin/internal/model"
)

const Measurement = "bin_reading"

// Config selects the target bucket. The mirror is disabled when URL is empty.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

// Mirror writes readings through the non-blocking WriteAPI and remembers when
// the last asynchronous write error happened, for /healthz.
type Mirror struct {
	client influxdb2.Client
	api    api.WriteAPI

	mu      sync.RWMutex
	lastErr time.Time
	written int64
}

// New connects the mirror. It does not block on the server being reachable.
func New(cfg Config) *Mirror {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return newMirror(client, client.WriteAPI(cfg.Org, cfg.Bucket))
}

func newMirror(client influxdb2.Client, w api.WriteAPI) *Mirror {
	m := &Mirror{
		client:  client,
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range w.Errors() {
			if err == nil {
				continue
			}
			m.mu.Lock()
			m.lastErr = time.Now()
			m.mu.Unlock()
			log.Warn().Err(err).Msg("influx mirror write error")
		}
	}()
	return m
}

// Append queues the reading. Errors surface asynchronously via LastErrorAge,
// so the returned id is always 0.
func (m *Mirror) Append(_ context.Context, r model.Reading) (int64, error) {
	m.api.WritePoint(ReadingToPoint(r))
	m.mu.Lock()
	m.written++
	m.mu.Unlock()
	return 0, nil
}

// LastErrorAge is the time since the last write error.
func (m *Mirror) LastErrorAge() time.Duration {
	if m == nil {
		return 99999 * time.Hour
	}
	m.mu.RLock()
	t := m.lastErr
	m.mu.RUnlock()
	return time.Since(t)
}

// Written is the number of points queued so far.
func (m *Mirror) Written() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.written
}

// Close flushes pending points and closes the client.
func (m *Mirror) Close() {
	m.api.Flush()
	m.client.Close()
}

// ReadingToPoint maps a reading to the bin_reading measurement.
func ReadingToPoint(r model.Reading) *write.Point {
	tags := map[string]string{
		"status": string(r.Status),
	}
	fields := map[string]interface{}{
		"distance":      r.Distance,
		"capacity":      int64(r.Capacity),
		"device_online": r.DeviceOnline,
	}
	at := r.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return influxdb2.NewPoint(Measurement, tags, fields, at)
}
