// Package ingest turns broker messages into routed readings.
package ingest

import (
	"fmt"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/smartbin/internal/metrics"
	"github.com/LeonardoBeccarini/smartbin/internal/model"
	"github.com/LeonardoBeccarini/smartbin/internal/model/messages"
	"github.com/LeonardoBeccarini/smartbin/internal/transform"
	"github.com/LeonardoBeccarini/smartbin/pkg/dedup"
	"github.com/LeonardoBeccarini/smartbin/pkg/rabbitmq"
)

const DefaultInboxSize = 256

type Config struct {
	RealtimeTopic string
	DurableTopic  string
	RealtimeQoS   byte
	DurableQoS    byte
	InboxSize     int
}

// DecodeError is returned by Handle for payloads that are not a sensor
// record. The message is dropped.
type DecodeError struct {
	Channel model.Channel
	Topic   string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s message on %q: %v", e.Channel, e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Ingestor decodes messages from the realtime and durable subscriptions and
// posts them on its inbox. Channel identity comes from the subscription only.
type Ingestor struct {
	cfg         Config
	transformer *transform.Transformer
	channels    map[string]model.Channel
	inbox       chan model.Delivery
	dedup       *dedup.Deduper
	connected   atomic.Bool
}

func New(cfg Config, t *transform.Transformer) *Ingestor {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	return &Ingestor{
		cfg:         cfg,
		transformer: t,
		channels: map[string]model.Channel{
			cfg.RealtimeTopic: model.ChannelRealtime,
			cfg.DurableTopic:  model.ChannelDurable,
		},
		inbox: make(chan model.Delivery, cfg.InboxSize),
		dedup: dedup.New(0, 0),
	}
}

// Subscriptions lists the topics to hand to the consumer.
func (in *Ingestor) Subscriptions() []rabbitmq.Subscription {
	return []rabbitmq.Subscription{
		{Topic: in.cfg.RealtimeTopic, QoS: in.cfg.RealtimeQoS},
		{Topic: in.cfg.DurableTopic, QoS: in.cfg.DurableQoS},
	}
}

// Channels lists the configured topic names.
func (in *Ingestor) Channels() []string {
	return []string{in.cfg.RealtimeTopic, in.cfg.DurableTopic}
}

// Inbox is read by the dispatcher.
func (in *Ingestor) Inbox() <-chan model.Delivery { return in.inbox }

// Handle is the consumer callback. It never blocks: when the inbox is full the
// reading is dropped.
func (in *Ingestor) Handle(subscription string, m mqtt.Message) error {
	ch, ok := in.channels[subscription]
	if !ok {
		return fmt.Errorf("message on unrouted subscription %q", subscription)
	}
	metrics.MessagesReceived.WithLabelValues(string(ch)).Inc()

	// packet ids are recorded for every QoS 1 message; only a flagged
	// redelivery of a recorded id is dropped
	if m.Qos() > 0 {
		fresh := in.dedup.ShouldProcess(dedup.Key(subscription, m.MessageID()))
		if !fresh && m.Duplicate() {
			metrics.Duplicates.Inc()
			log.Debug().Str("channel", string(ch)).Uint16("packet_id", m.MessageID()).Msg("duplicate dropped")
			return nil
		}
	}

	payload, err := messages.DecodeSensorPayload(m.Payload())
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(string(ch)).Inc()
		log.Warn().Err(err).Str("channel", string(ch)).Str("topic", m.Topic()).Msg("discarding malformed payload")
		return &DecodeError{Channel: ch, Topic: m.Topic(), Err: err}
	}

	d := model.Delivery{Channel: ch, Reading: in.transformer.Transform(payload.DistanceOrDefault())}
	select {
	case in.inbox <- d:
	default:
		metrics.ReadingsDropped.WithLabelValues("inbox").Inc()
		log.Warn().Str("channel", string(ch)).Msg("inbox full, reading dropped")
	}
	return nil
}

// SetConnected records the broker link state; wire it to the connection
// status hook.
func (in *Ingestor) SetConnected(up bool) {
	in.connected.Store(up)
	metrics.SetBrokerConnected(up)
}

func (in *Ingestor) Connected() bool { return in.connected.Load() }
