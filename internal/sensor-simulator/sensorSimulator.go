package sensor_simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/smartbin/internal/model/messages"
	"github.com/LeonardoBeccarini/smartbin/pkg/dedup"
	"github.com/LeonardoBeccarini/smartbin/pkg/rabbitmq"
)

// Command is accepted on the command topic. The only action is "empty".
type Command struct {
	Action string `json:"action"`
}

type SensorSimulator struct {
	generator    *DistanceGenerator
	realtime     rabbitmq.IPublisher
	durable      rabbitmq.IPublisher
	consumer     rabbitmq.IConsumer
	durableEvery int
	deduper      *dedup.Deduper
}

// NewSensorSimulator publishes every tick on realtime and every durableEvery
// ticks on durable. consumer may be nil.
func NewSensorSimulator(consumer rabbitmq.IConsumer, realtime, durable rabbitmq.IPublisher,
	gen *DistanceGenerator, durableEvery int) *SensorSimulator {
	if durableEvery <= 0 {
		durableEvery = 1
	}
	return &SensorSimulator{
		generator:    gen,
		realtime:     realtime,
		durable:      durable,
		consumer:     consumer,
		durableEvery: durableEvery,
		deduper:      dedup.New(2*time.Minute, 1000),
	}
}

// Start publishes until ctx is cancelled.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	if s.consumer != nil {
		s.consumer.SetHandler(s.HandleMessage)
		go s.consumer.ConsumeMessage(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			s.realtime.Close()
			return
		case <-ticker.C:
			s.Publish(tick)
		}
	}
}

// Publish emits one reading; tick decides whether it also goes durable.
func (s *SensorSimulator) Publish(tick int) {
	d := s.generator.Next()
	payload, err := json.Marshal(messages.SensorPayload{Distance: &d})
	if err != nil {
		log.Error().Err(err).Msg("encode payload")
		return
	}
	log.Debug().Float64("distance", d).Int("tick", tick).Msg("sensor: pub distance")

	if err := s.realtime.PublishMessage(payload); err != nil {
		log.Warn().Err(err).Msg("realtime publish error")
	}
	if tick%s.durableEvery == 0 {
		if err := s.durable.PublishMessage(payload); err != nil {
			log.Warn().Err(err).Msg("durable publish error")
		}
	}
}

func (s *SensorSimulator) HandleMessage(topic string, msg mqtt.Message) error {
	// every QoS 1 delivery is recorded; only a flagged redelivery of a seen id is skipped
	if msg.Qos() > 0 {
		fresh := s.deduper.ShouldProcess(dedup.Key(topic, msg.MessageID()))
		if !fresh && msg.Duplicate() {
			log.Debug().Uint16("packet_id", msg.MessageID()).Msg("sensor: duplicate command dropped")
			return nil
		}
	}

	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	switch cmd.Action {
	case "empty":
		s.generator.Empty()
		log.Info().Msg("sensor: bin emptied")
	default:
		return fmt.Errorf("unknown command action %q", cmd.Action)
	}
	return nil
}
