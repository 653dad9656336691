package sensor_simulator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartbin/internal/model/messages"
)

type recordingPublisher struct {
	payloads [][]byte
}

func (p *recordingPublisher) PublishMessage(message interface{}) error {
	p.payloads = append(p.payloads, message.([]byte))
	return nil
}

func (p *recordingPublisher) Close() {}

type commandMessage struct {
	payload []byte
	id      uint16
	dup     bool
}

func (m commandMessage) Duplicate() bool   { return m.dup }
func (m commandMessage) Qos() byte         { return 1 }
func (m commandMessage) Retained() bool    { return false }
func (m commandMessage) Topic() string     { return "sensor/command" }
func (m commandMessage) MessageID() uint16 { return m.id }
func (m commandMessage) Payload() []byte   { return m.payload }
func (m commandMessage) Ack()              {}

func TestPublish_DurableEveryN(t *testing.T) {
	realtime, durable := &recordingPublisher{}, &recordingPublisher{}
	sim := NewSensorSimulator(nil, realtime, durable, NewDistanceGenerator(30, 1, 0, 1), 3)

	for tick := 1; tick <= 6; tick++ {
		sim.Publish(tick)
	}
	require.Len(t, realtime.payloads, 6)
	require.Len(t, durable.payloads, 2)

	p, err := messages.DecodeSensorPayload(realtime.payloads[0])
	require.NoError(t, err)
	require.NotNil(t, p.Distance)
	require.InDelta(t, 30.0, *p.Distance, 0.1)
}

func TestHandleMessage_Empty(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	gen := NewDistanceGenerator(30, 1, 0, 1)
	gen.now = func() time.Time { return now }
	gen.Next()
	now = now.Add(10 * time.Minute)
	gen.Next()
	require.Equal(t, 20.0, gen.Level())

	sim := NewSensorSimulator(nil, &recordingPublisher{}, &recordingPublisher{}, gen, 1)
	body, _ := json.Marshal(Command{Action: "empty"})
	require.NoError(t, sim.HandleMessage("sensor/command", commandMessage{payload: body}))
	require.Equal(t, 30.0, gen.Level())

	require.Error(t, sim.HandleMessage("sensor/command", commandMessage{payload: []byte(`{"action":"explode"}`)}))
	require.Error(t, sim.HandleMessage("sensor/command", commandMessage{payload: []byte(`nope`)}))
}

func TestHandleMessage_RedeliveryDoesNotEmptyTwice(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	gen := NewDistanceGenerator(30, 1, 0, 1)
	gen.now = func() time.Time { return now }
	gen.Next()

	sim := NewSensorSimulator(nil, &recordingPublisher{}, &recordingPublisher{}, gen, 1)
	body, _ := json.Marshal(Command{Action: "empty"})
	require.NoError(t, sim.HandleMessage("sensor/command", commandMessage{payload: body, id: 1}))
	require.Equal(t, 30.0, gen.Level())

	now = now.Add(10 * time.Minute)
	gen.Next()
	require.Equal(t, 20.0, gen.Level())

	// broker resends packet 1 flagged as duplicate
	require.NoError(t, sim.HandleMessage("sensor/command", commandMessage{payload: body, id: 1, dup: true}))
	require.Equal(t, 20.0, gen.Level())

	// a new packet still empties the bin
	require.NoError(t, sim.HandleMessage("sensor/command", commandMessage{payload: body, id: 2}))
	require.Equal(t, 30.0, gen.Level())
}
