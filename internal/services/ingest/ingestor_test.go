package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartbin/internal/model"
	"github.com/LeonardoBeccarini/smartbin/internal/testutil"
	"github.com/LeonardoBeccarini/smartbin/internal/transform"
	"github.com/LeonardoBeccarini/smartbin/pkg/rabbitmq"
)

type fakeMessage struct {
	topic   string
	payload []byte
	qos     byte
	dup     bool
	id      uint16
}

func (m *fakeMessage) Duplicate() bool   { return m.dup }
func (m *fakeMessage) Qos() byte         { return m.qos }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return m.id }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

var testCfg = Config{
	RealtimeTopic: "sensor/realtime",
	DurableTopic:  "sensor/durable",
	DurableQoS:    1,
}

func receive(t *testing.T, in *Ingestor) model.Delivery {
	t.Helper()
	select {
	case d := <-in.Inbox():
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
		return model.Delivery{}
	}
}

func TestHandle_RoutesBySubscription(t *testing.T) {
	in := New(testCfg, transform.Default())

	require.NoError(t, in.Handle("sensor/realtime", &fakeMessage{topic: "sensor/realtime", payload: []byte(`{"distance":17.5}`)}))
	d := receive(t, in)
	require.Equal(t, model.ChannelRealtime, d.Channel)
	require.Equal(t, 50, d.Reading.Capacity)
	require.Equal(t, model.StatusHalfFull, d.Reading.Status)
	require.True(t, d.Reading.DeviceOnline)

	// content never decides the route
	require.NoError(t, in.Handle("sensor/durable", &fakeMessage{topic: "sensor/durable", payload: []byte(`{"value":2,"channel":"realtime"}`)}))
	d = receive(t, in)
	require.Equal(t, model.ChannelDurable, d.Channel)
	require.Equal(t, model.StatusFull, d.Reading.Status)
}

func TestHandle_MissingDistanceDefaultsToFull(t *testing.T) {
	in := New(testCfg, transform.Default())

	require.NoError(t, in.Handle("sensor/realtime", &fakeMessage{payload: []byte(`{}`)}))
	d := receive(t, in)
	require.Equal(t, 0.0, d.Reading.Distance)
	require.Equal(t, 100, d.Reading.Capacity)
}

func TestHandle_MalformedPayloadIsDecodeError(t *testing.T) {
	in := New(testCfg, transform.Default())

	err := in.Handle("sensor/durable", &fakeMessage{topic: "sensor/durable", payload: []byte(`distance=12`)})
	var derr *DecodeError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, model.ChannelDurable, derr.Channel)
	require.Empty(t, in.Inbox())

	// the next good message still goes through
	require.NoError(t, in.Handle("sensor/durable", &fakeMessage{payload: []byte(`{"distance":10}`)}))
	require.Equal(t, 80, receive(t, in).Reading.Capacity)
}

func TestHandle_UnroutedSubscription(t *testing.T) {
	in := New(testCfg, transform.Default())
	require.Error(t, in.Handle("other/topic", &fakeMessage{payload: []byte(`{}`)}))
	require.Empty(t, in.Inbox())
}

func TestHandle_DropsFlaggedRedelivery(t *testing.T) {
	in := New(testCfg, transform.Default())
	msg := &fakeMessage{payload: []byte(`{"distance":12}`), qos: 1, id: 42}

	require.NoError(t, in.Handle("sensor/durable", msg))
	receive(t, in)

	msg.dup = true
	require.NoError(t, in.Handle("sensor/durable", msg))
	require.Empty(t, in.Inbox())
}

func TestHandle_FullInboxDoesNotBlock(t *testing.T) {
	cfg := testCfg
	cfg.InboxSize = 1
	in := New(cfg, transform.Default())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_ = in.Handle("sensor/realtime", &fakeMessage{payload: []byte(`{"distance":12}`)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked on a full inbox")
	}
	require.Len(t, in.Inbox(), 1)
}

func TestSetConnected(t *testing.T) {
	in := New(testCfg, transform.Default())
	require.False(t, in.Connected())
	in.SetConnected(true)
	require.True(t, in.Connected())
}

func TestIngestor_OverBroker(t *testing.T) {
	broker := testutil.StartBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := New(testCfg, transform.Default())
	consumer := rabbitmq.NewMultiConsumer(in.Subscriptions(), in.Handle)
	ready := make(chan struct{}, 1)
	_, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
		Host:           broker.Host,
		Port:           broker.Port,
		ClientID:       "ingest-test",
		ReconnectDelay: 50 * time.Millisecond,
		OnConnect: func(c mqtt.Client) {
			consumer.Subscribe(c)
			select {
			case ready <- struct{}{}:
			default:
			}
		},
		OnStatus: in.SetConnected,
	}, ctx)
	require.NoError(t, err)
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("ingestor never connected")
	}
	require.True(t, in.Connected())

	pubClient, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
		Host: broker.Host, Port: broker.Port, ClientID: "ingest-test-pub", MaxRetries: 3,
	}, ctx)
	require.NoError(t, err)

	require.NoError(t, rabbitmq.NewPublisher(pubClient, testCfg.RealtimeTopic, 0).PublishMessage(`not json`))
	require.NoError(t, rabbitmq.NewPublisher(pubClient, testCfg.RealtimeTopic, 0).PublishMessage(`{"distance":30}`))
	require.NoError(t, rabbitmq.NewPublisher(pubClient, testCfg.DurableTopic, 1).PublishMessage(`{"value":5}`))

	got := map[model.Channel]model.Reading{}
	for i := 0; i < 2; i++ {
		d := receive(t, in)
		got[d.Channel] = d.Reading
	}
	require.Equal(t, 0, got[model.ChannelRealtime].Capacity)
	require.Equal(t, 100, got[model.ChannelDurable].Capacity)
}
