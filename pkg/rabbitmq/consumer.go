package rabbitmq

import (
	"context"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// MessageHandler receives every message of a subscription. The first argument
// is the subscription it arrived on.
type MessageHandler func(topic string, message mqtt.Message) error

// IConsumer interface defines the ConsumeMessage method
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler MessageHandler)
}

// Subscription is one topic filter and the QoS requested for it.
type Subscription struct {
	Topic string
	QoS   byte
}

// MultiConsumer subscribes a set of topics with one handler and renews the
// subscriptions on every (re)connect through Subscribe.
type MultiConsumer struct {
	mu      sync.Mutex
	client  mqtt.Client
	subs    []Subscription
	handler MessageHandler
}

func NewMultiConsumer(subs []Subscription, handler MessageHandler) *MultiConsumer {
	return &MultiConsumer{
		subs:    subs,
		handler: handler,
	}
}

func (m *MultiConsumer) SetHandler(handler MessageHandler) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Subscribe issues all subscriptions on client. Use it as the OnConnect hook
// of RabbitMQConfig; the clean session drops subscriptions on reconnect.
func (m *MultiConsumer) Subscribe(client mqtt.Client) {
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	for _, sub := range m.subs {
		topic := sub.Topic
		token := client.Subscribe(topic, sub.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			m.mu.Lock()
			h := m.handler
			m.mu.Unlock()
			if h == nil {
				log.Warn().Str("topic", topic).Msg("no handler set for topic")
				return
			}
			if err := h(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("error handling message")
			}
		})
		token.Wait()
		if token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("error subscribing to topic")
			continue
		}
		log.Info().Str("topic", topic).Uint8("qos", sub.QoS).Msg("subscribed")
	}
}

// ConsumeMessage blocks until ctx is cancelled and then unsubscribes.
func (m *MultiConsumer) ConsumeMessage(ctx context.Context) {
	<-ctx.Done()

	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return
	}
	topics := make([]string, 0, len(m.subs))
	for _, sub := range m.subs {
		topics = append(topics, sub.Topic)
	}
	client.Unsubscribe(topics...).Wait()
}
