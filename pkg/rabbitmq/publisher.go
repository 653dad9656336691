package rabbitmq

import (
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("mqtt client not connected")

// IPublisher interface defines the method to publish a message
type IPublisher interface {
	PublishMessage(message interface{}) error
	Close()
}

// Publisher publishes to one topic with a fixed QoS.
type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

func NewPublisher(client mqtt.Client, topic string, qos byte) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		qos:    qos,
	}
}

// PublishMessage accepts a string or []byte payload.
func (p *Publisher) PublishMessage(message interface{}) error {
	var payload []byte
	switch m := message.(type) {
	case string:
		payload = []byte(m)
	case []byte:
		payload = m
	default:
		return fmt.Errorf("invalid message format %T, expected string or []byte", message)
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(p.topic, p.qos, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}

	log.Debug().Str("topic", p.topic).Bytes("payload", payload).Msg("message published")
	return nil
}

// Close gracefully closes the MQTT connection for the publisher
func (p *Publisher) Close() {
	CloseRabbitMQConn(p.client)
}
