package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const (
	defaultReconnectDelay = 5 * time.Second
	connectTimeout        = 10 * time.Second
)

type RabbitMQConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	ClientID string

	// ReconnectDelay is the fixed pause between connection attempts.
	ReconnectDelay time.Duration
	// MaxRetries > 0 makes NewRabbitMQConn block until connected or out of
	// attempts. With 0 the connection is supervised in the background and
	// the caller gets the client immediately.
	MaxRetries int

	// OnConnect runs after every successful (re)connect; subscriptions go here.
	OnConnect func(mqtt.Client)
	// OnStatus is told about every connection state change.
	OnStatus func(connected bool)
}

func (cfg *RabbitMQConfig) delay() time.Duration {
	if cfg.ReconnectDelay <= 0 {
		return defaultReconnectDelay
	}
	return cfg.ReconnectDelay
}

// NewRabbitMQConn builds the MQTT client. Reconnection uses a constant delay;
// messages published while disconnected are not recovered.
func NewRabbitMQConn(cfg *RabbitMQConfig, ctx context.Context) (mqtt.Client, error) {
	connAddr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	sup := &supervisor{cfg: cfg, ctx: ctx}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(connAddr)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(connectTimeout)
	// reconnects are driven by the supervisor so the delay stays fixed
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Info().Str("broker", connAddr).Msg("connected to MQTT broker")
		sup.status(true)
		if cfg.OnConnect != nil {
			cfg.OnConnect(c)
		}
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", connAddr).Msg("MQTT connection lost")
		sup.status(false)
		go sup.run(c)
	})

	client := mqtt.NewClient(opts)

	if cfg.MaxRetries > 0 {
		bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.delay()), uint64(cfg.MaxRetries-1))
		err := backoff.Retry(func() error { return connectOnce(client) }, backoff.WithContext(bo, ctx))
		if err != nil {
			return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
		}
	} else {
		go sup.run(client)
	}

	go func() {
		<-ctx.Done()
		CloseRabbitMQConn(client)
	}()

	return client, nil
}

func CloseRabbitMQConn(client mqtt.Client) {
	if client.IsConnected() {
		client.Disconnect(250)
		log.Info().Msg("MQTT connection closed")
	}
}

type supervisor struct {
	cfg     *RabbitMQConfig
	ctx     context.Context
	running atomic.Bool
}

func (s *supervisor) status(up bool) {
	if s.cfg.OnStatus != nil {
		s.cfg.OnStatus(up)
	}
}

// run retries Connect every ReconnectDelay until it succeeds or ctx ends.
func (s *supervisor) run(client mqtt.Client) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	bo := backoff.WithContext(backoff.NewConstantBackOff(s.cfg.delay()), s.ctx)
	_ = backoff.RetryNotify(func() error {
		if s.ctx.Err() != nil {
			return backoff.Permanent(s.ctx.Err())
		}
		return connectOnce(client)
	}, bo, func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("MQTT broker unreachable")
	})
}

func connectOnce(client mqtt.Client) error {
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.New("mqtt connect timed out")
	}
	return token.Error()
}
