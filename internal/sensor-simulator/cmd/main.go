// cmd/sensor-sim/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	sensorSimulator "github.com/LeonardoBeccarini/smartbin/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/smartbin/pkg/rabbitmq"
)

func main() {
	host := flag.String("host", "localhost", "MQTT broker host")
	port := flag.Int("port", 1883, "MQTT broker port")
	user := flag.String("user", "", "MQTT user")
	pass := flag.String("password", "", "MQTT password")
	clientID := flag.String("client-id", "bin-sensor-"+uuid.NewString()[:8], "MQTT client ID")
	realtimeTopic := flag.String("realtime-topic", "sensor/realtime", "realtime topic")
	durableTopic := flag.String("durable-topic", "sensor/durable", "durable topic")
	commandTopic := flag.String("command-topic", "sensor/command", "command topic, empty to disable")
	interval := flag.Duration("interval", 2*time.Second, "publish interval")
	durableEvery := flag.Int("durable-every", 5, "publish on the durable topic every N readings")
	depth := flag.Float64("depth", 30, "bin depth in cm")
	fillRate := flag.Float64("fill-rate", 0.5, "fill rate in cm per minute")
	jitter := flag.Float64("jitter", 0.3, "sensor noise in cm")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var consumer *rabbitmq.MultiConsumer
	if *commandTopic != "" {
		consumer = rabbitmq.NewMultiConsumer([]rabbitmq.Subscription{{Topic: *commandTopic, QoS: 1}}, nil)
	}

	cfg := &rabbitmq.RabbitMQConfig{
		Host:           *host,
		Port:           *port,
		User:           *user,
		Password:       *pass,
		ClientID:       *clientID,
		ReconnectDelay: 5 * time.Second,
		MaxRetries:     10,
		OnConnect: func(c mqtt.Client) {
			if consumer != nil {
				consumer.Subscribe(c)
			}
		},
	}
	client, err := rabbitmq.NewRabbitMQConn(cfg, ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt connect failed")
	}

	realtime := rabbitmq.NewPublisher(client, *realtimeTopic, 0)
	durable := rabbitmq.NewPublisher(client, *durableTopic, 1)
	generator := sensorSimulator.NewDistanceGenerator(*depth, *fillRate, *jitter, time.Now().UnixNano())

	var sim *sensorSimulator.SensorSimulator
	if consumer != nil {
		sim = sensorSimulator.NewSensorSimulator(consumer, realtime, durable, generator, *durableEvery)
	} else {
		sim = sensorSimulator.NewSensorSimulator(nil, realtime, durable, generator, *durableEvery)
	}

	log.Info().Str("realtime", *realtimeTopic).Str("durable", *durableTopic).Dur("interval", *interval).Msg("sensor simulator started")
	sim.Start(ctx, *interval)
}
