package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/smartbin/internal/logging"
	"github.com/LeonardoBeccarini/smartbin/internal/services/observer"
)

func main() {
	url := flag.String("url", "ws://localhost:5000/ws", "monitor WebSocket URL")
	reconnect := flag.Duration("reconnect", time.Second, "delay between reconnect attempts")
	interval := flag.Duration("interval", 2*time.Second, "liveness polling interval")
	timeout := flag.Duration("timeout", 10*time.Second, "silence after which the device is offline")
	level := flag.String("log-level", "info", "log level")
	format := flag.String("log-format", "console", "console or json")
	flag.Parse()

	logging.Setup(*level, *format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := observer.New(*url, observer.Options{
		ReconnectDelay: *reconnect,
		Interval:       *interval,
		Timeout:        *timeout,
		OnUpdate: func(v observer.View) {
			ev := log.Info().
				Bool("observer_connected", v.ObserverConnected).
				Bool("broker_connected", v.BrokerConnected).
				Str("device", string(v.Device))
			if v.Latest != nil {
				ev = ev.Float64("distance", v.Latest.Distance).
					Int("capacity", v.Latest.Capacity).
					Str("status", string(v.Latest.Status)).
					Bool("device_online", v.Latest.DeviceOnline)
			}
			ev.Msg("bin")
		},
		OnAlert: func(a observer.Alert) {
			log.Warn().Str("alert", string(a.Level)).Int("capacity", a.Capacity).Msg(a.Message)
		},
	})

	if err := client.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("observer stopped")
	}
}
