package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/LeonardoBeccarini/smartbin/internal/cache"
	"github.com/LeonardoBeccarini/smartbin/internal/config"
	"github.com/LeonardoBeccarini/smartbin/internal/liveness"
	"github.com/LeonardoBeccarini/smartbin/internal/logging"
	"github.com/LeonardoBeccarini/smartbin/internal/model"
	"github.com/LeonardoBeccarini/smartbin/internal/services/broadcast"
	"github.com/LeonardoBeccarini/smartbin/internal/services/dispatch"
	"github.com/LeonardoBeccarini/smartbin/internal/services/ingest"
	"github.com/LeonardoBeccarini/smartbin/internal/services/query"
	"github.com/LeonardoBeccarini/smartbin/internal/store"
	"github.com/LeonardoBeccarini/smartbin/internal/store/influx"
	"github.com/LeonardoBeccarini/smartbin/internal/store/sqlite"
	"github.com/LeonardoBeccarini/smartbin/internal/transform"
	"github.com/LeonardoBeccarini/smartbin/pkg/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Store: required, bounded retry then abort ---
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.Store.Path).Msg("store unreachable, aborting startup")
	}
	defer st.Close()
	log.Info().Str("db_path", cfg.Store.Path).Msg("store ready")

	transformer, err := transform.New(cfg.Bin.Depth, cfg.Bin.FullThreshold)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid bin geometry")
	}
	latest := cache.New()

	// --- Optional Influx mirror ---
	var (
		mirror       *influx.Mirror
		mirrorSink   store.Appender
		mirrorHealth query.Mirror
	)
	if cfg.Influx.URL != "" {
		mirror = influx.New(influx.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		defer mirror.Close()
		mirrorSink, mirrorHealth = mirror, mirror
		log.Info().Str("url", cfg.Influx.URL).Str("bucket", cfg.Influx.Bucket).Msg("influx mirror enabled")
	}

	// --- Server-side liveness, fed by broadcasts ---
	watchdog := liveness.New(cfg.Liveness.Interval, cfg.Liveness.Timeout,
		liveness.OnChange(func(from, to liveness.State) {
			log.Info().Str("from", string(from)).Str("to", string(to)).Msg("device liveness changed")
		}))
	go watchdog.Run(ctx)

	// --- Pipeline ---
	ing := ingest.New(ingest.Config{
		RealtimeTopic: cfg.MQTT.RealtimeTopic,
		DurableTopic:  cfg.MQTT.DurableTopic,
		RealtimeQoS:   byte(cfg.MQTT.RealtimeQoS),
		DurableQoS:    byte(cfg.MQTT.DurableQoS),
	}, transformer)

	hub := broadcast.New(broadcast.Options{
		Store:            st,
		Cache:            latest,
		Transformer:      transformer,
		Broker:           ing.Connected,
		Channels:         ing.Channels(),
		ReconcileTimeout: cfg.Broadcast.ReconcileTimeout,
		BreakerFails:     cfg.Broadcast.BreakerFails,
		BreakerOpen:      cfg.Broadcast.BreakerOpen,
		SendQueue:        cfg.Broadcast.SendQueue,
		AllowedOrigin:    cfg.HTTP.CORSOrigin,
		OnBroadcast:      func(model.Reading) { watchdog.Observe() },
	})

	dispatcher := dispatch.New(dispatch.Options{
		Cache:          latest,
		Hub:            hub,
		Store:          st,
		Mirror:         mirrorSink,
		PersistTimeout: cfg.Store.WriteTimeout,
	})
	hub.SetRouter(dispatcher)
	go dispatcher.Run(ctx, ing.Inbox())

	// --- MQTT: a broker outage is not fatal ---
	consumer := rabbitmq.NewMultiConsumer(ing.Subscriptions(), ing.Handle)
	_, err = rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
		Host:           cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		User:           cfg.MQTT.User,
		Password:       cfg.MQTT.Password,
		ClientID:       cfg.MQTT.ClientID + "-" + uuid.NewString()[:8],
		ReconnectDelay: cfg.MQTT.ReconnectDelay,
		OnConnect:      consumer.Subscribe,
		OnStatus: func(up bool) {
			ing.SetConnected(up)
			hub.NotifyBrokerStatus(up)
		},
	}, ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("mqtt client setup failed")
	}
	go consumer.ConsumeMessage(ctx)

	// --- HTTP ---
	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: query.NewHTTPMux(query.Deps{
			Store:        st,
			Hub:          hub,
			Broker:       ing,
			Watchdog:     watchdog,
			Mirror:       mirrorHealth,
			Socket:       hub,
			Channels:     ing.Channels(),
			CORSOrigin:   cfg.HTTP.CORSOrigin,
			DefaultDays:  cfg.Store.DefaultDays,
			QueryTimeout: cfg.Store.QueryTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("monitor listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	hub.Close()
	log.Info().Msg("monitor stopped")
}

func openStore(ctx context.Context, cfg config.Store) (*sqlite.Store, error) {
	var st *sqlite.Store
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.OpenDelay), uint64(cfg.OpenRetries-1))
	err := backoff.RetryNotify(func() error {
		s, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return err
		}
		st = s
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		log.Warn().Err(err).Dur("retry_in", next).Msg("store not ready")
	})
	return st, err
}
