// README: Entry point; loads config, wires store, fan-out and HTTP, runs them until signalled.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"foodrun/internal/config"
	httptransport "foodrun/internal/http"
	"foodrun/internal/infra"
	"foodrun/internal/modules/board"
	"foodrun/internal/modules/notify"
	"foodrun/internal/modules/order"
	"foodrun/internal/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := infra.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var fbApp *firebase.App
	if cfg.Auth.Mode == "firebase" || cfg.Fanout.PushEnabled {
		fbApp, err = infra.NewFirebaseApp(ctx, cfg.Auth.ProjectID, cfg.Auth.CredentialsFile)
		if err != nil {
			log.WithError(err).Fatal("firebase init")
		}
	}

	verifier, err := newVerifier(ctx, cfg, fbApp, log)
	if err != nil {
		log.WithError(err).Fatal("token verifier init")
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.WithError(err).Fatal("postgres init")
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		log.WithError(err).Fatal("redis init")
	}
	defer redisClient.Close()

	claimBoard := board.NewRedis(redisClient)
	broker := notify.NewBroker(log,
		notify.WithBoard(claimBoard),
		notify.WithBufferSize(cfg.Fanout.SubscriberBuf),
	)

	sinks := []notify.Sink{broker}
	var bridge *notify.Bridge
	if !cfg.Fanout.BridgeDisabled {
		bridge = notify.NewBridge(redisClient, cfg.Fanout.BridgeChannel, uuid.NewString(), broker, log)
		sinks = append(sinks, bridge)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		audit := notify.NewAuditSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.BatchTimeout)
		defer audit.Close()
		sinks = append(sinks, audit)
	}
	if cfg.Fanout.PushEnabled {
		fcm, err := infra.NewMessaging(ctx, fbApp)
		if err != nil {
			log.WithError(err).Fatal("fcm init")
		}
		sinks = append(sinks, notify.NewPushSink(fcm, cfg.Fanout.PushTopicPrefix))
	}
	store := order.NewPostgresStore(dbPool)
	fanoutRouter := notify.NewRouter(claimBoard, log, notify.WithOrders(store))
	dispatcher := notify.NewDispatcher(fanoutRouter, log, cfg.Fanout.QueueSize, sinks...)

	orderSvc := order.NewService(store,
		order.WithPublisher(dispatcher),
		order.WithBoard(claimBoard),
		order.WithLogger(log),
	)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Order:    orderSvc,
		Broker:   broker,
		Verifier: verifier,
		Log:      log,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	if bridge != nil {
		g.Go(func() error {
			runBridge(gctx, bridge, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("shutdown with error")
		os.Exit(1)
	}
	log.Info("bye")
}

// runBridge keeps the cross-instance relay subscribed; a Redis outage only
// degrades fan-out to this instance's own sessions.
func runBridge(ctx context.Context, bridge *notify.Bridge, log *logrus.Logger) {
	backoff := retry.NewBackoff(time.Second, time.Minute)
	for {
		err := bridge.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		wait := backoff.Next()
		log.WithError(err).WithField("retry_in", wait).Warn("notify bridge stopped")
		if !retry.Sleep(ctx, wait) {
			return
		}
	}
}

func newVerifier(ctx context.Context, cfg config.Config, app *firebase.App, log *logrus.Logger) (infra.TokenVerifier, error) {
	if cfg.Auth.Mode == "firebase" {
		return infra.NewFirebaseVerifier(ctx, app)
	}
	log.Warn("dev token verifier enabled; do not use in production")
	return infra.DevVerifier{}, nil
}
