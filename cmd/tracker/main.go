package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/config"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/logging"
	"github.com/example/ride-lifecycle/internal/storage"
	"github.com/example/ride-lifecycle/internal/track"
)

func main() {
	cfg, err := config.LoadTrackerConfig()
	logger := logging.NewLogger("tracker", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rc.Close()

	producer := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.CompletedTopic)
	defer producer.Close()

	go serveMetrics(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sub := &track.Subscriber{
		Client: rc,
		Tracker: &track.Tracker{
			Rides:  storage.NewRedisStoreWithClient(rc),
			Events: producer,
			Logger: logger,
		},
		Logger: logger,
	}

	logger.Info("tracker consuming", "channel", track.Channel, "completed_topic", cfg.CompletedTopic)
	if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("tracker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("tracker shut down")
}

func serveMetrics(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", 503)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
