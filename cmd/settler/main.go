package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-lifecycle/internal/billing"
	"github.com/example/ride-lifecycle/internal/config"
	"github.com/example/ride-lifecycle/internal/logging"
)

func main() {
	cfg, err := config.LoadSettlerConfig()
	logger := logging.NewLogger("settler", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := billing.NewStore(cfg.BillingDSN)
	if err != nil {
		logger.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	store.EnforceBalance = cfg.EnforceBalance
	defer store.Close()

	go serveMetrics(cfg.MetricsAddr, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.CompletedTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	settler := &billing.Settler{Store: store, Logger: logger}

	logger.Info("settler consuming",
		"topic", cfg.CompletedTopic, "group", cfg.ConsumerGroup, "brokers", cfg.KafkaBrokers,
		"enforce_balance", cfg.EnforceBalance)

	run(ctx, reader, settler, logger)
	logger.Info("settler shut down")
}

// messageSource is the reader surface run needs; satisfied by
// *kafka.Reader and by fakes in tests.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// run fetches without auto-commit and settles strictly in order. The
// group commit is a per-partition watermark, so committing any later
// offset would acknowledge an unsettled message too; a transient
// failure therefore blocks on the same message until it settles.
func run(ctx context.Context, reader messageSource, settler *billing.Settler, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("kafka fetch error", "error", err, "backoff", backoff.String())
			sleep(ctx, &backoff, maxBackoff)
			continue
		}
		backoff = time.Second

		if err := settleWithRetry(ctx, settler, m, time.Second, logger); err != nil {
			return
		}

		if err := reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("commit failed", "offset", m.Offset, "error", err)
		}
	}
}

// settleWithRetry blocks on one message until it is fully handled,
// backing off between transient failures. Returns only nil (settled or
// deliberately dropped) or the context's error.
func settleWithRetry(ctx context.Context, settler *billing.Settler, m kafka.Message, delay time.Duration, logger *slog.Logger) error {
	const maxDelay = 30 * time.Second
	for {
		err := settler.Handle(ctx, m.Value)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, billing.ErrTransient) {
			logger.Error("settlement failed", "offset", m.Offset, "error", err)
			return nil
		}
		logger.Warn("settlement deferred, retrying same message",
			"offset", m.Offset, "backoff", delay.String())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func sleep(ctx context.Context, backoff *time.Duration, max time.Duration) {
	select {
	case <-time.After(*backoff):
	case <-ctx.Done():
	}
	*backoff *= 2
	if *backoff > max {
		*backoff = max
	}
}

func serveMetrics(addr string, store *billing.Store, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "postgres not ready", 503)
			return
		}
		w.WriteHeader(200)
		w.Write([]byte("ready"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
