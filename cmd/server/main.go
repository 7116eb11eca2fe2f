package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-lifecycle/internal/config"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/httpapi"
	"github.com/example/ride-lifecycle/internal/logging"
	"github.com/example/ride-lifecycle/internal/notify"
	"github.com/example/ride-lifecycle/internal/track"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("server", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.RunMigrations && cfg.BillingDSN != "" {
		if err := runMigrations(cfg.BillingDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	srv, err := httpapi.NewServer(cfg, logger)
	if err != nil {
		logger.Error("server wiring failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Relay live location traffic into the per-ride WebSocket streams.
	if srv.Redis != nil {
		go relayStatusUpdates(ctx, srv, logger)
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}

// relayStatusUpdates mirrors the location channel onto connected
// WebSocket clients. Ride status comes from the store so clients see
// in_progress/completed transitions as the tracker records them.
func relayStatusUpdates(ctx context.Context, srv *httpapi.Server, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		sub := srv.Redis.Subscribe(ctx, track.Channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				u, err := events.DecodeLocationUpdate([]byte(msg.Payload))
				if err != nil {
					logger.Warn("dropping malformed location update", "error", err)
					continue
				}
				status := ""
				distance := 0.0
				if ride, err := srv.Rides.Get(ctx, u.RideID); err == nil {
					status = ride.Status
					distance = ride.DistanceCovered
				}
				srv.Hub.Broadcast(notify.StatusUpdate{
					RideID:          u.RideID,
					Status:          status,
					DistanceCovered: distance,
					Location:        u.Location,
				})
			}
		}
		_ = sub.Close()
		logger.Error("status relay lost subscription, reconnecting", "backoff", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_billing.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
