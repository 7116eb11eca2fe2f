package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/billing"
	"github.com/example/ride-lifecycle/internal/breaker"
	"github.com/example/ride-lifecycle/internal/config"
	"github.com/example/ride-lifecycle/internal/directory"
	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/match"
	"github.com/example/ride-lifecycle/internal/notify"
	"github.com/example/ride-lifecycle/internal/observability"
	"github.com/example/ride-lifecycle/internal/payments"
	"github.com/example/ride-lifecycle/internal/pricing"
	"github.com/example/ride-lifecycle/internal/storage"
	"github.com/example/ride-lifecycle/internal/track"
)

// Server is the HTTP API process: ride creation, lookup, simulation
// trigger, wallet endpoints and the WebSocket status stream.
type Server struct {
	Matcher   *match.Service
	Rides     storage.RideStore
	Billing   *billing.Store // nil when PG_DSN is unset
	Funder    payments.Funder
	Hub       *notify.WSHub
	Simulator *track.Simulator
	Redis     *redis.Client // nil in pure in-memory runs

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires the API from config with in-memory fallbacks, so the
// binary runs without Redis, Kafka or Postgres for local poking.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	}

	var dir directory.Directory
	if rc != nil {
		dir = directory.NewRedisDirectoryWithClient(rc, cfg.RedisGeoKey)
	} else {
		dir = directory.NewIndex()
	}
	dir = directory.NewCached(dir, cfg.CandidateTTL)

	var rides storage.RideStore
	if rc != nil {
		rides = storage.NewRedisStoreWithClient(rc)
	} else {
		rides = storage.NewMemoryStore()
	}

	var publisher events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaProducer(cfg.KafkaBrokers, cfg.RequestedTopic)
	}

	pricingBreaker := breaker.New(breaker.Settings{
		Name:              "pricing",
		Timeout:           cfg.PricingBreakerTimeout,
		ErrorThresholdPct: cfg.PricingErrorThreshold,
		ResetTimeout:      cfg.PricingResetTimeout,
		OnStateChange: func(name string, from, to breaker.State) {
			observability.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
	gateway := pricing.NewGateway(pricing.NewHTTPClient(cfg.PricingURL, cfg.PricingCallTimeout), pricingBreaker)

	var push match.Notifier
	if cfg.DriverPushURL != "" {
		push = notify.NewWebhookPush(cfg.DriverPushURL)
	}

	matcher := &match.Service{
		Directory:   dir,
		Pricing:     gateway,
		Store:       rides,
		Events:      publisher,
		Notify:      push,
		RadiusMiles: cfg.MatchRadiusMi,
		Logger:      logger,
	}

	var store *billing.Store
	if cfg.BillingDSN != "" {
		ps, err := billing.NewStore(cfg.BillingDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	}

	var sim *track.Simulator
	if rc != nil {
		sim = &track.Simulator{
			Publisher: &track.RedisLocationPublisher{Client: rc},
			Steps:     cfg.SimulationSteps,
			Delay:     cfg.SimulationDelay,
			Logger:    logger,
		}
	}

	s := &Server{
		Matcher:   matcher,
		Rides:     rides,
		Billing:   store,
		Funder:    payments.NewStripeFunder(),
		Hub:       notify.NewWSHub(),
		Simulator: sim,
		Redis:     rc,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/simulate", s.handleSimulate).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/cancel", s.handleCancel).Methods("POST")

	s.mux.HandleFunc("/api/v1/wallets/{kind}/{owner_id}", s.handleWalletBalance).Methods("GET")
	s.mux.HandleFunc("/api/v1/wallets/customer/topup", s.handleTopUp).Methods("POST")
	s.mux.HandleFunc("/api/v1/wallets/driver/withdraw", s.handleWithdraw).Methods("POST")
	s.mux.HandleFunc("/api/v1/wallets/customer/check", s.handleWalletCheck).Methods("POST")

	s.mux.HandleFunc("/ws/rides/{ride_id}", s.handleWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
