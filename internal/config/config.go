package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures the tunables of the HTTP API process. Values
// load from environment variables with defaults so the binary runs
// locally without setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers   []string
	RequestedTopic string

	PricingURL string
	// PricingCallTimeout must stay shorter than PricingBreakerTimeout
	// so the breaker's race never fires first.
	PricingCallTimeout    time.Duration
	PricingBreakerTimeout time.Duration
	PricingErrorThreshold float64
	PricingResetTimeout   time.Duration

	BillingDSN      string
	DriverPushURL   string
	MatchRadiusMi   float64
	CandidateTTL    time.Duration
	SimulationSteps int
	SimulationDelay time.Duration

	LogLevel      string
	RunMigrations bool
}

// TrackerConfig configures the progress-tracker process.
type TrackerConfig struct {
	MetricsAddr   string
	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string
	// CompletedTopic receives ride.completed envelopes.
	CompletedTopic string
	LogLevel       string
}

// SettlerConfig configures the settlement consumer process.
type SettlerConfig struct {
	MetricsAddr    string
	KafkaBrokers   []string
	CompletedTopic string
	ConsumerGroup  string
	BillingDSN     string
	EnforceBalance bool
	LogLevel       string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:              ":8080",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ShutdownTimeout:       15 * time.Second,
		RedisGeoKey:           "drivers_geo",
		RequestedTopic:        "ride-requested",
		PricingCallTimeout:    2 * time.Second,
		PricingBreakerTimeout: 3 * time.Second,
		PricingErrorThreshold: 50,
		PricingResetTimeout:   30 * time.Second,
		MatchRadiusMi:         10,
		CandidateTTL:          60 * time.Second,
		SimulationSteps:       20,
		SimulationDelay:       500 * time.Millisecond,
		LogLevel:              "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.RequestedTopic, "KAFKA_RIDE_REQUESTED_TOPIC")

	cfg.PricingURL = strings.TrimSpace(os.Getenv("PRICING_URL"))
	setDurationFromEnv(&cfg.PricingCallTimeout, "PRICING_CALL_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.PricingBreakerTimeout, "PRICING_BREAKER_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.PricingErrorThreshold, "PRICING_ERROR_THRESHOLD_PCT", &errs)
	setDurationFromEnv(&cfg.PricingResetTimeout, "PRICING_RESET_TIMEOUT", &errs)

	cfg.BillingDSN = os.Getenv("PG_DSN")
	cfg.DriverPushURL = strings.TrimSpace(os.Getenv("DRIVER_PUSH_URL"))
	setFloatFromEnv(&cfg.MatchRadiusMi, "MATCH_RADIUS_MILES", &errs)
	setDurationFromEnv(&cfg.CandidateTTL, "CANDIDATE_CACHE_TTL", &errs)
	setIntFromEnv(&cfg.SimulationSteps, "SIMULATION_STEPS", &errs)
	setDurationFromEnv(&cfg.SimulationDelay, "SIMULATION_DELAY", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.MatchRadiusMi <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_MILES must be > 0"))
	}
	if cfg.PricingCallTimeout >= cfg.PricingBreakerTimeout {
		errs = append(errs, fmt.Errorf("PRICING_CALL_TIMEOUT must be shorter than PRICING_BREAKER_TIMEOUT"))
	}

	return cfg, errors.Join(errs...)
}

func LoadTrackerConfig() (TrackerConfig, error) {
	cfg := TrackerConfig{
		MetricsAddr:    ":2112",
		RedisAddr:      "localhost:6379",
		CompletedTopic: "ride-completed",
		LogLevel:       "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	} else {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	setStringFromEnv(&cfg.CompletedTopic, "KAFKA_RIDE_COMPLETED_TOPIC")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	return cfg, errors.Join(errs...)
}

func LoadSettlerConfig() (SettlerConfig, error) {
	cfg := SettlerConfig{
		MetricsAddr:    ":2113",
		CompletedTopic: "ride-completed",
		ConsumerGroup:  "billing-service",
		LogLevel:       "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	} else {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	setStringFromEnv(&cfg.CompletedTopic, "KAFKA_RIDE_COMPLETED_TOPIC")
	setStringFromEnv(&cfg.ConsumerGroup, "KAFKA_GROUP")
	cfg.BillingDSN = os.Getenv("PG_DSN")
	cfg.EnforceBalance = strings.EqualFold(os.Getenv("SETTLE_ENFORCE_BALANCE"), "true")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.BillingDSN == "" {
		errs = append(errs, fmt.Errorf("PG_DSN is required for settlement"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
