package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-lifecycle/internal/breaker"
	"github.com/example/ride-lifecycle/internal/models"
)

// ErrUnavailable covers every pricing failure mode visible to callers:
// breaker open, dependency error, or timeout. A ride must never be
// created without a price, so callers treat this as fatal to creation.
var ErrUnavailable = errors.New("pricing unavailable")

type QuoteRequest struct {
	Pickup        models.Location `json:"pickup_location"`
	Dropoff       models.Location `json:"dropoff_location"`
	EstimatedTime time.Time       `json:"estimated_time"`
	RequestTime   time.Time       `json:"request_time"`
	Passengers    int             `json:"passenger_count,omitempty"`
}

type Quote struct {
	BasePrice       float64            `json:"base_price"`
	SurgeMultiplier float64            `json:"surge_multiplier"`
	FinalPrice      float64            `json:"final_price"`
	Currency        string             `json:"currency"`
	Components      map[string]float64 `json:"price_components"`
}

// Client fetches a fare quote from the external pricing dependency.
type Client interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// HTTPClient calls the fare-prediction HTTP service. Its own timeout is
// kept shorter than the guarding breaker's so the breaker's race never
// fires first.
type HTTPClient struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPClient{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Quote(ctx context.Context, qr QuoteRequest) (Quote, error) {
	body, err := json.Marshal(qr)
	if err != nil {
		return Quote{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("pricing service status %d", resp.StatusCode)
	}

	var q Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return Quote{}, err
	}
	if q.FinalPrice <= 0 {
		return Quote{}, fmt.Errorf("pricing service returned non-positive fare %f", q.FinalPrice)
	}
	if q.Currency == "" {
		q.Currency = "USD"
	}
	return q, nil
}

// Gateway guards a pricing client with a circuit breaker. The breaker
// instance is injected so each dependency can carry its own and tests
// can supply fakes.
type Gateway struct {
	client  Client
	breaker *breaker.Breaker
}

func NewGateway(client Client, b *breaker.Breaker) *Gateway {
	return &Gateway{client: client, breaker: b}
}

// Quote prices a trip through the breaker. All failures collapse to
// ErrUnavailable; the underlying cause stays in the wrapped chain for
// logging.
func (g *Gateway) Quote(ctx context.Context, qr QuoteRequest) (Quote, error) {
	var q Quote
	err := g.breaker.Do(ctx, func(cctx context.Context) error {
		var cerr error
		q, cerr = g.client.Quote(cctx, qr)
		return cerr
	})
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return q, nil
}
