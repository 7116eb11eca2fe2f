package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// WebhookPush notifies a driver-app backend of ride assignments by
// POSTing JSON to a configured endpoint. Best-effort: callers log
// failures and move on.
type WebhookPush struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookPush(endpoint string) *WebhookPush {
	return &WebhookPush{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *WebhookPush) RideAssigned(ctx context.Context, ride models.Ride) error {
	payload := map[string]interface{}{
		"event":     "ride.assigned",
		"ride_id":   ride.ID,
		"driver_id": ride.DriverID,
		"pickup":    ride.Pickup,
		"dropoff":   ride.Dropoff,
		"price":     ride.Price,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint status %d", resp.StatusCode)
	}
	return nil
}
