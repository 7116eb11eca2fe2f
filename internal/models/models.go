package models

import "time"

// Coord is a plain latitude/longitude pair.
type Coord struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Location is a coordinate plus the human-readable address carried on
// ride payloads and copied onto bills at settlement time.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

func (l Location) Coord() Coord { return Coord{Latitude: l.Latitude, Longitude: l.Longitude} }

// Ride lifecycle statuses.
const (
	StatusRequested  = "requested"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

type RideRequest struct {
	RequestID  string    `json:"request_id"`
	CustomerID string    `json:"customer_id"`
	Pickup     Location  `json:"pickup"`
	Dropoff    Location  `json:"dropoff"`
	DateTime   time.Time `json:"date_time"`
	Passengers int       `json:"passenger_count"`
}

type Ride struct {
	ID              string    `json:"id"`
	RequestID       string    `json:"request_id,omitempty"`
	CustomerID      string    `json:"customer_id"`
	DriverID        string    `json:"driver_id,omitempty"` // empty until assigned
	Pickup          Location  `json:"pickup"`
	Dropoff         Location  `json:"dropoff"`
	RequestedAt     time.Time `json:"requested_at"`
	Price           float64   `json:"price"`
	Currency        string    `json:"currency"`
	DistanceCovered float64   `json:"distance_covered"` // miles from pickup
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DriverCandidate is the matching-time view of a driver from the
// directory; discarded once a driver is selected.
type DriverCandidate struct {
	ID        string  `json:"id"`
	Loc       Coord   `json:"loc"`
	Rating    float64 `json:"rating"` // 0..5
	Available bool    `json:"available"`
}

// LocationUpdate is one message on the per-ride location channel.
type LocationUpdate struct {
	RideID    string `json:"rideId"`
	Location  Coord  `json:"location"`
	Timestamp int64  `json:"timestamp"` // unix millis
	Last      bool   `json:"last"`
}

type Wallet struct {
	OwnerID string  `json:"owner_id"`
	Balance float64 `json:"balance"`
}

// Bill is the immutable settlement receipt for one completed ride.
type Bill struct {
	ID              int64     `json:"bill_id"`
	RideID          string    `json:"ride_id"`
	Date            time.Time `json:"date"`
	PickupTime      time.Time `json:"pickup_time"`
	DropoffTime     time.Time `json:"dropoff_time"`
	DistanceCovered float64   `json:"distance_covered"`
	TotalAmount     float64   `json:"total_amount"`
	PickupAddress   string    `json:"pickup_address"`
	DropoffAddress  string    `json:"dropoff_address"`
	DriverID        string    `json:"driver_id"`
	CustomerID      string    `json:"customer_id"`
	Status          string    `json:"status"`
}
