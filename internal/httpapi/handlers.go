package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/ride-lifecycle/internal/billing"
	"github.com/example/ride-lifecycle/internal/match"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/pricing"
	"github.com/example/ride-lifecycle/internal/storage"
)

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ride, err := s.Matcher.CreateRide(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, ride)
	case errors.Is(err, match.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, match.ErrNoDriversAvailable):
		writeError(w, http.StatusServiceUnavailable, "no drivers available")
	case errors.Is(err, pricing.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "pricing unavailable")
	default:
		s.logger.Error("ride creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["ride_id"]
	ride, err := s.Rides.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ride not found")
		return
	}
	if err != nil {
		s.logger.Error("ride lookup failed", "ride_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if s.Simulator == nil {
		writeError(w, http.StatusServiceUnavailable, "simulation requires the location channel")
		return
	}
	id := mux.Vars(r)["ride_id"]
	ride, err := s.Rides.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ride not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Detached from the request: the simulation outlives this call and
	// streams through the location channel like a real GPS feed would.
	go func() {
		if err := s.Simulator.Run(context.Background(), ride.ID, ride.Pickup.Coord(), ride.Dropoff.Coord()); err != nil {
			s.logger.Error("ride simulation aborted", "ride_id", ride.ID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "ride simulation started"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["ride_id"]
	err := s.Rides.Cancel(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ride not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusCancelled})
}

type walletRequest struct {
	OwnerID    string  `json:"owner_id"`
	Amount     float64 `json:"amount"`
	CardFunded bool    `json:"card_funded,omitempty"`
	Currency   string  `json:"currency,omitempty"`
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	if s.Billing == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	vars := mux.Vars(r)
	balance, err := s.Billing.Balance(r.Context(), vars["kind"], vars["owner_id"])
	if errors.Is(err, billing.ErrWalletNotFound) {
		writeError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.Wallet{OwnerID: vars["owner_id"], Balance: balance})
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	if s.Billing == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "owner_id and positive amount required")
		return
	}

	// Card-funded top-ups hold the card amount first and only capture
	// once the wallet credit lands; a failed credit releases the hold.
	var holdID string
	if req.CardFunded {
		currency := req.Currency
		if currency == "" {
			currency = "usd"
		}
		var err error
		holdID, err = s.Funder.Hold(r.Context(), int64(req.Amount*100), currency, req.OwnerID)
		if err != nil {
			s.logger.Error("card hold failed", "owner_id", req.OwnerID, "error", err)
			writeError(w, http.StatusBadGateway, "card funding failed")
			return
		}
	}

	balance, err := s.Billing.TopUp(r.Context(), billing.CustomerWallet, req.OwnerID, req.Amount)
	if err != nil {
		if holdID != "" {
			if cerr := s.Funder.Cancel(r.Context(), holdID); cerr != nil {
				s.logger.Error("hold release failed", "owner_id", req.OwnerID, "hold_id", holdID, "error", cerr)
			}
		}
		if errors.Is(err, billing.ErrWalletNotFound) {
			writeError(w, http.StatusNotFound, "wallet not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if holdID != "" {
		if err := s.Funder.Capture(r.Context(), holdID); err != nil {
			// The wallet is credited; surface the capture failure but
			// do not claw the credit back here.
			s.logger.Error("card capture failed", "owner_id", req.OwnerID, "hold_id", holdID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, models.Wallet{OwnerID: req.OwnerID, Balance: balance})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if s.Billing == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "owner_id and positive amount required")
		return
	}
	balance, err := s.Billing.Withdraw(r.Context(), billing.DriverWallet, req.OwnerID, req.Amount)
	switch {
	case errors.Is(err, billing.ErrWalletNotFound):
		writeError(w, http.StatusNotFound, "wallet not found")
	case errors.Is(err, billing.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, "insufficient balance")
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, models.Wallet{OwnerID: req.OwnerID, Balance: balance})
	}
}

func (s *Server) handleWalletCheck(w http.ResponseWriter, r *http.Request) {
	if s.Billing == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OwnerID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "owner_id and positive amount required")
		return
	}
	ok, balance, err := s.Billing.CanAfford(r.Context(), req.OwnerID, req.Amount)
	if errors.Is(err, billing.ErrWalletNotFound) {
		writeError(w, http.StatusNotFound, "wallet not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"can_afford": ok, "balance": balance})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["ride_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its error response.
		return
	}
	s.Hub.Add(id, conn)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
