package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/example/ride-lifecycle/internal/match"
	"github.com/example/ride-lifecycle/internal/models"
	"github.com/example/ride-lifecycle/internal/notify"
	"github.com/example/ride-lifecycle/internal/pricing"
	"github.com/example/ride-lifecycle/internal/storage"
)

type fakeDirectory struct {
	cands []models.DriverCandidate
}

func (f *fakeDirectory) FindCandidates(ctx context.Context, point models.Coord, radiusMiles float64) ([]models.DriverCandidate, error) {
	return f.cands, nil
}

type fakeQuoter struct {
	quote pricing.Quote
	err   error
}

func (f *fakeQuoter) Quote(ctx context.Context, req pricing.QuoteRequest) (pricing.Quote, error) {
	return f.quote, f.err
}

func newTestServer(dir *fakeDirectory, quoter *fakeQuoter) *Server {
	store := storage.NewMemoryStore()
	s := &Server{
		Matcher: &match.Service{
			Directory:   dir,
			Pricing:     quoter,
			Store:       store,
			RadiusMiles: 10,
		},
		Rides:  store,
		Hub:    notify.NewWSHub(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func rideRequestBody() string {
	return `{
		"customer_id": "cust-1",
		"pickup": {"latitude": 37.77, "longitude": -122.41, "address": "A"},
		"dropoff": {"latitude": 37.80, "longitude": -122.27, "address": "B"},
		"passenger_count": 1
	}`
}

func TestRideRequestCreated(t *testing.T) {
	dir := &fakeDirectory{cands: []models.DriverCandidate{
		{ID: "drv-1", Loc: models.Coord{Latitude: 37.78, Longitude: -122.41}, Available: true},
	}}
	quoter := &fakeQuoter{quote: pricing.Quote{FinalPrice: 12.5, Currency: "USD"}}
	srv := newTestServer(dir, quoter)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/rides/request", strings.NewReader(rideRequestBody())))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var ride models.Ride
	if err := json.Unmarshal(rec.Body.Bytes(), &ride); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ride.DriverID != "drv-1" {
		t.Fatalf("driver = %q, want drv-1", ride.DriverID)
	}
	if ride.Price != 12.5 {
		t.Fatalf("price = %v, want 12.5", ride.Price)
	}

	// Ride should be retrievable by id.
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/rides/"+ride.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
}

func TestRideRequestBadBody(t *testing.T) {
	srv := newTestServer(&fakeDirectory{}, &fakeQuoter{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/rides/request", strings.NewReader("{nope")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRideRequestValidationError(t *testing.T) {
	srv := newTestServer(&fakeDirectory{}, &fakeQuoter{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/rides/request",
		strings.NewReader(`{"pickup": {"latitude": 1, "longitude": 1}, "dropoff": {"latitude": 2, "longitude": 2}}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRideRequestNoDrivers(t *testing.T) {
	srv := newTestServer(&fakeDirectory{}, &fakeQuoter{quote: pricing.Quote{FinalPrice: 10, Currency: "USD"}})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/rides/request", strings.NewReader(rideRequestBody())))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRideRequestPricingDown(t *testing.T) {
	dir := &fakeDirectory{cands: []models.DriverCandidate{
		{ID: "drv-1", Loc: models.Coord{Latitude: 37.78, Longitude: -122.41}, Available: true},
	}}
	srv := newTestServer(dir, &fakeQuoter{err: pricing.ErrUnavailable})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/rides/request", strings.NewReader(rideRequestBody())))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestGetRideNotFound(t *testing.T) {
	srv := newTestServer(&fakeDirectory{}, &fakeQuoter{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/rides/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCancelRide(t *testing.T) {
	dir := &fakeDirectory{cands: []models.DriverCandidate{
		{ID: "drv-1", Loc: models.Coord{Latitude: 37.78, Longitude: -122.41}, Available: true},
	}}
	srv := newTestServer(dir, &fakeQuoter{quote: pricing.Quote{FinalPrice: 10, Currency: "USD"}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/rides/request", strings.NewReader(rideRequestBody())))
	var ride models.Ride
	if err := json.Unmarshal(rec.Body.Bytes(), &ride); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/rides/"+ride.ID+"/cancel", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", rec.Code)
	}

	got, err := srv.Rides.Get(context.Background(), ride.ID)
	if err != nil {
		t.Fatalf("get after cancel: %v", err)
	}
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", got.Status)
	}
}

func TestSimulateWithoutChannel(t *testing.T) {
	srv := newTestServer(&fakeDirectory{}, &fakeQuoter{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/rides/any/simulate", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestWalletEndpointsUnconfigured(t *testing.T) {
	srv := newTestServer(&fakeDirectory{}, &fakeQuoter{})
	for _, tc := range []struct{ method, path string }{
		{"GET", "/api/v1/wallets/customer/cust-1"},
		{"POST", "/api/v1/wallets/customer/topup"},
		{"POST", "/api/v1/wallets/driver/withdraw"},
		{"POST", "/api/v1/wallets/customer/check"},
	} {
		rec := httptest.NewRecorder()
		var body io.Reader
		if tc.method == "POST" {
			body = strings.NewReader(`{"owner_id":"cust-1","amount":5}`)
		}
		srv.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, body))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s status = %d, want 503", tc.method, tc.path, rec.Code)
		}
	}
}

func TestWSRejectsPlainHTTP(t *testing.T) {
	srv := newTestServer(&fakeDirectory{}, &fakeQuoter{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/ws/rides/r1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 from the upgrader", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); strings.Contains(ct, "json") {
		t.Fatalf("handler wrote its own body after the upgrader's response: %s", ct)
	}
}

func TestDuplicateRequestReturnsExistingRide(t *testing.T) {
	dir := &fakeDirectory{cands: []models.DriverCandidate{
		{ID: "drv-1", Loc: models.Coord{Latitude: 37.78, Longitude: -122.41}, Available: true},
	}}
	srv := newTestServer(dir, &fakeQuoter{quote: pricing.Quote{FinalPrice: 10, Currency: "USD"}})

	body := `{
		"request_id": "req-42",
		"customer_id": "cust-1",
		"pickup": {"latitude": 37.77, "longitude": -122.41},
		"dropoff": {"latitude": 37.80, "longitude": -122.27}
	}`

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/rides/request", strings.NewReader(body)))
	var first models.Ride
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode first: %v", err)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/rides/request", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", rec.Code)
	}
	var second models.Ride
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay created a new ride: %s != %s", second.ID, first.ID)
	}
}
