package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/trike-dispatch/internal/demand"
	"github.com/example/trike-dispatch/internal/dispatch"
	"github.com/example/trike-dispatch/internal/fare"
	"github.com/example/trike-dispatch/internal/geo"
	"github.com/example/trike-dispatch/internal/models"
	"github.com/example/trike-dispatch/internal/schedule"
	"github.com/example/trike-dispatch/internal/storage"
	"github.com/example/trike-dispatch/internal/trips"
)

func newTestServer() *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	idx := geo.NewMemoryIndex()
	eng := fare.NewEngine(nil, nil, "")
	return NewServer(logger, Deps{
		Geo:      idx,
		Store:    store,
		Trips:    &trips.Service{Store: store, Fares: eng, Logger: logger},
		Dispatch: &dispatch.Service{Store: store, Geo: idx, Logger: logger},
		Schedule: &schedule.Manager{Store: store, Fares: eng, Logger: logger},
		Demand:   &demand.Estimator{Store: store, Drivers: idx, Logger: logger},
		Fares:    eng,
		WSReg:    dispatch.NewWSRegistry(),
	})
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestQuoteEndpoint(t *testing.T) {
	srv := newTestServer()

	w := doJSON(t, srv, "POST", "/api/v1/quotes", map[string]any{"destination": "Poblacion", "discount": "senior"})
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var q fare.Quote
	decodeInto(t, w, &q)
	if q.Fare != 10 || q.Base != 13 || !q.Found {
		t.Fatalf("quote %+v", q)
	}
}

func TestTripFlowOverHTTP(t *testing.T) {
	srv := newTestServer()

	w := doJSON(t, srv, "POST", "/api/v1/trips", map[string]any{
		"passenger_id":  "p1",
		"pickup_label":  "SAN ISIDRO",
		"pickup":        map[string]float64{"lat": 10.305, "lon": 124.98},
		"dropoff_label": "SUGOD",
	})
	if w.Code != 201 {
		t.Fatalf("book status %d: %s", w.Code, w.Body.String())
	}
	var trip models.Trip
	decodeInto(t, w, &trip)
	if trip.Status != models.StatusSearching || trip.FinalFare != 20 {
		t.Fatalf("trip %+v", trip)
	}

	w = doJSON(t, srv, "GET", "/api/v1/dispatch/board?lat=10.305&lon=124.98", nil)
	if w.Code != 200 {
		t.Fatalf("board status %d", w.Code)
	}
	var board []dispatch.Candidate
	decodeInto(t, w, &board)
	if len(board) != 1 || board[0].Trip.ID != trip.ID || board[0].EtaMin < 1 {
		t.Fatalf("board %+v", board)
	}

	accept := map[string]string{"trip_id": trip.ID, "driver_id": "d1", "driver_name": "Ka Tony", "plate_number": "TRK-07"}
	w = doJSON(t, srv, "POST", "/api/v1/dispatch/accept", accept)
	if w.Code != 200 {
		t.Fatalf("accept status %d: %s", w.Code, w.Body.String())
	}

	accept["driver_id"] = "d2"
	if w = doJSON(t, srv, "POST", "/api/v1/dispatch/accept", accept); w.Code != 409 {
		t.Fatalf("second accept status %d, want 409", w.Code)
	}

	for _, step := range []string{"arrived", "start", "complete"} {
		w = doJSON(t, srv, "POST", "/api/v1/trips/"+trip.ID+"/"+step, map[string]string{"driver_id": "d1"})
		if w.Code != 200 {
			t.Fatalf("%s status %d: %s", step, w.Code, w.Body.String())
		}
	}
	var done models.Trip
	decodeInto(t, w, &done)
	if done.Status != models.StatusCompleted {
		t.Fatalf("final status %s", done.Status)
	}

	w = doJSON(t, srv, "POST", "/api/v1/trips/"+trip.ID+"/rating", map[string]any{"by": "passenger", "stars": 5, "feedback": "salamat"})
	if w.Code != 204 {
		t.Fatalf("rating status %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, "GET", "/api/v1/drivers/d1/rating", nil)
	var sum trips.RatingSummary
	decodeInto(t, w, &sum)
	if sum.Count != 1 || sum.Average != 5 {
		t.Fatalf("rating summary %+v", sum)
	}
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer()

	if w := doJSON(t, srv, "GET", "/api/v1/trips/missing", nil); w.Code != 404 {
		t.Fatalf("get missing: %d", w.Code)
	}
	if w := doJSON(t, srv, "POST", "/api/v1/trips", map[string]string{"passenger_id": "p1"}); w.Code != 400 {
		t.Fatalf("book without dropoff: %d", w.Code)
	}
	if w := doJSON(t, srv, "POST", "/api/v1/dispatch/accept", map[string]string{"trip_id": "missing", "driver_id": "d1"}); w.Code != 404 {
		t.Fatalf("accept missing: %d", w.Code)
	}
}

func TestScheduledFlowOverHTTP(t *testing.T) {
	srv := newTestServer()
	pickupAt := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)

	w := doJSON(t, srv, "POST", "/api/v1/scheduled", map[string]any{
		"passenger_id":  "p1",
		"dropoff_label": "POBLACION",
		"scheduled_at":  pickupAt.Format(time.RFC3339),
	})
	if w.Code != 201 {
		t.Fatalf("create status %d: %s", w.Code, w.Body.String())
	}
	var ride models.ScheduledRide
	decodeInto(t, w, &ride)

	w = doJSON(t, srv, "GET", "/api/v1/scheduled/available", nil)
	var avail []models.ScheduledRide
	decodeInto(t, w, &avail)
	if len(avail) != 1 {
		t.Fatalf("available %+v", avail)
	}

	w = doJSON(t, srv, "POST", "/api/v1/scheduled/"+ride.ID+"/claim", map[string]string{"driver_id": "d1"})
	if w.Code != 200 {
		t.Fatalf("claim status %d: %s", w.Code, w.Body.String())
	}
	if w = doJSON(t, srv, "POST", "/api/v1/scheduled/"+ride.ID+"/claim", map[string]string{"driver_id": "d2"}); w.Code != 409 {
		t.Fatalf("second claim status %d, want 409", w.Code)
	}

	w = doJSON(t, srv, "POST", "/api/v1/scheduled/"+ride.ID+"/cancel", map[string]string{"role": "driver", "driver_id": "d1"})
	if w.Code != 200 {
		t.Fatalf("driver cancel status %d: %s", w.Code, w.Body.String())
	}
	var reopened models.ScheduledRide
	decodeInto(t, w, &reopened)
	if reopened.Status != models.ScheduledOpen || reopened.DriverID != nil {
		t.Fatalf("not reopened: %+v", reopened)
	}

	w = doJSON(t, srv, "POST", "/api/v1/scheduled/"+ride.ID+"/cancel", map[string]string{"role": "passenger", "actor_id": "p1"})
	var cancelled models.ScheduledRide
	decodeInto(t, w, &cancelled)
	if cancelled.Status != models.ScheduledCancelled {
		t.Fatalf("not cancelled: %+v", cancelled)
	}
}

func TestDriverLocationLifecycle(t *testing.T) {
	srv := newTestServer()

	w := doJSON(t, srv, "POST", "/internal/driver/locations", map[string]any{
		"id":   "d1",
		"name": "Ka Tony",
		"loc":  map[string]float64{"lat": 10.305, "lon": 124.98},
	})
	if w.Code != 204 {
		t.Fatalf("upsert status %d", w.Code)
	}

	w = doJSON(t, srv, "GET", "/internal/drivers/online", nil)
	var online []models.Driver
	decodeInto(t, w, &online)
	if len(online) != 1 || online[0].ID != "d1" || !online[0].Online {
		t.Fatalf("online %+v", online)
	}

	req := httptest.NewRequest("DELETE", "/internal/driver/locations/d1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != 204 {
		t.Fatalf("offline status %d", rec.Code)
	}

	w = doJSON(t, srv, "GET", "/internal/drivers/online", nil)
	online = nil
	decodeInto(t, w, &online)
	if len(online) != 0 {
		t.Fatalf("still online: %+v", online)
	}
}

func TestDemandEndpoint(t *testing.T) {
	srv := newTestServer()

	w := doJSON(t, srv, "GET", "/api/v1/demand/suggestions", nil)
	if w.Code != 200 {
		t.Fatalf("status %d", w.Code)
	}
	// which zones appear depends on the wall-clock hour; only the
	// ranking contract is stable here
	var rows []demand.Suggestion
	decodeInto(t, w, &rows)
	for i := 1; i < len(rows); i++ {
		if rows[i].Demand > rows[i-1].Demand {
			t.Fatalf("not ranked: %+v", rows)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer()
	w := doJSON(t, srv, "GET", "/healthz", nil)
	if w.Code != 200 {
		t.Fatalf("status %d", w.Code)
	}
	if got := w.Body.String(); got != "ok" {
		t.Fatalf("body %q", got)
	}
}
