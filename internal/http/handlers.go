package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/trike-dispatch/internal/demand"
	"github.com/example/trike-dispatch/internal/dispatch"
	"github.com/example/trike-dispatch/internal/fare"
	"github.com/example/trike-dispatch/internal/geo"
	"github.com/example/trike-dispatch/internal/ingest"
	"github.com/example/trike-dispatch/internal/models"
	"github.com/example/trike-dispatch/internal/observability"
	"github.com/example/trike-dispatch/internal/schedule"
	"github.com/example/trike-dispatch/internal/storage"
	"github.com/example/trike-dispatch/internal/trips"
)

// Deps is everything the API surface talks to. Only Store, Trips and
// Fares are required; the rest degrade to 404s or no-ops when absent.
type Deps struct {
	Geo       geo.Index
	Store     storage.Store
	Trips     *trips.Service
	Dispatch  *dispatch.Service
	Schedule  *schedule.Manager
	Demand    *demand.Estimator
	Fares     *fare.Engine
	Locations *ingest.KafkaProducer
	WSReg     *dispatch.WSRegistry
}

type Server struct {
	Geo       geo.Index
	Store     storage.Store
	Trips     *trips.Service
	Dispatch  *dispatch.Service
	Schedule  *schedule.Manager
	Demand    *demand.Estimator
	Fares     *fare.Engine
	Locations *ingest.KafkaProducer
	WSReg     *dispatch.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, d Deps) *Server {
	s := &Server{
		Geo:       d.Geo,
		Store:     d.Store,
		Trips:     d.Trips,
		Dispatch:  d.Dispatch,
		Schedule:  d.Schedule,
		Demand:    d.Demand,
		Fares:     d.Fares,
		Locations: d.Locations,
		WSReg:     d.WSReg,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/quotes", s.handleQuote).Methods("POST")

	api.HandleFunc("/trips", s.handleBookTrip).Methods("POST")
	api.HandleFunc("/trips/{trip_id}", s.handleGetTrip).Methods("GET")
	api.HandleFunc("/trips/{trip_id}/cancel", s.handleCancelTrip).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/arrived", s.handleTripArrived).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/start", s.handleTripStart).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/complete", s.handleTripComplete).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/rating", s.handleTripRating).Methods("POST")

	api.HandleFunc("/passengers/{passenger_id}/trips", s.handlePassengerTrips).Methods("GET")
	api.HandleFunc("/passengers/{passenger_id}/scheduled", s.handlePassengerScheduled).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/trips", s.handleDriverTrips).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/rating", s.handleDriverRating).Methods("GET")

	api.HandleFunc("/dispatch/board", s.handleDispatchBoard).Methods("GET")
	api.HandleFunc("/dispatch/accept", s.handleDispatchAccept).Methods("POST")

	api.HandleFunc("/scheduled", s.handleCreateScheduled).Methods("POST")
	api.HandleFunc("/scheduled/available", s.handleScheduledAvailable).Methods("GET")
	api.HandleFunc("/scheduled/{ride_id}", s.handleGetScheduled).Methods("GET")
	api.HandleFunc("/scheduled/{ride_id}/claim", s.handleClaimScheduled).Methods("POST")
	api.HandleFunc("/scheduled/{ride_id}/cancel", s.handleCancelScheduled).Methods("POST")
	api.HandleFunc("/scheduled/{ride_id}/complete", s.handleCompleteScheduled).Methods("POST")

	api.HandleFunc("/demand/suggestions", s.handleDemandSuggestions).Methods("GET")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/internal/driver/locations/{driver_id}", s.handleDriverOffline).Methods("DELETE")
	s.mux.HandleFunc("/internal/drivers/online", s.handleDriversOnline).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type quoteRequest struct {
	Destination string  `json:"destination"`
	DistanceKm  float64 `json:"distance_km"`
	Discount    string  `json:"discount"`
	Errand      bool    `json:"errand"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	q := s.Fares.Quote(fare.Request{
		Destination: req.Destination,
		DistanceKm:  req.DistanceKm,
		Night:       fare.IsNightHour(time.Now().Hour()),
		Senior:      req.Discount == string(models.DiscountSenior),
		PWD:         req.Discount == string(models.DiscountPWD),
		Errand:      req.Errand,
	})
	observability.QuotesTotal.WithLabelValues(q.Source).Inc()
	s.writeJSON(w, 200, q)
}

type bookTripRequest struct {
	PassengerID   string        `json:"passenger_id"`
	PassengerName string        `json:"passenger_name"`
	PickupLabel   string        `json:"pickup_label"`
	Pickup        *models.Coord `json:"pickup"`
	DropoffLabel  string        `json:"dropoff_label"`
	Dropoff       *models.Coord `json:"dropoff"`
	DistanceKm    float64       `json:"distance_km"`
	Mode          string        `json:"mode"`
	Discount      string        `json:"discount"`
	PaymentMethod string        `json:"payment_method"`
	Notes         string        `json:"notes"`
}

func (s *Server) handleBookTrip(w http.ResponseWriter, r *http.Request) {
	var req bookTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	trip, err := s.Trips.Book(r.Context(), trips.Request{
		PassengerID:   req.PassengerID,
		PassengerName: req.PassengerName,
		PickupLabel:   req.PickupLabel,
		Pickup:        req.Pickup,
		DropoffLabel:  req.DropoffLabel,
		Dropoff:       req.Dropoff,
		DistanceKm:    req.DistanceKm,
		Mode:          models.RideMode(req.Mode),
		DiscountType:  models.DiscountType(req.Discount),
		PaymentMethod: models.PaymentMethod(req.PaymentMethod),
		Notes:         req.Notes,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.Dispatch != nil {
		s.Dispatch.Announce(trip)
	}
	s.writeJSON(w, 201, trip)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.Store.GetTrip(r.Context(), mux.Vars(r)["trip_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, trip)
}

type actorRequest struct {
	Role     string `json:"role"`
	ActorID  string `json:"actor_id"`
	DriverID string `json:"driver_id"`
}

func (s *Server) handleCancelTrip(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	role := models.Role(req.Role)
	if role == "" {
		role = models.RolePassenger
	}
	actor := req.ActorID
	if actor == "" {
		actor = req.DriverID
	}
	trip, err := s.Trips.Cancel(r.Context(), mux.Vars(r)["trip_id"], role, actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, trip)
}

func (s *Server) handleTripArrived(w http.ResponseWriter, r *http.Request) {
	s.driverAction(w, r, s.Trips.MarkArrived)
}

func (s *Server) handleTripStart(w http.ResponseWriter, r *http.Request) {
	s.driverAction(w, r, s.Trips.Start)
}

func (s *Server) handleTripComplete(w http.ResponseWriter, r *http.Request) {
	s.driverAction(w, r, s.Trips.Complete)
}

func (s *Server) driverAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tripID, driverID string) (*models.Trip, error)) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	trip, err := fn(r.Context(), mux.Vars(r)["trip_id"], req.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, trip)
}

type ratingRequest struct {
	By       string `json:"by"`
	Stars    int    `json:"stars"`
	Feedback string `json:"feedback"`
}

func (s *Server) handleTripRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	by := models.Role(req.By)
	if by == "" {
		by = models.RolePassenger
	}
	if err := s.Trips.SubmitRating(r.Context(), mux.Vars(r)["trip_id"], by, req.Stars, req.Feedback); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(204)
}

func (s *Server) handlePassengerTrips(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Store.ListByPassenger(r.Context(), mux.Vars(r)["passenger_id"], queryLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, rows)
}

func (s *Server) handleDriverTrips(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Store.ListByDriver(r.Context(), mux.Vars(r)["driver_id"], queryLimit(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, rows)
}

func (s *Server) handleDriverRating(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Trips.DriverRating(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, sum)
}

func (s *Server) handleDispatchBoard(w http.ResponseWriter, r *http.Request) {
	var at *models.Coord
	if lat, lon, ok := queryCoord(r); ok {
		at = &models.Coord{Lat: lat, Lon: lon}
	}
	board, err := s.Dispatch.Board(r.Context(), at)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, board)
}

type acceptRequest struct {
	TripID      string `json:"trip_id"`
	DriverID    string `json:"driver_id"`
	DriverName  string `json:"driver_name"`
	PlateNumber string `json:"plate_number"`
}

func (s *Server) handleDispatchAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.TripID == "" || req.DriverID == "" {
		http.Error(w, "trip_id and driver_id required", 400)
		return
	}
	trip, err := s.Dispatch.Accept(r.Context(), req.TripID, models.Assignment{
		DriverID:    req.DriverID,
		DriverName:  req.DriverName,
		PlateNumber: req.PlateNumber,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, trip)
}

type scheduledRequest struct {
	PassengerID   string        `json:"passenger_id"`
	PassengerName string        `json:"passenger_name"`
	PickupLabel   string        `json:"pickup_label"`
	Pickup        *models.Coord `json:"pickup"`
	DropoffLabel  string        `json:"dropoff_label"`
	Dropoff       *models.Coord `json:"dropoff"`
	Discount      string        `json:"discount"`
	Notes         string        `json:"notes"`
	ScheduledAt   time.Time     `json:"scheduled_at"`
}

func (s *Server) handleCreateScheduled(w http.ResponseWriter, r *http.Request) {
	var req scheduledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	ride, err := s.Schedule.Create(r.Context(), schedule.Request{
		PassengerID:   req.PassengerID,
		PassengerName: req.PassengerName,
		PickupLabel:   req.PickupLabel,
		Pickup:        req.Pickup,
		DropoffLabel:  req.DropoffLabel,
		Dropoff:       req.Dropoff,
		DiscountType:  models.DiscountType(req.Discount),
		Notes:         req.Notes,
		ScheduledAt:   req.ScheduledAt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 201, ride)
}

func (s *Server) handleScheduledAvailable(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Schedule.Available(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, rows)
}

func (s *Server) handleGetScheduled(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Schedule.Get(r.Context(), mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, ride)
}

func (s *Server) handlePassengerScheduled(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Schedule.ListForPassenger(r.Context(), mux.Vars(r)["passenger_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, rows)
}

func (s *Server) handleClaimScheduled(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.DriverID == "" {
		http.Error(w, "driver_id required", 400)
		return
	}
	ride, err := s.Schedule.Claim(r.Context(), mux.Vars(r)["ride_id"], models.Assignment{
		DriverID:    req.DriverID,
		DriverName:  req.DriverName,
		PlateNumber: req.PlateNumber,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, ride)
}

func (s *Server) handleCancelScheduled(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	id := mux.Vars(r)["ride_id"]
	var (
		ride *models.ScheduledRide
		err  error
	)
	if models.Role(req.Role) == models.RoleDriver {
		ride, err = s.Schedule.CancelByDriver(r.Context(), id, firstNonEmpty(req.DriverID, req.ActorID))
	} else {
		ride, err = s.Schedule.CancelByPassenger(r.Context(), id, req.ActorID)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, ride)
}

func (s *Server) handleCompleteScheduled(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	ride, err := s.Schedule.Complete(r.Context(), mux.Vars(r)["ride_id"], req.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, ride)
}

func (s *Server) handleDemandSuggestions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Demand.Suggestions(r.Context(), time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, 200, rows)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if d.ID == "" {
		http.Error(w, "id required", 400)
		return
	}
	d.Online = true
	// publish to kafka if configured
	if s.Locations != nil {
		_ = s.Locations.PublishLocation(d)
	}
	s.Geo.Upsert(d)
	observability.DriversOnline.Set(float64(len(s.Geo.ListOnline())))
	w.WriteHeader(204)
}

func (s *Server) handleDriverOffline(w http.ResponseWriter, r *http.Request) {
	s.Geo.Remove(mux.Vars(r)["driver_id"])
	observability.DriversOnline.Set(float64(len(s.Geo.ListOnline())))
	w.WriteHeader(204)
}

func (s *Server) handleDriversOnline(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, 200, s.Geo.ListOnline())
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", 400)
		return
	}
	s.WSReg.Add(id, conn)
	go func() {
		defer func() {
			s.WSReg.Remove(id)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "not found", 404)
	case errors.Is(err, dispatch.ErrAlreadyTaken), errors.Is(err, storage.ErrAlreadyClaimed):
		http.Error(w, "already taken", 409)
	case errors.Is(err, storage.ErrTerminal),
		errors.Is(err, trips.ErrInvalidTransition),
		errors.Is(err, trips.ErrNotCompleted):
		http.Error(w, err.Error(), 409)
	case errors.Is(err, trips.ErrNotAssigned):
		http.Error(w, err.Error(), 403)
	case errors.Is(err, trips.ErrBadRequest),
		errors.Is(err, trips.ErrBadRating),
		errors.Is(err, schedule.ErrBadRequest),
		errors.Is(err, schedule.ErrPastDate):
		http.Error(w, err.Error(), 400)
	default:
		s.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", 500)
	}
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func queryCoord(r *http.Request) (lat, lon float64, ok bool) {
	q := r.URL.Query()
	latS, lonS := q.Get("lat"), q.Get("lon")
	if latS == "" || lonS == "" {
		return 0, 0, false
	}
	lat, errLat := strconv.ParseFloat(latS, 64)
	lon, errLon := strconv.ParseFloat(lonS, 64)
	if errLat != nil || errLon != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
