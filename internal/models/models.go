package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// TripStatus is the lifecycle state of an on-demand trip.
type TripStatus string

const (
	StatusPending        TripStatus = "pending"
	StatusSearching      TripStatus = "searching"
	StatusDriverFound    TripStatus = "driver_found"
	StatusDriverAccepted TripStatus = "driver_accepted"
	StatusArrived        TripStatus = "arrived"
	StatusInProgress     TripStatus = "in_progress"
	StatusCompleted      TripStatus = "completed"
	StatusCancelled      TripStatus = "cancelled"
)

// allowedTransitions is the forward edge set of the trip lifecycle.
// Cancellation is handled separately: legal from any non-terminal state.
// Pending rides sit on the candidate board next to searching ones, so a
// driver may claim them directly.
var allowedTransitions = map[TripStatus][]TripStatus{
	StatusPending:        {StatusSearching, StatusDriverFound, StatusDriverAccepted},
	StatusSearching:      {StatusDriverFound, StatusDriverAccepted},
	StatusDriverFound:    {StatusDriverAccepted},
	StatusDriverAccepted: {StatusArrived, StatusInProgress},
	StatusArrived:        {StatusInProgress},
	StatusInProgress:     {StatusCompleted},
}

// statusRank orders statuses along the happy path; the lifecycle only
// ever moves to a higher rank (or to cancelled).
var statusRank = map[TripStatus]int{
	StatusPending:        0,
	StatusSearching:      1,
	StatusDriverFound:    2,
	StatusDriverAccepted: 3,
	StatusArrived:        4,
	StatusInProgress:     5,
	StatusCompleted:      6,
}

func (s TripStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Dispatchable reports whether a trip in this status may appear on the
// driver candidate board.
func (s TripStatus) Dispatchable() bool {
	return s == StatusSearching || s == StatusPending
}

// Rank returns the happy-path position of s, or -1 for cancelled.
func (s TripStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to TripStatus) bool {
	if to == StatusCancelled {
		return !from.Terminal()
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// HasDriver reports whether a trip in this status must carry a driver
// assignment. The inverse also holds: outside these states driver fields
// stay empty.
func HasDriver(s TripStatus) bool {
	switch s {
	case StatusDriverAccepted, StatusArrived, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// ScheduledStatus is the lifecycle state of a future-dated booking.
type ScheduledStatus string

const (
	ScheduledOpen      ScheduledStatus = "scheduled"
	ScheduledAccepted  ScheduledStatus = "accepted"
	ScheduledCompleted ScheduledStatus = "completed"
	ScheduledCancelled ScheduledStatus = "cancelled"
)

func (s ScheduledStatus) Terminal() bool {
	return s == ScheduledCompleted || s == ScheduledCancelled
}

type DiscountType string

const (
	DiscountNone   DiscountType = ""
	DiscountSenior DiscountType = "senior"
	DiscountPWD    DiscountType = "pwd"
)

type RideMode string

const (
	ModeNormal RideMode = "normal"
	ModeErrand RideMode = "errand"
)

// Role identifies which side of a trip an actor is on, for cancels and
// rating submissions.
type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
)

type PaymentMethod string

const (
	PayCash  PaymentMethod = "cash"
	PayGCash PaymentMethod = "gcash"
	PayCard  PaymentMethod = "card"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// Trip is the canonical trip record. Inbound request shapes are
// normalized into this struct at the HTTP boundary; every layer below
// works with it only.
type Trip struct {
	ID            string `json:"id"`
	PassengerID   string `json:"passenger_id"`
	PassengerName string `json:"passenger_name,omitempty"`

	// Driver assignment; nil/empty until a driver claims the trip.
	DriverID    *string `json:"driver_id,omitempty"`
	DriverName  string  `json:"driver_name,omitempty"`
	PlateNumber string  `json:"plate_number,omitempty"`

	PickupLabel  string   `json:"pickup_label"`
	Pickup       *Coord   `json:"pickup,omitempty"`
	DropoffLabel string   `json:"dropoff_label"`
	Dropoff      *Coord   `json:"dropoff,omitempty"`
	DistanceKm   *float64 `json:"distance_km,omitempty"`

	// Fare quote components, whole pesos.
	BaseFare       int64        `json:"base_fare"`
	DiscountAmount int64        `json:"discount_amount"`
	DiscountType   DiscountType `json:"discount_type,omitempty"`
	FinalFare      int64        `json:"final_fare"`
	Mode           RideMode     `json:"mode"`
	Notes          string       `json:"notes,omitempty"`

	Status      TripStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
	PaymentRef    string        `json:"payment_ref,omitempty"`

	// DriverRating is the passenger's 1..5 rating of the driver;
	// PassengerRating the reverse.
	DriverRating      *int   `json:"driver_rating,omitempty"`
	PassengerRating   *int   `json:"passenger_rating,omitempty"`
	DriverFeedback    string `json:"driver_feedback,omitempty"`
	PassengerFeedback string `json:"passenger_feedback,omitempty"`
}

// Assignment carries the driver identity and display fields that are
// written atomically when a driver claims a trip.
type Assignment struct {
	DriverID    string `json:"driver_id"`
	DriverName  string `json:"driver_name"`
	PlateNumber string `json:"plate_number"`
}

// ScheduledRide is a future-dated booking. It shares the trip's fare and
// location shape but runs a smaller lifecycle of its own.
type ScheduledRide struct {
	ID            string `json:"id"`
	PassengerID   string `json:"passenger_id"`
	PassengerName string `json:"passenger_name,omitempty"`

	DriverID    *string `json:"driver_id,omitempty"`
	DriverName  string  `json:"driver_name,omitempty"`
	PlateNumber string  `json:"plate_number,omitempty"`

	PickupLabel  string `json:"pickup_label"`
	Pickup       *Coord `json:"pickup,omitempty"`
	DropoffLabel string `json:"dropoff_label"`
	Dropoff      *Coord `json:"dropoff,omitempty"`

	BaseFare       int64        `json:"base_fare"`
	DiscountAmount int64        `json:"discount_amount"`
	DiscountType   DiscountType `json:"discount_type,omitempty"`
	FinalFare      int64        `json:"final_fare"`
	Notes          string       `json:"notes,omitempty"`

	ScheduledAt time.Time       `json:"scheduled_at"`
	Status      ScheduledStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Driver is the location-index view of a driver: position plus the
// display metadata mirrored alongside it.
type Driver struct {
	ID      string    `json:"id"`
	Name    string    `json:"name,omitempty"`
	Plate   string    `json:"plate,omitempty"`
	Loc     Coord     `json:"loc"`
	Rating  float64   `json:"rating"` // 0..5
	Online  bool      `json:"online"`
	Updated time.Time `json:"updated"`
}
