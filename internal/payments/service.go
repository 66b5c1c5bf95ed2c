package payments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/trike-dispatch/internal/models"
)

// Cards is the processor surface the settlement flow needs. StripeClient
// implements it.
type Cards interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// Recorder persists payment outcomes on the trip record.
type Recorder interface {
	SetPayment(ctx context.Context, tripID string, method models.PaymentMethod, status models.PaymentStatus, ref string) error
}

const currency = "php"

// Service settles trip fares. Cash and GCash change hands in the
// tricycle, so they just get marked paid on completion. Card fares go
// through hold-at-start, capture-on-complete; a cancelled card trip
// releases the hold.
type Service struct {
	Processor Cards // optional; without one card trips settle like cash
	Store     Recorder
	Logger    *slog.Logger
}

func (s *Service) Hold(ctx context.Context, t *models.Trip) error {
	if t.PaymentMethod != models.PayCard || s.Processor == nil {
		return nil
	}
	ref, err := s.Processor.Hold(ctx, t.FinalFare*100, currency, "")
	if err != nil {
		return fmt.Errorf("hold fare: %w", err)
	}
	if err := s.Store.SetPayment(ctx, t.ID, t.PaymentMethod, models.PaymentPending, ref); err != nil {
		return err
	}
	s.log().Info("fare held", "trip_id", t.ID, "ref", ref, "amount", t.FinalFare)
	return nil
}

func (s *Service) Settle(ctx context.Context, t *models.Trip) error {
	if t.PaymentMethod == models.PayCard && s.Processor != nil && t.PaymentRef != "" {
		if err := s.Processor.Capture(ctx, t.PaymentRef); err != nil {
			return fmt.Errorf("capture fare: %w", err)
		}
	}
	if err := s.Store.SetPayment(ctx, t.ID, t.PaymentMethod, models.PaymentPaid, t.PaymentRef); err != nil {
		return err
	}
	s.log().Info("fare settled", "trip_id", t.ID, "method", t.PaymentMethod, "amount", t.FinalFare)
	return nil
}

func (s *Service) Release(ctx context.Context, t *models.Trip) error {
	if t.PaymentMethod != models.PayCard || s.Processor == nil || t.PaymentRef == "" {
		return nil
	}
	if err := s.Processor.Cancel(ctx, t.PaymentRef); err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	s.log().Info("hold released", "trip_id", t.ID, "ref", t.PaymentRef)
	return nil
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
