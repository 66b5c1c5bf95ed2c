package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trike-dispatch/internal/models"
)

// TripEvent is the lifecycle record other systems consume: settlement,
// the franchise office's reports, the passenger app's live view.
type TripEvent struct {
	TripID   string            `json:"trip_id"`
	Status   models.TripStatus `json:"status"`
	DriverID string            `json:"driver_id,omitempty"`
	At       time.Time         `json:"at"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishLocation mirrors a driver ping onto the location topic, keyed
// by driver so each partition keeps per-driver order.
func (k *KafkaProducer) PublishLocation(d models.Driver) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(d)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(d.ID), Value: b})
}

// PublishTripEvent emits a lifecycle change keyed by trip.
func (k *KafkaProducer) PublishTripEvent(ctx context.Context, tripID string, status models.TripStatus, driverID string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(TripEvent{TripID: tripID, Status: status, DriverID: driverID, At: time.Now()})
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(tripID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
