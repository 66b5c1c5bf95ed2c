// The consumer mirrors driver location pings from Kafka into the Redis
// geo index the API process reads. Running it separately keeps the API
// loop free of ingest backpressure.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/trike-dispatch/internal/logging"
	"github.com/example/trike-dispatch/internal/models"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trike_dispatch",
		Name:      "consumer_messages_consumed_total",
		Help:      "Driver location messages consumed",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trike_dispatch",
		Name:      "consumer_messages_invalid_total",
		Help:      "Messages that failed to decode",
	})
	indexUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trike_dispatch",
		Name:      "consumer_index_updates_total",
		Help:      "Successful driver index writes",
	})
	indexErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trike_dispatch",
		Name:      "consumer_index_errors_total",
		Help:      "Driver index writes that exhausted retries",
	})
)

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger(getenv("LOG_LEVEL", "info"))

	brokers := splitList(getenv("KAFKA_BROKERS", "localhost:9092"))
	topic := getenv("KAFKA_LOCATION_TOPIC", "driver-locations")
	group := getenv("KAFKA_GROUP", "trike-dispatch-consumer")
	geoKey := getenv("REDIS_GEO_KEY", "drivers_geo")

	rc := redis.NewClient(&redis.Options{
		Addr:     getenv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	sink := &redisSink{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer started", "topic", topic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down")
				return
			}
			logger.Warn("kafka read failed", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		var d models.Driver
		if err := json.Unmarshal(m.Value, &d); err != nil || d.ID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid location message", "err", err)
			continue
		}

		if err := mirrorWithRetry(ctx, sink, geoKey, &d, 3, 200*time.Millisecond); err != nil {
			indexErrors.Inc()
			logger.Error("driver index update failed", "driver_id", d.ID, "err", err)
			continue
		}
		indexUpdates.Inc()
	}
}

// IndexSink is the slice of redis the mirror needs; tests fake it.
type IndexSink interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisSink struct{ c *redis.Client }

func (r *redisSink) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	return r.c.GeoAdd(ctx, key, loc).Err()
}

func (r *redisSink) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

// mirrorWithRetry writes the position and the meta hash the API's
// RedisIndex reads back, retrying each ping a few times before giving
// it up. One lost ping is fine; the next arrives seconds later.
func mirrorWithRetry(ctx context.Context, sink IndexSink, geoKey string, d *models.Driver, attempts int, delay time.Duration) error {
	meta := map[string]interface{}{
		"name":    d.Name,
		"plate":   d.Plate,
		"rating":  fmt.Sprintf("%f", d.Rating),
		"online":  strconv.FormatBool(d.Online),
		"updated": time.Now().Format(time.RFC3339),
	}
	loc := &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		if err = sink.GeoAdd(ctx, geoKey, loc); err != nil {
			continue
		}
		if err = sink.HSet(ctx, "driver:meta:"+d.ID, meta); err != nil {
			continue
		}
		return nil
	}
	return err
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
