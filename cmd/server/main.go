package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/example/trike-dispatch/internal/config"
	"github.com/example/trike-dispatch/internal/demand"
	"github.com/example/trike-dispatch/internal/dispatch"
	"github.com/example/trike-dispatch/internal/fare"
	"github.com/example/trike-dispatch/internal/geo"
	httpapi "github.com/example/trike-dispatch/internal/http"
	"github.com/example/trike-dispatch/internal/ingest"
	"github.com/example/trike-dispatch/internal/logging"
	"github.com/example/trike-dispatch/internal/payments"
	"github.com/example/trike-dispatch/internal/schedule"
	"github.com/example/trike-dispatch/internal/storage"
	"github.com/example/trike-dispatch/internal/trips"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("config", "err", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stores: Postgres when a DSN is set, in-memory otherwise
	var (
		store storage.Store
		rates []fare.BarangayRate
	)
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect", "err", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := applyMigration(pg, filepath.Join("migrations", "001_create_trips.sql")); err != nil {
				logger.Error("migrate", "err", err)
				os.Exit(1)
			}
			logger.Info("migration applied", "file", "001_create_trips.sql")
		}
		if err := pg.EnsureSeeded(ctx); err != nil {
			logger.Error("seed rates", "err", err)
			os.Exit(1)
		}
		if rates, err = pg.LoadBarangayRates(ctx); err != nil {
			logger.Error("load rates", "err", err)
			os.Exit(1)
		}
		store = pg
	} else {
		logger.Warn("PG_DSN unset, using in-memory store")
		store = storage.NewMemoryStore()
	}

	engine := fare.NewEngine(nil, rates, cfg.FareOriginPrefix)

	var index geo.Index
	if cfg.RedisAddr != "" {
		index = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		logger.Warn("REDIS_ADDR unset, using in-memory driver index")
		index = geo.NewMemoryIndex()
	}

	var locations, events *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		locations = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.LocationTopic)
		defer locations.Close()
		events = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.TripEventsTopic)
		defer events.Close()
	}

	pay := &payments.Service{Store: store, Logger: logger}
	if cfg.StripeAPIKey != "" {
		pay.Processor = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	wsreg := dispatch.NewWSRegistry()
	tripSvc := &trips.Service{Store: store, Fares: engine, Pay: pay, Logger: logger}
	dispatchSvc := &dispatch.Service{
		Store:      store,
		Geo:        index,
		Registry:   wsreg,
		StaleAfter: cfg.StaleCandidateAfter,
		SpeedKmh:   cfg.DispatchSpeedKmh,
		Logger:     logger,
	}
	if events != nil {
		tripSvc.Events = events
		dispatchSvc.Events = events
	}
	scheduleMgr := &schedule.Manager{Store: store, Fares: engine, Logger: logger}
	estimator := &demand.Estimator{
		Store:    store,
		Drivers:  index,
		Lookback: time.Duration(cfg.DemandLookbackDays) * 24 * time.Hour,
		CacheTTL: cfg.DemandCacheTTL,
		Logger:   logger,
	}

	api := httpapi.NewServer(logger, httpapi.Deps{
		Geo:       index,
		Store:     store,
		Trips:     tripSvc,
		Dispatch:  dispatchSvc,
		Schedule:  scheduleMgr,
		Demand:    estimator,
		Fares:     engine,
		Locations: locations,
		WSReg:     wsreg,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("trike-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

func applyMigration(pg *storage.PostgresStore, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return pg.ExecRaw(string(b))
}
