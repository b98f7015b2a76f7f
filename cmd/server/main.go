package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/taxi-dispatch/internal/config"
	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/handshake"
	httpapi "github.com/example/taxi-dispatch/internal/http"
	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/lifecycle"
	"github.com/example/taxi-dispatch/internal/logging"
	"github.com/example/taxi-dispatch/internal/matcher"
	"github.com/example/taxi-dispatch/internal/payments"
	"github.com/example/taxi-dispatch/internal/registry"
	"github.com/example/taxi-dispatch/internal/routing"
	"github.com/example/taxi-dispatch/internal/storage"
	"github.com/example/taxi-dispatch/internal/tariff"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("dispatch-api", cfg.LogLevel)

	store, cleanup, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// WS registries: drivers get offer pushes, clients get lifecycle events.
	driverWS := dispatch.NewRegistry()
	clientWS := dispatch.NewRegistry()

	var chat dispatch.ChatStore
	var chatLog httpapi.ChatLog
	var geoIndex registry.GeoIndex
	if cfg.RedisAddr != "" {
		rc := dispatch.NewRedisChat(cfg.RedisAddr, cfg.RedisPassword)
		defer rc.Close()
		chat = rc
		chatLog = rc

		idx := registry.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer idx.Close()
		geoIndex = idx
	}
	notifier := dispatch.NewWSNotifier(driverWS, clientWS, chat, cfg.NotifyWebhook, logger)

	var geocoder routing.Geocoder
	chain := &routing.Chain{AssumedSpeedKmh: cfg.AssumedSpeedKmh, Logger: logger}
	if cfg.GoogleMapsAPIKey != "" {
		g, err := routing.NewGoogleProvider(cfg.GoogleMapsAPIKey, cfg.GeocodeRegion)
		if err != nil {
			logger.Error("google maps client init failed", "error", err)
			os.Exit(1)
		}
		geocoder = g
		chain.Primary = g
	}
	if cfg.OSRMEndpoint != "" {
		chain.Secondary = routing.NewOSRMClient(cfg.OSRMEndpoint)
	}

	engine := tariff.NewEngine(store, logger)
	engine.RoundToFive = cfg.RoundFareToFive

	var processor payments.Processor
	if cfg.StripeAPIKey != "" {
		processor = payments.NewStripeProcessor(cfg.StripeAPIKey, cfg.Currency)
	}

	lc := &lifecycle.Service{
		Rides:    store,
		Clients:  store,
		Drivers:  store,
		Geocoder: geocoder,
		Router:   chain,
		Tariff:   engine,
		Notifier: notifier,
		Payments: processor,
		Logger:   logger,
	}
	reg := &registry.Service{
		Drivers: store,
		Offers:  store,
		History: store,
		Index:   geoIndex,
		Logger:  logger,
	}
	match := &matcher.Service{Roster: reg}
	hs := handshake.NewService(store, notifier, logger)

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	api := httpapi.NewServer(lc, match, hs, reg, store, producer, driverWS, clientWS, logger)
	api.Chat = chatLog

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	logger.Info("bye")
}

func buildStore(cfg config.ServerConfig, logger *slog.Logger) (storage.Store, func(), error) {
	if cfg.PGDSN == "" {
		logger.Warn("PG_DSN not set, using in-memory storage")
		return storage.NewMemoryStore(), func() {}, nil
	}
	if cfg.RunMigrations {
		if err := applyMigrations(cfg.PGDSN, logger); err != nil {
			return nil, nil, err
		}
	}
	pg, err := storage.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	return pg, func() { pg.Close() }, nil
}

func applyMigrations(dsn string, logger *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(b)); err != nil {
			return err
		}
		logger.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
