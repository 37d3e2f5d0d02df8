package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/planthub-poller/internal/circuitbreaker"
	"github.com/kjstillabower/planthub-poller/internal/config"
	"github.com/kjstillabower/planthub-poller/internal/coordinator"
	httphandler "github.com/kjstillabower/planthub-poller/internal/http"
	"github.com/kjstillabower/planthub-poller/internal/lifecycle"
	"github.com/kjstillabower/planthub-poller/internal/observability"
	"github.com/kjstillabower/planthub-poller/internal/store"
	"github.com/kjstillabower/planthub-poller/internal/traffic"
	"github.com/kjstillabower/planthub-poller/internal/webhook"
)

// refreshResponseGrace lets POST /refresh outlive the coordinator's own
// refresh timeout long enough to return the failure snapshot it publishes.
const refreshResponseGrace = 5 * time.Second

// routeHandlers is the set of endpoints the router serves. *httphandler.Handler implements it.
type routeHandlers interface {
	GetHealth(http.ResponseWriter, *http.Request)
	GetPlants(http.ResponseWriter, *http.Request)
	GetPlant(http.ResponseWriter, *http.Request)
	GetPlantSensors(http.ResponseWriter, *http.Request)
	PostRefresh(http.ResponseWriter, *http.Request)
}

type routeTimeouts struct {
	Request time.Duration
	Refresh time.Duration
}

// newRouter builds the public routes. Reads and /refresh share the rate
// limiter but get separate deadlines; nesting them would clamp /refresh to
// the read timeout.
func newRouter(h routeHandlers, limiter *rate.Limiter, recorder httphandler.RequestRecorder, inFlight *httphandler.InFlightTracker, timeouts routeTimeouts, logger *zap.Logger) *mux.Router {
	// Encoded so server-asserted batch ids containing '/' stay addressable.
	router := mux.NewRouter().UseEncodedPath()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.Use(httphandler.InFlightMiddleware(inFlight))
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.NewRoute().Subrouter()
	api.Use(httphandler.RateLimitMiddleware(limiter, recorder))

	reads := api.NewRoute().Subrouter()
	reads.Use(httphandler.TimeoutMiddleware(timeouts.Request))
	reads.HandleFunc("/plants", h.GetPlants).Methods("GET")
	reads.HandleFunc("/plants/{plant_id}", h.GetPlant).Methods("GET")
	reads.HandleFunc("/plants/{plant_id}/sensors", h.GetPlantSensors).Methods("GET")

	refresh := api.NewRoute().Subrouter()
	refresh.Use(httphandler.TimeoutMiddleware(timeouts.Refresh))
	refresh.HandleFunc("/refresh", h.PostRefresh).Methods("POST")
	return router
}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	state := lifecycle.New()

	tracing, err := observability.InitTracing(context.Background(), observability.TracingOptions{
		Enabled:        cfg.TracingEnabled,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRatio:  cfg.TracingSamplingRatio,
		ServiceName:    "planthub-poller",
		ServiceVersion: webhook.Version,
		Environment:    cfg.Environment,
	}, logger)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	mode, err := webhook.ParseAddressingMode(cfg.AddressingMode)
	if err != nil {
		logger.Fatal("webhook addressing mode", zap.Error(err))
	}
	clientOpts := []webhook.Option{webhook.WithLogger(logger.Named("webhook"))}
	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "planthub_webhook",
			IsFailure:        webhook.IsTransient,
			OnStateChange: func(component string, from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, to.String(), int(to))
				logger.Warn("circuit breaker state change",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		clientOpts = append(clientOpts, webhook.WithCircuitBreaker(cb))
		observability.CircuitBreakerState.WithLabelValues("planthub_webhook").Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	client, err := webhook.New(webhook.Config{
		Token:          cfg.APIToken,
		BaseURL:        cfg.WebhookBaseURL,
		Endpoint:       cfg.WebhookEndpoint,
		Timeout:        cfg.WebhookTimeout,
		Mode:           mode,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}, clientOpts...)
	if err != nil {
		logger.Fatal("webhook client", zap.Error(err))
	}

	if cfg.ValidateOnStart {
		validateCtx, cancel := context.WithTimeout(context.Background(), cfg.WebhookTimeout)
		err := client.Validate(validateCtx)
		cancel()
		switch {
		case errors.Is(err, webhook.ErrAuth):
			logger.Fatal("planthub token rejected", zap.Error(err))
		case err != nil:
			logger.Warn("planthub token could not be validated", zap.Error(err))
		default:
			logger.Info("planthub token validated")
		}
	}

	var snapshots store.SnapshotStore
	var memcached *store.MemcachedStore
	switch cfg.StoreBackend {
	case "memcached":
		memcached = store.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		snapshots = memcached
		logger.Info("snapshot store: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "in_memory":
		snapshots = store.NewInMemoryStore()
		logger.Info("snapshot store: in_memory")
	default:
		logger.Info("snapshot store disabled")
	}

	plants := make([]coordinator.Plant, len(cfg.Plants))
	for i, p := range cfg.Plants {
		plants[i] = coordinator.Plant{ID: p.ID, DisplayName: p.DisplayName}
	}
	var placeholders coordinator.PlaceholderPolicy
	if cfg.PlaceholdersEnabled {
		defaults := make([]coordinator.Plant, len(cfg.Placeholders))
		for i, p := range cfg.Placeholders {
			defaults[i] = coordinator.Plant{ID: p.ID, DisplayName: p.DisplayName}
		}
		placeholders = coordinator.StaticPlaceholders(defaults)
	}

	tracker := traffic.NewTracker(cfg.HealthWindow)
	observability.RegisterTrafficGauges(tracker, cfg.HealthWindow)
	observability.SetTrackedPlants(cfg.PlantIDs())

	coord := coordinator.New(client, coordinator.Options{
		Plants:         plants,
		Concurrency:    cfg.RefreshConcurrency,
		RefreshTimeout: cfg.RefreshTimeout,
		Placeholders:   placeholders,
		Store:          snapshots,
		StoreTTL:       cfg.StoreTTL,
		Recorder:       tracker,
		Logger:         logger.Named("coordinator"),
	})
	coord.Restore(context.Background())

	scheduler := coordinator.NewScheduler(context.Background(), coord, cfg.RefreshInterval, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("refresh scheduler", zap.Error(err))
	}

	healthConfig := &httphandler.HealthConfig{
		Window:               cfg.HealthWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
	}
	if memcached != nil {
		healthConfig.StorePing = memcached.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(coord, tracker, state, healthConfig, logger)
	inFlight := &httphandler.InFlightTracker{}

	router := newRouter(handler, limiter, tracker, inFlight, routeTimeouts{
		Request: cfg.RequestTimeout,
		Refresh: cfg.RefreshTimeout + refreshResponseGrace,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RefreshTimeout + refreshResponseGrace + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.Int("plants", len(plants)), zap.String("mode", string(mode)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.BeginShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("refresh scheduler stop", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	if err := inFlight.WaitForZero(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	if err := observability.FlushTelemetry(shutdownCtx, logger, tracing); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
