package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telemon/internal/alerts"
	"telemon/internal/config"
	"telemon/internal/handlers"
	"telemon/internal/ingest"
	"telemon/internal/kafka"
	"telemon/internal/logger"
	"telemon/internal/metrics"
	"telemon/internal/middleware"
	"telemon/internal/mqtt"
	"telemon/internal/state"
	"telemon/internal/storage"
	"telemon/internal/worker"
)

// Processor wires storage, the alert engine and every ingress path together
// and owns their lifecycle.
type Processor struct {
	cfg *config.Config

	backend    *storage.Backend
	stateStore state.Store
	producer   *kafka.Producer
	engine     *alerts.Engine
	janitor    *alerts.Janitor
	workerPool *worker.Pool
	pipeline   *ingest.Pipeline
	consumer   *kafka.Consumer
	subscriber *mqtt.Subscriber
	httpServer *http.Server

	// cancels the janitor after the worker pool has drained
	janitorCancel context.CancelFunc
	janitorDone   chan struct{}

	wg sync.WaitGroup
}

// New constructs a Processor with given config.
func New(cfg *config.Config) *Processor {
	return &Processor{cfg: cfg}
}

// Run starts background goroutines and blocks until context cancelled.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")

	if err := p.init(ctx); err != nil {
		log.Error().Err(err).Msg("failed to initialize")
		p.closeResources()
		return err
	}

	p.workerPool.Start()
	p.startJanitor()

	// Start HTTP server in background
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", p.cfg.HTTPAddr).Msg("starting HTTP server")
		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	if p.consumer != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("kafka consumer stopped")
			}
		}()
	}

	if p.cfg.Process.ReprocessInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.reprocessLoop(ctx)
		}()
	}

	// Stats reporting goroutine
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return p.shutdown()
}

// init builds every component. Optional integrations (Redis, Kafka, MQTT)
// are only started when configured.
func (p *Processor) init(ctx context.Context) error {
	log := logger.WithComponent("processor")

	backend, err := storage.Open(ctx, p.cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	p.backend = backend
	log.Info().Str("backend", backend.Name).Msg("storage initialized")

	if p.cfg.Redis.Addr != "" {
		store, err := state.NewRedisStore(ctx, state.RedisConfig{
			Addr:     p.cfg.Redis.Addr,
			Password: p.cfg.Redis.Password,
			DB:       p.cfg.Redis.DB,
			TTL:      p.evictAfter(),
		})
		if err != nil {
			// suppression still works, it just starts cold after a restart
			log.Warn().Err(err).Msg("tracker checkpoints disabled")
		} else {
			p.stateStore = store
		}
	}

	if len(p.cfg.Kafka.Brokers) > 0 && p.cfg.Kafka.AlertTopic != "" {
		producer, err := kafka.NewProducer(p.cfg.Kafka.Brokers, p.cfg.Kafka.AlertTopic, p.cfg.Kafka.Producer)
		if err != nil {
			return fmt.Errorf("failed to initialize producer: %w", err)
		}
		p.producer = producer
		log.Info().
			Strs("brokers", p.cfg.Kafka.Brokers).
			Str("topic", p.cfg.Kafka.AlertTopic).
			Msg("kafka producer initialized")
	}

	p.initEngine(ctx)

	p.workerPool = worker.NewPool(worker.Config{
		MaxInFlight: p.cfg.Process.MaxInFlight,
		TaskTimeout: p.cfg.Process.TaskTimeout,
	})
	p.pipeline = ingest.NewPipeline(ingest.Config{
		Sensors:   backend.Sensors,
		Readings:  backend.Readings,
		Evaluator: p.engine,
		Pool:      p.workerPool,
	})

	if len(p.cfg.Kafka.Brokers) > 0 && p.cfg.Kafka.TelemetryTopic != "" {
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:      p.cfg.Kafka.Brokers,
			Topic:        p.cfg.Kafka.TelemetryTopic,
			GroupID:      p.cfg.Kafka.GroupID,
			Processor:    p.pipeline,
			MaxRetries:   p.cfg.Kafka.Producer.MaxRetries,
			RetryBackoff: p.cfg.Kafka.Producer.RetryBackoff,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize consumer: %w", err)
		}
		p.consumer = consumer
	}

	if p.cfg.MQTT.Broker != "" {
		subscriber, err := mqtt.NewSubscriber(p.cfg.MQTT, p.pipeline)
		if err != nil {
			return fmt.Errorf("failed to initialize mqtt subscriber: %w", err)
		}
		p.subscriber = subscriber
	}

	p.httpServer = &http.Server{
		Addr:         p.cfg.HTTPAddr,
		Handler:      p.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return nil
}

func (p *Processor) initEngine(ctx context.Context) {
	a := p.cfg.Alerts
	trackers := alerts.NewTrackerStore()

	opts := []alerts.Option{alerts.WithTrackerStore(trackers)}
	if p.producer != nil {
		opts = append(opts, alerts.WithNotifier(p.producer))
	}
	p.engine = alerts.NewEngine(alerts.Config{
		Thresholds: alerts.Thresholds{
			MinTemperature:       a.MinTemperature,
			MaxTemperature:       a.MaxTemperature,
			CriticalBatteryLevel: a.CriticalBatteryLevel,
			MinSignalStrength:    a.MinSignalStrength,
		},
		SuppressionWindow:         a.Suppression.Window,
		SuppressionCount:          a.Suppression.Count,
		SensorDeactivationEnabled: a.SensorDeactivationEnabled,
	}, p.backend.Sensors, p.backend.Alerts, opts...)

	interval := a.Suppression.SweepInterval
	if interval <= 0 {
		interval = a.Suppression.Window
	}
	p.janitor = alerts.NewJanitor(alerts.JanitorConfig{
		Trackers:      trackers,
		Store:         p.stateStore,
		CheckpointKey: p.cfg.Redis.CheckpointKey,
		IdleAfter:     p.evictAfter(),
		Interval:      interval,
	})
	if _, err := p.janitor.Restore(ctx); err != nil {
		logger.WithComponent("processor").Warn().Err(err).Msg("failed to restore trackers")
	}
}

func (p *Processor) evictAfter() time.Duration {
	if d := p.cfg.Alerts.Suppression.EvictAfter; d > 0 {
		return d
	}
	return 3 * p.cfg.Alerts.Suppression.Window
}

func (p *Processor) startJanitor() {
	ctx, cancel := context.WithCancel(context.Background())
	p.janitorCancel = cancel
	p.janitorDone = make(chan struct{})
	go func() {
		defer close(p.janitorDone)
		p.janitor.Run(ctx)
	}()
}

// routes builds the HTTP handler tree.
func (p *Processor) routes() http.Handler {
	mux := http.NewServeMux()

	handlers.NewTelemetryHandler(handlers.TelemetryConfig{
		Ingester:    p.pipeline,
		MaxBodySize: p.cfg.Process.MaxBodySize,
	}).Register(mux)

	var notifier handlers.EventNotifier
	if p.producer != nil {
		notifier = p.producer
	}
	handlers.NewAlertHandler(p.backend.Alerts, notifier).Register(mux)
	handlers.NewSensorHandler(p.backend.Sensors, p.engine).Register(mux)
	handlers.NewReadingHandler(p.backend.Readings).Register(mux)

	mux.HandleFunc("GET /health", p.healthHandler)
	mux.HandleFunc("GET /stats", p.statsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.Chain(mux, middleware.Logging, middleware.Recovery)
}

// reprocessLoop periodically resubmits readings whose evaluation never
// completed. The first pass runs at startup.
func (p *Processor) reprocessLoop(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(p.cfg.Process.ReprocessInterval)
	defer ticker.Stop()

	for {
		if _, err := p.pipeline.ReprocessPending(ctx, p.cfg.Process.BatchSize); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("reprocess pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown() error {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the other ingress paths
	if p.subscriber != nil {
		p.subscriber.Close()
	}
	p.wg.Wait()
	if p.consumer != nil {
		if err := p.consumer.Close(); err != nil {
			log.Error().Err(err).Msg("kafka consumer close error")
		}
	}

	// 3. Wait for in-flight evaluations (with timeout)
	done := make(chan struct{})
	go func() {
		p.workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("workers stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("worker shutdown timeout - forcing exit")
	}

	// 4. Final tracker checkpoint once no evaluation can touch them
	p.janitorCancel()
	<-p.janitorDone

	p.closeResources()
	log.Info().Msg("processor stopped gracefully")
	return nil
}

// closeResources closes the producer, state store and storage backend.
func (p *Processor) closeResources() {
	log := logger.WithComponent("processor")
	if p.producer != nil {
		log.Info().Msg("closing kafka producer")
		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("producer close error")
		}
	}
	if p.stateStore != nil {
		if err := p.stateStore.Close(); err != nil {
			log.Error().Err(err).Msg("state store close error")
		}
	}
	if p.backend != nil {
		if err := p.backend.Close(); err != nil {
			log.Error().Err(err).Msg("storage close error")
		}
	}
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.stats()
			metrics.TrackersActive.Set(float64(s.Trackers))

			event := log.Info().
				Uint64("worker_processed", s.Worker.Processed).
				Uint64("worker_failed", s.Worker.Failed).
				Int64("worker_in_flight", s.Worker.InFlight).
				Int("trackers", s.Trackers)
			if s.Producer != nil {
				event = event.
					Uint64("producer_sent", s.Producer.MessagesSent).
					Uint64("producer_failed", s.Producer.MessagesFailed)
			}
			event.Msg("stats")
		}
	}
}

// Stats is the body of the /stats endpoint.
type Stats struct {
	Storage  string               `json:"storage"`
	Worker   worker.Stats         `json:"worker"`
	Trackers int                  `json:"trackers"`
	Producer *kafka.ProducerStats `json:"producer,omitempty"`
	MQTT     *bool                `json:"mqtt_connected,omitempty"`
}

func (p *Processor) stats() Stats {
	s := Stats{
		Storage:  p.backend.Name,
		Worker:   p.workerPool.Stats(),
		Trackers: p.engine.Trackers().Len(),
	}
	if p.producer != nil {
		ps := p.producer.Stats()
		s.Producer = &ps
	}
	if p.subscriber != nil {
		connected := p.subscriber.IsConnected()
		s.MQTT = &connected
	}
	return s
}

// healthHandler handles health check requests
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	checks := map[string]string{"storage": p.backend.Name}

	if p.producer != nil {
		checks["kafka_producer"] = "ok"
		if err := p.producer.HealthCheck(ctx); err != nil {
			checks["kafka_producer"] = err.Error()
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}
	if p.subscriber != nil {
		checks["mqtt"] = "connected"
		if !p.subscriber.IsConnected() {
			// auto-reconnect is on, so degrade rather than fail
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithComponent("processor").Error().Err(err).Msg("failed to encode response")
	}
}
