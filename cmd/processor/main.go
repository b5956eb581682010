// Command processor runs the clinical-event reconciliation engine: it
// consumes canonical messages, reconciles them into the versioned store, and
// serves the operational HTTP surface.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"concord/internal/consistency"
	"concord/internal/effectlog"
	"concord/internal/engine"
	"concord/internal/platform/config"
	"concord/internal/platform/httpserver"
	"concord/internal/platform/logger"
	"concord/internal/platform/metrics"
	platformpostgres "concord/internal/platform/postgres"
	platformredis "concord/internal/platform/redis"
	"concord/internal/storage"
	"concord/internal/storage/postgres"
	httptransport "concord/internal/transport/http"
	"concord/internal/transport/kafka"
	"concord/internal/waveform"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		runner         storage.Runner
		contradictions consistency.Store
		effects        effectlog.Store
		waveforms      waveform.Store
		pending        httptransport.PendingReader
		checks         = map[string]httptransport.HealthChecker{}
	)
	if cfg.PostgresURL != "" {
		pool, err := platformpostgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			log.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
		runner = postgres.NewRunner(pool)
		contradictions = postgres.NewContradictionStore(pool)
		effects = postgres.NewEffectStore(pool)
		waveforms = postgres.NewWaveformStore(pool)
		pending = postgres.NewVisitStore(pool, false)
		checks["postgres"] = healthFunc(pool.Ping)
		log.Info("using postgres store")
	} else {
		stores := storage.NewMemoryStores()
		runner = storage.NewMemoryRunner(stores)
		contradictions = consistency.NewMemoryStore()
		effects = effectlog.NewMemoryStore()
		waveforms = stores.Waveforms().(*waveform.MemoryStore)
		pending = stores.Visits()
		log.Info("using in-memory store")
	}

	var typeCache *goredis.Client
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		typeCache = redisClient.Client
		checks["redis"] = redisClient
		log.Info("fact type cache enabled")
	}

	journal := effectlog.NewJournal(cfg.EffectBuffer, log)
	eng := engine.New(runner, contradictions, engine.Options{
		Journal:     journal,
		TypeCache:   typeCache,
		Metrics:     metrics.New(),
		Logger:      log,
		RetryBudget: cfg.RetryBudget,
	})

	handler := httptransport.NewHandler(contradictions, effects, pending, waveforms, checks)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := effectlog.NewWorker(effects, journal).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		trimmer := waveform.NewService(waveforms, log)
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := trimmer.TrimBefore(gctx, time.Now().Add(-cfg.WaveformRetention)); err != nil {
					log.Error("waveform retention sweep failed", "error", err)
				}
			}
		}
	})

	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafka.NewConsumer(cfg.Kafka, eng, cfg.Workers, log)
		if err != nil {
			log.Error("kafka unavailable", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			log.Info("consuming clinical events", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.Group)
			err := consumer.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		log.Warn("no kafka brokers configured, consumer disabled")
	}

	if err := g.Wait(); err != nil {
		log.Error("processor stopped", "error", err)
		os.Exit(1)
	}
	log.Info("processor stopped")
}

// healthFunc adapts a ping func to the health check interface.
type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }
