// Command server runs the identity reconciliation service. main wires
// dependencies and owns the process lifecycle; business logic lives in the
// internal packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"unify/internal/audit"
	"unify/internal/contact/handler"
	"unify/internal/contact/lock"
	contactmetrics "unify/internal/contact/metrics"
	"unify/internal/contact/service"
	"unify/internal/contact/store"
	"unify/internal/contact/store/memory"
	pgstore "unify/internal/contact/store/postgres"
	"unify/internal/jwttoken"
	"unify/internal/platform/config"
	"unify/internal/platform/httpserver"
	"unify/internal/platform/logger"
	"unify/internal/platform/metrics"
	"unify/internal/platform/postgres"
	"unify/internal/platform/redis"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store: PostgreSQL when configured, in-memory otherwise.
	var contactStore store.Store
	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres connection failed", "error", err.Error())
			return err
		}
		defer db.Close()

		pg := pgstore.New(db)
		if err := pg.Migrate(ctx); err != nil {
			log.Error("schema migration failed", "error", err.Error())
			return err
		}
		contactStore = pg
		log.Info("using postgres contact store")
	} else {
		contactStore = memory.New()
		log.Warn("DATABASE_URL not set, using in-memory contact store")
	}

	// Redis enables cross-process field locking; without it the guard still
	// collapses identical in-process requests.
	guardOpts := []lock.Option{lock.WithLogger(log)}
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err.Error())
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		guardOpts = append(guardOpts, lock.WithFieldLocker(lock.NewRedisLocker(redisClient.Client)))
		log.Info("field locking enabled via redis")
	}
	guard := lock.NewGuard(guardOpts...)

	// Audit trail: Kafka when brokers are configured, in-memory otherwise.
	var sink audit.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka client creation failed", "error", err.Error())
			return err
		}
		defer kafkaSink.Close()
		sink = kafkaSink
		log.Info("audit events published to kafka", "topic", cfg.KafkaTopic)
	} else {
		sink = audit.NewMemorySink()
	}

	inbox := make(chan audit.Event, 1024)
	publisher := audit.NewPublisher(inbox, log)
	worker := audit.NewWorker(sink, inbox, log)

	svc, err := service.New(contactStore,
		service.WithLogger(log),
		service.WithMetrics(contactmetrics.New()),
		service.WithAuditRecorder(publisher),
	)
	if err != nil {
		log.Error("service construction failed", "error", err.Error())
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "unify", "unify-ops")

	h := handler.New(svc, log, jwtService,
		handler.WithGuard(guard),
		handler.WithMetrics(metrics.New()),
	)
	router := chi.NewRouter()
	h.Register(router)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := worker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err.Error())
		return err
	}
	log.Info("server stopped")
	return nil
}
