package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"civreg/internal/audit"
	"civreg/internal/authtoken"
	"civreg/internal/citizen"
	"civreg/internal/identity"
	"civreg/internal/notify"
	"civreg/internal/platform/config"
	"civreg/internal/platform/httpserver"
	"civreg/internal/platform/logger"
	"civreg/internal/platform/metrics"
	"civreg/internal/platform/postgres"
	redisplatform "civreg/internal/platform/redis"
	httptransport "civreg/internal/transport/http"
	"civreg/internal/workflow"
)

// main wires the registration core: stores, the workflow facade, the audit
// relay, and the HTTP surface. Without POSTGRES_DSN everything runs on the
// in-memory stack, which is enough for local development.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var (
		citizenStore citizen.Store
		identStore   identity.Store
		auditStore   audit.Store
		outOfBand    audit.Store
		outbox       audit.OutboxStore
		uow          workflow.UnitOfWork
	)
	if cfg.Postgres.DSN != "" {
		db, err := postgres.Open(rootCtx, cfg.Postgres.DSN)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		citizenStore = citizen.NewPostgresStore(db)
		identStore = identity.NewPostgresStore(db)
		pgAudit := audit.NewPostgresStore(db)
		auditStore = pgAudit
		outOfBand = audit.NewOutOfBandPostgresStore(db)
		outbox = pgAudit
		uow = workflow.NewPostgresUnitOfWork(db)
	} else {
		log.Warn("POSTGRES_DSN not set, using in-memory stores")
		citizenStore = citizen.NewInMemoryStore()
		identStore = identity.NewInMemoryStore()
		memAudit := audit.NewInMemoryStore()
		auditStore = memAudit
		outOfBand = memAudit
		uow = workflow.NewMemoryUnitOfWork()
	}

	recorder, err := audit.NewRecorder(auditStore, outOfBand, log)
	if err != nil {
		log.Error("audit recorder init failed", "error", err)
		os.Exit(1)
	}

	identityOpts := []identity.Option{
		identity.WithMaxAttempts(cfg.Issuance.MaxAttempts),
		identity.WithMetrics(m),
		identity.WithRecorder(recorder),
	}
	redisClient, err := redisplatform.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		identityOpts = append(identityOpts,
			identity.WithCache(identity.NewRedisRecordCache(redisClient, config.IdentityCacheTTL, log)))
	}

	identityService, err := identity.NewService(identStore, log, identityOpts...)
	if err != nil {
		log.Error("identity service init failed", "error", err)
		os.Exit(1)
	}

	workflowService, err := workflow.NewService(citizenStore, identityService, recorder, uow, log,
		workflow.WithNotifier(notify.NewLogNotifier(log)),
		workflow.WithMetrics(m),
	)
	if err != nil {
		log.Error("workflow service init failed", "error", err)
		os.Exit(1)
	}

	jwtService := authtoken.NewJWTService(cfg.JWTSigningKey, "civreg", "civreg-api")
	handler := httptransport.NewHandler(workflowService, identityService, log)
	router := httptransport.NewRouter(handler, jwtService, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", router)

	srv := httpserver.New(cfg.Addr, mux)

	group, ctx := errgroup.WithContext(rootCtx)

	group.Go(func() error {
		log.Info("starting civreg server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if outbox != nil && len(cfg.Kafka.Brokers) > 0 {
		producer, err := audit.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		relay := audit.NewRelay(outbox, producer, cfg.Kafka.Topic, cfg.Kafka.PollInterval, log)
		group.Go(func() error {
			err := relay.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("civreg server stopped")
}
