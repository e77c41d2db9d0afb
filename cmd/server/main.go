// main wires the protection layer: providers, circuit breaker, rollout,
// stores, and the HTTP surface. Business logic lives in the internal
// service packages; this file only assembles them and owns the server
// lifecycle.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	cryptohandler "pqshield/internal/crypto/handler"
	cryptometrics "pqshield/internal/crypto/metrics"
	"pqshield/internal/crypto/provider/classical"
	"pqshield/internal/crypto/provider/pqc"
	"pqshield/internal/crypto/service"
	"pqshield/internal/migration"
	migrationhandler "pqshield/internal/migration/handler"
	"pqshield/internal/platform/config"
	"pqshield/internal/platform/httpserver"
	"pqshield/internal/platform/logger"
	platformmetrics "pqshield/internal/platform/metrics"
	platformredis "pqshield/internal/platform/redis"
	"pqshield/internal/record"
	recordhandler "pqshield/internal/record/handler"
	recordstore "pqshield/internal/record/store"
	"pqshield/internal/rollout"
	rollouthandler "pqshield/internal/rollout/handler"
	"pqshield/internal/rollout/ports"
	"pqshield/internal/rollout/sink"
	configstore "pqshield/internal/rollout/store/config"
	httptransport "pqshield/internal/transport/http"
	id "pqshield/pkg/domain"
	"pqshield/pkg/platform/circuit"
)

func main() {
	log := logger.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Rollout configuration: Redis when available so percentage changes
	// propagate across instances, memory otherwise.
	var rolloutStore ports.ConfigStore
	if redisClient != nil {
		rolloutStore = configstore.NewRedis(redisClient.Client)
	} else {
		rolloutStore = configstore.New()
	}
	if cfg.DefaultRolloutPercent > 0 {
		// Seed-if-absent: an operator's stored percentage, including an
		// explicit 0, survives restarts.
		for _, op := range []id.ExperimentID{service.OperationSignToken, "protect_record"} {
			if err := rolloutStore.SeedPercentage(ctx, op, cfg.DefaultRolloutPercent); err != nil {
				log.Warn("rollout seeding failed", "experiment", op, "error", err)
			}
		}
	}

	var exposureSink ports.ExposureSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := sink.NewKafka(cfg.KafkaBrokers, sink.WithTopic(cfg.ExposureTopic), sink.WithLogger(log))
		if err != nil {
			log.Error("kafka sink setup failed", "error", err)
			os.Exit(1)
		}
		defer kafkaSink.Close()
		exposureSink = kafkaSink
	} else {
		exposureSink = sink.NewInMemory()
	}

	rolloutService, err := rollout.New(rolloutStore,
		rollout.WithExposureSink(exposureSink),
		rollout.WithLogger(log),
	)
	if err != nil {
		log.Error("rollout setup failed", "error", err)
		os.Exit(1)
	}

	pqcOpts := []pqc.Option{}
	if cfg.BridgeURL != "" {
		pqcOpts = append(pqcOpts, pqc.WithInvoker(pqc.NewHTTPInvoker(cfg.BridgeURL)))
	}
	pqcProvider, err := pqc.New(cfg.MasterKey, pqcOpts...)
	if err != nil {
		log.Error("pqc provider setup failed", "error", err)
		os.Exit(1)
	}
	classicalProvider, err := classical.New(cfg.MasterKey, id.KeyID(cfg.MasterKeyID))
	if err != nil {
		log.Error("classical provider setup failed", "error", err)
		os.Exit(1)
	}

	breaker := circuit.New(service.CapabilityPQC,
		circuit.WithFailureThreshold(cfg.BreakerThreshold),
		circuit.WithCooldown(cfg.BreakerCooldown),
	)

	cryptoService, err := service.New(pqcProvider, classicalProvider, rolloutService,
		service.WithBreaker(breaker),
		service.WithMetrics(cryptometrics.New()),
		service.WithPQCTimeout(cfg.PQCTimeout),
		service.WithTokenSecret([]byte(cfg.TokenSecret)),
		service.WithLogger(log),
	)
	if err != nil {
		log.Error("crypto service setup failed", "error", err)
		os.Exit(1)
	}

	var db *sql.DB
	var store record.Store
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err == nil {
			err = db.PingContext(ctx)
		}
		if err == nil {
			_, err = db.ExecContext(ctx, recordstore.Schema)
		}
		if err != nil {
			log.Error("postgres setup failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = recordstore.NewPostgres(db)
	} else {
		store = recordstore.NewInMemory()
	}

	runner, err := migration.New(store, cryptoService, migration.WithLogger(log))
	if err != nil {
		log.Error("migration runner setup failed", "error", err)
		os.Exit(1)
	}

	health := map[string]httptransport.HealthChecker{}
	if redisClient != nil {
		health["redis"] = func(r *http.Request) error { return redisClient.Health(r.Context()) }
	}
	if db != nil {
		health["postgres"] = func(r *http.Request) error { return db.PingContext(r.Context()) }
	}

	router := httptransport.NewRouter(platformmetrics.New(), health,
		cryptohandler.New(cryptoService, log),
		rollouthandler.New(rolloutService, log),
		migrationhandler.New(runner, log),
		recordhandler.New(store, cryptoService, cryptoService, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
