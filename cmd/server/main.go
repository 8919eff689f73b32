package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"phiguard/internal/access"
	accessAdapters "phiguard/internal/access/adapters"
	accessHandler "phiguard/internal/access/handler"
	accessMetrics "phiguard/internal/access/metrics"
	"phiguard/internal/admin"
	"phiguard/internal/audit"
	"phiguard/internal/audit/fallback"
	auditmemory "phiguard/internal/audit/store/memory"
	auditpostgres "phiguard/internal/audit/store/postgres"
	consentHandler "phiguard/internal/consent/handler"
	consentService "phiguard/internal/consent/service"
	consentmemory "phiguard/internal/consent/store/memory"
	consentpostgres "phiguard/internal/consent/store/postgres"
	httpapi "phiguard/internal/http"
	"phiguard/internal/identity"
	"phiguard/internal/keys"
	keymemory "phiguard/internal/keys/store/memory"
	keypostgres "phiguard/internal/keys/store/postgres"
	"phiguard/internal/platform/config"
	"phiguard/internal/platform/httpserver"
	"phiguard/internal/platform/logger"
	"phiguard/internal/platform/metrics"
	"phiguard/internal/platform/postgres"
	"phiguard/internal/platform/redis"
	"phiguard/internal/platform/tracing"
)

const (
	maintenanceInterval   = time.Hour
	shutdownTimeout       = 10 * time.Second
	kafkaTopicPartitions  = 1
	kafkaTopicReplication = 1
)

// stores groups the persistence layer selected by configuration.
type stores struct {
	audit     audit.Store
	keys      keys.Store
	consent   consentService.Store
	consentTx consentService.ConsentStoreTx
	db        *sql.DB
}

func main() {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, logger.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	tp, err := tracing.Init(ctx, cfg.Otel)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	if tp != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Error("tracer shutdown failed", "error", err)
			}
		}()
	}

	reg := metrics.NewRegistry()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	emergency, closeEmergency, err := emergencyChannels(ctx, cfg, log, redisClient)
	if err != nil {
		return err
	}
	defer closeEmergency()

	auditLog := audit.New(st.audit,
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetrics(reg)),
		audit.WithEmergencyChannel(emergency),
		audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
		audit.WithEmergencyTimeout(cfg.Audit.EmergencyTimeout),
	)

	sealer, err := newSealer(cfg)
	if err != nil {
		return err
	}
	keyManager := keys.NewManager(st.keys, auditLog, sealer,
		keys.WithLogger(log),
		keys.WithMetrics(keys.NewMetrics(reg)),
		keys.WithRotationInterval(cfg.RotationInterval()),
		keys.WithRetention(cfg.KeyRetention()),
	)
	if _, err := keyManager.ActiveKey(ctx); err != nil {
		return fmt.Errorf("load active key: %w", err)
	}

	consentOpts := []consentService.Option{
		consentService.WithLogger(log),
		consentService.WithCategoryGroups(cfg.Policy.CategoryGroups),
	}
	if st.consentTx != nil {
		consentOpts = append(consentOpts, consentService.WithTx(st.consentTx))
	}
	consents := consentService.New(st.consent, auditLog, consentOpts...)

	engine := access.New(
		access.PolicyFromConfig(cfg.Policy),
		accessAdapters.NewConsentAdapter(consents),
		auditLog,
		access.WithLogger(log),
		access.WithMetrics(accessMetrics.New(reg)),
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:    log,
		Validator: identity.NewValidator(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience),
		Registry:  reg,
		Access:    accessHandler.New(engine, log),
		Consent:   consentHandler.New(consents, log),
		Admin:     admin.New(auditLog, keyManager, cfg.AuditRetention(), log),
		Health:    healthChecks(st.db, redisClient),
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting phiguard", "addr", cfg.Server.Addr, "store", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(keyManager.Run(gctx, maintenanceInterval))
	})
	g.Go(func() error {
		return ignoreCanceled(consents.Run(gctx, maintenanceInterval))
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.Database.Driver != config.StorePostgres {
		return stores{
			audit:   auditmemory.NewInMemoryStore(),
			keys:    keymemory.NewInMemoryStore(),
			consent: consentmemory.NewInMemoryStore(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return stores{}, err
	}
	if err := postgres.Migrate(ctx, db, auditpostgres.Schema, keypostgres.Schema, consentpostgres.Schema); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	return stores{
		audit:     auditpostgres.New(db),
		keys:      keypostgres.NewPostgres(db),
		consent:   consentpostgres.NewPostgres(db),
		consentTx: newConsentPostgresTx(db),
		db:        db,
	}, nil
}

func newSealer(cfg config.Config) (*keys.Sealer, error) {
	if cfg.Keys.MasterKey == "" {
		return keys.NewEphemeralSealer()
	}
	return keys.NewSealer([]byte(cfg.Keys.MasterKey))
}

// emergencyChannels builds the fan-out used when the audit store rejects a
// write. The log channel is always present.
func emergencyChannels(ctx context.Context, cfg config.Config, log *slog.Logger, rc *redis.Client) (audit.EmergencyChannel, func(), error) {
	channels := fallback.Multi{fallback.NewLogChannel(log)}
	closer := func() {}

	if rc != nil {
		channels = append(channels, fallback.NewRedisChannel(rc.Client, cfg.Audit.RedisKey))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kc, err := fallback.NewKafkaChannel(cfg.Kafka.Brokers, cfg.Kafka.Topic,
			fallback.WithDeliveryTimeout(cfg.Audit.EmergencyTimeout))
		if err != nil {
			return nil, nil, fmt.Errorf("create kafka emergency channel: %w", err)
		}
		if err := kc.EnsureTopic(ctx, kafkaTopicPartitions, kafkaTopicReplication); err != nil {
			kc.Close()
			return nil, nil, fmt.Errorf("ensure kafka topic: %w", err)
		}
		channels = append(channels, kc)
		closer = kc.Close
	}
	return channels, closer, nil
}

func healthChecks(db *sql.DB, rc *redis.Client) []httpapi.HealthCheck {
	var checks []httpapi.HealthCheck
	if db != nil {
		checks = append(checks, httpapi.HealthCheck{Name: "postgres", Check: db.PingContext})
	}
	if rc != nil {
		checks = append(checks, httpapi.HealthCheck{Name: "redis", Check: rc.Health})
	}
	return checks
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
