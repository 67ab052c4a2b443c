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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	checkinhandler "checkpoint/internal/checkin/handler"
	checkinmetrics "checkpoint/internal/checkin/metrics"
	"checkpoint/internal/checkin/models"
	checkinservice "checkpoint/internal/checkin/service"
	checkinstore "checkpoint/internal/checkin/store"
	"checkpoint/internal/console"
	"checkpoint/internal/directory"
	"checkpoint/internal/idempotency"
	idemmetrics "checkpoint/internal/idempotency/metrics"
	idemstore "checkpoint/internal/idempotency/store"
	"checkpoint/internal/notify"
	"checkpoint/internal/platform/config"
	"checkpoint/internal/platform/httpserver"
	"checkpoint/internal/platform/logger"
	"checkpoint/internal/platform/metrics"
	"checkpoint/internal/platform/postgres"
	"checkpoint/internal/platform/redis"
	"checkpoint/internal/platform/tracing"
	throttlemetrics "checkpoint/internal/throttle/metrics"
	throttlemodels "checkpoint/internal/throttle/models"
	throttleservice "checkpoint/internal/throttle/service"
	throttlestore "checkpoint/internal/throttle/store"
	httptransport "checkpoint/internal/transport/http"
	id "checkpoint/pkg/domain"
	"checkpoint/pkg/platform/audit"
	auditpublisher "checkpoint/pkg/platform/audit/publisher"
	auditmemory "checkpoint/pkg/platform/audit/store/memory"
	auditpostgres "checkpoint/pkg/platform/audit/store/postgres"
	"checkpoint/pkg/platform/circuit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// registrationBackend is what the server needs from a registration store.
type registrationBackend interface {
	checkinservice.RegistrationStore
	console.EventLookup
	checkinstore.Seeder
}

type userDirectory interface {
	checkinservice.UserDirectory
	Save(ctx context.Context, user *models.User) error
}

// infra holds the connections opened for the configured backends.
type infra struct {
	pool   *pgxpool.Pool
	sqlDB  *sql.DB
	redis  *goredis.Client
	checks map[string]httptransport.HealthCheck
}

func (i *infra) close() {
	if i.pool != nil {
		i.pool.Close()
	}
	if i.sqlDB != nil {
		_ = i.sqlDB.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
}

func connect(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	in := &infra{checks: map[string]httptransport.HealthCheck{}}
	usesPostgres := cfg.Backend == config.BackendPostgres || cfg.GuardBackend == config.BackendPostgres
	if usesPostgres {
		pool, err := postgres.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return in, err
		}
		in.pool = pool
		in.checks["postgres"] = pool.Ping
		if err := postgres.Migrate(ctx, pool); err != nil {
			return in, fmt.Errorf("migrate: %w", err)
		}
	}
	if cfg.GuardBackend == config.BackendPostgres {
		db, err := postgres.OpenSQL(ctx, cfg.Database)
		if err != nil {
			return in, err
		}
		in.sqlDB = db
	}
	if cfg.GuardBackend == config.BackendRedis {
		client, err := redis.Open(ctx, cfg.Redis, log)
		if err != nil {
			return in, err
		}
		in.redis = client
		in.checks["redis"] = redis.HealthCheck(client)
	}
	return in, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	in, err := connect(ctx, cfg, log)
	defer in.close()
	if err != nil {
		return err
	}

	var (
		registrations registrationBackend
		users         userDirectory
		auditStore    audit.Store
	)
	if cfg.Backend == config.BackendPostgres {
		registrations = checkinstore.NewPostgres(in.pool)
		users = directory.NewPostgres(in.pool)
		auditStore = auditpostgres.New(in.pool)
	} else {
		registrations = checkinstore.NewMemory()
		users = directory.NewMemory()
		auditStore = auditmemory.NewInMemoryStore()
	}

	var (
		tokenStore    idempotency.Store
		throttleStore throttleservice.Store
	)
	switch cfg.GuardBackend {
	case config.BackendPostgres:
		tokenStore = idemstore.NewPostgres(in.sqlDB)
		throttleStore = throttlestore.NewPostgres(in.sqlDB)
	case config.BackendRedis:
		tokenStore = idemstore.NewRedis(in.redis)
		throttleStore = throttlestore.NewRedis(in.redis)
	default:
		tokenStore = idemstore.NewMemory()
		throttleStore = throttlestore.NewMemory()
	}

	if cfg.SeedDemo {
		if err := seedDemo(ctx, cfg, registrations, users); err != nil {
			return fmt.Errorf("seed demo: %w", err)
		}
		log.Info("demo event seeded", "event_id", checkinstore.DemoEventID.String())
	}

	publisher := auditpublisher.NewPublisher(auditStore,
		auditpublisher.WithAsyncBuffer(256),
		auditpublisher.WithLogger(log),
	)
	defer publisher.Close()

	guard, err := idempotency.New(tokenStore,
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithPendingTTL(cfg.Idempotency.PendingTTL),
		idempotency.WithSweepPercent(cfg.Idempotency.SweepPercent),
		idempotency.WithLogger(log),
		idempotency.WithMetrics(idemmetrics.New()),
	)
	if err != nil {
		return err
	}

	throttleMetrics := throttlemetrics.New()
	loginPolicy := throttlemodels.Policy{
		Name:        throttlemodels.PolicyConsoleLogin,
		MaxFailures: cfg.Throttle.LoginMaxFailures,
		Window:      cfg.Throttle.LoginWindow,
		Cooldown:    cfg.Throttle.LoginCooldown,
	}
	loginThrottle, err := throttleservice.New(throttleStore, loginPolicy,
		throttleservice.WithLogger(log),
		throttleservice.WithAuditPublisher(publisher),
		throttleservice.WithMetrics(throttleMetrics),
	)
	if err != nil {
		return err
	}
	lookupThrottle, err := throttleservice.New(throttleStore, throttlemodels.Policy{
		Name:        throttlemodels.PolicyLookupMiss,
		MaxFailures: cfg.Throttle.LookupMaxMisses,
		Window:      cfg.Throttle.LookupWindow,
		Cooldown:    cfg.Throttle.LookupCooldown,
	},
		throttleservice.WithLogger(log),
		throttleservice.WithAuditPublisher(publisher),
		throttleservice.WithMetrics(throttleMetrics),
	)
	if err != nil {
		return err
	}

	checkin, err := checkinservice.New(registrations, users, guard,
		checkinservice.WithLogger(log),
		checkinservice.WithAuditPublisher(publisher),
		checkinservice.WithMetrics(checkinmetrics.New()),
		checkinservice.WithLookupThrottle(lookupThrottle),
		checkinservice.WithNotifier(newNotifier(cfg.Notify, log)),
		checkinservice.WithNotifyTimeout(cfg.Notify.Timeout),
	)
	if err != nil {
		return err
	}

	tokens := console.NewTokenService(cfg.Console.SigningKey, cfg.Console.Issuer, cfg.Console.SessionTTL)
	sessions, err := console.NewService(registrations, tokens,
		console.WithLogger(log),
		console.WithAuditPublisher(publisher),
		console.WithLoginThrottle(loginThrottle, func(eventID id.EventID, clientIP string) string {
			return loginPolicy.Key(eventID.String(), clientIP)
		}),
	)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.Dependencies{
		Logger:         log,
		Metrics:        metrics.New(),
		MetricsHandler: promhttp.Handler(),
		Tokens:         tokens,
		Events:         registrations,
		Login:          console.NewHandler(sessions, log),
		Checkin:        checkinhandler.New(checkin, log),
		HealthChecks:   in.checks,
	})
	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("checkpoint listening",
			"addr", cfg.Server.Addr,
			"backend", string(cfg.Backend),
			"guard_backend", string(cfg.GuardBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func seedDemo(ctx context.Context, cfg config.Config, registrations checkinstore.Seeder, users userDirectory) error {
	hash, err := console.HashCredential(cfg.Console.DemoCredential)
	if err != nil {
		return err
	}
	seed := checkinstore.DemoSeed(hash, time.Now().UTC())
	for _, u := range seed.Users {
		if err := users.Save(ctx, u); err != nil {
			return err
		}
	}
	return seed.Load(ctx, registrations)
}

func newNotifier(cfg config.NotifyConfig, log *slog.Logger) notify.Dispatcher {
	if cfg.WebhookURL == "" {
		return notify.NewLogDispatcher(log)
	}
	breaker := circuit.New("notify-webhook",
		circuit.WithFailureThreshold(cfg.FailureThreshold),
		circuit.WithCooldown(cfg.Cooldown),
	)
	return notify.NewWebhookDispatcher(cfg.WebhookURL,
		notify.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		notify.WithBreaker(breaker),
		notify.WithLogger(log),
	)
}
