package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/findmyvet/vetbook/libs/auth"
	"github.com/findmyvet/vetbook/libs/config"
	"github.com/findmyvet/vetbook/libs/db"
	"github.com/findmyvet/vetbook/libs/grpcx"
	"github.com/findmyvet/vetbook/libs/httpx"
	"github.com/findmyvet/vetbook/libs/kafkax"
	otelx "github.com/findmyvet/vetbook/libs/otel"
	"github.com/findmyvet/vetbook/libs/runtime"
	"github.com/findmyvet/vetbook/services/booking-service/internal/availability"
	"github.com/findmyvet/vetbook/services/booking-service/internal/booking"
	"github.com/findmyvet/vetbook/services/booking-service/internal/catalog"
	"github.com/findmyvet/vetbook/services/booking-service/internal/handlers"
	"github.com/findmyvet/vetbook/services/booking-service/internal/idempotency"
	"github.com/findmyvet/vetbook/services/booking-service/internal/identity"
	"github.com/findmyvet/vetbook/services/booking-service/internal/outbox"
	"github.com/findmyvet/vetbook/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("booking-service exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, dbURL, db.Options{ApplicationName: service, MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		return err
	}
	defer pool.Close()

	if config.Bool("AUTO_MIGRATE", false) {
		if err := storage.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("database migrated")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.String("REDIS_ADDR", "localhost:6379"),
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	defer func() { _ = rdb.Close() }()

	brokers := config.List("KAFKA_BROKERS", "")

	slots := storage.NewSlotRepository(pool)
	appts := storage.NewAppointmentRepository(pool)
	txRunner := storage.NewTxRunner(pool, slots, appts,
		config.Duration("LOCK_TIMEOUT", 3*time.Second),
		config.Duration("STATEMENT_TIMEOUT", 10*time.Second),
	)
	cat := catalog.NewStore(pool, config.Int("CATALOG_CACHE_SIZE", 1024), config.Duration("CATALOG_CACHE_TTL", time.Minute))
	users := identity.NewUserRepository(pool)

	outboxRepo := outbox.NewRepository(pool)
	dispatcher := outbox.NewDispatcher(cat, users, outboxRepo, logger)
	engine := booking.NewEngine(txRunner, cat, booking.RandomCodes{}, dispatcher, logger)

	verifier, err := newVerifier()
	if err != nil {
		return err
	}
	resolver := identity.NewResolver(verifier, users, config.Bool("ALLOW_EMAIL_RELINK", false), config.Duration("IDENTITY_CACHE_TTL", 10*time.Minute))

	idem := idempotency.NewRedisStore(rdb, config.String("IDEMPOTENCY_PREFIX", "idem:booking"), config.Duration("IDEMPOTENCY_TTL", 24*time.Hour))
	userScope := func(r *http.Request) string { return identity.UserIDFromContext(r.Context()) }

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "redis", Check: idempotency.ReadyCheck(rdb)},
	}
	if len(brokers) > 0 {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Appointments: handlers.NewAppointmentHandler(engine, appts, cat, logger),
		Availability: handlers.NewAvailabilityHandler(availability.NewService(slots, cat), logger),
		Authenticate: resolver.Middleware(logger),
		Idempotency:  idempotency.Middleware(idem, userScope, logger),
		Ready:        checks,
	})

	rateLimit := newRateLimit(rdb, logger)
	httpHandler := httpx.Chain(router,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", "GET,POST,PATCH,OPTIONS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,Idempotency-Key"),
			ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After", idempotency.ReplayedHeader},
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		rateLimit,
		httpx.WithBodyLimit(int64(config.Int("MAX_BODY_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	healthSrv := grpcx.NewHealthServer(logger, service, func(ctx context.Context) bool {
		return runtime.Healthy(ctx, checks...)
	})
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runtime.ServeHTTP(gctx, srv, logger, 10*time.Second)
	})
	g.Go(func() error {
		return healthSrv.Serve(gctx, net.JoinHostPort("", grpcPort), 10*time.Second)
	})
	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("booking-service stopped")
	return nil
}

// newVerifier accepts RS256 tokens through JWKS_URL and, for local
// development, HS256 tokens signed with JWT_SECRET. At least one is required.
func newVerifier() (*auth.Verifier, error) {
	cfg := auth.VerifierConfig{
		HMACSecret: config.String("JWT_SECRET", ""),
		Issuer:     config.String("JWT_ISSUER", ""),
		Audience:   config.String("JWT_AUDIENCE", ""),
		Leeway:     config.Duration("JWT_LEEWAY", 30*time.Second),
	}
	if url := config.String("JWKS_URL", ""); url != "" {
		cfg.Keys = auth.NewJWKSClient(url, config.Duration("JWKS_CACHE_TTL", 10*time.Minute))
	}
	return auth.NewVerifier(cfg)
}

// newRateLimit shares counters through Redis unless RATE_LIMIT_BACKEND is
// "memory", which keeps them per process.
func newRateLimit(rdb *redis.Client, logger *slog.Logger) httpx.Middleware {
	var counter httpx.Counter = httpx.NewRedisCounter(rdb)
	if config.String("RATE_LIMIT_BACKEND", "redis") == "memory" {
		counter = httpx.NewMemoryCounter()
	}
	return httpx.RateLimit(counter, httpx.RateLimitConfig{
		Limit:    config.Int("RATE_LIMIT_PER_MINUTE", 120),
		Window:   time.Minute,
		Prefix:   config.String("RATE_LIMIT_PREFIX", "rl:booking"),
		Key:      httpx.ClientIP,
		FailOpen: config.Bool("RATE_LIMIT_FAIL_OPEN", true),
	}, logger)
}
