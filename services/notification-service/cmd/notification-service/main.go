package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/findmyvet/vetbook/libs/config"
	"github.com/findmyvet/vetbook/libs/db"
	"github.com/findmyvet/vetbook/libs/events"
	"github.com/findmyvet/vetbook/libs/grpcx"
	"github.com/findmyvet/vetbook/libs/httpx"
	"github.com/findmyvet/vetbook/libs/kafkax"
	otelx "github.com/findmyvet/vetbook/libs/otel"
	"github.com/findmyvet/vetbook/libs/runtime"
	"github.com/findmyvet/vetbook/services/notification-service/internal/consumer"
	"github.com/findmyvet/vetbook/services/notification-service/internal/email"
	"github.com/findmyvet/vetbook/services/notification-service/internal/inbox"
	"github.com/findmyvet/vetbook/services/notification-service/internal/notify"
	"github.com/findmyvet/vetbook/services/notification-service/internal/sms"
	"github.com/findmyvet/vetbook/services/notification-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("notification-service exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9095")
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
	pool, err := db.Open(ctx, dbURL, db.Options{ApplicationName: service, MaxConns: int32(config.Int("DB_MAX_CONNS", 5))})
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

	brokers := config.List("KAFKA_BROKERS", "")
	if len(brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}

	emailSender := email.NewSMTPSender(email.SMTPConfig{
		Host:     config.String("SMTP_HOST", "mailpit"),
		Port:     config.String("SMTP_PORT", "1025"),
		From:     config.String("SMTP_FROM", "no-reply@findmyvet.local"),
		Username: config.String("SMTP_USERNAME", ""),
		Password: config.String("SMTP_PASSWORD", ""),
	})
	smsSender := sms.New(
		config.String("SMS_PROVIDER", "noop"),
		config.String("SMS_WEBHOOK_URL", ""),
		config.String("SMS_WEBHOOK_TOKEN", ""),
	)
	notifier := notify.New(emailSender, smsSender, storage.NewRepository(pool), logger)

	eventConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:  events.AppointmentTopics(),
	}, notifier.Handle)

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	}
	handler := httpx.Chain(runtime.NewBaseRouter(checks...),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "notification"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	healthSrv := grpcx.NewHealthServer(logger, service, func(ctx context.Context) bool {
		return runtime.Healthy(ctx, checks...)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runtime.ServeHTTP(gctx, srv, logger, 10*time.Second)
	})
	g.Go(func() error {
		return healthSrv.Serve(gctx, net.JoinHostPort("", grpcPort), 10*time.Second)
	})
	g.Go(func() error {
		eventConsumer.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("notification-service stopped")
	return nil
}
