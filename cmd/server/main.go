package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-reservations/internal/config"
	"github.com/iliyamo/studio-reservations/internal/database"
	"github.com/iliyamo/studio-reservations/internal/handler"
	"github.com/iliyamo/studio-reservations/internal/middleware"
	"github.com/iliyamo/studio-reservations/internal/observability"
	"github.com/iliyamo/studio-reservations/internal/payment"
	"github.com/iliyamo/studio-reservations/internal/queue"
	"github.com/iliyamo/studio-reservations/internal/repository/memstore"
	"github.com/iliyamo/studio-reservations/internal/router"
	"github.com/iliyamo/studio-reservations/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	// ---- persistence ----
	var (
		store service.Store
		db    *sql.DB
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using the in-memory store; data is lost on restart")
		store = memstore.New()
	default:
		var err error
		db, err = database.Open(ctx, cfg.DSN())
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		store = database.NewStore(db)
	}

	// ---- payments ----
	var gateway payment.Gateway
	if cfg.StripeSecretKey != "" {
		s, err := payment.NewStripe(payment.StripeConfig{APIKey: cfg.StripeSecretKey})
		if err != nil {
			return err
		}
		gateway = s
	} else {
		// Load refuses an empty key unless cfg.SimulatedPayments.
		logger.Warn("STRIPE_SECRET_KEY not set; card refunds are simulated in-process",
			zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		gateway = payment.NewMemory()
	}
	gateway = payment.WithTimeout(gateway, cfg.PaymentTimeout)

	// ---- events ----
	var events service.EventPublisher
	if cfg.RabbitMQURL != "" {
		events = queue.NewPublisher(cfg.RabbitMQURL, logger.Named("publisher"))
		if cfg.RunNotifier {
			consumer := queue.NewConsumer(cfg.RabbitMQURL, cfg.NotificationLog, logger.Named("notifier"))
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("notifier stopped", zap.Error(err))
				}
			}()
		}
	} else {
		logger.Info("RABBITMQ_URL not set; domain events are not published")
	}

	// ---- services ----
	keywords := service.Keywords{Cancel: cfg.ConfirmCancel, Refund: cfg.ConfirmRefund}
	gifts := service.NewGiftCardLedger(store, cfg.Currency, logger.Named("gift_cards"))
	refunds := service.NewRefundOrchestrator(store, gifts, gateway, service.RefundOptions{
		Timeout: cfg.RefundTimeout,
		Events:  events,
		Logger:  logger.Named("refunds"),
	})
	scheduler := service.NewScheduler(store, gifts, events, cfg.Currency, logger.Named("scheduler"))
	orders := service.NewOrderStateMachine(store, refunds, keywords, logger.Named("orders"))
	reservations := service.NewReservationStateMachine(store, refunds, scheduler, keywords, logger.Named("reservations"))
	checkout := service.NewCheckout(store, gifts, gateway, service.CheckoutOptions{
		Currency:   cfg.Currency,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
		Logger:     logger.Named("checkout"),
	})

	// ---- HTTP ----
	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting and Idempotency-Key replay are disabled")
	} else {
		defer rdb.Close()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger.Named("http")))
	e.Use(echomw.Recover())

	router.Register(e, router.Deps{
		JWTSecret:    cfg.JWTSecret,
		Health:       &handler.HealthHandler{DB: db, Redis: rdb},
		Orders:       handler.NewOrderHandler(orders, checkout, middleware.NewOrderTokens(cfg.JWTSecret, 0)),
		Reservations: handler.NewReservationHandler(reservations, scheduler),
		Sessions:     handler.NewSessionHandler(scheduler),
		GiftCards:    handler.NewGiftCardHandler(gifts),
		AfterAuth: []echo.MiddlewareFunc{
			middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger.Named("ratelimit")),
			middleware.Idempotency(config.LoadIdempotencyConfig(), rdb, logger.Named("idempotency")),
		},
	})

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return e.Shutdown(shutdownCtx)
}
