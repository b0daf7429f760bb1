package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appNotification "github.com/Zhima-Mochi/minishop-checkout/internal/application/notification"
	appOrder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	appPayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/bootstrap"
	"github.com/Zhima-Mochi/minishop-checkout/internal/config"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/notify"
	infraObs "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/paypal"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/seed"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	httppresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/worker"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	baseLogger := zaplogger.Must(zaplogger.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		LogFile: cfg.LogFile,
		Level:   cfg.LogLevel,
	})
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger.Zap())

	systemLogger := baseLogger.System()
	if err := run(cfg, baseLogger, systemLogger); err != nil {
		systemLogger.Error("service_exit", observability.F("error", err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, baseLogger *zaplogger.Logger, systemLogger observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := prometrics.NewCheckout("", registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	tel := infraObs.New(oteltrace.New(cfg.ServiceName, cfg.ServiceVersion), baseLogger, metrics)

	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() { _ = stores.Close() }()

	// Webhooks and customer notifications run on separate in-memory buses.
	buses := bootstrap.NewBuses(tel)
	webhookSubscriber := workerpresentation.NewSubscriber(buses.Webhooks, baseLogger, tel)
	notificationSubscriber := workerpresentation.NewSubscriber(buses.Notifications, baseLogger, tel)

	core := bootstrap.NewCore(stores, buses.Notifications, tel)

	if cfg.SeedFile != "" {
		f, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return err
		}
		sum, err := seed.Apply(ctx, f, core.Ledger, stores.Catalog, stores.Coupons)
		if err != nil {
			return err
		}
		systemLogger.Info("seed_applied",
			observability.F("restocked", sum.Restocked),
			observability.F("prices", sum.Prices),
			observability.F("coupons", sum.Coupons),
		)
	}

	gateway, err := paypal.New(paypal.Options{
		Mode:         cfg.PayPalMode,
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		WebhookID:    cfg.PayPalWebhookID,
		Timeout:      cfg.PayPalTimeout,
	})
	if err != nil {
		return err
	}

	var notifier appNotification.Notifier = notify.NewLogNotifier(baseLogger)
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		kafkaNotifier := notify.NewKafkaNotifier(notify.NewKafkaWriter(brokers, cfg.KafkaNotifyTopic), baseLogger)
		defer func() { _ = kafkaNotifier.Close() }()
		notifier = kafkaNotifier
	}

	paymentWorker := appPayment.NewWorker(webhookSubscriber, core.Confirm, core.Deny, core.Refund, tel,
		appPayment.WithInbox(stores.Inbox),
		appPayment.WithAudit(core.Audit),
		appPayment.WithMaxAttempts(cfg.WebhookMaxAttempts),
	)
	paymentWorker.Start()
	appNotification.NewWorker(notificationSubscriber, notifier, tel).Start()
	buses.Start(ctx)

	redriver := appPayment.NewRedriver(stores.Inbox, paymentWorker, tel,
		appPayment.WithRedriveInterval(cfg.WebhookRedriveInterval),
		appPayment.WithRedriveBackoff(cfg.WebhookRedriveBackoff),
	)
	go redriver.Run(ctx)

	capture := appPayment.NewCapturePaymentUseCase(gateway, core.Confirm, core.Deny, tel)
	handler := httppresentation.NewHandler(httppresentation.UseCases{
		CreateOrder: appOrder.NewCreateOrderUseCase(stores.Orders, stores.Catalog, stores.Coupons, gateway, id.NewUUIDGenerator(),
			cfg.ReturnURL, cfg.CancelURL, tel),
		GetOrder:  appOrder.NewGetOrderUseCase(stores.Orders),
		Capture:   capture,
		Webhook:   appPayment.NewWebhookIntake(gateway, buses.Webhooks, cfg.PayPalVerifyWebhooks, tel).WithInbox(stores.Inbox),
		Reconcile: core.Reconcile,
	}, httppresentation.Options{
		AdminJWTSecret:   []byte(cfg.AdminJWTSecret),
		WebhookRateRPS:   cfg.WebhookRateRPS,
		WebhookRateBurst: cfg.WebhookRateBurst,
	}, tel)

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Mount("/", handler.Router())

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		systemLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
			observability.F("store", cfg.StoreDriver),
			observability.F("dedup", cfg.DedupBackend),
			observability.F("paypal_mode", cfg.PayPalMode),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", observability.F("error", err))
	} else {
		systemLogger.Info("http_server_stopped")
	}
	if err := buses.Stop(shutdownCtx); err != nil {
		systemLogger.Warn("event_bus_stop_error", observability.F("error", err))
	}
	if err := core.Audit.Close(shutdownCtx); err != nil {
		systemLogger.Warn("audit_close_error", observability.F("error", err))
	}
	if runErr != nil {
		return fmt.Errorf("http server: %w", runErr)
	}
	return nil
}
