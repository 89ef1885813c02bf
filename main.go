package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"crypto-gateway/config"
	"crypto-gateway/handlers"
	"crypto-gateway/idempotency"
	"crypto-gateway/logging"
	"crypto-gateway/monitoring"
	"crypto-gateway/notify"
	"crypto-gateway/providers"
	"crypto-gateway/rates"
	"crypto-gateway/service"
	"crypto-gateway/storage"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "crypto-gateway",
		Short: "Crypto payment gateway integration service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(gatewaysCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the payment API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	// Load configuration
	cfg := config.Load()

	otlpEndpoint := ""
	if cfg.OTELEnabled {
		otlpEndpoint = cfg.OTELEndpoint
	}

	// Initialize structured logging
	if err := logging.InitLogger(otlpEndpoint); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logging.Sync()
	defer func() {
		if err := logging.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()

	// Initialize OpenTelemetry
	tracer := otel.Tracer(cfg.ServiceName)
	if cfg.OTELEnabled {
		tp, t, err := monitoring.InitTracer(cfg.ServiceName, cfg.OTELEndpoint)
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logging.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
		tracer = t
	}

	mp, err := monitoring.InitMeter(cfg.ServiceName, otlpEndpoint)
	if err != nil {
		return fmt.Errorf("initialize meter: %w", err)
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			logging.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	// Transaction store
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open transaction store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate transaction store: %w", err)
	}

	gateways, err := config.LoadGateways(cfg.GatewaysFile)
	if err != nil {
		return fmt.Errorf("load gateways: %w", err)
	}
	for _, g := range gateways {
		logging.Info("Gateway configured",
			zap.String("gateway", g.Provider.String()),
			zap.Bool("active", g.Active),
		)
	}

	notifier := newNotifier(cfg)
	defer notifier.Close()

	guard, closeGuard := newGuard(ctx, cfg)
	defer closeGuard()

	// Initialize service layer
	registry := providers.NewRegistry(providers.NewClient(cfg.ProviderTimeout), providers.Options{
		APIBaseURL:  cfg.APIBaseURL,
		FrontendURL: cfg.FrontendURL,
		OrderPrefix: cfg.OrderPrefix,
	})
	paymentService := service.NewPaymentService(tracer, gateways, registry, store, rates.DefaultRates(), notifier)
	reconciler := service.NewReconciler(tracer, gateways, registry, store, guard, notifier)

	// Setup Gin router
	r := gin.Default()

	// OpenTelemetry middleware
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMetricsMiddleware())

	// Routes
	handlers.RegisterRoutes(r, handlers.NewPaymentHandler(paymentService), handlers.NewWebhookHandler(reconciler))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * cfg.ProviderTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Crypto gateway starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Error shutting down HTTP server", zap.Error(err))
	}
	logging.Info("Crypto gateway stopped")
	return nil
}

func newNotifier(cfg *config.Config) notify.Notifier {
	if len(cfg.KafkaBrokers) == 0 {
		logging.Info("No Kafka brokers configured, payment events go to the log")
		return notify.LogNotifier{}
	}
	logging.Info("Publishing payment events to Kafka",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic),
	)
	return notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
}

func newGuard(ctx context.Context, cfg *config.Config) (idempotency.Guard, func()) {
	if cfg.RedisAddr == "" {
		logging.Info("No Redis configured, duplicate deliveries are caught by the store only")
		return idempotency.NoopGuard{}, func() {}
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logging.Warn("Redis unreachable at startup", zap.Error(err), zap.String("addr", cfg.RedisAddr))
	}

	return idempotency.NewRedisGuard(rdb, cfg.DeliveryTTL), func() {
		if err := rdb.Close(); err != nil {
			logging.Error("Error closing Redis client", zap.Error(err))
		}
	}
}

// httpMetricsMiddleware records HTTP request metrics
func httpMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		// Record duration
		duration := float64(time.Since(start).Milliseconds())

		monitoring.HTTPServerDuration.Record(c.Request.Context(), duration,
			metric.WithAttributes(
				attribute.String("http_method", c.Request.Method),
				attribute.String("http_route", c.FullPath()),
				attribute.String("http_status_code", strconv.Itoa(c.Writer.Status())),
			),
		)
	}
}
