// Command api serves the HTTP surface of SPEC_FULL §6: checkout,
// payments, and the admin/query surface, behind graceful shutdown.
// Grounded on the donor's gateway/main.go + gateway/app.go lifecycle
// (OpenTelemetry init, signal-driven Start/Shutdown, Consul
// self-registration).
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/malikli-com/irole/internal/adminapi"
	"github.com/malikli-com/irole/internal/broker"
	"github.com/malikli-com/irole/internal/catalogue"
	"github.com/malikli-com/irole/internal/checkout"
	"github.com/malikli-com/irole/internal/config"
	"github.com/malikli-com/irole/internal/currency"
	"github.com/malikli-com/irole/internal/discovery"
	"github.com/malikli-com/irole/internal/discovery/consul"
	"github.com/malikli-com/irole/internal/httpapi"
	"github.com/malikli-com/irole/internal/ledger"
	"github.com/malikli-com/irole/internal/orderstate"
	"github.com/malikli-com/irole/internal/reconcile"
	"github.com/malikli-com/irole/internal/reconcile/gateway"
	"github.com/malikli-com/irole/internal/reservation"
	"github.com/malikli-com/irole/internal/telemetry"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load("api")
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(2)
	}

	logger := telemetry.NewLogger(cfg.ServiceName, cfg.LogLevel)
	logger.Info("starting service", "http_port", cfg.HTTPPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer shutdownTracer(ctx)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	b, err := broker.Connect(cfg.RabbitMQUser, cfg.RabbitMQPass, cfg.RabbitMQHost, cfg.RabbitMQPort, logger)
	if err != nil {
		logger.Error("connect to broker", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	var registry *consul.Registry
	instanceID := discovery.GenerateInstanceID(cfg.ServiceName)
	registry, err = consul.NewRegistry(cfg.ConsulAddr)
	if err != nil {
		logger.Warn("consul unavailable, continuing without service discovery", "error", err)
		registry = nil
	} else if err := registry.Register(ctx, instanceID, cfg.ServiceName, "localhost:"+cfg.HTTPPort); err != nil {
		logger.Warn("consul register failed", "error", err)
	} else {
		defer registry.Deregister(ctx, instanceID, cfg.ServiceName)
		go runHealthCheckLoop(ctx, registry, instanceID, cfg.ServiceName, logger)
	}

	pgLedger := ledger.NewPostgresLedger(db)
	var stockLedger ledger.Ledger = pgLedger
	if itemCache, cacheErr := ledger.NewItemCache(cfg.RedisAddr, time.Minute); cacheErr != nil {
		logger.Warn("redis item cache unavailable, serving stock reads uncached", "error", cacheErr)
	} else {
		defer itemCache.Close()
		stockLedger = ledger.NewCachedLedger(pgLedger, itemCache, logger)
	}

	store := reservation.NewStore(db, stockLedger, cfg.ReservationTTL)
	machine := orderstate.NewMachine(db, store)

	resolver := catalogue.NewHTTPResolver(stockLedger, cfg.CatalogueBaseURL)
	coordinator := checkout.NewCoordinator(db, resolver, store, stockLedger, b, cfg.StoreCurrency)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	converter := currency.NewHTTPConverter(redisClient, decimal.NewFromFloat(3.2), logger)
	gatewayClient := gateway.NewStripeClient(cfg.GatewaySecret)
	verifier := gateway.NewHMACVerifier(cfg.GatewaySecret)
	reconciler := reconcile.NewReconciler(db, gatewayClient, verifier, converter, machine, cfg.PaymentCurrency, logger)

	surface := adminapi.NewSurface(db, stockLedger, store, machine, redisClient, logger)

	metrics := telemetry.NewHTTPMetrics(cfg.ServiceName)
	businessMetrics := telemetry.NewBusinessMetrics(cfg.ServiceName)
	coordinator.SetMetrics(businessMetrics)
	store.SetMetrics(businessMetrics)
	reconciler.SetMetrics(businessMetrics)

	ordersHandler := httpapi.NewOrdersHandler(coordinator, machine, surface, stockLedger, logger)
	paymentsHandler := httpapi.NewPaymentsHandler(reconciler, cfg.FrontendURL, logger)
	adminHandler := httpapi.NewAdminHandler(surface, stockLedger, logger)
	router := httpapi.NewRouter(ordersHandler, paymentsHandler, adminHandler, metrics, cfg.FrontendURL, logger)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during http shutdown", "error", err)
		}
		cancel()
	}()

	logger.Info("http server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHealthCheckLoop(ctx context.Context, registry *consul.Registry, instanceID, serviceName string, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := registry.HealthCheck(instanceID, serviceName); err != nil {
				logger.Warn("consul health check failed", "error", err)
			}
		}
	}
}
