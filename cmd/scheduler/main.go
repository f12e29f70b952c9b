// Command scheduler runs the Expiry Scheduler: a singleton periodic
// sweep guarded by a filesystem PID lock, grounded on the donor's
// stock/main.go long-running-process shape (zap logging, Consul
// self-registration, a background ticker) combined with
// original_source/backend/unreservation_scheduler.py's CLI surface
// (--interval, --max-age, --status, --stop).
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/malikli-com/irole/internal/broker"
	"github.com/malikli-com/irole/internal/config"
	"github.com/malikli-com/irole/internal/currency"
	"github.com/malikli-com/irole/internal/discovery"
	"github.com/malikli-com/irole/internal/discovery/consul"
	"github.com/malikli-com/irole/internal/ledger"
	"github.com/malikli-com/irole/internal/orderstate"
	"github.com/malikli-com/irole/internal/reconcile"
	"github.com/malikli-com/irole/internal/reconcile/gateway"
	"github.com/malikli-com/irole/internal/reservation"
	"github.com/malikli-com/irole/internal/scheduler"
	"github.com/malikli-com/irole/internal/schedlock"
	"github.com/malikli-com/irole/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const lockFilePath = "/tmp/irole-scheduler.lock"

func main() {
	interval := flag.Int("interval", 0, "sweep interval in minutes (overrides SCHEDULER_INTERVAL_MINUTES)")
	maxAge := flag.Int("max-age", 0, "reservation max age in minutes (overrides RESERVATION_TTL_MINUTES)")
	dryRun := flag.Bool("dry-run", false, "run sweeps without mutating state")
	statusOnly := flag.Bool("status", false, "report whether a scheduler instance holds the lock, then exit")
	stop := flag.Bool("stop", false, "send SIGTERM to the process holding the lock, then exit")
	flag.Parse()

	zapLogger, _ := zap.NewProduction()
	defer zapLogger.Sync()

	lock := schedlock.New(lockFilePath)

	if *statusOnly {
		if lock.IsHeld() {
			fmt.Println("scheduler is running")
			os.Exit(0)
		}
		fmt.Println("scheduler is not running")
		os.Exit(1)
	}

	if *stop {
		pid, err := lock.HolderPID()
		if err != nil {
			fmt.Println("scheduler is not running")
			os.Exit(1)
		}
		proc, err := os.FindProcess(pid)
		if err != nil || proc.Signal(syscall.Signal(0)) != nil {
			fmt.Println("scheduler is not running")
			os.Exit(1)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			fmt.Printf("could not stop scheduler: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sent stop signal to scheduler (pid %d)\n", pid)
		os.Exit(0)
	}

	cfg, err := config.Load("scheduler")
	if err != nil {
		zapLogger.Error("load config", zap.Error(err))
		os.Exit(2)
	}
	logger := telemetry.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if *interval > 0 {
		cfg.SchedulerInterval = time.Duration(*interval) * time.Minute
	}
	if *maxAge > 0 {
		cfg.ReservationTTL = time.Duration(*maxAge) * time.Minute
	}

	held, err := lock.Acquire()
	if err != nil {
		zapLogger.Fatal("acquire scheduler lock", zap.Error(err))
	}
	if !held {
		zapLogger.Error("another scheduler instance holds the lock, exiting")
		os.Exit(1)
	}
	defer lock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	b, err := broker.Connect(cfg.RabbitMQUser, cfg.RabbitMQPass, cfg.RabbitMQHost, cfg.RabbitMQPort, logger)
	if err != nil {
		zapLogger.Fatal("connect to broker", zap.Error(err))
	}
	defer b.Close()

	registry, err := consul.NewRegistry(cfg.ConsulAddr)
	if err != nil {
		zapLogger.Fatal("connect to consul", zap.Error(err))
	}
	instanceID := discovery.GenerateInstanceID(cfg.ServiceName)
	if err := registry.Register(ctx, instanceID, cfg.ServiceName, "localhost:"+cfg.HTTPPort); err != nil {
		zapLogger.Warn("consul register failed, continuing without dashboard visibility", zap.Error(err))
	} else {
		defer registry.Deregister(ctx, instanceID, cfg.ServiceName)
		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				if err := registry.HealthCheck(instanceID, cfg.ServiceName); err != nil {
					logger.Warn("consul health check failed", "error", err)
				}
			}
		}()
	}

	pgLedger := ledger.NewPostgresLedger(db)
	store := reservation.NewStore(db, pgLedger, cfg.ReservationTTL)
	machine := orderstate.NewMachine(db, store)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	converter := currency.NewHTTPConverter(redisClient, decimal.NewFromFloat(3.2), logger)
	gatewayClient := gateway.NewStripeClient(cfg.GatewaySecret)
	verifier := gateway.NewHMACVerifier(cfg.GatewaySecret)
	reconciler := reconcile.NewReconciler(db, gatewayClient, verifier, converter, machine, cfg.PaymentCurrency, logger)

	businessMetrics := telemetry.NewBusinessMetrics(cfg.ServiceName)
	store.SetMetrics(businessMetrics)
	reconciler.SetMetrics(businessMetrics)

	sched := scheduler.New(db, store, machine, reconciler, b, logger, cfg.BatchSize, cfg.HardTimeout, cfg.PullReconcileAfter)
	sched.SetMetrics(businessMetrics)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	zapLogger.Info("scheduler started",
		zap.Duration("interval", cfg.SchedulerInterval),
		zap.Bool("dry_run", *dryRun),
	)

	ticker := time.NewTicker(cfg.SchedulerInterval)
	defer ticker.Stop()

	runTick(ctx, sched, zapLogger, *dryRun)

	for {
		select {
		case <-ticker.C:
			runTick(ctx, sched, zapLogger, *dryRun)
		case sig := <-sigCh:
			zapLogger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			return
		}
	}
}

func runTick(ctx context.Context, sched *scheduler.Scheduler, logger *zap.Logger, dryRun bool) {
	stats, err := sched.Tick(ctx, dryRun)
	if err != nil {
		logger.Error("scheduler tick failed", zap.String("run_id", stats.RunID), zap.Error(err))
		return
	}
	logger.Info("scheduler tick completed",
		zap.String("run_id", stats.RunID),
		zap.Int("expired_reservations", stats.ExpiredReservations),
		zap.Int("orphaned_released", stats.OrphanedReleased),
		zap.Int("orders_cancelled", stats.OrdersCancelled),
		zap.Int("pull_reconciled", stats.PullReconciled),
		zap.Int("pull_reconcile_errors", stats.PullReconcileErrors),
		zap.Duration("duration", stats.FinishedAt.Sub(stats.StartedAt)),
	)
}
