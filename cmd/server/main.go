package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"furnish-be/internal/address"
	"furnish-be/internal/api"
	"furnish-be/internal/config"
	"furnish-be/internal/db"
	"furnish-be/internal/idempotency"
	"furnish-be/internal/logger"
	"furnish-be/internal/metrics"
	"furnish-be/internal/middleware"
	"furnish-be/internal/notify"
	"furnish-be/internal/order"
	"furnish-be/internal/product"
	"furnish-be/internal/user"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	initDBFunc      = db.InitDB
	startServerFunc = startServer
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	database := initDBFunc(cfg)
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newServer(ctx, cfg, database)
	defer app.Close()

	addr := ":" + cfg.AppPort
	logger.L().Info("order API listening", zap.String("addr", addr), zap.String("env", cfg.AppEnv))
	return startServerFunc(ctx, addr, app.handler)
}

type server struct {
	handler http.Handler
	closers []io.Closer
}

func (s *server) Close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			logger.L().Warn("failed to close dependency", zap.Error(err))
		}
	}
}

// newServer assembles repositories, the order service and the HTTP router.
// Kafka and Redis are used only when configured.
func newServer(ctx context.Context, cfg *config.Config, database *sql.DB) *server {
	app := &server{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	health := api.NewHealthHandlers().WithCheck("postgres", database.PingContext)

	var notifier notify.Notifier = notify.LogNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		kn := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaOrderTopic))
		app.closers = append(app.closers, kn)
		notifier = kn
		logger.L().Info("publishing order events to kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaOrderTopic),
		)
	}

	var store idempotency.Store = idempotency.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		app.closers = append(app.closers, rdb)
		store = idempotency.NewRedisStore(rdb)
		health.WithCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	svc := order.NewService(order.ServiceDeps{
		Repo:          order.NewRepository(database),
		Users:         user.NewRepository(database),
		Addresses:     address.NewRepository(database),
		Products:      product.NewRepository(database),
		Notifier:      notifier,
		Metrics:       m,
		OrderIDPrefix: cfg.OrderIDPrefix,
	})

	orders := api.NewOrderHandler(svc, idempotency.Middleware(store, cfg.IdempotencyTTL))
	limiter := middleware.NewRateLimiter(ctx, cfg.InternalServiceKey)

	app.handler = api.NewRouter(
		api.WithMiddlewares(
			middleware.Logging(m),
			middleware.Auth(cfg.JWTSecret),
			limiter.Middleware,
		),
		api.WithHealthHandlers(health),
		api.WithMetricsHandler(metrics.Handler(reg)),
		api.WithOrderRoutes(orders.Routes),
	)
	return app
}

// startServer serves until ctx is cancelled, then drains in-flight requests.
func startServer(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.L().Info("shutting down order API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
