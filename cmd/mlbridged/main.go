// mlbridged runs the calendar backend's ML bridge as a standalone daemon:
// it declares the broker topology, starts the response consumer and sweeper,
// and serves health over HTTP.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dentalking/geulpi-calendar-ai-sub003/bridge"
	"github.com/dentalking/geulpi-calendar-ai-sub003/health"
	"github.com/dentalking/geulpi-calendar-ai-sub003/internal/rabbitmq"
	"github.com/dentalking/geulpi-calendar-ai-sub003/internal/reliability"
	"github.com/dentalking/geulpi-calendar-ai-sub003/messaging"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("mlbridged exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := rabbitmq.NewConnectionManager(cfg.BrokerURL,
		rabbitmq.WithConnectionLogger(logger),
	)
	if err := manager.Connect(ctx); err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	defer manager.Close()

	pool, err := rabbitmq.NewChannelPool(manager,
		rabbitmq.WithMaxChannels(cfg.MaxChannels),
	)
	if err != nil {
		return fmt.Errorf("channel pool: %w", err)
	}
	defer pool.Close()

	topoManager := rabbitmq.NewTopologyManager(pool)
	if err := topoManager.DeclareTopology(ctx, rabbitmq.MLTopology(cfg.Topology)); err != nil {
		return fmt.Errorf("declare topology: %w", err)
	}
	logger.Info("broker topology declared",
		"exchange", cfg.Topology.Exchange,
		"requestQueue", cfg.Topology.RequestQueue,
		"responseQueue", cfg.Topology.ResponseQueue,
	)

	rawPublisher := rabbitmq.NewPublisher(pool)
	publisher := messaging.NewMLPublisher(rawPublisher, cfg.Topology,
		messaging.WithPublisherLogger(logger),
	)

	consumer := rabbitmq.NewConsumer(pool,
		rabbitmq.WithPrefetchCount(cfg.PrefetchCount),
		rabbitmq.WithManualAck(true),
		rabbitmq.WithConsumerTag("mlbridged"),
		rabbitmq.WithConsumerLogger(logger),
	)
	parking := reliability.NewParkingHandler(rawPublisher,
		cfg.Topology.DeadLetterExchange, cfg.Topology.ParkingQueue,
		reliability.WithParkingLogger(logger),
	)
	subscriber := messaging.NewAMQPSubscriber(consumer, parking,
		messaging.WithSubscriberLogger(logger),
	)

	breaker := reliability.NewCircuitBreaker(
		reliability.WithFailureThreshold(5),
		reliability.WithOpenTimeout(10*time.Second),
	)
	retryPolicy := reliability.NewExponentialBackoff(100*time.Millisecond, 2*time.Second, 2.0, 3)

	b, err := bridge.NewBridge(publisher, subscriber,
		bridge.WithResponseQueue(cfg.Topology.ResponseQueue),
		bridge.WithErrorLogQueue(cfg.Topology.ErrorLogQueue),
		bridge.WithRequestTimeout(cfg.RequestTimeout),
		bridge.WithSweepInterval(cfg.SweepInterval),
		bridge.WithMaxPendingRequests(cfg.MaxPending),
		bridge.WithMaxRedeliveries(cfg.MaxRedeliveries),
		bridge.WithBridgeCircuitBreaker(breaker),
		bridge.WithBridgeRetryPolicy(retryPolicy),
		bridge.WithBridgeLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	defer b.Close()

	monitor := health.NewMonitor(
		health.NewBrokerChecker(manager),
		health.NewQueueChecker(cfg.Topology.ResponseQueue, pool, 10000),
		health.NewPendingRequestsChecker(b.PendingRequestCount, cfg.MaxPending*8/10, cfg.MaxPending),
	)

	healthSrv := newHealthServer(cfg.HealthListenAddr, monitor, logger)
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", "error", err)
		}
	}()

	logger.Info("mlbridged running",
		"broker", rabbitmq.SanitizeURL(cfg.BrokerURL),
		"healthAddr", cfg.HealthListenAddr,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health server shutdown", "error", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newHealthServer(addr string, monitor *health.Monitor, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		results, overall := monitor.CheckAll(ctx)
		code := http.StatusOK
		if overall == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(map[string]any{
			"status": overall,
			"checks": results,
		}); err != nil {
			logger.Error("failed to write health response", "error", err)
		}
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
