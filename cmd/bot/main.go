package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tg_paywall_bot/internal/api"
	"tg_paywall_bot/internal/config"
	"tg_paywall_bot/internal/domain"
	"tg_paywall_bot/internal/logging"
	"tg_paywall_bot/internal/metrics"
	"tg_paywall_bot/internal/store"
	"tg_paywall_bot/internal/telegram"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoIndexTimeout       = 5 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	httpShutdownTimeout     = 10 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	ledger := domain.NewLedger(mongoManager.Access())
	chargeLog := domain.NewChargeLog(mongoManager.Charges())
	statsProvider := store.NewStatsProvider(mongoManager.Access(), mongoManager.Charges())

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	tgClient, err := telegram.NewClient(cfg, telegram.Deps{
		Ledger:  ledger,
		Charges: chargeLog,
		Metrics: collector,
		Logger:  logger,
	})
	if err != nil {
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	limiter := api.NewRateLimiter(api.DefaultRateLimiterConfig())

	apiServer, err := api.NewServer(cfg.HTTPPort, api.Deps{
		BotToken: cfg.TelegramToken,
		Ledger:   ledger,
		Invoicer: tgClient.Invoicer(),
		Mongo:    mongoManager,
		Stats:    statsProvider,
		Metrics:  collector,
		Gatherer: registry,
		Limiter:  limiter,
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Error("api server setup error")
		fmt.Fprintf(os.Stderr, "api server setup error: %v\n", err)
		os.Exit(1)
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- apiServer.ListenAndServe()
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	case err := <-apiErr:
		if err != nil {
			logger.WithError(err).Error("api server error")
		} else {
			logger.WithField("event", "api_stopped_early").Warn("api server stopped before shutdown signal")
		}
	}

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := apiServer.Shutdown(httpCtx); err != nil {
		logger.WithError(err).Error("api server shutdown error")
	}
	cancelHTTP()

	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	limiter.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
