package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/config"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/model"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/adapter"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/domain/ports/repository"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/adapters/channel"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/adapters/events"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/adapters/paymentapi"
	tele "github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/adapters/telegram"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/api"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/api/apiv1"
	pg "github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/db/postgres"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/i18n"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/logging"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/metrics"
	red "github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/redis"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/sched"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/infra/worker"
	"github.com/cleanHouse123/clenHouseWeb-sub000/internal/usecase"
)

// set by -ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted secrets)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- stores ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	handoffs := red.NewHandoffRepo(redisClient, cfg.Handoff.TTL)
	rateLimiter := red.NewRateLimiter(redisClient)

	// The audit trail is optional; without a database sessions still run.
	var audit repository.ReconciliationLogRepository
	var sweeper *sched.StaleSessionSweeper
	if cfg.Database.URL != "" {
		pool, err := pg.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Str("database", logging.Redact(cfg.Database.URL, cfg.Runtime.Dev)).Msg("postgres")
		}
		defer pool.Close()
		audit = pg.NewReconciliationLogRepo(pool)
		sweeper = sched.NewStaleSessionSweeper(audit, red.NewLocker(redisClient), cfg.Sweeper.Interval, cfg.Sweeper.StaleAfter, logger)
		sweeper.UseTx(pg.NewTxManager(pool))
		sweeper.AfterTick(func() { pg.ReportPoolStats(pool) })
	} else {
		logger.Warn().Msg("database.url not set; reconciliation audit log disabled")
	}

	// ---- adapters ----
	statusAPI := paymentapi.NewClient(cfg.PaymentAPI.BaseURL, cfg.PaymentAPI.Token, cfg.PaymentAPI.Timeout)

	var eventChannel interface {
		adapter.PaymentEventChannel
		Close() error
	}
	if cfg.Channel.URL != "" {
		eventChannel = channel.NewHub(channel.Options{
			URL:   cfg.Channel.URL,
			Token: cfg.PaymentAPI.Token,
			Namespaces: map[model.SubjectKind]string{
				model.SubjectSubscription: cfg.Channel.Namespaces.Subscription,
				model.SubjectOrder:        cfg.Channel.Namespaces.Order,
			},
			PingInterval: cfg.Channel.PingInterval,
			DialTimeout:  cfg.Channel.DialTimeout,
		}, logger)
	} else {
		logger.Warn().Msg("channel.url not set; confirmations rely on polling only")
		eventChannel = channel.NewNoop()
	}
	defer eventChannel.Close()

	var publisher adapter.OutcomePublisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			logger.Fatal().Err(err).Strs("brokers", cfg.Kafka.Brokers).Msg("kafka")
		}
		publisher = events.NewKafkaPublisher(producer, cfg.Kafka.Topic, logger)
	}
	defer publisher.Close()

	var bot adapter.TelegramBotAdapter
	if cfg.Telegram.Token != "" {
		sender, err := tele.NewSender(cfg.Telegram.Token, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram")
		}
		bot = sender
	} else {
		bot = tele.NewNoopBotAdapter(logger)
	}

	texts, err := i18n.NewBundle(i18n.LocalesFS)
	if err != nil {
		logger.Fatal().Err(err).Msg("i18n")
	}

	// ---- use cases ----
	// Workers outlive the signal so Stop can drain pending side effects.
	workers := worker.NewPool(cfg.Reconcile.Workers, logger)
	workers.Start(context.Background())
	defer workers.Stop()

	dispatcher := usecase.NewOutcomeDispatcher(workers, audit, publisher, bot, texts, logger)
	confirmUC := usecase.NewPaymentConfirmationUseCase(handoffs, audit, statusAPI, eventChannel, dispatcher, usecase.Flows{
		Return: usecase.SessionOptions{
			PollInterval:   cfg.Reconcile.Return.PollInterval,
			MaxAttempts:    cfg.Reconcile.Return.MaxAttempts,
			RequestTimeout: cfg.PaymentAPI.Timeout,
		},
		Await: usecase.SessionOptions{
			PollInterval:   cfg.Reconcile.Subscription.PollInterval,
			MaxAttempts:    cfg.Reconcile.Subscription.MaxAttempts,
			RequestTimeout: cfg.PaymentAPI.Timeout,
		},
	}, logger)

	// ---- HTTP ----
	cookie := apiv1.HandoffCookie{
		Name:   cfg.Handoff.CookieName,
		TTL:    cfg.Handoff.TTL,
		Secure: cfg.Handoff.SecureCookie,
	}
	auth := apiv1.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	v1 := apiv1.NewServer(confirmUC, auth, rateLimiter, apiv1.Options{
		Handoff:        cookie,
		PublicBaseURL:  cfg.HTTP.PublicBaseURL,
		AwaitPerMinute: cfg.RateLimit.AwaitPerMinute,
		RequestTimeout: cfg.HTTP.ReadTimeout,
	}, logger)
	srv := api.NewServer(confirmUC, v1, auth, texts, cookie, cfg.HTTP.PublicBaseURL, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	if sweeper != nil {
		go sweeper.Start(ctx)
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
}
