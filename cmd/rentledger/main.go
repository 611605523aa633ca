package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"rentledger/internal/app/commands"
	"rentledger/internal/app/handlers/accounts"
	"rentledger/internal/app/handlers/ledger"
	"rentledger/internal/app/handlers/payments"
	"rentledger/internal/app/handlers/settlement"
	"rentledger/internal/app/handlers/withdrawals"
	"rentledger/internal/app/middleware"
	"rentledger/internal/app/outbox"
	"rentledger/internal/app/policies"
	"rentledger/internal/app/queries"
	"rentledger/internal/app/schedule"
	"rentledger/internal/app/uow"
	"rentledger/internal/infra/broker/kafka"
	"rentledger/internal/infra/config"
	mongostore "rentledger/internal/infra/db/mongo"
	"rentledger/internal/infra/db/postgres"
	"rentledger/internal/infra/gateway/sandbox"
	"rentledger/internal/infra/gateway/stripe"
	ginserver "rentledger/internal/infra/http/gin"
	"rentledger/internal/infra/obs"
	infraoutbox "rentledger/internal/infra/outbox"
	"rentledger/internal/infra/storage/memory"
	"rentledger/internal/infra/storage/s3"
	"rentledger/internal/infra/validation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)
	metrics := obs.NewMetrics()

	app, err := buildApplication(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("application init failed", "error", err)
		os.Exit(1)
	}
	defer app.close()

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger, Metrics: metrics}, obs.HealthHandlers{Store: app.store}, app.handlers)

	var workers sync.WaitGroup
	app.startBackground(ctx, &workers, cfg, logger, metrics)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "gateway", cfg.Gateway)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		stop()
		workers.Wait()
		app.close()
		os.Exit(1)
	}
	workers.Wait()
	logger.Info("HTTP server stopped")
}

// storeHandle is whatever backs the ledger: the unit of work factory plus its companions.
type storeHandle interface {
	uow.UoWFactory
	Ping(ctx context.Context) error
}

type gateway interface {
	policies.IntentGateway
	policies.PayoutGateway
	policies.AccountGateway
	policies.EventVerifier
}

type application struct {
	handlers ginserver.Handlers
	store    storeHandle
	source   infraoutbox.Source
	gateway  gateway
	closers  []func()
	once     sync.Once
}

func (a *application) close() {
	a.once.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
	})
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *obs.Metrics) (*application, error) {
	app := &application{}

	fees, err := policies.NewFeeSchedule(cfg.PlatformFee, cfg.Currency)
	if err != nil {
		return nil, err
	}

	idem, err := app.openStore(ctx, cfg, logger)
	if err != nil {
		app.close()
		return nil, err
	}

	switch cfg.Gateway {
	case config.GatewayStripe:
		gw, err := stripe.New(stripe.Config{
			SecretKey:      cfg.StripeSecretKey,
			WebhookSecret:  cfg.StripeWebhookSecret,
			AccountCountry: cfg.AccountCountry,
		})
		if err != nil {
			app.close()
			return nil, err
		}
		app.gateway = gw
	default:
		logger.Warn("using sandbox payment gateway; no money moves")
		app.gateway = sandbox.New(cfg.SandboxWebhookSecret())
	}

	var archive policies.EventArchive
	if cfg.ArchiveEnabled() {
		a, err := s3.NewArchive(cfg.ArchiveEndpoint, cfg.ArchiveUseSSL, cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, cfg.ArchiveBucket, logger)
		if err != nil {
			app.close()
			return nil, err
		}
		archive = a
	}

	encoder := outbox.JSONEventEncoder{}
	registry := commands.NewRegistry()
	commands.Register[payments.CreateIntentCommand, payments.CreateIntentResult](registry, &payments.CreateIntentHandler{
		Gateway:    app.gateway,
		Currency:   cfg.Currency,
		UoWFactory: app.store,
		Logger:     logger,
	})
	commands.Register[settlement.ProcessEventCommand, settlement.ProcessEventResult](registry, &settlement.ProcessEventHandler{
		Verifier:    app.gateway,
		UoWFactory:  app.store,
		Fees:        fees,
		Archive:     archive,
		Encoder:     encoder,
		Logger:      logger,
		Outcomes:    metrics.Outcomes("settlement"),
		MaxAttempts: cfg.TxMaxAttempts,
	})
	commands.Register[withdrawals.WithdrawCommand, withdrawals.WithdrawResult](registry, &withdrawals.WithdrawHandler{
		UoWFactory:  app.store,
		Payouts:     app.gateway,
		Fees:        fees,
		Encoder:     encoder,
		NewID:       uuid.NewString,
		Logger:      logger,
		Outcomes:    metrics.Outcomes("withdrawal"),
		MaxAttempts: cfg.TxMaxAttempts,
	})
	commands.Register[accounts.LinkAccountCommand, accounts.LinkAccountResult](registry, &accounts.LinkAccountHandler{
		UoWFactory:      app.store,
		Accounts:        app.gateway,
		FrontendBaseURL: cfg.FrontendBaseURL,
		Encoder:         encoder,
		Logger:          logger,
		MaxAttempts:     cfg.TxMaxAttempts,
	})

	queryRegistry := queries.NewRegistry()
	ledger.Register(queryRegistry, app.store)

	validator := validation.New()
	commandBus := middleware.ChainCommands(
		registry,
		middleware.CommandMetrics(metrics),
		middleware.Validation(validator),
		middleware.Idempotency(idem, nil, logger),
	)
	queryBus := middleware.ChainQueries(
		queryRegistry,
		middleware.QueryMetrics(metrics),
		middleware.QueryValidation(validator),
	)

	app.handlers = ginserver.Handlers{
		Payments:    ginserver.PaymentsHandler{Commands: commandBus, Logger: logger},
		Accounts:    ginserver.AccountsHandler{Commands: commandBus, Logger: logger},
		Withdrawals: ginserver.WithdrawalsHandler{Commands: commandBus, Logger: logger},
		Webhook:     ginserver.WebhookHandler{Commands: commandBus, Logger: logger},
		Ledger:      ginserver.LedgerHandler{Queries: queryBus, Logger: logger},
		Metrics:     metrics.Handler(),
	}
	return app, nil
}

// openStore connects the configured driver and returns its idempotency store.
func (a *application) openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (middleware.IdempotencyStore, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("mongo connect: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close(context.Background()) })
		box, err := infraoutbox.NewStore(ctx, client.DB)
		if err != nil {
			return nil, fmt.Errorf("mongo outbox: %w", err)
		}
		factory, err := mongostore.NewFactory(ctx, client.DB, box, cfg.Currency)
		if err != nil {
			return nil, fmt.Errorf("mongo store: %w", err)
		}
		a.store, a.source = factory, box
		return mongostore.NewIdempotencyStore(ctx, client.DB, cfg.IdempotencyTTL)
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, cfg.PostgresDSN, cfg.Currency)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		a.store, a.source = pg, pg
		return postgres.NewIdempotencyStore(pg.Pool, cfg.IdempotencyTTL), nil
	default:
		store := memory.NewStore()
		path := getenv("LEDGER_FIXTURES", defaultFixturesPath())
		if err := loadFixtures(store, path, cfg.Currency, logger); err != nil {
			logger.Warn("ledger fixtures load failed", "error", err, "path", path)
		}
		a.store, a.source = store, store
		return memory.NewIdempotencyStore(cfg.IdempotencyTTL), nil
	}
}

func (a *application) startBackground(ctx context.Context, wg *sync.WaitGroup, cfg config.Config, logger *slog.Logger, metrics *obs.Metrics) {
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, kafka.NewConfig("rentledger"))
		if err != nil {
			logger.Error("kafka producer init failed, outbox relay disabled", "error", err)
		} else {
			a.closers = append(a.closers, func() { _ = producer.Close() })
			worker := &infraoutbox.Worker{
				Source:      a.source,
				Producer:    producer,
				Interval:    cfg.OutboxPollInterval,
				TopicPrefix: cfg.KafkaTopicPrefix,
				SourceURI:   "rentledger",
				Backoff:     cfg.RetryBackoff,
				Logger:      logger,
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("outbox relay stopped", "error", err)
				}
			}()
		}
	} else {
		logger.Info("KAFKA_BROKERS not set, outbox relay disabled")
	}

	reconciler := &withdrawals.Reconciler{
		UoWFactory:  a.store,
		Payouts:     a.gateway,
		Encoder:     outbox.JSONEventEncoder{},
		After:       cfg.ReconcileAfter,
		Logger:      logger,
		Outcomes:    metrics.Outcomes("reconcile"),
		MaxAttempts: cfg.TxMaxAttempts,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := (schedule.Ticker{Logger: logger}).Every(ctx, cfg.ReconcileInterval, reconciler); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reconciler stopped", "error", err)
		}
	}()
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
