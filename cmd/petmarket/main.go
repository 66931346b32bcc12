package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/petmarket/internal/cache"
	"github.com/fjod/petmarket/internal/config"
	h "github.com/fjod/petmarket/internal/http"
	"github.com/fjod/petmarket/internal/logger"
	"github.com/fjod/petmarket/internal/notify"
	"github.com/fjod/petmarket/internal/payment"
	"github.com/fjod/petmarket/internal/publisher"
	"github.com/fjod/petmarket/internal/reaper"
	"github.com/fjod/petmarket/internal/repository"
	"github.com/fjod/petmarket/internal/service"
	"github.com/fjod/petmarket/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// storage groups the repositories the services run on.
type storage struct {
	catalog repository.CatalogRepository
	carts   repository.CartRepository
	orders  repository.OrderRepository
	outbox  repository.OutboxRepository
	closers []func() error
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn().Err(err).Msg("failed to close storage")
		}
	}
}

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.Setup("info", false)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("storage", cfg.StorageBackend).Str("payments", cfg.PaymentProvider).Msg("petmarket starting")

	var wg sync.WaitGroup

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	repos, err := openStorage(startupCtx, cfg)
	startupCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer repos.Close()

	cartCache, deduper, closeRedis := openRedis(cfg)
	defer closeRedis()

	gateway := payment.NewGuardedGateway(newGateway(cfg), cfg.GatewayTimeout, payment.DefaultBreakerConfig())

	var notifier notify.Sender = notify.LogSender{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaNotifier := notify.NewKafkaSender(cfg.KafkaNotificationTopic, cfg.KafkaBrokers...)
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
	}

	carts := service.NewCartService(repos.carts, repos.catalog, cartCache)
	pricer := service.NewPricer(repos.catalog)
	payments := service.NewPaymentService(carts, repos.orders, pricer, gateway, notifier, cfg.PaymentCurrency)
	orders := service.NewOrderService(carts, repos.catalog, repos.orders, pricer, payments, gateway, notifier)

	bgCtx, bgCancel := context.WithCancel(context.Background())

	var poller *publisher.OutboxPoller
	if len(cfg.KafkaBrokers) > 0 {
		poller = publisher.NewOutboxPoller(repos.outbox, cfg.KafkaOrderTopic, cfg.KafkaBrokers...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(bgCtx)
		}()
	}

	orderReaper := reaper.New(repos.orders, gateway, notifier, cfg.ReaperInterval, cfg.ReaperMaxAge)
	wg.Add(1)
	go func() {
		defer wg.Done()
		orderReaper.Run(bgCtx)
	}()

	router := h.NewRouter(h.Handlers{
		Cart:     h.NewCartHandler(carts, cfg.RequestTimeout),
		Payments: h.NewPaymentHandler(payments, cfg.RequestTimeout),
		Orders:   h.NewOrdersHandler(orders, cfg.RequestTimeout),
		Webhooks: h.NewWebhookHandler(payments, deduper, cfg.StripeWebhookSecret, cfg.RequestTimeout),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down petmarket...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	bgCancel()

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		log.Info().Msg("background workers stopped cleanly")
	case <-shutdownCtx.Done():
		log.Warn().Msg("background workers didn't stop in time")
	}

	if poller != nil {
		if err := poller.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close outbox writer")
		}
	}
	log.Info().Msg("petmarket stopped")
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.StorageBackend == config.BackendMemory {
		mem := store.NewMemoryStore()
		store.SeedDemoCatalog(mem)
		log.Warn().Msg("using in-memory storage with the demo catalog")
		return &storage{catalog: mem, carts: mem, orders: mem, outbox: mem, closers: []func() error{mem.Close}}, nil
	}

	creds := &repository.Credentials{
		Host:              cfg.Postgres.Host,
		Port:              cfg.Postgres.Port,
		User:              cfg.Postgres.User,
		Password:          cfg.Postgres.Password,
		DBName:            cfg.Postgres.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
	}
	repo, err := repository.NewRepository(creds)
	if err != nil {
		return nil, err
	}
	s := &storage{catalog: repo, orders: repo, outbox: repo, closers: []func() error{repo.Close}}

	if err := repo.RunMigrations(creds); err != nil {
		s.Close()
		return nil, err
	}
	log.Info().Msg("database migrations completed")

	db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.Client().Disconnect(ctx)
	})

	mongoCarts := repository.NewMongoRepository(db)
	if err := mongoCarts.CreateIndexes(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.carts = mongoCarts
	log.Info().Str("db", cfg.MongoDB).Msg("carts stored in mongodb")
	return s, nil
}

func openRedis(cfg *config.Config) (cache.CartCache, cache.Deduper, func()) {
	if cfg.RedisAddr == "" {
		log.Warn().Msg("REDIS_ADDR not set, cart cache and webhook dedupe disabled")
		return cache.Noop{}, cache.Noop{}, func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, continuing without cache")
		client.Close()
		return cache.Noop{}, cache.Noop{}, func() {}
	}

	log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	return cache.NewRedisCache(client), cache.NewRedisDeduper(client), func() { client.Close() }
}

func newGateway(cfg *config.Config) payment.Gateway {
	if cfg.PaymentProvider == config.ProviderStripe {
		return payment.NewStripeGateway(cfg.StripeSecretKey, nil)
	}
	log.Warn().Msg("using the in-memory fake payment gateway")
	return payment.NewFakeGateway()
}
