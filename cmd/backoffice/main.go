package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/backoffice/internal/cache"
	"github.com/fjod/go_cart/backoffice/internal/cart"
	"github.com/fjod/go_cart/backoffice/internal/checkout"
	"github.com/fjod/go_cart/backoffice/internal/config"
	"github.com/fjod/go_cart/backoffice/internal/consumer"
	h "github.com/fjod/go_cart/backoffice/internal/http"
	"github.com/fjod/go_cart/backoffice/internal/jobs"
	"github.com/fjod/go_cart/backoffice/internal/ledger"
	"github.com/fjod/go_cart/backoffice/internal/logger"
	"github.com/fjod/go_cart/backoffice/internal/publisher"
	"github.com/fjod/go_cart/backoffice/internal/reorder"
	"github.com/fjod/go_cart/backoffice/internal/repository"
	"github.com/fjod/go_cart/backoffice/internal/restock"
	"github.com/fjod/go_cart/backoffice/internal/seed"
	"github.com/fjod/go_cart/backoffice/internal/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

func main() {
	seedCatalog := flag.Bool("seed", false, "load the demo catalog before serving")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, *seedCatalog); err != nil {
		log.Fatal("backoffice stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, seedCatalog bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if seedCatalog {
		if err := seed.Load(ctx, st); err != nil {
			return err
		}
	}

	cartRepo, closeCarts, err := openCartRepository(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeCarts()

	cartOpts := []cart.Option{cart.WithMaxQuantity(cfg.LedgerMaxQuantity), cart.WithCurrency(cfg.Currency)}
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer client.Close()
		cartOpts = append(cartOpts, cart.WithCache(cache.NewRedisCache(client, cache.WithTTL(cfg.CartCacheTTL))))
		zap.L().Info("cart cache enabled", zap.String("addr", cfg.RedisAddr))
	}

	stockLedger := ledger.New(st, ledger.WithMaxQuantity(cfg.LedgerMaxQuantity))
	carts := cart.NewService(cartRepo, st, cartOpts...)
	checkouts := checkout.NewService(st, carts, stockLedger,
		checkout.WithTimeout(cfg.CheckoutTimeout),
		checkout.WithCurrency(cfg.Currency))
	bulk := restock.NewProcessor(stockLedger,
		restock.WithWorkers(cfg.BulkRestockWorkers),
		restock.WithMaxItems(cfg.BulkRestockMaxItems))
	advisor := reorder.NewAdvisor(st)

	var writer publisher.MessageWriter = publisher.LogWriter{}
	if len(cfg.KafkaBrokers) > 0 {
		writer = publisher.NewKafkaWriter(cfg.KafkaTopic, cfg.KafkaBrokers...)
		zap.L().Info("publishing outbox to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	defer writer.Close()

	pollerCtx, stopPoller := context.WithCancel(context.Background())
	defer stopPoller()
	go publisher.NewOutboxPoller(st, writer).Run(pollerCtx)

	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaDeliveryTopic != "" {
		deliveries := consumer.NewDeliveryConsumer(
			consumer.NewKafkaReader(cfg.KafkaDeliveryTopic, cfg.KafkaGroupID, cfg.KafkaBrokers...), bulk)
		defer deliveries.Close()
		go deliveries.Run(pollerCtx)
		zap.L().Info("consuming supplier deliveries", zap.String("topic", cfg.KafkaDeliveryTopic))
	}

	scheduler := jobs.NewScheduler(advisor, st)
	if err := scheduler.ScheduleDigest(cfg.ReorderDigestSchedule); err != nil {
		return err
	}
	scheduler.Start()

	router := h.NewRouter(h.Handlers{
		Inventory: h.NewInventoryHandler(stockLedger, bulk, advisor, cfg.RequestTimeout),
		Cart:      h.NewCartHandler(carts, cfg.RequestTimeout),
		Checkout:  h.NewCheckoutHandler(checkouts, cfg.CheckoutTimeout+time.Second),
	}, cfg.RequestTimeout)

	otel.SetTextMapPropagator(propagation.TraceContext{})
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "backoffice"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zap.L().Info("backoffice listening", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver), zap.String("cart_store", cfg.CartStore))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	zap.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("server forced to shutdown", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	stopPoller()

	zap.L().Info("backoffice stopped")
	return nil
}

// openStore returns the ledger store and, for SQL drivers, the underlying handle.
func openStore(cfg *config.Config) (store.Store, *sql.DB, error) {
	var (
		db      *sql.DB
		dialect repository.Dialect
		err     error
	)
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil, nil
	case config.StorePostgres:
		dialect = repository.DialectPostgres
		db, err = repository.OpenPostgres(&repository.Credentials{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
	case config.StoreSQLite:
		dialect = repository.DialectSQLite
		db, err = repository.OpenSQLite(cfg.SQLitePath)
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := repository.RunMigrations(db, dialect); err != nil {
		db.Close()
		return nil, nil, err
	}
	zap.L().Info("database migrations completed", zap.String("dialect", string(dialect)))
	return repository.NewSQLStore(db, dialect), db, nil
}

func openCartRepository(ctx context.Context, cfg *config.Config, db *sql.DB) (cart.Repository, func(), error) {
	switch cfg.CartStore {
	case config.CartStoreSQL:
		if db == nil {
			return nil, nil, errors.New("sql cart store needs a SQL ledger store")
		}
		return cart.NewSQLRepository(db), func() {}, nil
	case config.CartStoreMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		repo, disconnect, err := cart.OpenMongoRepository(connectCtx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		return repo, disconnect, nil
	default:
		return cart.NewMemoryRepository(), func() {}, nil
	}
}
