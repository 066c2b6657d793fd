// Command oracle runs the exchange oracle HTTP service and its scheduled
// passes.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	oracle "github.com/goliatone/go-oracle"
	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/cvat"
	"github.com/goliatone/go-oracle/migrations"
	sqlstore "github.com/goliatone/go-oracle/store/sql"
	"github.com/goliatone/go-oracle/storage"
	"github.com/goliatone/go-oracle/transport"
	persistence "github.com/goliatone/go-persistence-bun"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2

	shutdownTimeout = 15 * time.Second
)

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "migrate":
		os.Exit(runMigrate())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`oracle - exchange oracle service

Usage:
  oracle [command]

Commands:
  serve     Apply migrations, then serve HTTP and run scheduled passes (default)
  migrate   Apply database migrations and exit

Configuration is read from ORACLE_* environment variables, for example
ORACLE_DATABASE__DSN, ORACLE_CVAT__URL and ORACLE_CHAIN__SIGNING_KEY.`)
}

func loadConfig(ctx context.Context) (oracle.Config, bool) {
	cfg, err := oracle.LoadConfig(ctx, oracle.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return cfg, false
	}
	return cfg, true
}

func runMigrate() int {
	ctx := context.Background()
	cfg, ok := loadConfig(ctx)
	if !ok {
		return exitInvalidConfig
	}
	client, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		return exitRuntimeError
	}
	defer client.Close()
	if err := migrations.Apply(ctx, client, cfg.Database.Driver); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return exitRuntimeError
	}
	return exitSuccess
}

func runServe() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, ok := loadConfig(ctx)
	if !ok {
		return exitInvalidConfig
	}
	logger := newLogger(cfg.Database.Debug)

	client, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		return exitRuntimeError
	}
	defer client.Close()
	if err := migrations.Apply(ctx, client, cfg.Database.Driver); err != nil {
		logger.Error("migrations failed", "error", err)
		return exitRuntimeError
	}
	stores, err := sqlstore.NewSessionFromPersistence(client)
	if err != nil {
		logger.Error("store session failed", "error", err)
		return exitRuntimeError
	}

	rest := transport.NewRESTAdapter(transport.NewHTTPClient(transport.ClientConfig{
		RetryMax: 2,
		Timeout:  cfg.Webhook.RequestTimeout,
		Logger:   logger,
	}))
	cvatClient, err := cvat.NewClient(cvat.Config{
		URL:                cfg.CVAT.URL,
		Username:           cfg.CVAT.Username,
		Password:           cfg.CVAT.Password,
		RequestTimeout:     cfg.CVAT.RequestTimeout,
		DownloadRetries:    cfg.CVAT.DownloadRetries,
		DownloadRetryDelay: cfg.CVAT.DownloadRetryDelay,
	}, rest)
	if err != nil {
		logger.Error("cvat client failed", "error", err)
		return exitInvalidConfig
	}

	deps := oracle.Dependencies{
		Stores: stores,
		CVAT:   cvatClient,
		HTTP:   rest,
		Logger: logger,
	}
	if strings.TrimSpace(cfg.Storage.Endpoint) != "" {
		bucket, err := storage.NewBucket(cfg.Storage)
		if err != nil {
			logger.Error("results storage failed", "error", err)
			return exitInvalidConfig
		}
		if err := bucket.EnsureBucket(ctx, cfg.Storage.Region); err != nil {
			logger.Error("results bucket unavailable", "error", err)
			return exitRuntimeError
		}
		deps.Storage = bucket
	}

	app, err := oracle.New(cfg, deps)
	if err != nil {
		logger.Error("oracle setup failed", "error", err)
		return exitInvalidConfig
	}
	defer app.Close()
	if err := app.Start(ctx); err != nil {
		logger.Error("oracle start failed", "error", err)
		return exitRuntimeError
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("oracle listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	code := exitSuccess
	select {
	case <-ctx.Done():
		logger.Info("oracle shutting down")
	case err, ok := <-serveErr:
		if ok && err != nil {
			logger.Error("http server failed", "error", err)
			code = exitRuntimeError
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	app.Stop()
	return code
}

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-oracle" }

// openDatabase opens a persistence client for the configured driver.
func openDatabase(_ context.Context, cfg core.DatabaseConfig) (*persistence.Client, error) {
	dialect, err := migrations.DialectForDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	driver := "sqlite3"
	var bunDialect schema.Dialect = sqlitedialect.New()
	if dialect == migrations.DialectPostgres {
		driver = "postgres"
		bunDialect = pgdialect.New()
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{driver: driver, server: cfg.DSN, debug: cfg.Debug}, sqlDB, bunDialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return client, nil
}
