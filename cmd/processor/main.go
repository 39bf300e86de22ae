package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/movestream/nft-marketplace-indexer/internal/config"
	"github.com/movestream/nft-marketplace-indexer/internal/logger"
	"github.com/movestream/nft-marketplace-indexer/internal/pipeline"
	"github.com/movestream/nft-marketplace-indexer/internal/registry"
	"github.com/movestream/nft-marketplace-indexer/internal/remapper"
	"github.com/movestream/nft-marketplace-indexer/internal/store"
	"github.com/movestream/nft-marketplace-indexer/internal/stream"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
	envPath    = flag.String("env", "", "Path to directory containing .env files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadProcessorConfig(*configPath, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags:      map[string]string{"service": cfg.ProcessorName},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.Info("Starting NFT marketplace processor", zap.String("processor", cfg.ProcessorName))

	// Load and compile marketplace configs
	marketplaces, err := config.LoadMarketplaceConfigs(cfg.MarketplaceConfigDir)
	if err != nil {
		logger.Fatal("Failed to load marketplace configs", zap.Error(err), zap.String("dir", cfg.MarketplaceConfigDir))
	}
	reg, err := registry.Compile(marketplaces)
	if err != nil {
		logger.Fatal("Failed to compile marketplace configs", zap.Error(err))
	}
	logger.Info("Marketplace configs compiled", zap.Strings("marketplaces", reg.Marketplaces()))

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
		cfg.Database.ConnMaxIdleTime,
	); err != nil {
		logger.Fatal("Failed to configure connection pool", zap.Error(err))
	}
	logger.Info("Connected to database")

	dataStore := store.NewPGStore(db)

	// Connect to the transaction feed
	streamClient, err := stream.NewJetStreamClient(cfg.NATS)
	if err != nil {
		logger.Fatal("Failed to connect to transaction feed", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer streamClient.Close()

	proc := pipeline.New(*cfg, dataStore, streamClient, remapper.New(reg))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel for pipeline errors
	errCh := make(chan error, 1)

	go func() {
		err := proc.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
			return
		}
		// Clean exit (completed backfill or drained stream).
		errCh <- nil
	}()

	// Wait for shutdown signal, completion, or error
	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		// Wait for the in-flight batch and final checkpoint.
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error(err, zap.String("component", "pipeline"))
			cancel()
			logger.Flush(2 * time.Second)
			os.Exit(1)
		}
	}

	logger.Info("NFT marketplace processor stopped")
}
