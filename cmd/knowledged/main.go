package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loomchat/knowledge/internal/artifact"
	"github.com/loomchat/knowledge/internal/compress"
	"github.com/loomchat/knowledge/internal/config"
	"github.com/loomchat/knowledge/internal/embedder"
	"github.com/loomchat/knowledge/internal/index"
	"github.com/loomchat/knowledge/internal/repository"
	"github.com/loomchat/knowledge/internal/repository/postgres"
	"github.com/loomchat/knowledge/internal/reranker"
	"github.com/loomchat/knowledge/internal/retrieval"
	"github.com/loomchat/knowledge/internal/server"
	"github.com/loomchat/knowledge/internal/service"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run knowledge engine", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting knowledge engine",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// Initialize PostgreSQL registries
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	kbRepo := postgres.NewKnowledgeBaseRepo(db)
	docRepo := postgres.NewDocumentRepo(db)

	// Initialize the Qdrant-backed index client
	indexClient, err := index.NewQdrantIndex(cfg.QdrantGRPCURL, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer indexClient.Close()
	slog.Info("connected to Qdrant")

	// Resolvers attach provenance to retrieved chunks: the document
	// registry first, then the local filesystem.
	resolver := artifact.Chain{
		artifact.NewDocumentResolver(docRepo),
		artifact.NewFileResolver(),
	}

	retriever := retrieval.NewRetriever(indexClient,
		retrieval.WithResolver(resolver),
		retrieval.WithLogger(slog.Default()),
	)
	assembler := retrieval.NewAssembler(retriever, slog.Default())

	manager := compress.NewManager(indexClient,
		compress.WithCapacity(cfg.CompressionCacheSize),
		compress.WithTTL(cfg.CompressionCacheTTL),
		compress.WithManagerLogger(slog.Default()),
	)
	compressor := compress.NewCompressor(manager, indexClient, retriever, slog.Default())

	recency := retrieval.RecencyConfig{
		Enabled:    cfg.RecencyEnabled,
		TimeWeight: cfg.RecencyTimeWeight,
		DecayDays:  cfg.RecencyDecayDays,
	}

	defaultPolicy := compress.Policy{
		Embedding: embedder.Config{
			Provider:  cfg.EmbeddingProvider,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
			BaseURL:   cfg.EmbeddingBaseURL,
			APIKey:    cfg.EmbeddingAPIKey,
		},
		PerSourceDocumentCount: cfg.PerSourceDocumentCount,
	}
	if cfg.RerankEnabled {
		defaultPolicy.Rerank = &reranker.Config{
			Provider: reranker.ProviderOllama,
			Model:    cfg.RerankModel,
			BaseURL:  cfg.RerankBaseURL,
		}
	}

	svc := service.NewKnowledgeService(kbRepo, assembler, compressor, recency, defaultPolicy, slog.Default())

	httpServer := server.New(server.Config{
		Port:   cfg.HTTPPort,
		APIKey: cfg.APIKey,
		Logger: slog.Default(),
		Health: db.Ping,
	}, svc)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("knowledge engine stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.KnowledgeBaseRepository = (*postgres.KnowledgeBaseRepo)(nil)
	_ repository.DocumentRepository      = (*postgres.DocumentRepo)(nil)
	_ index.Client                       = (*index.QdrantIndex)(nil)
	_ artifact.Resolver                  = (artifact.Chain)(nil)
)
