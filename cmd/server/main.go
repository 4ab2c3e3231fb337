package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"matrag/internal/api"
	"matrag/internal/db/memstore"
	"matrag/internal/db/postgres"
	redisdb "matrag/internal/db/redis"
	"matrag/internal/db/vecmem"
	"matrag/internal/domain/rag"
	"matrag/internal/platform/config"
	applog "matrag/internal/platform/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	store := initStore(cfg)
	index := vecmem.New()

	embedClient := rag.NewOpenAIEmbedClient(rag.OpenAIEmbedConfig{
		BaseURL:        cfg.RAG.EmbeddingBaseURL,
		APIKey:         cfg.RAG.EmbeddingAPIKey,
		Model:          cfg.RAG.EmbeddingModel,
		Dims:           cfg.RAG.EmbeddingDims,
		TimeoutSeconds: cfg.RAG.EmbeddingTimeoutSeconds,
	})
	embedder := rag.NewEmbedder(embedClient, cfg.RAG.EmbeddingBatchSize)
	applog.Infof("✅ Embedder initialized (model: %s, dims: %d)", cfg.RAG.EmbeddingModel, embedder.Dims())

	lifecycle, err := rag.NewLifecycle(store, index, embedder, &cfg.RAG)
	if err != nil {
		applog.Fatalf("❌ Failed to initialize engine: %v", err)
	}

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := lifecycle.Restore(restoreCtx); err != nil {
		restoreCancel()
		applog.Fatalf("❌ Failed to restore vector index: %v", err)
	}
	restoreCancel()
	applog.Infof("✅ Vector index restored (%d vectors)", index.Len())

	retriever := rag.NewRetriever(index, store, embedder, &cfg.RAG, lifecycle.Guard())
	assembler := rag.NewAssembler(&cfg.RAG)

	if cfg.RAG.HasCache() && cfg.Redis.URL != "" {
		if opt, err := goredis.ParseURL(cfg.Redis.URL); err == nil {
			cacheRedis := goredis.NewClient(opt)
			resultCache := redisdb.NewResultCache(cacheRedis, cfg.RAG.CacheTTL)
			retriever.SetCache(resultCache)
			lifecycle.SetCache(resultCache)
			applog.Infof("✅ Retrieval cache initialized (TTL: %ds)", cfg.RAG.CacheTTL)
		} else {
			applog.Warnf("⚠️  Redis URL invalid, retrieval cache disabled: %v", err)
		}
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	serverConfig.MaxFileMB = cfg.RAG.MaxFileSize
	server := api.NewServer(serverConfig, lifecycle, retriever, assembler, store)

	if cfg.RAG.HasGenerator() {
		generator := rag.NewOllamaGenerator(rag.OllamaGeneratorConfig{
			BaseURL:        cfg.RAG.GeneratorBaseURL,
			Model:          cfg.RAG.GeneratorModel,
			TimeoutSeconds: cfg.RAG.GeneratorTimeoutSeconds,
		})
		answerer := rag.NewAnswerer(retriever, assembler, generator)
		server.SetAnswerer(answerer)
		applog.Infof("✅ Generator initialized (model: %s)", cfg.RAG.GeneratorModel)
	} else {
		applog.Info("ℹ️  No generator configured, /rag/ask disabled")
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Error("❌ Server shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}

// initStore DATABASE_URL 配置时用 PostgreSQL，否则退回内存存储（开发模式）。
func initStore(cfg *config.AppConfig) rag.MetadataStore {
	if cfg.Database.URL == "" {
		applog.Info("ℹ️  No DATABASE_URL set, using in-memory metadata store")
		return memstore.New()
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Fatalf("❌ Failed to connect to database: %v", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	if err := db.Ping(); err != nil {
		applog.Fatalf("❌ Failed to ping database: %v", err)
	}
	applog.Info("✅ Connected to PostgreSQL")

	pgStore := postgres.NewStore(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := pgStore.EnsureTables(ctx); err != nil {
		applog.Fatalf("❌ Failed to ensure tables: %v", err)
	}
	applog.Info("✅ Metadata tables ready (documents, chunks)")
	return pgStore
}
