package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/urfave/negroni"

	"github.com/serisow/docgraph/chunker"
	"github.com/serisow/docgraph/config"
	"github.com/serisow/docgraph/db"
	"github.com/serisow/docgraph/embedder"
	"github.com/serisow/docgraph/extractor"
	"github.com/serisow/docgraph/graph_store"
	"github.com/serisow/docgraph/handlers"
	"github.com/serisow/docgraph/llm_service"
	"github.com/serisow/docgraph/logging"
	"github.com/serisow/docgraph/parser"
	"github.com/serisow/docgraph/pipeline"
	"github.com/serisow/docgraph/plugin_registry"
	"github.com/serisow/docgraph/search_service"
	"github.com/serisow/docgraph/vector_store"
)

func main() {
	cfg := config.Load()

	handler, err := logging.NewDailyFileHandler(cfg.LogDir, &slog.HandlerOptions{Level: slog.LevelInfo})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		logger.Error("Failed to create upload directory", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool, cfg.EmbeddingDimension); err != nil {
		logger.Error("Failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := plugin_registry.NewPluginRegistry()
	registry.RegisterLLMService("openai", llm_service.NewOpenAIService(logger, cfg.LLMTimeout))
	registry.RegisterLLMService("anthropic", llm_service.NewAnthropicService(logger, cfg.LLMTimeout))
	registry.RegisterEmbeddingService("openai", llm_service.NewOpenAIEmbeddingService(
		logger, cfg.EmbeddingAPIURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimension, cfg.LLMTimeout))

	llmService, ok := registry.GetLLMService(cfg.LLMServiceName)
	if !ok {
		logger.Error("Unknown LLM service", slog.String("name", cfg.LLMServiceName))
		os.Exit(1)
	}
	embeddingService, ok := registry.GetEmbeddingService("openai")
	if !ok {
		logger.Error("No embedding service registered")
		os.Exit(1)
	}

	llmConfig := map[string]interface{}{
		"api_url":    cfg.CompletionAPIURL,
		"api_key":    cfg.OpenAIAPIKey,
		"model_name": cfg.CompletionModel,
	}
	if cfg.LLMServiceName == "anthropic" {
		llmConfig["api_url"] = "https://api.anthropic.com/v1/messages"
		llmConfig["api_key"] = cfg.AnthropicAPIKey
	}

	vectors := vector_store.New(pool, logger)
	graph := graph_store.New(pool, logger)
	documents := pipeline.NewPgDocumentStore(pool)
	indexManager := vector_store.NewIndexManager(pool, logger)

	orchestrator := pipeline.NewOrchestrator(
		parser.NewDocumentParser(logger),
		chunker.New(cfg.MinChunkSize, cfg.MaxChunkSize, cfg.ChunkOverlap, llmService, llmConfig, logger),
		extractor.New(llmService, llmConfig, cfg.ExtractionBatchSize, cfg.ExtractionConcurrency, cfg.ConfidenceThreshold, logger),
		extractor.NewGraphWriter(graph, logger),
		embedder.New(embeddingService, vectors, logger),
		vectors,
		graph,
		documents,
		cfg.AssistedSegmentation,
		logger,
	)

	searchService := search_service.New(embeddingService, vectors, logger)

	documentHandler := handlers.NewDocumentHandler(orchestrator, searchService, documents, indexManager, cfg.UploadDir, logger)
	graphHandler := handlers.NewGraphHandler(graph, logger)
	r := mux.NewRouter()
	documentHandler.RegisterRoutes(r)
	graphHandler.RegisterRoutes(r)
	n := setupNegroni(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      n,
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Minute,
	}

	logger.Info("Server starting",
		slog.String("port", cfg.HTTPPort),
		slog.String("environment", cfg.Environment),
		slog.String("llm_service", cfg.LLMServiceName))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func setupNegroni(r *mux.Router) *negroni.Negroni {
	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.Use(negroni.NewLogger())
	n.UseHandler(r)
	return n
}
