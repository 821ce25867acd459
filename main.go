package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sqlforge-ai/sqlforge-engine/pkg/analyzer"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/chunker"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/config"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/datasource"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/embedding"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/generator"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/handlers"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/llm"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/logging"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/prompts"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/retriever"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/rules"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/services"
	"github.com/sqlforge-ai/sqlforge-engine/pkg/vectorstore"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	buildKB := flag.Bool("build", false, "build the knowledge base and exit")
	force := flag.Bool("force", false, "rebuild even when the knowledge base has content")
	question := flag.String("query", "", "answer one question and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to assemble engine", zap.Error(err))
	}
	defer app.close()

	switch {
	case *buildKB:
		runBuild(ctx, app, *force, logger)
	case *question != "":
		runQuery(ctx, app, *question, logger)
	default:
		serve(ctx, cfg, app, logger)
	}
}

// app holds the assembled pipeline and everything that needs closing.
type app struct {
	knowledge *services.KnowledgeService
	query     *services.QueryService
	memory    *vectorstore.MemoryStore // non-nil for the memory backend
	snapshot  string
	closers   []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}

	ruleStore := rules.NewStore()
	if cfg.BusinessRulesPath != "" {
		if err := ruleStore.LoadFile(cfg.BusinessRulesPath); err != nil {
			return nil, fmt.Errorf("load business rules: %w", err)
		}
		logger.Info("loaded business rules",
			zap.String("path", cfg.BusinessRulesPath),
			zap.Int("rules", ruleStore.Len()))
	}

	extractor, executor, err := openDatasource(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, extractor.Close)
	if executor != nil {
		a.closers = append(a.closers, executor.Close)
	}

	store, err := openVectorStore(ctx, cfg, logger, a)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	embedClient, err := llm.NewEmbeddingClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	embedder := embedding.New(embedClient, cfg.Embedding.Model, cfg.Embedding.BatchConcurrency, logger)

	genClient, err := llm.NewGenerationClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	dialect := cfg.Datasource.Dialect()

	a.knowledge = services.NewKnowledgeService(
		extractor,
		chunker.New(ruleStore, logger),
		embedder,
		store,
		logger,
	)

	var execForQueries datasource.Executor
	if cfg.Repair.ExecuteQueries {
		execForQueries = executor
	}

	a.query = services.NewQueryService(
		a.knowledge,
		analyzer.New(ruleStore, logger),
		retriever.New(embedder, store, cfg.Retrieval.TopK, cfg.Retrieval.ScoreThreshold, logger),
		prompts.New(dialect, cfg.Retrieval.ContextBudgetChars, logger),
		generator.New(genClient, cfg.LLM.Temperature, cfg.LLM.MaxTokens,
			time.Duration(cfg.LLM.TimeoutSeconds)*time.Second, logger),
		execForQueries,
		dialect,
		cfg.Repair.MaxAttempts,
		logger,
	)

	return a, nil
}

func openDatasource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (datasource.SchemaExtractor, datasource.Executor, error) {
	switch cfg.Datasource.Type {
	case "postgres":
		extractor, err := datasource.NewPostgresExtractor(ctx, &cfg.Datasource, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres datasource: %w", err)
		}
		executor, err := datasource.NewPostgresExecutor(ctx, &cfg.Datasource, logger)
		if err != nil {
			extractor.Close()
			return nil, nil, fmt.Errorf("open postgres executor: %w", err)
		}
		return extractor, executor, nil
	case "mssql":
		extractor, err := datasource.NewMSSQLExtractor(ctx, &cfg.Datasource, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open mssql datasource: %w", err)
		}
		executor, err := datasource.NewMSSQLExecutor(ctx, &cfg.Datasource, logger)
		if err != nil {
			extractor.Close()
			return nil, nil, fmt.Errorf("open mssql executor: %w", err)
		}
		return extractor, executor, nil
	case "file":
		// Schema feed only: nothing to execute against.
		return datasource.NewFileExtractor(cfg.Datasource.SchemaPath, logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown datasource type %q", cfg.Datasource.Type)
	}
}

func openVectorStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, a *app) (vectorstore.KnowledgeBase, error) {
	switch cfg.VectorStore.Backend {
	case "pgvector":
		store, err := vectorstore.NewPGVectorStore(ctx, cfg.VectorStore.PGConnectionString(), logger)
		if err != nil {
			return nil, fmt.Errorf("open pgvector store: %w", err)
		}
		return store, nil
	case "memory":
		store := vectorstore.NewMemoryStore(logger)
		a.memory = store
		a.snapshot = cfg.VectorStore.SnapshotPath
		if a.snapshot != "" {
			if _, err := os.Stat(a.snapshot); err == nil {
				if err := store.Load(a.snapshot); err != nil {
					return nil, fmt.Errorf("load knowledge snapshot: %w", err)
				}
			}
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.VectorStore.Backend)
	}
}

// saveSnapshot persists the memory backend after builds and imports.
func (a *app) saveSnapshot(logger *zap.Logger) {
	if a.memory == nil || a.snapshot == "" {
		return
	}
	if err := a.memory.Save(a.snapshot); err != nil {
		logger.Error("Failed to save knowledge snapshot", zap.Error(err))
	}
}

func runBuild(ctx context.Context, a *app, force bool, logger *zap.Logger) {
	stats, err := a.knowledge.Build(ctx, force)
	if err != nil {
		logger.Fatal("Knowledge base build failed", zap.Error(err))
	}
	a.saveSnapshot(logger)

	logger.Info("Build complete",
		zap.Int("tables", stats.Tables),
		zap.Int("chunks", stats.Chunks),
		zap.Int("removed", stats.Removed),
		zap.Bool("skipped", stats.Skipped))
}

func runQuery(ctx context.Context, a *app, question string, logger *zap.Logger) {
	result, err := a.query.Query(ctx, question, services.QueryOptions{IncludeArtifacts: false})
	if err != nil && result == nil {
		logger.Fatal("Query failed", zap.Error(err))
	}
	if err != nil {
		logger.Warn("Query did not succeed", zap.Error(err))
	}

	encoded, encodeErr := json.MarshalIndent(result, "", "  ")
	if encodeErr != nil {
		logger.Fatal("Failed to encode result", zap.Error(encodeErr))
	}
	fmt.Println(string(encoded))
}

func serve(ctx context.Context, cfg *config.Config, a *app, logger *zap.Logger) {
	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewKnowledgeHandler(a.knowledge, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(a.query, logger).RegisterRoutes(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
		a.saveSnapshot(logger)
	}()

	logger.Info("Starting sqlforge-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version),
		zap.String("dialect", cfg.Datasource.Dialect()),
		zap.String("vector_backend", cfg.VectorStore.Backend))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
