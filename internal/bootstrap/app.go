package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"zenocloud/internal/ai"
	"zenocloud/internal/app"
	"zenocloud/internal/cache"
	"zenocloud/internal/config"
	"zenocloud/internal/logger"
	"zenocloud/internal/pkg/pdfextract"
	"zenocloud/internal/platform/database"
	"zenocloud/internal/platform/objectstore"
	rabbitmqClient "zenocloud/internal/platform/rabbitmq"
	redisClient "zenocloud/internal/platform/redis"
	"zenocloud/internal/rag"
	"zenocloud/internal/repository"
	"zenocloud/internal/worker"
)

type App struct {
	Config  *config.Config
	Log     *logger.Logger
	DB      *gorm.DB
	Redis   *redis.Client
	MQConn  *amqp.Connection
	Objects objectstore.Store

	Documents    *app.DocumentService
	Queries      *app.QueryService
	IngestWorker *worker.IngestWorker

	StartedAt time.Time
	closers   []func() error
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	db, err := database.New(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	a.DB = db
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err := database.Migrate(db, cfg.Database.VectorIndex, cfg.Embedding.Dimension); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	a.Redis = redisCli
	a.closers = append(a.closers, redisCli.Close)

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return err
	}
	a.MQConn = mqConn
	a.closers = append(a.closers, mqConn.Close)

	if err := a.initObjectStore(ctx); err != nil {
		return err
	}

	docRepo := repository.NewDocumentRepository(db)
	chunkRepo := repository.NewChunkEmbeddingRepository(db, cfg.Database.VectorIndex, cfg.Embedding.Dimension)

	embeddingClient := ai.NewEmbeddingClient(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.RequestsPerSecond)
	embedder := rag.NewServiceEmbedder(embeddingClient, cfg.Embedding.Dimension, cfg.RAG.EmbedBatchSize, cfg.RAG.EmbedTimeout())
	queryEmbedder := cache.NewQueryEmbeddingCache(embedder, redisCli, time.Duration(cfg.Redis.QueryEmbedTTLSeconds)*time.Second, a.Log)

	store := rag.NewVectorStore(chunkRepo, cfg.Embedding.Dimension, cfg.RAG.CandidatePool, cfg.RAG.StoreTimeout(), a.Log)
	retriever := rag.NewRetriever(queryEmbedder, store)

	llmTimeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	chatClient := ai.NewChatClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, llmTimeout)
	synth := rag.NewSynthesizer(chatClient, rag.SynthesizerConfig{
		Model:               cfg.LLM.Model,
		MaxTokens:           cfg.LLM.MaxTokens,
		AnswerTemperature:   cfg.RAG.AnswerTemperature,
		SummaryTemperature:  cfg.RAG.SummaryTemperature,
		MaxContextChunks:    cfg.RAG.MaxContextChunks,
		ContextChars:        cfg.RAG.ContextChars,
		SummaryContextChars: cfg.RAG.SummaryContextChars,
		PreviewChars:        cfg.RAG.PreviewChars,
		Timeout:             llmTimeout,
	})

	orchestrator := rag.NewOrchestrator(rag.OrchestratorDeps{
		Documents: docRepo,
		Objects:   a.Objects,
		Extractor: pdfextract.Extractor{},
		Embedder:  embedder,
		Chunks:    store,
		Log:       a.Log,
	}, rag.IngestConfig{
		ChunkSize:      cfg.RAG.ChunkSize,
		ChunkOverlap:   cfg.RAG.ChunkOverlap,
		MinWriteRatio:  cfg.RAG.MinWriteRatio,
		MaxAttempts:    cfg.RAG.MaxAttempts,
		RetryBaseDelay: cfg.RAG.RetryBaseDelay(),
		AttemptTimeout: cfg.RAG.AttemptTimeout(),
		StoreTimeout:   cfg.RAG.StoreTimeout(),
		MaxFileBytes:   cfg.Storage.MaxFileBytes,
		StaleAfter:     cfg.RAG.StaleProcessingAfter(),
	})

	publisher := rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue)
	a.Documents = app.NewDocumentService(docRepo, store, a.Objects, publisher, cfg.Storage.MaxFileBytes, a.Log)
	a.Queries = app.NewQueryService(docRepo, retriever, synth, app.QueryConfig{
		TopK:           cfg.RAG.QueryTopK,
		SummaryTopK:    cfg.RAG.SummaryTopK,
		SearchTopK:     cfg.RAG.SearchTopK,
		SearchMinScore: cfg.RAG.SearchMinScore,
		SearchMaxFiles: cfg.RAG.SearchMaxFiles,
	})

	a.IngestWorker = worker.NewIngestWorker(
		mqConn,
		orchestrator,
		docRepo,
		cfg.RAG.StaleProcessingAfter(),
		cfg.RabbitMQ.IngestQueue,
		cfg.RabbitMQ.WorkerConcurrency,
		a.Log,
	)
	if err := a.IngestWorker.Start(ctx); err != nil {
		return fmt.Errorf("start ingest worker failed: %w", err)
	}
	return nil
}

func (a *App) initObjectStore(ctx context.Context) error {
	cfg := a.Config.Storage
	switch cfg.Driver {
	case "gcs":
		store, err := objectstore.NewGCS(ctx, cfg.Bucket, cfg.EmulatorHost)
		if err != nil {
			return err
		}
		a.Objects = store
		a.closers = append(a.closers, store.Close)
	default:
		store, err := objectstore.NewLocal(cfg.LocalDir)
		if err != nil {
			return err
		}
		a.Objects = store
	}
	return nil
}

// Health returns the dependency checks served by /healthz.
func (a *App) Health() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		},
		"rabbitmq": func(context.Context) error {
			if a.MQConn == nil || a.MQConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		},
	}
}

// Close stops the worker first, then releases clients in reverse order of creation.
func (a *App) Close() error {
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
