package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/ai"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/app"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/cache"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/config"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/model"
	mysqlClient "github.com/DafisNadhifSaputra/D-notebook-ai/internal/platform/mysql"
	rabbitmqClient "github.com/DafisNadhifSaputra/D-notebook-ai/internal/platform/rabbitmq"
	redisClient "github.com/DafisNadhifSaputra/D-notebook-ai/internal/platform/redis"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/rag"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/repository"
	"github.com/DafisNadhifSaputra/D-notebook-ai/internal/worker"
)

// App holds the wired application: connections, services, and background
// workers. Constructed once at startup.
type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	AuthService         *app.AuthService
	RAGService          *app.RAGService
	ConversationService *app.ConversationService

	MessageWorker *worker.MessagePersistWorker
	IngestWorker  *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Message{},
		&model.Document{},
		&model.Chunk{},
		&model.RAGSession{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		MySQL:     mysqlDB,
		Redis:     redisCli,
		MQConn:    mqConn,
		StartedAt: time.Now(),
	}
	a.wireServices()

	if err := a.startWorkers(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) wireServices() {
	cfg := a.Config

	userRepo := repository.NewUserRepository(a.MySQL)
	documentRepo := repository.NewDocumentRepository(a.MySQL)
	chunkRepo := repository.NewChunkRepository(a.MySQL)
	sessionRepo := repository.NewRAGSessionRepository(a.MySQL)
	conversationRepo := repository.NewConversationRepository(a.MySQL)
	messageRepo := repository.NewMessageRepository(a.MySQL)

	a.AuthService = app.NewAuthService(
		userRepo,
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
	)

	retry := ai.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.Embedding.MaxAttempts
	retry.BaseDelay = time.Duration(cfg.Embedding.BaseDelayMs) * time.Millisecond
	retry.MaxDelay = time.Duration(cfg.Embedding.MaxDelayMs) * time.Millisecond
	aiClient := ai.NewClient(ai.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	}, retry)

	metrics := rag.NewMetrics()
	classifier := rag.NewKeywordClassifier()
	gateway := rag.NewEmbeddingGateway(aiClient, rag.GatewayOptions{
		Dimension:        cfg.Embedding.Dimension,
		InitialBatchSize: cfg.Embedding.InitialBatchSize,
		MinBatchSize:     cfg.Embedding.MinBatchSize,
		BatchDelay:       time.Duration(cfg.Embedding.BatchDelayMs) * time.Millisecond,
	}, metrics)
	chunker := rag.NewChunker(rag.ChunkerOptions{
		ChunkSize:            cfg.RAG.ChunkSize,
		ChunkOverlap:         cfg.RAG.ChunkOverlap,
		EquationChunkSize:    cfg.RAG.EquationChunkSize,
		EquationChunkOverlap: cfg.RAG.EquationChunkOverlap,
		DenseNotationOverlap: cfg.RAG.DenseNotationOverlap,
	})
	planner := rag.NewPlanner(classifier)
	retriever := rag.NewRetriever(planner, gateway, chunkRepo, metrics, rag.RetrieverOptions{
		PerVariantK:       cfg.RAG.PerVariantTopK,
		TargetResults:     cfg.RAG.TargetResults,
		MinResults:        cfg.RAG.MinResults,
		FingerprintLength: cfg.RAG.FingerprintLength,
	})
	generator := rag.NewGenerator(app.NewLLMAdapter(aiClient), classifier, rag.NewThinkingExtractor(), metrics, rag.GeneratorConfig{
		MaxHistoryTurns: cfg.RAG.MaxHistoryTurns,
	})

	metricsCache := cache.NewMetricsCache(a.Redis, time.Duration(cfg.Redis.MetricsTTLSeconds)*time.Second)
	historyCache := cache.NewHistoryCache(
		a.Redis,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	ingestPublisher := rabbitmqClient.NewIngestPublisher(a.MQConn, cfg.RabbitMQ.IngestQueue)
	messagePublisher := rabbitmqClient.NewMessagePublisher(a.MQConn, cfg.RabbitMQ.MessagePersistQueue)

	a.RAGService = app.NewRAGService(app.RAGServiceDeps{
		Documents:       documentRepo,
		Chunks:          chunkRepo,
		Sessions:        sessionRepo,
		Chunker:         chunker,
		Gateway:         gateway,
		Retriever:       retriever,
		Generator:       generator,
		Classifier:      classifier,
		Metrics:         metrics,
		Enqueuer:        ingestPublisher,
		Streamer:        app.NewLLMAdapter(aiClient),
		Mirror:          metricsCache,
		StoreDimension:  cfg.Embedding.Dimension,
		UpsertBatchSize: cfg.RAG.UpsertBatchSize,
		MaxHistoryTurns: cfg.RAG.MaxHistoryTurns,
	})
	a.ConversationService = app.NewConversationService(conversationRepo, messageRepo, messagePublisher, historyCache)
}

func (a *App) startWorkers(ctx context.Context) error {
	messageRepo := repository.NewMessageRepository(a.MySQL)
	a.MessageWorker = worker.NewMessagePersistWorker(a.MQConn, messageRepo, a.Config.RabbitMQ.MessagePersistQueue)
	if err := a.MessageWorker.Start(ctx); err != nil {
		return fmt.Errorf("start message worker failed: %w", err)
	}

	a.IngestWorker = worker.NewIngestWorker(a.MQConn, func(ctx context.Context, userID, documentID uint) error {
		_, err := a.RAGService.ProcessDocument(ctx, userID, documentID)
		return err
	}, a.Config.RabbitMQ.IngestQueue)
	if err := a.IngestWorker.Start(ctx); err != nil {
		return fmt.Errorf("start ingest worker failed: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
