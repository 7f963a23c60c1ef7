// Package main is the entry point of the policy RAG server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"policy-rag-go/internal/config"
	"policy-rag-go/internal/handler"
	"policy-rag-go/internal/middleware"
	"policy-rag-go/internal/model"
	"policy-rag-go/internal/pipeline"
	"policy-rag-go/internal/repository"
	"policy-rag-go/internal/service"
	"policy-rag-go/pkg/database"
	"policy-rag-go/pkg/embedding"
	"policy-rag-go/pkg/kafka"
	"policy-rag-go/pkg/llm"
	"policy-rag-go/pkg/log"
	"policy-rag-go/pkg/metrics"
	"policy-rag-go/pkg/storage"
	"policy-rag-go/pkg/tika"
	"policy-rag-go/pkg/token"
)

func main() {
	configPath := os.Getenv("RAG_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	// 1. configuration and logging
	config.Init(configPath)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("logger initialized")

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// 2. storage, database and Redis
	store, err := newBlobStore(rootCtx, cfg)
	if err != nil {
		log.Fatal("failed to initialize blob store", err)
	}

	var catalog repository.DocumentRepository
	if cfg.Database.MySQL.DSN != "" {
		db, err := database.InitMySQL(cfg.Database.MySQL.DSN, &model.DocumentRecord{})
		if err != nil {
			log.Fatal("failed to connect MySQL", err)
		}
		catalog = repository.NewDocumentRepository(db)
	} else {
		log.Warnf("MySQL is not configured, the document catalog is disabled")
	}

	var rdb *redis.Client
	if cfg.Database.Redis.Addr != "" {
		rdb, err = database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		if err != nil {
			log.Fatal("failed to connect Redis", err)
		}
		defer rdb.Close()
	} else {
		log.Warnf("Redis is not configured, the ask log is disabled")
	}

	// 3. repositories and collaborators
	artifacts := repository.NewArtifactRepository(store)
	var askLog repository.AskLogRepository
	var attempts kafka.AttemptCounter
	if rdb != nil {
		askLog = repository.NewAskLogRepository(rdb, cfg.RAG.AskLogSize)
		attempts = repository.NewTaskAttemptRepository(rdb)
	}

	embeddingClient := embedding.NewClient(cfg.Ollama)
	llmClient := llm.NewClient(cfg.Ollama)
	tikaClient := tika.NewClient(cfg.Tika)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)

	// 4. ingestion pipeline
	builder := pipeline.NewIndexBuilder(embeddingClient, artifacts, pipeline.BuilderOptions{
		Workers:          cfg.RAG.EmbedWorkers,
		EmbedMaxChars:    cfg.RAG.EmbedMaxChars,
		FailedSampleSize: cfg.RAG.FailedSampleSize,
		DumpFailedChunks: cfg.RAG.DumpFailedChunks,
	})
	var images *pipeline.ImageChunker
	if cfg.RAG.Vision.Enabled {
		images = pipeline.NewImageChunker(pipeline.NewVisionDescriber(llmClient), pipeline.ImageChunkerOptions{
			MinImageBytes: cfg.RAG.Vision.MinImageBytes,
			MaxRetries:    cfg.RAG.Vision.MaxRetries,
		})
	}
	ingestor := pipeline.NewIngestor(builder, images, pipeline.IngestorOptions{
		ChunkSize:      cfg.RAG.ChunkSize,
		Overlap:        cfg.RAG.ChunkOverlap,
		ChunkIDMode:    pipeline.ChunkIDMode(cfg.RAG.ChunkIDMode),
		EmbeddingModel: cfg.Ollama.EmbeddingModel,
		VisionModel:    cfg.Ollama.VisionModel,
		VisionEnabled:  cfg.RAG.Vision.Enabled,
	})

	// 5. services
	var producer *kafka.Producer
	var taskProducer service.TaskProducer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		taskProducer = producer
	}
	documentService := service.NewDocumentService(ingestor, artifacts, catalog, taskProducer, tikaClient)
	searchService := service.NewSearchService(embeddingClient, artifacts, cfg.RAG.QuestionMaxChars)
	chatOptions := service.ChatOptions{
		EmbeddingModel:   cfg.Ollama.EmbeddingModel,
		CompletionModel:  cfg.Ollama.ChatModel,
		TopK:             cfg.RAG.TopK,
		MinScore:         cfg.RAG.MinScore,
		QuestionMaxChars: cfg.RAG.QuestionMaxChars,
	}
	chatService := service.NewChatService(searchService, llmClient, askLog, chatOptions)
	historyService := service.NewAskHistoryService(askLog)
	authService := service.NewAuthService(cfg.JWT.OperatorUsername, cfg.JWT.OperatorPasswordHash, jwtManager)

	// 6. background ingestion consumer
	if cfg.Kafka.Enabled {
		processor := pipeline.NewProcessor(tikaClient, artifacts, documentService)
		go kafka.StartConsumer(rootCtx, cfg.Kafka, processor, attempts)
	}
	if cfg.Storage.SeedDir != "" {
		go seedDocuments(rootCtx, cfg.Storage.SeedDir, documentService)
	}

	// 7. router
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/health", handler.NewHealthHandler(handler.HealthInfo{
		EmbeddingModel: cfg.Ollama.EmbeddingModel,
		ChatModel:      cfg.Ollama.ChatModel,
		VisionModel:    cfg.Ollama.VisionModel,
		VisionEnabled:  cfg.RAG.Vision.Enabled,
		Storage:        cfg.Storage.Backend,
		Queue:          cfg.Kafka.Enabled,
	}).Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	docHandler := handler.NewDocumentHandler(documentService, historyService)
	chatHandler := handler.NewChatHandler(chatService)
	searchHandler := handler.NewSearchHandler(searchService, chatOptions)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/auth/token", handler.NewAuthHandler(authService).Login)

		authed := apiV1.Group("/")
		authed.Use(middleware.AuthMiddleware(jwtManager, cfg.JWT.Enabled))
		{
			documents := authed.Group("/documents")
			{
				documents.POST("", docHandler.Ingest)
				documents.POST("/upload", docHandler.Upload)
				documents.POST("/images", docHandler.IngestImage)
				documents.GET("", docHandler.List)
				documents.GET("/:docId", docHandler.Get)
				documents.GET("/:docId/asks", docHandler.Asks)
				documents.GET("/:docId/search", searchHandler.Search)
			}
			authed.POST("/ask", chatHandler.Ask)
			authed.GET("/ask/ws", chatHandler.Handle)
		}
	}

	// 8. serve until interrupted
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Infof("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received")

	stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP server shutdown failed: %v", err)
	}
	log.Info("server stopped")
}

func newBlobStore(ctx context.Context, cfg config.Config) (storage.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "minio":
		return storage.NewMinioStore(ctx, cfg.MinIO)
	case "memory":
		log.Warnf("using in-memory blob store, indexes are lost on restart")
		return storage.NewMemoryStore(), nil
	case "fs", "":
		return storage.NewFSStore(cfg.Storage.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// seedDocuments uploads every PDF in dir whose document has no index yet.
// The document id is the file name without its extension.
func seedDocuments(ctx context.Context, dir string, docs service.DocumentService) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warnf("seedDocuments: cannot read %s, skipping: %v", dir, err)
		return
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		docID := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if _, err := docs.Metadata(ctx, docID); err == nil {
			log.Infof("seedDocuments: %s already indexed, skipping", docID)
			continue
		} else if !errors.Is(err, model.ErrNotFound) {
			log.Warnf("seedDocuments: cannot check %s: %v", docID, err)
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Warnf("seedDocuments: cannot read %s: %v", e.Name(), err)
			continue
		}
		res, err := docs.Upload(ctx, service.UploadRequest{DocID: docID, FileName: e.Name(), Data: data, EnableVision: true})
		if err != nil {
			log.Warnf("seedDocuments: %s failed: %v", e.Name(), err)
			continue
		}
		log.Infof("seedDocuments: %s %s", docID, strings.ToLower(res.Status))
	}
}
