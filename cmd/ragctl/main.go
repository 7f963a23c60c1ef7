// Command ragctl ingests and queries policy documents against a local
// artifact directory without the HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"policy-rag-go/internal/config"
	"policy-rag-go/internal/pipeline"
	"policy-rag-go/internal/repository"
	"policy-rag-go/internal/service"
	"policy-rag-go/pkg/embedding"
	"policy-rag-go/pkg/llm"
	"policy-rag-go/pkg/log"
	"policy-rag-go/pkg/storage"
	"policy-rag-go/pkg/tika"
)

var (
	configPath string
	dataDir    string
)

func main() {
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Ingest and query county policy documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", getenv("RAG_CONFIG", ""), "config file (YAML)")
	root.PersistentFlags().StringVar(&dataDir, "data", "", "artifact directory (overrides storage.local_dir)")

	root.SetOut(os.Stdout)
	root.AddCommand(ingestCMD(), uploadCMD(), askCMD(), listCMD())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// app holds the components a command needs.
type app struct {
	cfg       config.Config
	store     *storage.FSStore
	artifacts repository.ArtifactRepository
	docs      service.DocumentService
	chat      service.ChatService
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.Log.Level, "console", "")
	if dataDir != "" {
		cfg.Storage.LocalDir = dataDir
	}
	store, err := storage.NewFSStore(cfg.Storage.LocalDir)
	if err != nil {
		return nil, err
	}
	artifacts := repository.NewArtifactRepository(store)
	embeddingClient := embedding.NewClient(cfg.Ollama)
	llmClient := llm.NewClient(cfg.Ollama)

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
	search := service.NewSearchService(embeddingClient, artifacts, cfg.RAG.QuestionMaxChars)
	return &app{
		cfg:       cfg,
		store:     store,
		artifacts: artifacts,
		docs:      service.NewDocumentService(ingestor, artifacts, nil, nil, tika.NewClient(cfg.Tika)),
		chat: service.NewChatService(search, llmClient, nil, service.ChatOptions{
			EmbeddingModel:   cfg.Ollama.EmbeddingModel,
			CompletionModel:  cfg.Ollama.ChatModel,
			TopK:             cfg.RAG.TopK,
			MinScore:         cfg.RAG.MinScore,
			QuestionMaxChars: cfg.RAG.QuestionMaxChars,
		}),
	}, nil
}
