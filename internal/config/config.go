// Package config loads and holds application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Conf is the process-wide configuration populated by Init.
var Conf Config

// Config mirrors configs/config.yaml.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Tika     TikaConfig     `mapstructure:"tika"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ollama   OllamaConfig   `mapstructure:"ollama"`
	RAG      RAGConfig      `mapstructure:"rag"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig holds MySQL and Redis connection settings.
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig controls operator authentication. When Enabled is false the API
// is served without a bearer token check.
type JWTConfig struct {
	Enabled                bool   `mapstructure:"enabled"`
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	OperatorUsername       string `mapstructure:"operator_username"`
	OperatorPasswordHash   string `mapstructure:"operator_password_hash"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig configures the asynchronous ingestion queue.
type KafkaConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`

	// RetryBackoff is the wait before the second attempt of a failed task;
	// it doubles on each further attempt.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// StorageConfig selects the artifact blob store: "minio", "fs" or "memory".
type StorageConfig struct {
	Backend  string `mapstructure:"backend"`
	LocalDir string `mapstructure:"local_dir"`
	// SeedDir holds source files uploaded once at startup. Empty disables it.
	SeedDir string `mapstructure:"seed_dir"`
}

// OllamaConfig configures the inference server used for embeddings,
// completions and image descriptions.
type OllamaConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	ChatModel         string        `mapstructure:"chat_model"`
	VisionModel       string        `mapstructure:"vision_model"`
}

// RAGConfig holds chunking, retrieval and ingestion knobs.
type RAGConfig struct {
	ChunkSize        int          `mapstructure:"chunk_size"`
	ChunkOverlap     int          `mapstructure:"chunk_overlap"`
	ChunkIDMode      string       `mapstructure:"chunk_id_mode"`
	TopK             int          `mapstructure:"top_k"`
	MinScore         float64      `mapstructure:"min_score"`
	EmbedMaxChars    int          `mapstructure:"embed_max_chars"`
	QuestionMaxChars int          `mapstructure:"question_max_chars"`
	EmbedWorkers     int          `mapstructure:"embed_workers"`
	FailedSampleSize int          `mapstructure:"failed_sample_size"`
	DumpFailedChunks bool         `mapstructure:"dump_failed_chunks"`
	AskLogSize       int64        `mapstructure:"ask_log_size"`
	Vision           VisionConfig `mapstructure:"vision"`
}

// VisionConfig controls image-derived chunks.
type VisionConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MinImageBytes int  `mapstructure:"min_image_bytes"`
	MaxRetries    int  `mapstructure:"max_retries"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.access_token_expire_hours", 12)
	v.SetDefault("kafka.topic", "rag-ingest")
	v.SetDefault("kafka.group_id", "policy-rag-ingest")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("kafka.retry_backoff", "2s")
	v.SetDefault("tika.server_url", "http://localhost:9998")
	v.SetDefault("tika.timeout", "120s")
	v.SetDefault("minio.bucket_name", "policy-rag")
	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.local_dir", "./data/policies")
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.timeout", "120s")
	v.SetDefault("ollama.embedding_model", "nomic-embed-text:latest")
	v.SetDefault("ollama.chat_model", "gpt-oss:20b")
	v.SetDefault("ollama.vision_model", "llama3.2-vision:11b")
	v.SetDefault("rag.chunk_size", 900)
	v.SetDefault("rag.chunk_overlap", 150)
	v.SetDefault("rag.chunk_id_mode", "ordinal")
	v.SetDefault("rag.top_k", 6)
	v.SetDefault("rag.min_score", 0.25)
	v.SetDefault("rag.embed_max_chars", 4000)
	v.SetDefault("rag.question_max_chars", 2000)
	v.SetDefault("rag.embed_workers", 1)
	v.SetDefault("rag.failed_sample_size", 25)
	v.SetDefault("rag.ask_log_size", 100)
	v.SetDefault("rag.vision.enabled", true)
	v.SetDefault("rag.vision.min_image_bytes", 10000)
	v.SetDefault("rag.vision.max_retries", 2)
}

// Load reads the YAML file at configPath (optional when empty), applies
// defaults and RAG_* environment overrides, and returns the result.
func Load(configPath string) (Config, error) {
	// A missing .env is the common case.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// Init loads configPath into Conf and panics on failure.
func Init(configPath string) {
	c, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = c
}
