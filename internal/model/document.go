package model

import "time"

// IngestionMetadata is persisted next to every built index.
type IngestionMetadata struct {
	DocID              string        `json:"doc_id"`
	PagesCount         int           `json:"pages_count"`
	ChunksTotal        int           `json:"chunks_total"`
	ChunksEmbedded     int           `json:"chunks_embedded"`
	ChunksFailed       int           `json:"chunks_failed"`
	TextChunks         int           `json:"text_chunks"`
	ImageChunks        int           `json:"image_chunks"`
	EmbeddingModel     string        `json:"embedding_model"`
	VisionModel        string        `json:"vision_model,omitempty"`
	VectorDim          int           `json:"vector_dim"`
	ChunkSize          int           `json:"chunk_size"`
	Overlap            int           `json:"overlap"`
	FailedChunksSample []FailedChunk `json:"failed_chunks_sample"`
	Note               string        `json:"note,omitempty"`
	Generation         string        `json:"generation"`
	CreatedAt          time.Time     `json:"created"`
}

// IngestResult summarises a successful ingestion.
type IngestResult struct {
	DocID          string `json:"doc_id"`
	PagesCount     int    `json:"pages_count"`
	ChunksTotal    int    `json:"chunks_total"`
	ChunksEmbedded int    `json:"chunks_embedded"`
	ChunksFailed   int    `json:"chunks_failed"`
	TextChunks     int    `json:"text_chunks"`
	ImageChunks    int    `json:"image_chunks"`
	VectorDim      int    `json:"vector_dim"`
	EmbeddingModel string `json:"embedding_model"`
	Generation     string `json:"generation"`
}

// Document statuses kept in the catalog.
const (
	DocumentStatusQueued     = "QUEUED"
	DocumentStatusProcessing = "PROCESSING"
	DocumentStatusReady      = "READY"
	DocumentStatusFailed     = "FAILED"
)

// DocumentRecord is the catalog row of an ingested document.
type DocumentRecord struct {
	DocID          string    `gorm:"type:varchar(128);primaryKey;column:doc_id" json:"docId"`
	FileName       string    `gorm:"type:varchar(255);column:file_name" json:"fileName"`
	Status         string    `gorm:"type:varchar(16);not null;index;column:status" json:"status"`
	PagesCount     int       `gorm:"column:pages_count" json:"pagesCount"`
	ChunksTotal    int       `gorm:"column:chunks_total" json:"chunksTotal"`
	ChunksEmbedded int       `gorm:"column:chunks_embedded" json:"chunksEmbedded"`
	ChunksFailed   int       `gorm:"column:chunks_failed" json:"chunksFailed"`
	EmbeddingModel string    `gorm:"type:varchar(128);column:embedding_model" json:"embeddingModel"`
	VectorDim      int       `gorm:"column:vector_dim" json:"vectorDim"`
	Generation     string    `gorm:"type:varchar(64);column:generation" json:"generation"`
	LastError      string    `gorm:"type:text;column:last_error" json:"lastError,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (DocumentRecord) TableName() string {
	return "rag_documents"
}

// IngestRequest is the input of an ingestion run. Zero ChunkSize and nil
// Overlap take the service defaults.
type IngestRequest struct {
	DocID          string  `json:"doc_id"`
	FileName       string  `json:"file_name,omitempty"`
	Pages          []Page  `json:"pages"`
	Images         []Image `json:"images,omitempty"`
	EmbeddingModel string  `json:"embedding_model,omitempty"`
	VisionModel    string  `json:"vision_model,omitempty"`
	EnableVision   bool    `json:"enable_vision"`
	ChunkSize      int     `json:"chunk_size,omitempty"`
	Overlap        *int    `json:"overlap,omitempty"`
}
