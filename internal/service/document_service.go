package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"policy-rag-go/internal/model"
	"policy-rag-go/internal/pipeline"
	"policy-rag-go/internal/repository"
	"policy-rag-go/pkg/log"
	"policy-rag-go/pkg/tasks"
)

// UploadRequest carries a source file to be extracted and indexed.
type UploadRequest struct {
	DocID          string
	FileName       string
	Data           []byte
	EmbeddingModel string
	VisionModel    string
	EnableVision   bool
	ChunkSize      int
	Overlap        *int
}

// UploadResult tells the caller whether the upload was indexed right away
// or queued.
type UploadResult struct {
	DocID  string              `json:"doc_id"`
	Status string              `json:"status"`
	Result *model.IngestResult `json:"result,omitempty"`
}

// TaskProducer queues ingestion tasks.
type TaskProducer interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// DocumentService ingests documents and reports on them.
type DocumentService interface {
	Ingest(ctx context.Context, req model.IngestRequest) (*model.IngestResult, error)
	IngestImage(ctx context.Context, imageID string, data []byte, visionModel, embeddingModel string) (*model.IngestResult, error)
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
	List(offset, limit int) ([]model.DocumentRecord, int64, error)
	Metadata(ctx context.Context, docID string) (*model.IngestionMetadata, error)
}

type documentService struct {
	ingestor  *pipeline.Ingestor
	artifacts repository.ArtifactRepository
	catalog   repository.DocumentRepository
	producer  TaskProducer
	processor *pipeline.Processor
}

// NewDocumentService creates a DocumentService. catalog and producer may be
// nil; without a producer uploads are extracted and indexed before Upload
// returns.
func NewDocumentService(ingestor *pipeline.Ingestor, artifacts repository.ArtifactRepository, catalog repository.DocumentRepository, producer TaskProducer, extractor pipeline.Extractor) DocumentService {
	s := &documentService{ingestor: ingestor, artifacts: artifacts, catalog: catalog, producer: producer}
	if extractor != nil {
		s.processor = pipeline.NewProcessor(extractor, artifacts, s)
	}
	return s
}

// Ingest indexes pre-extracted pages and keeps the catalog in step.
func (s *documentService) Ingest(ctx context.Context, req model.IngestRequest) (*model.IngestResult, error) {
	// Rejected requests never touch the catalog.
	req, err := s.ingestor.Resolve(req)
	if err != nil {
		return nil, err
	}
	s.setStatus(req.DocID, model.DocumentStatusProcessing, "")
	result, err := s.ingestor.Ingest(ctx, req)
	if err != nil {
		s.setStatus(req.DocID, model.DocumentStatusFailed, err.Error())
		return nil, err
	}
	s.markReady(req.FileName, result)
	return result, nil
}

// IngestImage indexes one image as its own document.
func (s *documentService) IngestImage(ctx context.Context, imageID string, data []byte, visionModel, embeddingModel string) (*model.IngestResult, error) {
	if imageID == "" {
		imageID = uuid.NewString()
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image is empty", model.ErrInvalidConfiguration)
	}
	docID := pipeline.StandaloneImageDocID(imageID)
	if err := pipeline.ValidateDocID(docID); err != nil {
		return nil, err
	}
	s.setStatus(docID, model.DocumentStatusProcessing, "")
	result, err := s.ingestor.IngestImage(ctx, imageID, data, visionModel, embeddingModel)
	if err != nil {
		s.setStatus(docID, model.DocumentStatusFailed, err.Error())
		return nil, err
	}
	s.markReady(imageID, result)
	return result, nil
}

// Upload stores the source file and then queues it, or processes it at
// once when no queue is configured.
func (s *documentService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: uploaded file is empty", model.ErrInvalidConfiguration)
	}
	fileName := path.Base(strings.ReplaceAll(req.FileName, `\`, "/"))
	if fileName == "." || fileName == "/" || fileName == "" {
		return nil, fmt.Errorf("%w: file name is required", model.ErrInvalidConfiguration)
	}
	if req.DocID == "" {
		req.DocID = uuid.NewString()
	}
	if err := pipeline.ValidateDocID(req.DocID); err != nil {
		return nil, err
	}
	if req.ChunkSize != 0 || req.Overlap != nil {
		size, overlap := req.ChunkSize, pipeline.DefaultChunkOverlap
		if size == 0 {
			size = pipeline.DefaultChunkSize
		}
		if req.Overlap != nil {
			overlap = *req.Overlap
		}
		if err := pipeline.ValidateChunkSettings(size, overlap); err != nil {
			return nil, err
		}
	}

	sourceName := "source/" + fileName
	log.Infof("[DocumentService] storing upload %s as %s/%s (%d bytes)", fileName, req.DocID, sourceName, len(req.Data))
	if err := s.artifacts.WriteAux(ctx, req.DocID, sourceName, req.Data); err != nil {
		return nil, fmt.Errorf("store upload of %s: %w", req.DocID, err)
	}

	task := tasks.IngestTask{
		DocID:          req.DocID,
		SourceName:     sourceName,
		FileName:       fileName,
		EmbeddingModel: req.EmbeddingModel,
		VisionModel:    req.VisionModel,
		EnableVision:   req.EnableVision,
		ChunkSize:      req.ChunkSize,
		Overlap:        req.Overlap,
	}

	if s.producer != nil {
		if err := s.producer.ProduceIngestTask(ctx, task); err != nil {
			s.setStatus(req.DocID, model.DocumentStatusFailed, err.Error())
			return nil, fmt.Errorf("queue ingest task for %s: %w", req.DocID, err)
		}
		s.upsert(&model.DocumentRecord{DocID: req.DocID, FileName: fileName, Status: model.DocumentStatusQueued})
		log.Infof("[DocumentService] %s queued for ingestion", req.DocID)
		return &UploadResult{DocID: req.DocID, Status: model.DocumentStatusQueued}, nil
	}

	if s.processor == nil {
		return nil, errors.New("no ingestion queue or extractor configured")
	}
	if err := s.processor.Process(ctx, task); err != nil {
		return nil, err
	}
	meta, err := s.artifacts.LoadMetadata(ctx, req.DocID)
	if err != nil {
		return &UploadResult{DocID: req.DocID, Status: model.DocumentStatusReady}, nil
	}
	return &UploadResult{DocID: req.DocID, Status: model.DocumentStatusReady, Result: resultFromMetadata(meta)}, nil
}

// List returns a page of the catalog.
func (s *documentService) List(offset, limit int) ([]model.DocumentRecord, int64, error) {
	if s.catalog == nil {
		return nil, 0, fmt.Errorf("%w: document catalog is not configured", model.ErrInvalidConfiguration)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.catalog.List(offset, limit)
}

// Metadata returns the ingestion metadata of the live index.
func (s *documentService) Metadata(ctx context.Context, docID string) (*model.IngestionMetadata, error) {
	if err := pipeline.ValidateDocID(docID); err != nil {
		return nil, err
	}
	return s.artifacts.LoadMetadata(ctx, docID)
}

func (s *documentService) markReady(fileName string, r *model.IngestResult) {
	s.upsert(&model.DocumentRecord{
		DocID:          r.DocID,
		FileName:       fileName,
		Status:         model.DocumentStatusReady,
		PagesCount:     r.PagesCount,
		ChunksTotal:    r.ChunksTotal,
		ChunksEmbedded: r.ChunksEmbedded,
		ChunksFailed:   r.ChunksFailed,
		EmbeddingModel: r.EmbeddingModel,
		VectorDim:      r.VectorDim,
		Generation:     r.Generation,
	})
}

// Catalog writes never fail an ingestion; the artifacts are the source of
// truth.
func (s *documentService) upsert(rec *model.DocumentRecord) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Upsert(rec); err != nil {
		log.Warnf("[DocumentService] catalog upsert for %s failed: %v", rec.DocID, err)
	}
}

func (s *documentService) setStatus(docID, status, lastError string) {
	if s.catalog == nil || docID == "" {
		return
	}
	if err := s.catalog.UpdateStatus(docID, status, lastError); err != nil {
		log.Warnf("[DocumentService] catalog status update for %s failed: %v", docID, err)
	}
}

func resultFromMetadata(m *model.IngestionMetadata) *model.IngestResult {
	return &model.IngestResult{
		DocID:          m.DocID,
		PagesCount:     m.PagesCount,
		ChunksTotal:    m.ChunksTotal,
		ChunksEmbedded: m.ChunksEmbedded,
		ChunksFailed:   m.ChunksFailed,
		TextChunks:     m.TextChunks,
		ImageChunks:    m.ImageChunks,
		VectorDim:      m.VectorDim,
		EmbeddingModel: m.EmbeddingModel,
		Generation:     m.Generation,
	}
}
