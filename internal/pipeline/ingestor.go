package pipeline

import (
	"context"
	"fmt"

	"policy-rag-go/internal/model"
	"policy-rag-go/pkg/log"
)

// IngestorOptions holds defaults applied to requests that leave them unset.
type IngestorOptions struct {
	ChunkSize      int
	Overlap        int
	ChunkIDMode    ChunkIDMode
	EmbeddingModel string
	VisionModel    string
	VisionEnabled  bool
}

// Ingestor runs chunking, the optional vision step and the index build for
// one document.
type Ingestor struct {
	builder *IndexBuilder
	images  *ImageChunker
	opts    IngestorOptions
}

// NewIngestor creates an Ingestor. images may be nil when vision is not
// available.
func NewIngestor(builder *IndexBuilder, images *ImageChunker, opts IngestorOptions) *Ingestor {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkIDMode == "" {
		opts.ChunkIDMode = ChunkIDOrdinal
	}
	return &Ingestor{builder: builder, images: images, opts: opts}
}

// Resolve fills request defaults and validates everything that can be
// checked without calling a model.
func (in *Ingestor) Resolve(req model.IngestRequest) (model.IngestRequest, error) {
	if req.ChunkSize == 0 {
		req.ChunkSize = in.opts.ChunkSize
	}
	if req.Overlap == nil {
		o := in.opts.Overlap
		req.Overlap = &o
	}
	if req.EmbeddingModel == "" {
		req.EmbeddingModel = in.opts.EmbeddingModel
	}
	if req.VisionModel == "" {
		req.VisionModel = in.opts.VisionModel
	}

	if err := ValidateDocID(req.DocID); err != nil {
		return req, err
	}
	if err := ValidateChunkSettings(req.ChunkSize, *req.Overlap); err != nil {
		return req, err
	}
	if req.EmbeddingModel == "" {
		return req, fmt.Errorf("%w: embedding model is required", model.ErrInvalidConfiguration)
	}
	if in.visionWanted(req) && req.VisionModel == "" {
		return req, fmt.Errorf("%w: vision model is required when vision is enabled", model.ErrInvalidConfiguration)
	}
	for _, p := range req.Pages {
		if p.PageNumber < 1 {
			return req, fmt.Errorf("%w: page numbers are 1-based, got %d", model.ErrInvalidConfiguration, p.PageNumber)
		}
	}
	return req, nil
}

func (in *Ingestor) visionWanted(req model.IngestRequest) bool {
	return req.EnableVision && len(req.Images) > 0
}

// Ingest chunks the pages, describes images when asked to, and builds the
// document index.
func (in *Ingestor) Ingest(ctx context.Context, req model.IngestRequest) (*model.IngestResult, error) {
	req, err := in.Resolve(req)
	if err != nil {
		return nil, err
	}

	chunker, err := NewChunker(req.ChunkSize, *req.Overlap, WithIDMode(in.opts.ChunkIDMode), WithSourceID(req.DocID))
	if err != nil {
		return nil, err
	}

	log.Infof("[Ingestor] step 1: chunking %d pages of %s (size %d, overlap %d)", len(req.Pages), req.DocID, req.ChunkSize, *req.Overlap)
	chunks := chunker.ChunkPages(req.Pages)
	log.Infof("[Ingestor] step 1: %d text chunks", len(chunks))

	visionModel := ""
	switch {
	case !in.visionWanted(req):
	case !in.opts.VisionEnabled || in.images == nil:
		log.Warnf("[Ingestor] %s: %d images ignored, vision is disabled on this server", req.DocID, len(req.Images))
	default:
		log.Infof("[Ingestor] step 2: describing %d images with %s", len(req.Images), req.VisionModel)
		imageChunks, err := in.images.Chunks(ctx, req.Images, req.VisionModel)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, imageChunks...)
		visionModel = req.VisionModel
		log.Infof("[Ingestor] step 2: %d image chunks", len(imageChunks))
	}

	log.Infof("[Ingestor] step 3: embedding and indexing %d chunks", len(chunks))
	return in.builder.Build(ctx, BuildRequest{
		DocID:          req.DocID,
		Pages:          req.Pages,
		Chunks:         chunks,
		EmbeddingModel: req.EmbeddingModel,
		VisionModel:    visionModel,
		ChunkSize:      req.ChunkSize,
		Overlap:        *req.Overlap,
	})
}

// StandaloneImageDocID is the document id used for a single uploaded image.
func StandaloneImageDocID(imageID string) string {
	return "image_" + imageID
}

// IngestImage indexes a single image as its own document holding one chunk
// {imageID}_img0 on page 1.
func (in *Ingestor) IngestImage(ctx context.Context, imageID string, data []byte, visionModel, embeddingModel string) (*model.IngestResult, error) {
	if in.images == nil || !in.opts.VisionEnabled {
		return nil, fmt.Errorf("%w: vision is disabled on this server", model.ErrInvalidConfiguration)
	}
	if visionModel == "" {
		visionModel = in.opts.VisionModel
	}
	if embeddingModel == "" {
		embeddingModel = in.opts.EmbeddingModel
	}
	docID := StandaloneImageDocID(imageID)
	if err := ValidateDocID(docID); err != nil {
		return nil, err
	}
	if visionModel == "" || embeddingModel == "" {
		return nil, fmt.Errorf("%w: vision and embedding models are required", model.ErrInvalidConfiguration)
	}

	desc, err := in.images.Describe(ctx, visionModel, data)
	if err != nil {
		return nil, fmt.Errorf("%w: image %s could not be described: %v", model.ErrAllChunksFailed, imageID, err)
	}

	chunk := model.NewImageChunk(imageID+"_img0", 1, desc)
	return in.builder.Build(ctx, BuildRequest{
		DocID:          docID,
		Pages:          []model.Page{{PageNumber: 1, Text: desc}},
		Chunks:         []model.Chunk{chunk},
		EmbeddingModel: embeddingModel,
		VisionModel:    visionModel,
	})
}
