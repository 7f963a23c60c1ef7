package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"policy-rag-go/internal/model"
	"policy-rag-go/internal/repository"
	"policy-rag-go/pkg/embedding"
	"policy-rag-go/pkg/log"
	"policy-rag-go/pkg/metrics"
	"policy-rag-go/pkg/storage"
	"policy-rag-go/pkg/vecindex"
)

const (
	reasonEmptyAfterSanitization = "empty_after_sanitization"
	reasonDegenerateEmbedding    = "degenerate embedding (zero or non-finite norm)"
)

// BuilderOptions tunes the index builder.
type BuilderOptions struct {
	// Workers bounds concurrent embedding calls. Values below 1 mean 1.
	Workers int
	// EmbedMaxChars caps the text sent per chunk.
	EmbedMaxChars int
	// FailedSampleSize bounds the failures copied into metadata.
	FailedSampleSize int
	// DumpFailedChunks writes the text of each failed chunk to failed/{id}.txt.
	DumpFailedChunks bool
}

// BuildRequest describes one ingestion run. Chunks must already contain the
// text chunks followed by any image chunks.
type BuildRequest struct {
	DocID          string
	Pages          []model.Page
	Chunks         []model.Chunk
	EmbeddingModel string
	VisionModel    string
	ChunkSize      int
	Overlap        int
}

// embedOutcome is the result for one chunk: a vector or a failure reason.
type embedOutcome struct {
	vector []float32
	reason string
}

func (o embedOutcome) ok() bool { return o.reason == "" }

// IndexBuilder embeds chunks and persists the resulting artifact set.
type IndexBuilder struct {
	embedder  embedding.Client
	artifacts repository.ArtifactRepository
	opts      BuilderOptions

	locks sync.Map // docID -> *sync.Mutex
}

// NewIndexBuilder creates an IndexBuilder.
func NewIndexBuilder(embedder embedding.Client, artifacts repository.ArtifactRepository, opts BuilderOptions) *IndexBuilder {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.EmbedMaxChars <= 0 {
		opts.EmbedMaxChars = EmbedMaxChars
	}
	if opts.FailedSampleSize <= 0 {
		opts.FailedSampleSize = 25
	}
	return &IndexBuilder{embedder: embedder, artifacts: artifacts, opts: opts}
}

func (b *IndexBuilder) lockDoc(docID string) func() {
	v, _ := b.locks.LoadOrStore(docID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ValidateDocID rejects document ids that cannot be used as storage keys.
func ValidateDocID(docID string) error {
	if err := storage.ValidateKey(docID, "x"); err != nil {
		return fmt.Errorf("%w: invalid document id %q", model.ErrInvalidConfiguration, docID)
	}
	return nil
}

// Build embeds every chunk once, records per-chunk failures, and swaps in a
// new index for the document. It fails only when nothing could be embedded,
// vector dimensions disagree, or persisting fails.
func (b *IndexBuilder) Build(ctx context.Context, req BuildRequest) (*model.IngestResult, error) {
	if err := ValidateDocID(req.DocID); err != nil {
		return nil, err
	}
	if req.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: embedding model is required", model.ErrInvalidConfiguration)
	}

	unlock := b.lockDoc(req.DocID)
	defer unlock()

	started := time.Now()
	log.Infof("[IndexBuilder] building index for %s: %d chunks, model %s, workers %d",
		req.DocID, len(req.Chunks), req.EmbeddingModel, b.opts.Workers)

	outcomes, err := b.embedAll(ctx, req)
	if err != nil {
		metrics.Ingestions.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	var (
		kept    []model.Chunk
		vectors [][]float32
		failed  []model.FailedChunk
	)
	textChunks, imageChunks := 0, 0
	for i, c := range req.Chunks {
		if c.Kind == model.ChunkKindImage {
			imageChunks++
		} else {
			textChunks++
		}
		o := outcomes[i]
		if !o.ok() {
			failed = append(failed, model.FailedChunk{Page: c.Page, ChunkID: c.ChunkID, Reason: o.reason})
			metrics.ChunksProcessed.WithLabelValues("failed").Inc()
			continue
		}
		kept = append(kept, c)
		vectors = append(vectors, o.vector)
		metrics.ChunksProcessed.WithLabelValues("embedded").Inc()
	}

	meta := model.IngestionMetadata{
		DocID:              req.DocID,
		PagesCount:         len(req.Pages),
		ChunksTotal:        len(req.Chunks),
		ChunksEmbedded:     len(kept),
		ChunksFailed:       len(failed),
		TextChunks:         textChunks,
		ImageChunks:        imageChunks,
		EmbeddingModel:     req.EmbeddingModel,
		VisionModel:        req.VisionModel,
		ChunkSize:          req.ChunkSize,
		Overlap:            req.Overlap,
		FailedChunksSample: sample(failed, b.opts.FailedSampleSize),
		CreatedAt:          time.Now().UTC(),
	}

	if len(kept) == 0 {
		if len(req.Chunks) == 0 {
			meta.Note = "No extractable text or image content was found in this document."
		} else {
			meta.Note = "Every chunk failed to embed; the previous index (if any) is still served."
		}
		b.reportFailure(ctx, &meta)
		metrics.Ingestions.WithLabelValues("all_failed").Inc()
		return nil, fmt.Errorf("%w: document %s, %d of %d chunks failed", model.ErrAllChunksFailed, req.DocID, len(failed), len(req.Chunks))
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			meta.Note = fmt.Sprintf("chunk %s returned %d dimensions, expected %d", kept[i].ChunkID, len(v), dim)
			b.reportFailure(ctx, &meta)
			metrics.Ingestions.WithLabelValues("dimension_mismatch").Inc()
			return nil, fmt.Errorf("%w: chunk %s has %d dimensions, expected %d", model.ErrDimensionMismatch, kept[i].ChunkID, len(v), dim)
		}
		vectors[i] = vecindex.Normalize(v)
	}

	index, err := vecindex.NewFlat(vectors)
	if err != nil {
		if errors.Is(err, vecindex.ErrDimensionMismatch) {
			return nil, fmt.Errorf("%w: %v", model.ErrDimensionMismatch, err)
		}
		return nil, fmt.Errorf("build index: %w", err)
	}
	meta.VectorDim = dim

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	generation, err := b.artifacts.Save(ctx, req.DocID, &repository.ArtifactSet{
		Pages:    req.Pages,
		Chunks:   kept,
		Index:    index,
		Metadata: meta,
	})
	if err != nil {
		metrics.Ingestions.WithLabelValues("storage_error").Inc()
		return nil, fmt.Errorf("persist artifacts for %s: %w", req.DocID, err)
	}

	metrics.Ingestions.WithLabelValues("ok").Inc()
	metrics.IngestDuration.Observe(time.Since(started).Seconds())
	log.Infof("[IndexBuilder] %s indexed: %d/%d chunks embedded, %d failed, dim %d, took %s",
		req.DocID, len(kept), len(req.Chunks), len(failed), dim, time.Since(started))

	return &model.IngestResult{
		DocID:          req.DocID,
		PagesCount:     len(req.Pages),
		ChunksTotal:    len(req.Chunks),
		ChunksEmbedded: len(kept),
		ChunksFailed:   len(failed),
		TextChunks:     textChunks,
		ImageChunks:    imageChunks,
		VectorDim:      dim,
		EmbeddingModel: req.EmbeddingModel,
		Generation:     generation,
	}, nil
}

// embedAll embeds every chunk on a bounded pool. Outcomes are stored by
// chunk position, so completion order never changes the result. Only
// cancellation of ctx is returned as an error.
func (b *IndexBuilder) embedAll(ctx context.Context, req BuildRequest) ([]embedOutcome, error) {
	outcomes := make([]embedOutcome, len(req.Chunks))

	var g errgroup.Group
	g.SetLimit(b.opts.Workers)
	for i, c := range req.Chunks {
		if ctx.Err() != nil {
			break
		}
		i, c := i, c
		g.Go(func() error {
			outcomes[i] = b.embedOne(ctx, req.DocID, req.EmbeddingModel, c)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		log.Warnf("[IndexBuilder] ingestion of %s cancelled: %v", req.DocID, err)
		return nil, err
	}
	return outcomes, nil
}

func (b *IndexBuilder) embedOne(ctx context.Context, docID, embeddingModel string, c model.Chunk) embedOutcome {
	text := Sanitize(c.Text, b.opts.EmbedMaxChars)
	if text == "" {
		log.Warnw("[IndexBuilder] chunk empty after sanitization", "doc", docID, "chunk", c.ChunkID, "page", c.Page)
		return embedOutcome{reason: reasonEmptyAfterSanitization}
	}
	if err := ctx.Err(); err != nil {
		return embedOutcome{reason: err.Error()}
	}

	vec, err := b.embedder.CreateEmbedding(ctx, embeddingModel, text)
	if err != nil {
		log.Warnw("[IndexBuilder] chunk embedding failed",
			"doc", docID, "chunk", c.ChunkID, "page", c.Page, "chars", len([]rune(text)), "error", err)
		if b.opts.DumpFailedChunks {
			if derr := b.artifacts.WriteAux(ctx, docID, "failed/"+c.ChunkID+".txt", []byte(text)); derr != nil {
				log.Warnf("[IndexBuilder] could not dump failed chunk %s: %v", c.ChunkID, derr)
			}
		}
		return embedOutcome{reason: err.Error()}
	}
	if len(vec) == 0 {
		return embedOutcome{reason: "empty embedding"}
	}
	// Such a vector cannot be normalized and would never score.
	if n := vecindex.Norm(vec); n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		log.Warnw("[IndexBuilder] chunk embedding has no usable direction", "doc", docID, "chunk", c.ChunkID, "page", c.Page)
		return embedOutcome{reason: reasonDegenerateEmbedding}
	}
	return embedOutcome{vector: vec}
}

func (b *IndexBuilder) reportFailure(ctx context.Context, meta *model.IngestionMetadata) {
	if err := b.artifacts.SaveFailureReport(ctx, meta.DocID, meta); err != nil {
		log.Warnf("[IndexBuilder] could not save failure report for %s: %v", meta.DocID, err)
	}
}

func sample(failed []model.FailedChunk, n int) []model.FailedChunk {
	if len(failed) <= n {
		return append([]model.FailedChunk{}, failed...)
	}
	return failed[:n]
}
