package pipeline

import (
	"context"
	"errors"
	"fmt"

	"policy-rag-go/internal/model"
	"policy-rag-go/pkg/log"
	"policy-rag-go/pkg/tasks"
	"policy-rag-go/pkg/tika"
)

// Extractor pulls page text and inline images out of a source file.
type Extractor interface {
	ExtractPages(ctx context.Context, data []byte, fileName string) ([]tika.Page, error)
	ExtractImages(ctx context.Context, data []byte, fileName string) (map[string][]byte, error)
}

// SourceReader loads an uploaded source file.
type SourceReader interface {
	ReadAux(ctx context.Context, docID, name string) ([]byte, error)
}

// DocumentIngester indexes an extracted document.
type DocumentIngester interface {
	Ingest(ctx context.Context, req model.IngestRequest) (*model.IngestResult, error)
}

// Processor handles queued ingestion tasks: load the upload, extract it and
// hand the pages to the ingester.
type Processor struct {
	extractor Extractor
	sources   SourceReader
	ingester  DocumentIngester
}

// NewProcessor creates a Processor.
func NewProcessor(extractor Extractor, sources SourceReader, ingester DocumentIngester) *Processor {
	return &Processor{extractor: extractor, sources: sources, ingester: ingester}
}

// Process runs one ingestion task. Failures that a retry cannot fix are
// marked with tasks.Permanent.
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] processing task, doc: %s, file: %s", task.DocID, task.FileName)

	log.Infof("[Processor] step 1: loading source %s/%s", task.DocID, task.SourceName)
	data, err := p.sources.ReadAux(ctx, task.DocID, task.SourceName)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return tasks.Permanent(fmt.Errorf("source of %s is missing: %w", task.DocID, err))
		}
		return fmt.Errorf("load source of %s: %w", task.DocID, err)
	}
	if len(data) == 0 {
		return tasks.Permanent(fmt.Errorf("source of %s is empty", task.DocID))
	}
	log.Infof("[Processor] step 1: loaded %d bytes", len(data))

	log.Info("[Processor] step 2: extracting page text")
	tikaPages, err := p.extractor.ExtractPages(ctx, data, task.FileName)
	if err != nil {
		return fmt.Errorf("extract pages of %s: %w", task.DocID, err)
	}
	pages := make([]model.Page, 0, len(tikaPages))
	for _, tp := range tikaPages {
		pages = append(pages, model.Page{PageNumber: tp.Number, Text: tp.Text})
	}
	log.Infof("[Processor] step 2: %d pages extracted", len(pages))

	var images []model.Image
	if task.EnableVision {
		log.Info("[Processor] step 3: extracting inline images")
		images, err = p.collectImages(ctx, tikaPages, data, task.FileName)
		if err != nil {
			// Text ingestion still goes ahead without images.
			log.Warnf("[Processor] step 3: image extraction failed for %s: %v", task.DocID, err)
		} else {
			log.Infof("[Processor] step 3: %d images found", len(images))
		}
	}

	result, err := p.ingester.Ingest(ctx, model.IngestRequest{
		DocID:          task.DocID,
		FileName:       task.FileName,
		Pages:          pages,
		Images:         images,
		EmbeddingModel: task.EmbeddingModel,
		VisionModel:    task.VisionModel,
		EnableVision:   task.EnableVision,
		ChunkSize:      task.ChunkSize,
		Overlap:        task.Overlap,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidConfiguration) || errors.Is(err, model.ErrDimensionMismatch) {
			return tasks.Permanent(err)
		}
		return err
	}
	log.Infof("[Processor] task done, doc: %s, chunks embedded: %d/%d", task.DocID, result.ChunksEmbedded, result.ChunksTotal)
	return nil
}

// collectImages pairs the image names Tika placed on each page with the
// unpacked image bytes. Index is the image position on its page.
func (p *Processor) collectImages(ctx context.Context, pages []tika.Page, data []byte, fileName string) ([]model.Image, error) {
	hasImages := false
	for _, tp := range pages {
		if len(tp.ImageNames) > 0 {
			hasImages = true
			break
		}
	}
	if !hasImages {
		return nil, nil
	}

	blobs, err := p.extractor.ExtractImages(ctx, data, fileName)
	if err != nil {
		return nil, err
	}
	var images []model.Image
	for _, tp := range pages {
		for i, name := range tp.ImageNames {
			b, ok := blobs[name]
			if !ok {
				log.Warnf("[Processor] image %s on page %d missing from unpacked resources", name, tp.Number)
				continue
			}
			images = append(images, model.Image{Page: tp.Number, Index: i, Name: name, Data: b})
		}
	}
	return images, nil
}
