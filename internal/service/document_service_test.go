package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-rag-go/internal/model"
	"policy-rag-go/internal/pipeline"
	"policy-rag-go/internal/repository"
	"policy-rag-go/pkg/storage"
	"policy-rag-go/pkg/tasks"
	"policy-rag-go/pkg/tika"
)

type staticExtractor struct {
	pages []tika.Page
}

func (e *staticExtractor) ExtractPages(context.Context, []byte, string) ([]tika.Page, error) {
	return e.pages, nil
}

func (e *staticExtractor) ExtractImages(context.Context, []byte, string) (map[string][]byte, error) {
	return nil, nil
}

type recordingProducer struct {
	tasks []tasks.IngestTask
	err   error
}

func (p *recordingProducer) ProduceIngestTask(_ context.Context, task tasks.IngestTask) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, task)
	return nil
}

type documentFixture struct {
	store     *storage.MemoryStore
	artifacts repository.ArtifactRepository
	catalog   *memoryCatalog
}

func newDocumentFixture(t *testing.T, producer TaskProducer) (DocumentService, *documentFixture) {
	t.Helper()
	store := storage.NewMemoryStore()
	artifacts := repository.NewArtifactRepository(store)
	builder := pipeline.NewIndexBuilder(&queryEmbedder{}, artifacts, pipeline.BuilderOptions{})
	ingestor := pipeline.NewIngestor(builder, nil, pipeline.IngestorOptions{
		ChunkSize:      900,
		Overlap:        150,
		EmbeddingModel: "nomic-embed-text:latest",
	})
	catalog := newMemoryCatalog()
	extractor := &staticExtractor{pages: []tika.Page{
		{Number: 1, Text: "Sick leave accrues at 8 hours per month."},
		{Number: 2, Text: "Overtime requires prior approval."},
	}}
	svc := NewDocumentService(ingestor, artifacts, catalog, producer, extractor)
	return svc, &documentFixture{store: store, artifacts: artifacts, catalog: catalog}
}

func TestDocumentServiceIngest(t *testing.T) {
	ctx := context.Background()
	svc, fx := newDocumentFixture(t, nil)

	res, err := svc.Ingest(ctx, model.IngestRequest{
		DocID:    "handbook",
		FileName: "handbook.pdf",
		Pages:    []model.Page{{PageNumber: 1, Text: "Sick leave accrues monthly."}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksEmbedded)

	rec, err := fx.catalog.FindByDocID("handbook")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusReady, rec.Status)
	assert.Equal(t, res.Generation, rec.Generation)
	assert.Equal(t, []string{model.DocumentStatusProcessing, model.DocumentStatusReady}, fx.catalog.statusTrail("handbook"))

	meta, err := svc.Metadata(ctx, "handbook")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.ChunksEmbedded)

	_, err = svc.Ingest(ctx, model.IngestRequest{DocID: "blank", Pages: []model.Page{{PageNumber: 1, Text: " "}}})
	assert.True(t, errors.Is(err, model.ErrAllChunksFailed))
	rec, err = fx.catalog.FindByDocID("blank")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusFailed, rec.Status)
	assert.NotEmpty(t, rec.LastError)
}

func TestDocumentServiceIngestRejectsBeforeCatalog(t *testing.T) {
	ctx := context.Background()
	svc, fx := newDocumentFixture(t, nil)
	page := []model.Page{{PageNumber: 1, Text: "Sick leave accrues monthly."}}
	overlap := 900

	for name, req := range map[string]model.IngestRequest{
		"path traversal id": {DocID: "../etc", Pages: page},
		"empty id":          {DocID: "", Pages: page},
		"overlap too large": {DocID: "handbook", Pages: page, Overlap: &overlap},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Ingest(ctx, req)
			assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
		})
	}

	_, err := svc.IngestImage(ctx, "../chart", []byte{1}, "", "")
	assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))

	assert.Empty(t, fx.catalog.statusTrail("../etc"))
	assert.Empty(t, fx.catalog.statusTrail("handbook"))
	assert.Empty(t, fx.catalog.statusTrail("image_../chart"))
	_, total, err := fx.catalog.List(0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDocumentServiceUploadInline(t *testing.T) {
	ctx := context.Background()
	svc, fx := newDocumentFixture(t, nil)

	res, err := svc.Upload(ctx, UploadRequest{DocID: "handbook", FileName: `C:\policies\handbook.pdf`, Data: []byte("%PDF-1.7")})
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusReady, res.Status)
	require.NotNil(t, res.Result)
	assert.Equal(t, 2, res.Result.PagesCount)
	assert.Equal(t, 2, res.Result.ChunksEmbedded)

	src, err := fx.store.Read(ctx, "handbook", "source/handbook.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(src))
}

func TestDocumentServiceUploadQueued(t *testing.T) {
	ctx := context.Background()
	producer := &recordingProducer{}
	svc, fx := newDocumentFixture(t, producer)

	overlap := 100
	res, err := svc.Upload(ctx, UploadRequest{FileName: "handbook.pdf", Data: []byte("%PDF"), ChunkSize: 500, Overlap: &overlap})
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusQueued, res.Status)
	assert.NotEmpty(t, res.DocID)
	assert.Nil(t, res.Result)

	require.Len(t, producer.tasks, 1)
	task := producer.tasks[0]
	assert.Equal(t, res.DocID, task.DocID)
	assert.Equal(t, "source/handbook.pdf", task.SourceName)
	assert.Equal(t, 500, task.ChunkSize)

	rec, err := fx.catalog.FindByDocID(res.DocID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusQueued, rec.Status)

	_, err = fx.artifacts.LoadMetadata(ctx, res.DocID)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestDocumentServiceUploadValidation(t *testing.T) {
	ctx := context.Background()
	producer := &recordingProducer{}
	svc, _ := newDocumentFixture(t, producer)

	bad := 900
	cases := map[string]UploadRequest{
		"empty data":       {FileName: "a.pdf"},
		"no file name":     {Data: []byte("x")},
		"doc id with path": {DocID: "../etc", FileName: "a.pdf", Data: []byte("x")},
		"overlap too big":  {FileName: "a.pdf", Data: []byte("x"), Overlap: &bad},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Upload(ctx, req)
			assert.True(t, errors.Is(err, model.ErrInvalidConfiguration), "got %v", err)
		})
	}
	assert.Empty(t, producer.tasks)
}

func TestDocumentServiceList(t *testing.T) {
	ctx := context.Background()
	svc, _ := newDocumentFixture(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.Ingest(ctx, model.IngestRequest{DocID: id, Pages: []model.Page{{PageNumber: 1, Text: "text " + id}}})
		require.NoError(t, err)
	}

	records, total, err := svc.List(0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, records, 2)

	noCatalog := NewDocumentService(nil, nil, nil, nil, nil)
	_, _, err = noCatalog.List(0, 10)
	assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
}

func TestAskHistoryService(t *testing.T) {
	ctx := context.Background()
	askLog := &memoryAskLog{}
	require.NoError(t, askLog.Append(ctx, model.AskRecord{DocID: "handbook", Question: "first"}))
	require.NoError(t, askLog.Append(ctx, model.AskRecord{DocID: "handbook", Question: "second"}))

	svc := NewAskHistoryService(askLog)
	recs, err := svc.Recent(ctx, "handbook", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "second", recs[0].Question)

	_, err = svc.Recent(ctx, "a/b", 10)
	assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))

	_, err = NewAskHistoryService(nil).Recent(ctx, "handbook", 10)
	assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
}
