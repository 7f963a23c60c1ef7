package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-rag-go/internal/model"
	"policy-rag-go/pkg/tasks"
	"policy-rag-go/pkg/tika"
)

type fakeExtractor struct {
	pages     []tika.Page
	images    map[string][]byte
	pagesErr  error
	imagesErr error
}

func (f *fakeExtractor) ExtractPages(context.Context, []byte, string) ([]tika.Page, error) {
	return f.pages, f.pagesErr
}

func (f *fakeExtractor) ExtractImages(context.Context, []byte, string) (map[string][]byte, error) {
	return f.images, f.imagesErr
}

type recordingIngester struct {
	reqs []model.IngestRequest
	err  error
}

func (r *recordingIngester) Ingest(_ context.Context, req model.IngestRequest) (*model.IngestResult, error) {
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return nil, r.err
	}
	return &model.IngestResult{DocID: req.DocID}, nil
}

func TestProcessorProcess(t *testing.T) {
	ctx := context.Background()
	task := tasks.IngestTask{DocID: "handbook", SourceName: "source/handbook.pdf", FileName: "handbook.pdf", EnableVision: true}

	setup := func(t *testing.T, ex *fakeExtractor, ing *recordingIngester) *Processor {
		t.Helper()
		_, repo := newTestRepo()
		require.NoError(t, repo.WriteAux(ctx, "handbook", "source/handbook.pdf", []byte("%PDF-1.7")))
		return NewProcessor(ex, repo, ing)
	}

	t.Run("pages and images reach the ingester", func(t *testing.T) {
		ex := &fakeExtractor{
			pages: []tika.Page{
				{Number: 1, Text: "Leave policy", ImageNames: []string{"image1.png", "image2.png"}},
				{Number: 2, Text: "Overtime policy"},
			},
			images: map[string][]byte{"image2.png": []byte("png-bytes")},
		}
		ing := &recordingIngester{}
		require.NoError(t, setup(t, ex, ing).Process(ctx, task))

		require.Len(t, ing.reqs, 1)
		req := ing.reqs[0]
		assert.Equal(t, []model.Page{{PageNumber: 1, Text: "Leave policy"}, {PageNumber: 2, Text: "Overtime policy"}}, req.Pages)
		require.Len(t, req.Images, 1)
		assert.Equal(t, model.Image{Page: 1, Index: 1, Name: "image2.png", Data: []byte("png-bytes")}, req.Images[0])
	})

	t.Run("image extraction failure keeps the text", func(t *testing.T) {
		ex := &fakeExtractor{
			pages:     []tika.Page{{Number: 1, Text: "text", ImageNames: []string{"a.png"}}},
			imagesErr: errors.New("unpack failed"),
		}
		ing := &recordingIngester{}
		require.NoError(t, setup(t, ex, ing).Process(ctx, task))
		require.Len(t, ing.reqs, 1)
		assert.Empty(t, ing.reqs[0].Images)
	})

	t.Run("missing source is permanent", func(t *testing.T) {
		p := setup(t, &fakeExtractor{}, &recordingIngester{})
		err := p.Process(ctx, tasks.IngestTask{DocID: "handbook", SourceName: "source/other.pdf"})
		assert.True(t, tasks.IsPermanent(err))
	})

	t.Run("extraction error is retryable", func(t *testing.T) {
		p := setup(t, &fakeExtractor{pagesErr: errors.New("tika unavailable")}, &recordingIngester{})
		err := p.Process(ctx, task)
		require.Error(t, err)
		assert.False(t, tasks.IsPermanent(err))
	})

	t.Run("invalid configuration is permanent", func(t *testing.T) {
		ing := &recordingIngester{err: model.ErrInvalidConfiguration}
		err := setup(t, &fakeExtractor{pages: []tika.Page{{Number: 1, Text: "x"}}}, ing).Process(ctx, task)
		assert.True(t, tasks.IsPermanent(err))
	})

	t.Run("all chunks failed can be retried", func(t *testing.T) {
		ing := &recordingIngester{err: model.ErrAllChunksFailed}
		err := setup(t, &fakeExtractor{pages: []tika.Page{{Number: 1, Text: "x"}}}, ing).Process(ctx, task)
		require.Error(t, err)
		assert.False(t, tasks.IsPermanent(err))
	})
}
