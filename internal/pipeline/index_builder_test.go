package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-rag-go/internal/model"
	"policy-rag-go/pkg/storage"
	"policy-rag-go/pkg/vecindex"
)

func textChunks(texts ...string) []model.Chunk {
	chunks := make([]model.Chunk, 0, len(texts))
	for i, t := range texts {
		chunks = append(chunks, model.NewTextChunk(model.TextChunkID(1, i), 1, t))
	}
	return chunks
}

func buildReq(docID string, chunks []model.Chunk) BuildRequest {
	return BuildRequest{
		DocID:          docID,
		Pages:          []model.Page{{PageNumber: 1, Text: "page"}},
		Chunks:         chunks,
		EmbeddingModel: "nomic-embed-text:latest",
		ChunkSize:      900,
		Overlap:        150,
	}
}

func TestIndexBuilderBuild(t *testing.T) {
	ctx := context.Background()

	t.Run("indexes every chunk with unit vectors", func(t *testing.T) {
		_, repo := newTestRepo()
		emb := &fakeEmbedder{dim: 8}
		b := NewIndexBuilder(emb, repo, BuilderOptions{})

		res, err := b.Build(ctx, buildReq("handbook", textChunks("alpha", "beta", "gamma")))
		require.NoError(t, err)

		assert.Equal(t, 3, res.ChunksTotal)
		assert.Equal(t, 3, res.ChunksEmbedded)
		assert.Equal(t, 0, res.ChunksFailed)
		assert.Equal(t, 8, res.VectorDim)
		assert.NotEmpty(t, res.Generation)

		set, err := repo.Load(ctx, "handbook")
		require.NoError(t, err)
		require.Equal(t, 3, set.Index.Len())
		for i := 0; i < set.Index.Len(); i++ {
			assert.InDelta(t, 1.0, vecindex.Norm(set.Index.Vector(i)), 1e-5)
		}
		assert.Equal(t, "nomic-embed-text:latest", set.Metadata.EmbeddingModel)
		assert.Equal(t, res.Generation, set.Metadata.Generation)
	})

	t.Run("one failing chunk is recorded and skipped", func(t *testing.T) {
		_, repo := newTestRepo()
		b := NewIndexBuilder(&fakeEmbedder{dim: 4, failMarker: "FAIL"}, repo, BuilderOptions{})

		res, err := b.Build(ctx, buildReq("doc", textChunks("one", "two FAIL", "three")))
		require.NoError(t, err)
		assert.Equal(t, 2, res.ChunksEmbedded)
		assert.Equal(t, 1, res.ChunksFailed)

		meta, err := repo.LoadMetadata(ctx, "doc")
		require.NoError(t, err)
		assert.Equal(t, 1, meta.ChunksFailed)
		require.Len(t, meta.FailedChunksSample, 1)
		assert.Equal(t, "p1_c1", meta.FailedChunksSample[0].ChunkID)
		assert.Equal(t, 1, meta.FailedChunksSample[0].Page)
		assert.Contains(t, meta.FailedChunksSample[0].Reason, "model crashed")

		set, err := repo.Load(ctx, "doc")
		require.NoError(t, err)
		assert.Equal(t, []string{"p1_c0", "p1_c2"}, []string{set.Chunks[0].ChunkID, set.Chunks[1].ChunkID})
		assert.Equal(t, set.Index.Len(), len(set.Chunks))
	})

	t.Run("chunk empty after sanitization is never embedded", func(t *testing.T) {
		_, repo := newTestRepo()
		emb := &fakeEmbedder{dim: 4}
		b := NewIndexBuilder(emb, repo, BuilderOptions{})

		res, err := b.Build(ctx, buildReq("doc", textChunks("real text", "\x00\x01\x02")))
		require.NoError(t, err)
		assert.Equal(t, 1, res.ChunksFailed)
		assert.Equal(t, int32(1), emb.calls.Load())

		meta, err := repo.LoadMetadata(ctx, "doc")
		require.NoError(t, err)
		require.Len(t, meta.FailedChunksSample, 1)
		assert.Equal(t, reasonEmptyAfterSanitization, meta.FailedChunksSample[0].Reason)
	})

	t.Run("zero or non-finite embeddings are failed chunks", func(t *testing.T) {
		_, repo := newTestRepo()
		emb := &fakeEmbedder{dim: 8, vecFor: func(text string) []float32 {
			switch text {
			case "zero":
				return make([]float32, 8)
			case "nan":
				v := make([]float32, 8)
				v[3] = float32(math.NaN())
				return v
			case "inf":
				v := make([]float32, 8)
				v[0] = float32(math.Inf(1))
				return v
			}
			return nil
		}}
		b := NewIndexBuilder(emb, repo, BuilderOptions{})

		res, err := b.Build(ctx, buildReq("doc", textChunks("first", "zero", "nan", "inf", "last")))
		require.NoError(t, err)
		assert.Equal(t, 2, res.ChunksEmbedded)
		assert.Equal(t, 3, res.ChunksFailed)

		set, err := repo.Load(ctx, "doc")
		require.NoError(t, err)
		require.Equal(t, 2, set.Index.Len())
		assert.Equal(t, []string{"p1_c0", "p1_c4"}, []string{set.Chunks[0].ChunkID, set.Chunks[1].ChunkID})
		for i := 0; i < set.Index.Len(); i++ {
			assert.InDelta(t, 1.0, vecindex.Norm(set.Index.Vector(i)), 1e-5)
		}

		meta, err := repo.LoadMetadata(ctx, "doc")
		require.NoError(t, err)
		require.Len(t, meta.FailedChunksSample, 3)
		for _, f := range meta.FailedChunksSample {
			assert.Equal(t, reasonDegenerateEmbedding, f.Reason)
		}
	})

	t.Run("all chunks failing leaves no index", func(t *testing.T) {
		store, repo := newTestRepo()
		b := NewIndexBuilder(&fakeEmbedder{dim: 4, failMarker: "FAIL"}, repo, BuilderOptions{})

		_, err := b.Build(ctx, buildReq("doc", textChunks("FAIL a", "FAIL b")))
		require.Error(t, err)
		assert.True(t, errors.Is(err, model.ErrAllChunksFailed))

		_, err = store.Read(ctx, "doc", "CURRENT")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		_, err = repo.Load(ctx, "doc")
		assert.True(t, errors.Is(err, model.ErrNotFound))

		report, err := store.Read(ctx, "doc", "ingest_failure.json")
		require.NoError(t, err)
		assert.Contains(t, string(report), `"chunks_failed": 2`)
	})

	t.Run("document without chunks is reported", func(t *testing.T) {
		store, repo := newTestRepo()
		b := NewIndexBuilder(&fakeEmbedder{dim: 4}, repo, BuilderOptions{})

		_, err := b.Build(ctx, buildReq("empty", nil))
		assert.True(t, errors.Is(err, model.ErrAllChunksFailed))

		report, err := store.Read(ctx, "empty", "ingest_failure.json")
		require.NoError(t, err)
		assert.Contains(t, string(report), "No extractable text")
	})

	t.Run("disagreeing dimensions abort the build", func(t *testing.T) {
		store, repo := newTestRepo()
		emb := &fakeEmbedder{dimFor: func(text string) int {
			if text == "odd" {
				return 5
			}
			return 4
		}}
		b := NewIndexBuilder(emb, repo, BuilderOptions{})

		_, err := b.Build(ctx, buildReq("doc", textChunks("even", "odd")))
		assert.True(t, errors.Is(err, model.ErrDimensionMismatch))
		_, err = store.Read(ctx, "doc", "CURRENT")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("missing embedding model is rejected before any call", func(t *testing.T) {
		_, repo := newTestRepo()
		emb := &fakeEmbedder{dim: 4}
		b := NewIndexBuilder(emb, repo, BuilderOptions{})

		req := buildReq("doc", textChunks("a"))
		req.EmbeddingModel = ""
		_, err := b.Build(ctx, req)
		assert.True(t, errors.Is(err, model.ErrInvalidConfiguration))
		assert.Equal(t, int32(0), emb.calls.Load())
	})

	t.Run("failed chunks are dumped when enabled", func(t *testing.T) {
		store, repo := newTestRepo()
		b := NewIndexBuilder(&fakeEmbedder{dim: 4, failMarker: "FAIL"}, repo, BuilderOptions{DumpFailedChunks: true})

		_, err := b.Build(ctx, buildReq("doc", textChunks("ok", "FAIL here")))
		require.NoError(t, err)

		dump, err := store.Read(ctx, "doc", "failed/p1_c1.txt")
		require.NoError(t, err)
		assert.Equal(t, "FAIL here", string(dump))
	})

	t.Run("cancelled context returns the context error", func(t *testing.T) {
		_, repo := newTestRepo()
		b := NewIndexBuilder(&fakeEmbedder{dim: 4}, repo, BuilderOptions{})

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := b.Build(cctx, buildReq("doc", textChunks("a", "b")))
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestIndexBuilderWorkersKeepOrder(t *testing.T) {
	ctx := context.Background()
	_, repo := newTestRepo()
	emb := &fakeEmbedder{dim: 16}
	b := NewIndexBuilder(emb, repo, BuilderOptions{Workers: 8})

	texts := make([]string, 40)
	for i := range texts {
		texts[i] = fmt.Sprintf("passage number %d", i)
	}
	chunks := textChunks(texts...)
	_, err := b.Build(ctx, buildReq("doc", chunks))
	require.NoError(t, err)

	set, err := repo.Load(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, set.Chunks, len(chunks))
	for i, c := range set.Chunks {
		assert.Equal(t, chunks[i].ChunkID, c.ChunkID)
		want := vecindex.Normalize(hashVector(c.Text, 16))
		got := set.Index.Vector(i)
		for j := range want {
			assert.InDelta(t, want[j], got[j], 1e-6)
		}
	}
}

func TestIndexBuilderRebuildSwapsGeneration(t *testing.T) {
	ctx := context.Background()
	_, repo := newTestRepo()
	b := NewIndexBuilder(&fakeEmbedder{dim: 4}, repo, BuilderOptions{})

	first, err := b.Build(ctx, buildReq("doc", textChunks("old text")))
	require.NoError(t, err)
	before, err := repo.Load(ctx, "doc")
	require.NoError(t, err)

	second, err := b.Build(ctx, buildReq("doc", textChunks("new text", "more new text")))
	require.NoError(t, err)
	assert.NotEqual(t, first.Generation, second.Generation)

	after, err := repo.Load(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, second.Generation, after.Metadata.Generation)
	assert.Len(t, after.Chunks, 2)

	// A reader holding the earlier set still sees a complete old generation.
	assert.Len(t, before.Chunks, 1)
	assert.Equal(t, before.Index.Len(), len(before.Chunks))
	assert.False(t, math.IsNaN(vecindex.Norm(before.Index.Vector(0))))
}
