package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"policy-rag-go/internal/model"
	"policy-rag-go/internal/repository"
	"policy-rag-go/pkg/llm"
	"policy-rag-go/pkg/storage"
	"policy-rag-go/pkg/vecindex"
)

// queryEmbedder returns vectors[text] for known texts and unitX otherwise.
type queryEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (e *queryEmbedder) CreateEmbedding(_ context.Context, _ string, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

// scoreVec returns a unit vector whose inner product with [1, 0] is score.
func scoreVec(score float64) []float32 {
	return []float32{float32(score), float32(math.Sqrt(1 - score*score))}
}

type indexedChunk struct {
	chunk model.Chunk
	score float64
}

// seedIndex stores a ready index for docID whose chunks score as given
// against the default query vector.
func seedIndex(t *testing.T, repo repository.ArtifactRepository, docID string, items ...indexedChunk) {
	t.Helper()
	chunks := make([]model.Chunk, len(items))
	vectors := make([][]float32, len(items))
	for i, it := range items {
		chunks[i] = it.chunk
		vectors[i] = scoreVec(it.score)
	}
	index, err := vecindex.NewFlat(vectors)
	require.NoError(t, err)
	_, err = repo.Save(context.Background(), docID, &repository.ArtifactSet{
		Chunks: chunks,
		Index:  index,
		Metadata: model.IngestionMetadata{
			DocID:          docID,
			ChunksTotal:    len(items),
			ChunksEmbedded: len(items),
			EmbeddingModel: "nomic-embed-text:latest",
			VectorDim:      2,
		},
	})
	require.NoError(t, err)
}

// leavePolicyIndex is a two chunk document: a relevant sick leave passage
// scoring 0.9 and an unrelated parking passage scoring 0.1.
func leavePolicyIndex(t *testing.T) repository.ArtifactRepository {
	t.Helper()
	repo := repository.NewArtifactRepository(storage.NewMemoryStore())
	seedIndex(t, repo, "handbook",
		indexedChunk{model.NewTextChunk("p4_c0", 4, "Employees accrue 8 hours of sick leave per month of service."), 0.9},
		indexedChunk{model.NewTextChunk("p9_c1", 9, "Parking permits are issued by the facilities office."), 0.1},
	)
	return repo
}

type scriptedChat struct {
	mu       sync.Mutex
	reply    string
	err      error
	calls    int
	model    string
	messages []llm.Message
	gen      *llm.GenerationParams
}

func (c *scriptedChat) Chat(_ context.Context, model string, messages []llm.Message, gen *llm.GenerationParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.model, c.messages, c.gen = model, messages, gen
	return c.reply, c.err
}

type memoryAskLog struct {
	mu      sync.Mutex
	records []model.AskRecord
	err     error
}

func (l *memoryAskLog) Append(_ context.Context, rec model.AskRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.records = append([]model.AskRecord{rec}, l.records...)
	return nil
}

func (l *memoryAskLog) Recent(_ context.Context, docID string, limit int64) ([]model.AskRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.AskRecord
	for _, r := range l.records {
		if r.DocID == docID && int64(len(out)) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type memoryCatalog struct {
	mu      sync.Mutex
	records map[string]model.DocumentRecord
	history []string
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{records: make(map[string]model.DocumentRecord)}
}

func (c *memoryCatalog) Upsert(rec *model.DocumentRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.DocID] = *rec
	c.history = append(c.history, rec.DocID+":"+rec.Status)
	return nil
}

func (c *memoryCatalog) UpdateStatus(docID, status, lastError string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec := c.records[docID]
	rec.DocID, rec.Status, rec.LastError = docID, status, lastError
	c.records[docID] = rec
	c.history = append(c.history, docID+":"+status)
	return nil
}

func (c *memoryCatalog) FindByDocID(docID string) (*model.DocumentRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[docID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &rec, nil
}

func (c *memoryCatalog) List(offset, limit int) ([]model.DocumentRecord, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.DocumentRecord
	for _, r := range c.records {
		out = append(out, r)
	}
	total := int64(len(out))
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (c *memoryCatalog) statusTrail(docID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, h := range c.history {
		if strings.HasPrefix(h, docID+":") {
			out = append(out, strings.TrimPrefix(h, docID+":"))
		}
	}
	return out
}
