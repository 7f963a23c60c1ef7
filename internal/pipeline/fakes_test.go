package pipeline

import (
	"context"
	"crypto/sha256"
	"strings"
	"sync"
	"sync/atomic"

	"policy-rag-go/internal/repository"
	"policy-rag-go/pkg/embedding"
	"policy-rag-go/pkg/llm"
	"policy-rag-go/pkg/storage"
)

// fakeEmbedder derives a vector from the text hash. Texts containing
// failMarker fail with a 500; vecFor overrides the vector when it returns
// non-nil.
type fakeEmbedder struct {
	dim        int
	failMarker string
	dimFor     func(text string) int
	vecFor     func(text string) []float32
	calls      atomic.Int32

	mu     sync.Mutex
	models []string
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, model, text string) ([]float32, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.models = append(f.models, model)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failMarker != "" && strings.Contains(text, f.failMarker) {
		return nil, &embedding.ServiceError{Status: 500, Message: "model crashed"}
	}
	if f.vecFor != nil {
		if v := f.vecFor(text); v != nil {
			return v, nil
		}
	}
	dim := f.dim
	if f.dimFor != nil {
		dim = f.dimFor(text)
	}
	return hashVector(text, dim), nil
}

func hashVector(text string, dim int) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(sum[i%len(sum)]) - 127.5
	}
	return v
}

// fakeChat replays scripted replies; when replies run out the last one
// repeats.
type fakeChat struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	messages [][]llm.Message
}

func (f *fakeChat) Chat(_ context.Context, _ string, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.messages = append(f.messages, messages)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return f.replies[i], nil
}

func newTestRepo() (*storage.MemoryStore, repository.ArtifactRepository) {
	store := storage.NewMemoryStore()
	return store, repository.NewArtifactRepository(store)
}
