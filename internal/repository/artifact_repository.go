// Package repository provides the data access layer.
package repository

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"policy-rag-go/internal/model"
	"policy-rag-go/pkg/log"
	"policy-rag-go/pkg/storage"
	"policy-rag-go/pkg/vecindex"
)

// Artifact names inside a generation.
const (
	ArtifactPages    = "pages.json"
	ArtifactChunks   = "chunks.jsonl"
	ArtifactIndex    = "index.bin"
	ArtifactMetadata = "metadata.json"

	currentPointer = "CURRENT"
	failureReport  = "ingest_failure.json"
)

// ArtifactSet is everything persisted for one build of a document. Row i of
// Index belongs to Chunks[i].
type ArtifactSet struct {
	Pages    []model.Page
	Chunks   []model.Chunk
	Index    *vecindex.Flat
	Metadata model.IngestionMetadata
}

// ArtifactRepository persists artifact sets so that a new build replaces the
// previous one in a single step.
type ArtifactRepository interface {
	// Save writes set under a fresh generation and then points the document
	// at it. It returns the generation id.
	Save(ctx context.Context, docID string, set *ArtifactSet) (string, error)
	// Load returns the chunk table, index and metadata of the live generation.
	// Pages are not loaded. The result is shared and must not be modified.
	Load(ctx context.Context, docID string) (*ArtifactSet, error)
	LoadMetadata(ctx context.Context, docID string) (*model.IngestionMetadata, error)
	LoadPages(ctx context.Context, docID string) ([]model.Page, error)
	// WriteAux stores a blob outside any generation (debug dumps, failure
	// reports, uploaded sources).
	WriteAux(ctx context.Context, docID, name string, data []byte) error
	ReadAux(ctx context.Context, docID, name string) ([]byte, error)
	SaveFailureReport(ctx context.Context, docID string, meta *model.IngestionMetadata) error
}

type cachedSet struct {
	generation string
	set        *ArtifactSet
}

type blobArtifactRepository struct {
	store storage.BlobStore

	mu    sync.RWMutex
	cache map[string]cachedSet
}

// NewArtifactRepository creates an ArtifactRepository over a blob store.
func NewArtifactRepository(store storage.BlobStore) ArtifactRepository {
	return &blobArtifactRepository{store: store, cache: make(map[string]cachedSet)}
}

func genPath(generation, name string) string {
	return generation + "/" + name
}

func (r *blobArtifactRepository) Save(ctx context.Context, docID string, set *ArtifactSet) (string, error) {
	if set == nil || set.Index == nil {
		return "", errors.New("artifact set has no index")
	}
	generation := "gen-" + uuid.NewString()
	set.Metadata.Generation = generation

	pages, err := json.Marshal(set.Pages)
	if err != nil {
		return "", fmt.Errorf("encode pages: %w", err)
	}
	chunks, err := encodeChunks(set.Chunks)
	if err != nil {
		return "", err
	}
	index, err := set.Index.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode index: %w", err)
	}
	meta, err := json.MarshalIndent(set.Metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	for _, a := range []struct {
		name string
		data []byte
	}{
		{ArtifactPages, pages},
		{ArtifactChunks, chunks},
		{ArtifactIndex, index},
		{ArtifactMetadata, meta},
	} {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := r.store.Write(ctx, docID, genPath(generation, a.name), a.data); err != nil {
			return "", fmt.Errorf("write %s: %w", a.name, err)
		}
	}

	// The pointer is the commit: until it is written readers keep the old set.
	if err := r.store.Write(ctx, docID, currentPointer, []byte(generation)); err != nil {
		return "", fmt.Errorf("switch %s to %s: %w", docID, generation, err)
	}

	r.mu.Lock()
	r.cache[docID] = cachedSet{generation: generation, set: &ArtifactSet{
		Chunks:   set.Chunks,
		Index:    set.Index,
		Metadata: set.Metadata,
	}}
	r.mu.Unlock()

	log.Infof("[ArtifactRepository] document %s now serves generation %s", docID, generation)
	return generation, nil
}

func (r *blobArtifactRepository) currentGeneration(ctx context.Context, docID string) (string, error) {
	data, err := r.store.Read(ctx, docID, currentPointer)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("document %s: %w", docID, model.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read generation pointer: %w", err)
	}
	gen := strings.TrimSpace(string(data))
	if gen == "" {
		return "", fmt.Errorf("document %s has an empty generation pointer: %w", docID, model.ErrNotFound)
	}
	return gen, nil
}

func (r *blobArtifactRepository) readGen(ctx context.Context, docID, gen, name string) ([]byte, error) {
	data, err := r.store.Read(ctx, docID, genPath(gen, name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("document %s artifact %s: %w", docID, name, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (r *blobArtifactRepository) Load(ctx context.Context, docID string) (*ArtifactSet, error) {
	gen, err := r.currentGeneration(ctx, docID)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	cached, ok := r.cache[docID]
	r.mu.RUnlock()
	if ok && cached.generation == gen {
		return cached.set, nil
	}

	rawChunks, err := r.readGen(ctx, docID, gen, ArtifactChunks)
	if err != nil {
		return nil, err
	}
	chunks, err := decodeChunks(rawChunks)
	if err != nil {
		return nil, err
	}
	rawIndex, err := r.readGen(ctx, docID, gen, ArtifactIndex)
	if err != nil {
		return nil, err
	}
	index := &vecindex.Flat{}
	if err := index.UnmarshalBinary(rawIndex); err != nil {
		return nil, fmt.Errorf("decode index of %s: %w", docID, err)
	}
	meta, err := r.loadMetadataGen(ctx, docID, gen)
	if err != nil {
		return nil, err
	}
	if index.Len() != len(chunks) {
		log.Warnf("[ArtifactRepository] document %s generation %s: index has %d rows but chunk table has %d", docID, gen, index.Len(), len(chunks))
	}

	set := &ArtifactSet{Chunks: chunks, Index: index, Metadata: *meta}
	r.mu.Lock()
	r.cache[docID] = cachedSet{generation: gen, set: set}
	r.mu.Unlock()
	return set, nil
}

func (r *blobArtifactRepository) loadMetadataGen(ctx context.Context, docID, gen string) (*model.IngestionMetadata, error) {
	raw, err := r.readGen(ctx, docID, gen, ArtifactMetadata)
	if err != nil {
		return nil, err
	}
	var meta model.IngestionMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", docID, err)
	}
	return &meta, nil
}

func (r *blobArtifactRepository) LoadMetadata(ctx context.Context, docID string) (*model.IngestionMetadata, error) {
	gen, err := r.currentGeneration(ctx, docID)
	if err != nil {
		return nil, err
	}
	return r.loadMetadataGen(ctx, docID, gen)
}

func (r *blobArtifactRepository) LoadPages(ctx context.Context, docID string) ([]model.Page, error) {
	gen, err := r.currentGeneration(ctx, docID)
	if err != nil {
		return nil, err
	}
	raw, err := r.readGen(ctx, docID, gen, ArtifactPages)
	if err != nil {
		return nil, err
	}
	var pages []model.Page
	if err := json.Unmarshal(raw, &pages); err != nil {
		return nil, fmt.Errorf("decode pages of %s: %w", docID, err)
	}
	return pages, nil
}

func (r *blobArtifactRepository) WriteAux(ctx context.Context, docID, name string, data []byte) error {
	return r.store.Write(ctx, docID, name, data)
}

func (r *blobArtifactRepository) ReadAux(ctx context.Context, docID, name string) ([]byte, error) {
	data, err := r.store.Read(ctx, docID, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("document %s blob %s: %w", docID, name, model.ErrNotFound)
	}
	return data, err
}

func (r *blobArtifactRepository) SaveFailureReport(ctx context.Context, docID string, meta *model.IngestionMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode failure report: %w", err)
	}
	return r.store.Write(ctx, docID, failureReport, data)
}

func encodeChunks(chunks []model.Chunk) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			return nil, fmt.Errorf("encode chunk %s: %w", c.ChunkID, err)
		}
	}
	return buf.Bytes(), nil
}

func decodeChunks(data []byte) ([]model.Chunk, error) {
	var chunks []model.Chunk
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var c model.Chunk
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, fmt.Errorf("decode chunk table line %d: %w", len(chunks)+1, err)
		}
		if c.Kind == "" {
			c.Kind = model.ChunkKindText
		}
		chunks = append(chunks, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan chunk table: %w", err)
	}
	return chunks, nil
}
