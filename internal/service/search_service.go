// Package service contains the business logic layer.
package service

import (
	"context"
	"errors"
	"fmt"

	"policy-rag-go/internal/model"
	"policy-rag-go/internal/pipeline"
	"policy-rag-go/internal/repository"
	"policy-rag-go/pkg/embedding"
	"policy-rag-go/pkg/log"
	"policy-rag-go/pkg/metrics"
	"policy-rag-go/pkg/vecindex"
)

// RetrieveRequest selects the document and the retrieval knobs of a query.
type RetrieveRequest struct {
	DocID          string
	Question       string
	EmbeddingModel string
	TopK           int
	MinScore       float64
}

// Retrieval is the outcome of one query against a document index.
type Retrieval struct {
	// Evidence holds the hits that passed the score gate, best first.
	Evidence []model.RetrievedEvidence
	// Candidates is the number of hits returned by the index before gating.
	Candidates int
	// TopScore is the best candidate score, or 0 when there were none.
	TopScore float64
}

// Sufficient reports whether at least one hit passed the score gate.
func (r *Retrieval) Sufficient() bool {
	return r != nil && len(r.Evidence) > 0
}

// SearchService finds the passages of a document closest to a question.
type SearchService interface {
	Retrieve(ctx context.Context, req RetrieveRequest) (*Retrieval, error)
}

type searchService struct {
	embeddingClient  embedding.Client
	artifacts        repository.ArtifactRepository
	questionMaxChars int
}

// NewSearchService creates a SearchService. A non-positive questionMaxChars
// uses pipeline.QuestionMaxChars.
func NewSearchService(embeddingClient embedding.Client, artifacts repository.ArtifactRepository, questionMaxChars int) SearchService {
	if questionMaxChars <= 0 {
		questionMaxChars = pipeline.QuestionMaxChars
	}
	return &searchService{
		embeddingClient:  embeddingClient,
		artifacts:        artifacts,
		questionMaxChars: questionMaxChars,
	}
}

// Retrieve embeds the question once, ranks every chunk of the live index by
// inner product and keeps the top k hits scoring at least MinScore.
func (s *searchService) Retrieve(ctx context.Context, req RetrieveRequest) (*Retrieval, error) {
	if req.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: embedding model is required", model.ErrInvalidConfiguration)
	}
	if req.TopK < 1 {
		return nil, fmt.Errorf("%w: top_k must be at least 1, got %d", model.ErrInvalidConfiguration, req.TopK)
	}
	question := pipeline.Sanitize(req.Question, s.questionMaxChars)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", model.ErrInvalidConfiguration)
	}

	log.Infof("[SearchService] step 1: loading index of %s", req.DocID)
	set, err := s.artifacts.Load(ctx, req.DocID)
	if err != nil {
		return nil, err
	}
	if set.Metadata.EmbeddingModel != "" && set.Metadata.EmbeddingModel != req.EmbeddingModel {
		log.Warnf("[SearchService] %s was indexed with %s but is queried with %s", req.DocID, set.Metadata.EmbeddingModel, req.EmbeddingModel)
	}

	log.Infof("[SearchService] step 2: embedding question (%d chars)", len([]rune(question)))
	vec, err := s.embeddingClient.CreateEmbedding(ctx, req.EmbeddingModel, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if set.Index.Len() == 0 {
		return &Retrieval{}, nil
	}
	if len(vec) != set.Index.Dim() {
		return nil, fmt.Errorf("%w: question vector has %d dimensions, index of %s has %d",
			model.ErrDimensionMismatch, len(vec), req.DocID, set.Index.Dim())
	}

	hits, err := set.Index.Search(vecindex.Normalize(vec), req.TopK)
	if err != nil {
		if errors.Is(err, vecindex.ErrDimensionMismatch) {
			return nil, fmt.Errorf("%w: %v", model.ErrDimensionMismatch, err)
		}
		return nil, fmt.Errorf("search index of %s: %w", req.DocID, err)
	}

	out := &Retrieval{Candidates: len(hits)}
	if len(hits) > 0 {
		out.TopScore = hits[0].Score
		metrics.RetrievalScore.Observe(hits[0].Score)
	}
	for _, h := range hits {
		if h.Score < req.MinScore {
			continue
		}
		if h.Row < 0 || h.Row >= len(set.Chunks) {
			log.Warnf("[SearchService] %s: index row %d has no chunk, skipped", req.DocID, h.Row)
			continue
		}
		c := set.Chunks[h.Row]
		out.Evidence = append(out.Evidence, model.RetrievedEvidence{
			ChunkID:  c.ChunkID,
			Page:     c.Page,
			Kind:     c.Kind,
			Score:    h.Score,
			Excerpt:  pipeline.Excerpt(c.Text),
			FullText: c.Text,
		})
	}
	log.Infof("[SearchService] step 3: %d of %d candidates passed min_score %.2f (top %.4f)",
		len(out.Evidence), out.Candidates, req.MinScore, out.TopScore)
	return out, nil
}
