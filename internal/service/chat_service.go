package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"policy-rag-go/internal/model"
	"policy-rag-go/internal/pipeline"
	"policy-rag-go/internal/repository"
	"policy-rag-go/pkg/llm"
	"policy-rag-go/pkg/log"
	"policy-rag-go/pkg/metrics"
)

// FallbackAnswer is returned whenever the excerpts cannot support an answer.
const FallbackAnswer = "I can't find that in the policy excerpts provided."

// fallbackSentence is matched inside model replies, with the typographic
// apostrophe folded to ASCII first.
const fallbackSentence = "I can't find that in the policy excerpts provided"

const systemPrompt = "You are a compliance assistant for government HR and policy documents.\n" +
	"You MUST answer using ONLY the provided excerpts.\n" +
	"If the answer is not explicitly supported by the excerpts, reply exactly:\n" +
	"\"" + FallbackAnswer + "\"\n" +
	"\n" +
	"IMPORTANT:\n" +
	"- Excerpts marked [IMAGE ...] are AI descriptions of images or diagrams.\n" +
	"- When citing an image, say \"According to the image on page X\" or \"The diagram on page X shows\".\n" +
	"- Every factual claim must include a citation: (Page X, chunk_id)\n"

// AskRequest is one question against one document. Zero values take the
// service defaults; MinScore is a pointer because 0 is a valid threshold.
type AskRequest struct {
	DocID           string   `json:"doc_id"`
	Question        string   `json:"question"`
	EmbeddingModel  string   `json:"embedding_model,omitempty"`
	CompletionModel string   `json:"completion_model,omitempty"`
	TopK            int      `json:"top_k,omitempty"`
	MinScore        *float64 `json:"min_score,omitempty"`
}

// ChatOptions holds the defaults applied to AskRequest.
type ChatOptions struct {
	EmbeddingModel   string
	CompletionModel  string
	TopK             int
	MinScore         float64
	QuestionMaxChars int
}

// ChatService answers questions from retrieved policy excerpts only.
type ChatService interface {
	Ask(ctx context.Context, req AskRequest) (*model.AskResult, error)
}

type chatService struct {
	searchService SearchService
	llmClient     llm.Client
	askLog        repository.AskLogRepository
	opts          ChatOptions
}

// NewChatService creates a ChatService. askLog may be nil.
func NewChatService(searchService SearchService, llmClient llm.Client, askLog repository.AskLogRepository, opts ChatOptions) ChatService {
	if opts.TopK <= 0 {
		opts.TopK = 6
	}
	if opts.QuestionMaxChars <= 0 {
		opts.QuestionMaxChars = pipeline.QuestionMaxChars
	}
	return &chatService{
		searchService: searchService,
		llmClient:     llmClient,
		askLog:        askLog,
		opts:          opts,
	}
}

// Ask retrieves evidence for the question and, when there is any, makes a
// single deterministic completion call restricted to that evidence.
func (s *chatService) Ask(ctx context.Context, req AskRequest) (*model.AskResult, error) {
	req = s.withDefaults(req)
	if req.CompletionModel == "" {
		return nil, fmt.Errorf("%w: completion model is required", model.ErrInvalidConfiguration)
	}

	log.Infof("[ChatService] step 1: retrieving evidence from %s (top_k %d, min_score %.2f)", req.DocID, req.TopK, *req.MinScore)
	retrieval, err := s.searchService.Retrieve(ctx, RetrieveRequest{
		DocID:          req.DocID,
		Question:       req.Question,
		EmbeddingModel: req.EmbeddingModel,
		TopK:           req.TopK,
		MinScore:       *req.MinScore,
	})
	if err != nil {
		metrics.Asks.WithLabelValues("error").Inc()
		return nil, err
	}

	if !retrieval.Sufficient() {
		log.Infof("[ChatService] no evidence above the score gate for %s, answering with fallback", req.DocID)
		result := &model.AskResult{Answer: FallbackAnswer, Citations: []model.Citation{}, RetrievedChunkIDs: []string{}}
		metrics.Asks.WithLabelValues("no_evidence").Inc()
		s.record(req, result.Answer, []string{}, true)
		return result, nil
	}

	question := pipeline.Sanitize(req.Question, s.opts.QuestionMaxChars)
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: BuildUserPrompt(retrieval.Evidence, question)},
	}

	log.Infof("[ChatService] step 2: calling %s with %d excerpts", req.CompletionModel, len(retrieval.Evidence))
	answer, err := s.llmClient.Chat(ctx, req.CompletionModel, messages, llm.Deterministic())
	if err != nil {
		metrics.Asks.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	chunkIDs := make([]string, 0, len(retrieval.Evidence))
	for _, e := range retrieval.Evidence {
		chunkIDs = append(chunkIDs, e.ChunkID)
	}

	// A refusal carries no evidence in the response; the ask log still keeps
	// what was supplied.
	if IsFallback(answer) {
		log.Infof("[ChatService] model declined to answer from the excerpts of %s", req.DocID)
		result := &model.AskResult{Answer: FallbackAnswer, Citations: []model.Citation{}, RetrievedChunkIDs: []string{}}
		metrics.Asks.WithLabelValues("model_fallback").Inc()
		s.record(req, result.Answer, chunkIDs, true)
		return result, nil
	}

	citations := make([]model.Citation, 0, len(retrieval.Evidence))
	for _, e := range retrieval.Evidence {
		citations = append(citations, model.Citation{Page: e.Page, ChunkID: e.ChunkID, Excerpt: e.Excerpt})
	}
	result := &model.AskResult{Answer: answer, Citations: citations, RetrievedChunkIDs: chunkIDs}
	metrics.Asks.WithLabelValues("answered").Inc()
	log.Infof("[ChatService] step 3: answered with %d citations (%d chars)", len(citations), len(answer))
	s.record(req, result.Answer, chunkIDs, false)
	return result, nil
}

func (s *chatService) withDefaults(req AskRequest) AskRequest {
	if req.EmbeddingModel == "" {
		req.EmbeddingModel = s.opts.EmbeddingModel
	}
	if req.CompletionModel == "" {
		req.CompletionModel = s.opts.CompletionModel
	}
	if req.TopK == 0 {
		req.TopK = s.opts.TopK
	}
	if req.MinScore == nil {
		m := s.opts.MinScore
		req.MinScore = &m
	}
	return req
}

// record appends the answer to the ask log. Failures are only logged.
func (s *chatService) record(req AskRequest, answer string, chunkIDs []string, fallback bool) {
	if s.askLog == nil {
		return
	}
	// The request context may already be gone once the answer is written.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.askLog.Append(ctx, model.AskRecord{
		DocID:           req.DocID,
		Question:        req.Question,
		Answer:          answer,
		Fallback:        fallback,
		ChunkIDs:        chunkIDs,
		CompletionModel: req.CompletionModel,
		Timestamp:       time.Now(),
	})
	if err != nil {
		log.Warnf("[ChatService] failed to record ask for %s: %v", req.DocID, err)
	}
}

// BuildUserPrompt lays out the evidence as tagged excerpts followed by the
// question.
func BuildUserPrompt(evidence []model.RetrievedEvidence, question string) string {
	blocks := make([]string, 0, len(evidence))
	for _, e := range evidence {
		blocks = append(blocks, fmt.Sprintf("[%s | Page %d | %s]\n%s", e.Kind.Label(), e.Page, e.ChunkID, e.FullText))
	}
	var b strings.Builder
	b.WriteString("Policy excerpts:\n\n")
	b.WriteString(strings.Join(blocks, "\n\n---\n\n"))
	b.WriteString("\n\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n\nAnswer using only the excerpts above and cite every claim.")
	return b.String()
}

// IsFallback reports whether a model reply must be replaced by
// FallbackAnswer: it is blank or it contains the fallback sentence.
func IsFallback(answer string) bool {
	if strings.TrimSpace(answer) == "" {
		return true
	}
	folded := strings.ReplaceAll(answer, "’", "'")
	return strings.Contains(folded, fallbackSentence)
}
