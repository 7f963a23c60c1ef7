package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"policy-rag-go/internal/service"
	"policy-rag-go/pkg/log"
)

// SearchHandler exposes retrieval without answer generation, for checking
// what evidence a question would receive.
type SearchHandler struct {
	searchService service.SearchService
	defaults      service.ChatOptions
}

// NewSearchHandler creates a SearchHandler. defaults supplies the embedding
// model, top_k and min_score when the query leaves them out.
func NewSearchHandler(searchService service.SearchService, defaults service.ChatOptions) *SearchHandler {
	return &SearchHandler{searchService: searchService, defaults: defaults}
}

// Search handles GET /api/v1/documents/:docId/search?query=...
func (h *SearchHandler) Search(c *gin.Context) {
	docID := c.Param("docId")
	query := c.Query("query")
	if query == "" {
		fail(c, http.StatusBadRequest, "query parameter is required")
		return
	}

	req := service.RetrieveRequest{
		DocID:          docID,
		Question:       query,
		EmbeddingModel: c.DefaultQuery("embedding_model", h.defaults.EmbeddingModel),
		TopK:           h.defaults.TopK,
		MinScore:       h.defaults.MinScore,
	}
	if v := c.Query("topK"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			fail(c, http.StatusBadRequest, "topK must be an integer")
			return
		}
		req.TopK = k
	}
	if v := c.Query("minScore"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, "minScore must be a number")
			return
		}
		req.MinScore = m
	}

	result, err := h.searchService.Retrieve(c.Request.Context(), req)
	if err != nil {
		failWith(c, "Search "+docID, err)
		return
	}
	log.Infof("[SearchHandler] %s: %d of %d candidates returned", docID, len(result.Evidence), result.Candidates)
	ok(c, "success", gin.H{
		"evidence":   result.Evidence,
		"candidates": result.Candidates,
		"topScore":   result.TopScore,
		"sufficient": result.Sufficient(),
	})
}
