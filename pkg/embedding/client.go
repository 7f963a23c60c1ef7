// Package embedding provides a client for the Ollama embeddings API.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"policy-rag-go/internal/config"
	"policy-rag-go/pkg/log"
)

// Client turns text into a vector with the named model.
type Client interface {
	CreateEmbedding(ctx context.Context, model, text string) ([]float32, error)
}

// ServiceError is returned for any failed embedding call. Status is the HTTP
// status, or 0 when the request never got a response.
type ServiceError struct {
	Status  int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("embedding service error (status %d): %s", e.Status, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the same call may succeed later.
func (e *ServiceError) Retryable() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type ollamaClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates an embedding client for the configured Ollama server.
func NewClient(cfg config.OllamaConfig) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	c := &ollamaClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// CreateEmbedding calls POST /api/embeddings.
func (c *ollamaClient) CreateEmbedding(ctx context.Context, model, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	log.Debugf("[EmbeddingClient] calling embeddings API, model: %s, input_len: %d", model, len(text))

	reqBytes, err := json.Marshal(embeddingRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] embeddings API call failed, error: %v", err)
		return nil, &ServiceError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Errorf("[EmbeddingClient] embeddings API returned %s: %s", resp.Status, string(body))
		return nil, &ServiceError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, &ServiceError{Status: resp.StatusCode, Message: "decode response: " + err.Error(), Err: err}
	}
	if len(embeddingResp.Embedding) == 0 {
		return nil, &ServiceError{Status: resp.StatusCode, Message: "empty embedding in response"}
	}

	vec := make([]float32, len(embeddingResp.Embedding))
	for i, v := range embeddingResp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
