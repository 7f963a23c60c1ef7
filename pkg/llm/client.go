// Package llm provides a client for the Ollama chat API.
package llm

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

// Client sends a chat conversation to a model and returns the reply text.
type Client interface {
	Chat(ctx context.Context, model string, messages []Message, gen *GenerationParams) (string, error)
}

// Message is one chat turn. Images carries base64-encoded image bytes for
// vision models.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// GenerationParams are optional sampling settings; nil fields are left to
// the server defaults.
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	Seed        *int
	MaxTokens   *int
}

// Deterministic returns settings that keep replies reproducible.
func Deterministic() *GenerationParams {
	t, p, s := 0.0, 1.0, 1
	return &GenerationParams{Temperature: &t, TopP: &p, Seed: &s}
}

// ServiceError is returned for any failed completion call. Status is the
// HTTP status, or 0 when the request never got a response.
type ServiceError struct {
	Status  int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("completion service error (status %d): %s", e.Status, e.Message)
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

// NewClient creates a chat client for the configured Ollama server.
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

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Seed        *int     `json:"seed,omitempty"`
	NumPredict  *int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	Stream   bool         `json:"stream"`
	Options  *chatOptions `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

// Chat calls POST /api/chat without streaming.
func (c *ollamaClient) Chat(ctx context.Context, model string, messages []Message, gen *GenerationParams) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	reqBody := chatRequest{Model: model, Messages: messages}
	if gen != nil {
		reqBody.Options = &chatOptions{
			Temperature: gen.Temperature,
			TopP:        gen.TopP,
			Seed:        gen.Seed,
			NumPredict:  gen.MaxTokens,
		}
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[LLMClient] chat API call failed, model: %s, error: %v", model, err)
		return "", &ServiceError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Errorf("[LLMClient] chat API returned %s: %s", resp.Status, string(body))
		return "", &ServiceError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", &ServiceError{Status: resp.StatusCode, Message: "decode response: " + err.Error(), Err: err}
	}
	if chatResp.Error != "" {
		return "", &ServiceError{Status: resp.StatusCode, Message: chatResp.Error}
	}

	log.Debugf("[LLMClient] chat reply received, model: %s, chars: %d, took: %s", model, len(chatResp.Message.Content), time.Since(started))
	return chatResp.Message.Content, nil
}
