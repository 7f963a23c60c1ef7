package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthInfo is reported by GET /health.
type HealthInfo struct {
	EmbeddingModel string `json:"embedding_model"`
	ChatModel      string `json:"chat_model"`
	VisionModel    string `json:"vision_model"`
	VisionEnabled  bool   `json:"vision_enabled"`
	Storage        string `json:"storage"`
	Queue          bool   `json:"queue"`
}

// HealthHandler reports liveness and the configured models.
type HealthHandler struct {
	info HealthInfo
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(info HealthInfo) *HealthHandler {
	return &HealthHandler{info: info}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "models": h.info})
}
