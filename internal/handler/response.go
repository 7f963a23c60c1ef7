// Package handler contains the HTTP controllers.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"policy-rag-go/internal/model"
	"policy-rag-go/pkg/embedding"
	"policy-rag-go/pkg/llm"
	"policy-rag-go/pkg/log"
)

func ok(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": message, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
}

// statusOf maps service errors to HTTP statuses.
func statusOf(err error) int {
	var embErr *embedding.ServiceError
	var llmErr *llm.ServiceError
	switch {
	case errors.Is(err, model.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAllChunksFailed), errors.Is(err, model.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.As(err, &embErr), errors.As(err, &llmErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// failWith logs err and writes it with the mapped status.
func failWith(c *gin.Context, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s failed: %v", op, err)
	} else {
		log.Warnf("%s rejected: %v", op, err)
	}
	fail(c, status, err.Error())
}
