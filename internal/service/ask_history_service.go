package service

import (
	"context"
	"fmt"

	"policy-rag-go/internal/model"
	"policy-rag-go/internal/pipeline"
	"policy-rag-go/internal/repository"
)

// AskHistoryService reads the audit log of questions asked of a document.
type AskHistoryService interface {
	Recent(ctx context.Context, docID string, limit int64) ([]model.AskRecord, error)
}

type askHistoryService struct {
	repo repository.AskLogRepository
}

// NewAskHistoryService creates an AskHistoryService. repo may be nil when
// Redis is not configured.
func NewAskHistoryService(repo repository.AskLogRepository) AskHistoryService {
	return &askHistoryService{repo: repo}
}

// Recent returns the latest records for docID, newest first.
func (s *askHistoryService) Recent(ctx context.Context, docID string, limit int64) ([]model.AskRecord, error) {
	if err := pipeline.ValidateDocID(docID); err != nil {
		return nil, err
	}
	if s.repo == nil {
		return nil, fmt.Errorf("%w: ask log is not configured", model.ErrInvalidConfiguration)
	}
	return s.repo.Recent(ctx, docID, limit)
}
