package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"policy-rag-go/internal/model"
)

// AskLogRepository keeps the most recent questions asked of each document.
type AskLogRepository interface {
	Append(ctx context.Context, rec model.AskRecord) error
	Recent(ctx context.Context, docID string, limit int64) ([]model.AskRecord, error)
}

type redisAskLogRepository struct {
	redisClient *redis.Client
	maxEntries  int64
	ttl         time.Duration
}

// NewAskLogRepository creates an AskLogRepository that keeps at most
// maxEntries records per document.
func NewAskLogRepository(redisClient *redis.Client, maxEntries int64) AskLogRepository {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &redisAskLogRepository{redisClient: redisClient, maxEntries: maxEntries, ttl: 30 * 24 * time.Hour}
}

func askLogKey(docID string) string {
	return fmt.Sprintf("asks:%s", docID)
}

// Append pushes rec to the head of the document's list and trims the tail.
func (r *redisAskLogRepository) Append(ctx context.Context, rec model.AskRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal ask record: %w", err)
	}
	key := askLogKey(rec.DocID)
	pipe := r.redisClient.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.maxEntries-1)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append ask record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (r *redisAskLogRepository) Recent(ctx context.Context, docID string, limit int64) ([]model.AskRecord, error) {
	if limit <= 0 || limit > r.maxEntries {
		limit = r.maxEntries
	}
	raw, err := r.redisClient.LRange(ctx, askLogKey(docID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ask log: %w", err)
	}
	records := make([]model.AskRecord, 0, len(raw))
	for _, s := range raw {
		var rec model.AskRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// TaskAttemptRepository counts failed deliveries of queued ingestion tasks.
type TaskAttemptRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewTaskAttemptRepository creates a TaskAttemptRepository.
func NewTaskAttemptRepository(redisClient *redis.Client) *TaskAttemptRepository {
	return &TaskAttemptRepository{redisClient: redisClient, ttl: 24 * time.Hour}
}

func attemptKey(taskKey string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskKey)
}

// IncrAttempts records one more failure and returns the total.
func (r *TaskAttemptRepository) IncrAttempts(ctx context.Context, taskKey string) (int64, error) {
	key := attemptKey(taskKey)
	n, err := r.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		_ = r.redisClient.Expire(ctx, key, r.ttl).Err()
	}
	return n, nil
}

// ResetAttempts forgets the failures of taskKey.
func (r *TaskAttemptRepository) ResetAttempts(ctx context.Context, taskKey string) error {
	return r.redisClient.Del(ctx, attemptKey(taskKey)).Err()
}
