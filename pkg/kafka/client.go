// Package kafka carries ingestion tasks over a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"policy-rag-go/internal/config"
	"policy-rag-go/pkg/log"
	"policy-rag-go/pkg/tasks"
)

// TaskProcessor runs one ingestion task.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

// AttemptCounter tracks how often a task has failed.
type AttemptCounter interface {
	IncrAttempts(ctx context.Context, taskKey string) (int64, error)
	ResetAttempts(ctx context.Context, taskKey string) error
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer publishes ingestion tasks.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a producer for cfg.Topic.
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka producer initialized")
	return &Producer{writer: w}
}

// ProduceIngestTask publishes task keyed by its document id, so tasks for
// one document stay ordered within a partition.
func (p *Producer) ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal ingest task: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.DocID), Value: taskBytes})
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer reads tasks until ctx is cancelled.
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("closing Kafka consumer failed: %v", err)
		}
	}()

	log.Infof("Kafka consumer started, topic '%s', group '%s'", cfg.Topic, cfg.GroupID)
	c := NewConsumer(r, processor, attempts, cfg.MaxAttempts, cfg.RetryBackoff)
	if err := c.Run(ctx); err != nil {
		log.Error("reading from Kafka failed", err)
		return
	}
	log.Info("Kafka consumer stopping")
}

// MessageReader is the part of a group reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer runs queued ingestion tasks one at a time.
//
// A group reader keeps fetching past an uncommitted message and the next
// commit moves the group offset beyond it, so a failed task is retried in
// place with backoff and its offset is committed only once it succeeds,
// fails permanently, or has failed maxAttempts times. Failures are also
// counted in the AttemptCounter so attempts made before a restart count.
type Consumer struct {
	reader      MessageReader
	processor   TaskProcessor
	attempts    AttemptCounter
	maxAttempts int64
	backoff     time.Duration
}

// NewConsumer creates a Consumer. attempts may be nil. maxAttempts below 1
// means 3; a non-positive backoff retries without waiting.
func NewConsumer(reader MessageReader, processor TaskProcessor, attempts AttemptCounter, maxAttempts int, backoff time.Duration) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{
		reader:      reader,
		processor:   processor,
		attempts:    attempts,
		maxAttempts: int64(maxAttempts),
		backoff:     backoff,
	}
}

// Run consumes until ctx is cancelled, which returns nil, or the reader
// fails. A task interrupted by cancellation is left uncommitted.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if !c.handle(ctx, m) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Errorf("committing Kafka offset %d failed: %v", m.Offset, err)
		}
	}
}

// handle reports whether m is settled and may be committed.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	var task tasks.IngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("cannot decode Kafka message at offset %d: %v", m.Offset, err)
		return true
	}

	attemptKey := task.DocID + ":" + task.SourceName
	wait := c.backoff
	for attempt := int64(1); ; attempt++ {
		err := c.processor.Process(ctx, task)
		switch {
		case err == nil:
			log.Infof("ingest task done: doc=%s", task.DocID)
			c.resetAttempts(ctx, attemptKey)
			return true
		case tasks.IsPermanent(err):
			log.Errorf("ingest task failed permanently, committing: doc=%s, error: %v", task.DocID, err)
			c.resetAttempts(ctx, attemptKey)
			return true
		case ctx.Err() != nil:
			log.Warnf("ingest task interrupted, leaving uncommitted: doc=%s, error: %v", task.DocID, err)
			return false
		}

		n := attempt
		if c.attempts != nil {
			total, incErr := c.attempts.IncrAttempts(ctx, attemptKey)
			if incErr != nil {
				log.Warnf("attempt tracking unavailable for doc=%s: %v", task.DocID, incErr)
			} else if total > n {
				n = total
			}
		}
		if n >= c.maxAttempts {
			log.Errorf("ingest task failed %d times, giving up: doc=%s, error: %v", n, task.DocID, err)
			c.resetAttempts(ctx, attemptKey)
			return true
		}

		log.Warnf("ingest task failed (attempt %d/%d), retrying in %s: doc=%s, error: %v", n, c.maxAttempts, wait, task.DocID, err)
		if !sleep(ctx, wait) {
			log.Warnf("ingest task retry interrupted, leaving uncommitted: doc=%s", task.DocID)
			return false
		}
		wait *= 2
	}
}

func (c *Consumer) resetAttempts(ctx context.Context, key string) {
	if c.attempts == nil {
		return
	}
	if err := c.attempts.ResetAttempts(ctx, key); err != nil {
		log.Warnf("resetting attempts of %s failed: %v", key, err)
	}
}

// sleep waits d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
