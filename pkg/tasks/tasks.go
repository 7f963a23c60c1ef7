// Package tasks defines the messages sent through Kafka.
package tasks

import "errors"

// IngestTask asks a worker to extract and index an uploaded source file
// stored as blob (DocID, SourceName).
type IngestTask struct {
	DocID          string `json:"doc_id"`
	SourceName     string `json:"source_name"`
	FileName       string `json:"file_name"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	VisionModel    string `json:"vision_model,omitempty"`
	EnableVision   bool   `json:"enable_vision"`
	ChunkSize      int    `json:"chunk_size,omitempty"`
	Overlap        *int   `json:"overlap,omitempty"`
}

// permanentError marks a task failure that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps err so consumers commit the message instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
