package model

import "errors"

var (
	// ErrInvalidConfiguration reports bad chunking settings, missing model
	// identifiers or unusable request input. Raised before any collaborator call.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrAllChunksFailed means no chunk of a document could be embedded.
	ErrAllChunksFailed = errors.New("all chunks failed to embed")

	// ErrDimensionMismatch means vectors of different lengths met in one index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound means a document or one of its artifacts does not exist.
	ErrNotFound = errors.New("not found")
)
