// Package storage provides blob stores keyed by document id and artifact name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Read when the blob does not exist.
var ErrNotFound = errors.New("storage: blob not found")

// BlobStore reads and writes opaque blobs. A single Write is atomic: readers
// see either the previous content or the new content.
type BlobStore interface {
	Write(ctx context.Context, docID, name string, data []byte) error
	Read(ctx context.Context, docID, name string) ([]byte, error)
}

// ValidateKey rejects ids and names that could escape their namespace.
func ValidateKey(docID, name string) error {
	if docID == "" || name == "" {
		return fmt.Errorf("storage: empty key (doc=%q, name=%q)", docID, name)
	}
	if strings.ContainsAny(docID, `/\`) || docID == "." || docID == ".." {
		return fmt.Errorf("storage: invalid doc id %q", docID)
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return fmt.Errorf("storage: invalid artifact name %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("storage: invalid artifact name %q", name)
		}
	}
	return nil
}

func objectKey(docID, name string) string {
	return docID + "/" + name
}
