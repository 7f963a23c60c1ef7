// Package model holds the data types shared by ingestion and query paths.
package model

import "fmt"

// Page is the extracted text of one source page. PageNumber is 1-based.
type Page struct {
	PageNumber int    `json:"page"`
	Text       string `json:"text"`
}

// ChunkKind tags where a chunk's text came from.
type ChunkKind string

const (
	ChunkKindText  ChunkKind = "text"
	ChunkKindImage ChunkKind = "image"
)

// Label is the upper-case tag used when the chunk is shown to a model.
func (k ChunkKind) Label() string {
	if k == ChunkKindImage {
		return "IMAGE"
	}
	return "TEXT"
}

// Chunk is the unit that gets embedded and retrieved. Embedding and retrieval
// only read ChunkID, Page and Text; Kind is set by whoever produced it.
type Chunk struct {
	ChunkID string    `json:"chunk_id"`
	Page    int       `json:"page"`
	Text    string    `json:"text"`
	Kind    ChunkKind `json:"type"`
}

// NewTextChunk builds a chunk cut from page text.
func NewTextChunk(id string, page int, text string) Chunk {
	return Chunk{ChunkID: id, Page: page, Text: text, Kind: ChunkKindText}
}

// NewImageChunk builds a chunk from an image description.
func NewImageChunk(id string, page int, description string) Chunk {
	return Chunk{ChunkID: id, Page: page, Text: description, Kind: ChunkKindImage}
}

// TextChunkID is the ordinal id of the n-th window on a page.
func TextChunkID(page, n int) string {
	return fmt.Sprintf("p%d_c%d", page, n)
}

// ImageChunkID is the ordinal id of the n-th image on a page.
func ImageChunkID(page, n int) string {
	return fmt.Sprintf("p%d_img%d", page, n)
}

// FailedChunk records a chunk that could not be embedded.
type FailedChunk struct {
	Page    int    `json:"page"`
	ChunkID string `json:"chunk_id"`
	Reason  string `json:"error"`
}

// Image is a raw embedded image handed over by the extraction step.
// Index is the image's position among all images on its page.
type Image struct {
	Page  int    `json:"page"`
	Index int    `json:"index"`
	Name  string `json:"name,omitempty"`
	Data  []byte `json:"data"`
}
