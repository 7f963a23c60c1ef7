package model

import "time"

// RetrievedEvidence is one search hit that passed the score gate.
type RetrievedEvidence struct {
	ChunkID  string    `json:"chunk_id"`
	Page     int       `json:"page"`
	Kind     ChunkKind `json:"type"`
	Score    float64   `json:"score"`
	Excerpt  string    `json:"excerpt"`
	FullText string    `json:"text"`
}

// Citation points an answer back at a supplied excerpt.
type Citation struct {
	Page    int    `json:"page"`
	ChunkID string `json:"chunk_id"`
	Excerpt string `json:"excerpt"`
}

// AskResult is the response of a grounded question.
type AskResult struct {
	Answer            string     `json:"answer"`
	Citations         []Citation `json:"citations"`
	RetrievedChunkIDs []string   `json:"retrieved_chunk_ids"`
}

// AskRecord is one audited question/answer pair.
type AskRecord struct {
	DocID           string    `json:"doc_id"`
	Question        string    `json:"question"`
	Answer          string    `json:"answer"`
	Fallback        bool      `json:"fallback"`
	ChunkIDs        []string  `json:"chunk_ids"`
	CompletionModel string    `json:"completion_model"`
	Timestamp       time.Time `json:"timestamp"`
}
