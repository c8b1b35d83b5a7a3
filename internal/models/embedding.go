package models

// Segment is a unit of text extracted from a document by a loader.
type Segment struct {
	Content string
	Source  string
	Page    int // 0 when the format has no pages
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID         string
	Content    string
	Source     string
	Page       int
	StartIndex int // rune offset inside the parent segment, -1 if unknown
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	Chunk
	Score float32
}

// Citation is a source reference shown next to an answer.
type Citation struct {
	Content string `json:"content"`
	Page    any    `json:"page"`
	Source  string `json:"source"`
}

// AnswerResult is what a question produces.
type AnswerResult struct {
	Answer  string     `json:"answer"`
	Sources []Citation `json:"sources"`
}
