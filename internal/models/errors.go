package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by the pipeline matches exactly one of
// these with errors.Is.
var (
	ErrUnsupportedFormat  = errors.New("unsupported file format")
	ErrLoadFailure        = errors.New("failed to load document")
	ErrEmptyIndex         = errors.New("no chunks to index")
	ErrEmbeddingFailure   = errors.New("failed to compute embeddings")
	ErrIndexFailure       = errors.New("failed to build index")
	ErrPersistenceFailure = errors.New("vector store persistence failed")
	ErrNoIndex            = errors.New("no vector store has been created")
	ErrModelLoadFailure   = errors.New("failed to load model")
	ErrGenerationFailure  = errors.New("failed to generate answer")
)

// PipelineError wraps a cause with its kind and the operation that failed.
type PipelineError struct {
	Op   string
	Kind error
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap tags err with kind. A nil err yields an error of that kind alone.
func Wrap(kind error, op string, err error) error {
	return &PipelineError{Op: op, Kind: kind, Err: err}
}

// ErrorKind returns a short stable name for the kind of err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrLoadFailure):
		return "load_failure"
	case errors.Is(err, ErrEmptyIndex):
		return "empty_index"
	case errors.Is(err, ErrEmbeddingFailure):
		return "embedding_failure"
	case errors.Is(err, ErrIndexFailure):
		return "index_failure"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	case errors.Is(err, ErrNoIndex):
		return "no_index"
	case errors.Is(err, ErrModelLoadFailure):
		return "model_load_failure"
	case errors.Is(err, ErrGenerationFailure):
		return "generation_failure"
	default:
		return "internal"
	}
}
