package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"document-qa/internal/chromemdb"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/rag"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "document-qa/session"

// Session is the single user session shared by the web and terminal
// interfaces. It is Idle until a document or store has been processed and
// Ready afterwards. Actions are serialized; status reads are not, so they
// never wait behind a long processing run.
type Session struct {
	processor *parser.Processor
	stores    *chromemdb.VectorStoreManager
	llm       *llmservice.LLMClient

	mu       sync.Mutex
	pipeline *rag.Pipeline

	status atomic.Pointer[Status]
}

// Status is a snapshot of the session state.
type Status struct {
	Ready    bool   `json:"ready"`
	Document string `json:"document,omitempty"`
}

func New(processor *parser.Processor, stores *chromemdb.VectorStoreManager, llm *llmservice.LLMClient) *Session {
	return &Session{processor: processor, stores: stores, llm: llm}
}

// ProcessDocument loads, chunks and indexes the document at path and binds a
// new pipeline to it. On failure the previous pipeline stays in place.
func (s *Session) ProcessDocument(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.process_document")
	defer span.End()
	span.SetAttributes(attribute.String("document", filepath.Base(path)))

	segments, err := s.processor.LoadDocument(path)
	if err != nil {
		return "", fail(span, err)
	}
	chunks, err := s.processor.ChunkDocuments(segments)
	if err != nil {
		return "", fail(span, models.Wrap(models.ErrIndexFailure, "chunk "+filepath.Base(path), err))
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	idx, err := s.stores.Build(ctx, chunks)
	if err != nil {
		return "", fail(span, err)
	}
	pipeline, err := s.llm.CreateQAChain(ctx, idx)
	if err != nil {
		return "", fail(span, err)
	}

	s.swap(pipeline, filepath.Base(path))
	log.Info().Str("path", path).Int("chunks", len(chunks)).Msg("Document processed")
	return models.StatusProcessed, nil
}

// Ask answers question with the current pipeline. Without one, or without a
// question, it returns guidance instead of calling the model.
func (s *Session) Ask(ctx context.Context, question string) (models.AnswerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pipeline == nil {
		return guidance(models.GuidanceProcessFirst), nil
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return guidance(models.GuidanceEmptyQuestion), nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.ask")
	defer span.End()

	res, err := s.pipeline.Ask(ctx, question)
	if err != nil {
		return models.AnswerResult{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int("sources", len(res.Sources)))
	return res, nil
}

// SaveStore persists the active index under name and returns its directory.
func (s *Session) SaveStore(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stores.SaveStore(name)
}

// LoadStore reads a saved index and binds a new pipeline to it, replacing
// the current one only on success.
func (s *Session) LoadStore(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "session.load_store")
	defer span.End()
	span.SetAttributes(attribute.String("store", name))

	idx, err := s.stores.ReadStore(ctx, name)
	if err != nil {
		return "", fail(span, err)
	}
	pipeline, err := s.llm.CreateQAChain(ctx, idx)
	if err != nil {
		return "", fail(span, err)
	}

	if name == "" {
		name = models.DefaultStoreName
	}
	document := idx.Source()
	if document == "" {
		document = name
	}
	s.swap(pipeline, document)
	return fmt.Sprintf("Store %q loaded (%d chunks)", name, idx.Count()), nil
}

// ListStores returns the names of the saved stores.
func (s *Session) ListStores() ([]string, error) {
	return s.stores.ListStores()
}

func (s *Session) Ready() bool {
	return s.Status().Ready
}

// Document is the base name of the document behind the active pipeline.
func (s *Session) Document() string {
	return s.Status().Document
}

// Status returns the last published snapshot without taking the action lock.
func (s *Session) Status() Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

// swap replaces pipeline and index together and publishes the new status.
// Callers hold s.mu.
func (s *Session) swap(pipeline *rag.Pipeline, document string) {
	s.pipeline = pipeline
	s.stores.Activate(pipeline.Index())
	s.status.Store(&Status{Ready: true, Document: document})
}

func guidance(msg string) models.AnswerResult {
	return models.AnswerResult{Answer: msg, Sources: []models.Citation{}}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, models.ErrorKind(err))
	return err
}
