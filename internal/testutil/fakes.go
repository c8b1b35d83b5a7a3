// Package testutil holds in-process stand-ins for the model servers, used by
// package tests across the module.
package testutil

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// HashEmbedder maps a text to a bag-of-words vector: every word of four or
// more letters adds one to a hashed bucket. Texts sharing words are close.
type HashEmbedder struct {
	Dim int
	Err error

	mu       sync.Mutex
	batches  int
	embedded int
	queries  int
}

var _ embeddings.Embedder = (*HashEmbedder)(nil)

func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

func (e *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	e.batches++
	e.embedded += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	e.queries++
	return e.vector(text), nil
}

// Batches is the number of EmbedDocuments calls served.
func (e *HashEmbedder) Batches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batches
}

// Embedded is the number of texts embedded through EmbedDocuments.
func (e *HashEmbedder) Embedded() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.embedded
}

func (e *HashEmbedder) SetErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = err
}

func (e *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.Dim)
	// keeps the vector non-zero for texts without long words
	vec[0] = 0.01
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if len([]rune(w)) < 4 {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[1+int(h.Sum32()%uint32(e.Dim-1))]++
	}
	return vec
}

// FakeLLM answers every prompt with Response and records what it was sent.
type FakeLLM struct {
	Response string
	Err      error

	mu      sync.Mutex
	prompts []string
	options []llms.CallOptions
}

var _ llms.Model = (*FakeLLM)(nil)

func (m *FakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	var prompt strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				prompt.WriteString(tc.Text)
			}
		}
	}

	m.mu.Lock()
	m.prompts = append(m.prompts, prompt.String())
	m.options = append(m.options, opts)
	resp, err := m.Response, m.Err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: resp}}}, nil
}

func (m *FakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Prompts returns every prompt received so far.
func (m *FakeLLM) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// LastOptions returns the call options of the most recent request.
func (m *FakeLLM) LastOptions() llms.CallOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.options) == 0 {
		return llms.CallOptions{}
	}
	return m.options[len(m.options)-1]
}
