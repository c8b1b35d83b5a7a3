package rag

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"document-qa/internal/chromemdb"
	"document-qa/internal/helper"
	"document-qa/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/schema"
)

const (
	inputKey   = "query"
	answerKey  = "text"
	sourcesKey = "source_documents"
)

// Pipeline answers questions against one index. It must not outlive the
// index it was built from.
type Pipeline struct {
	index *chromemdb.Index
	chain chains.Chain
	topK  int
	opts  []chains.ChainCallOption
}

func NewPipeline(index *chromemdb.Index, chain chains.Chain, topK int, opts ...chains.ChainCallOption) *Pipeline {
	return &Pipeline{index: index, chain: chain, topK: topK, opts: opts}
}

// Index is the index the pipeline retrieves from.
func (p *Pipeline) Index() *chromemdb.Index {
	return p.index
}

// Ask runs retrieval and generation for question.
func (p *Pipeline) Ask(ctx context.Context, question string) (models.AnswerResult, error) {
	out, err := chains.Call(ctx, p.chain, map[string]any{inputKey: question}, p.opts...)
	if err != nil {
		log.Error().Err(err).Msg("Error answering question")
		// retrieval errors already carry their kind
		if models.ErrorKind(err) != "internal" {
			return models.AnswerResult{}, err
		}
		return models.AnswerResult{}, models.Wrap(models.ErrGenerationFailure, "ask", err)
	}

	answer, ok := out[answerKey].(string)
	if !ok {
		return models.AnswerResult{}, models.Wrap(models.ErrGenerationFailure, "ask",
			fmt.Errorf("chain returned %T for %q", out[answerKey], answerKey))
	}
	docs, _ := out[sourcesKey].([]schema.Document)

	return models.AnswerResult{
		Answer:  strings.TrimSpace(answer),
		Sources: FormatCitations(docs, p.topK),
	}, nil
}

// FormatCitations turns up to k retrieved documents into citations. The
// result is never nil.
func FormatCitations(docs []schema.Document, k int) []models.Citation {
	if k >= 0 && len(docs) > k {
		docs = docs[:k]
	}
	citations := make([]models.Citation, 0, len(docs))
	for _, d := range docs {
		citations = append(citations, models.Citation{
			Content: helper.Excerpt(d.PageContent, models.ExcerptLength),
			Page:    pageOf(d.Metadata),
			Source:  sourceOf(d.Metadata),
		})
	}
	return citations
}

// pageOf returns the page number, or "N/A" when the chunk has none.
func pageOf(meta map[string]any) any {
	switch p := meta[models.MetaPage].(type) {
	case int:
		if p > 0 {
			return p
		}
	case float64:
		if p > 0 {
			return int(p)
		}
	}
	return models.NoPage
}

func sourceOf(meta map[string]any) string {
	src, _ := meta[models.MetaSource].(string)
	if src == "" {
		return ""
	}
	return filepath.Base(src)
}
