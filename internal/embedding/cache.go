package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"document-qa/internal/db"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/uptrace/bun"
)

// CachedEmbedder serves repeated texts from the embedding cache and only
// sends the misses to the wrapped embedder. Cache errors are logged and never
// fail an embedding request.
type CachedEmbedder struct {
	next  embeddings.Embedder
	db    *bun.DB
	model string
}

var _ embeddings.Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(next embeddings.Embedder, bunDB *bun.DB, model string) *CachedEmbedder {
	return &CachedEmbedder{next: next, db: bunDB, model: model}
}

func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = hashText(t)
	}

	cached, err := db.LookupEmbeddings(ctx, c.db, c.model, hashes)
	if err != nil {
		log.Warn().Err(err).Msg("Embedding cache lookup failed")
		cached = nil
	}

	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, h := range hashes {
		if vec, ok := cached[h]; ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, texts[i])
		missIdx = append(missIdx, i)
	}

	log.Debug().Int("texts", len(texts)).Int("cached", len(texts)-len(missTexts)).Msg("Embedding documents")
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.next.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fresh), len(missTexts))
	}

	store := make(map[string][]float32, len(fresh))
	for j, vec := range fresh {
		i := missIdx[j]
		out[i] = vec
		store[hashes[i]] = vec
	}
	if err := db.StoreEmbeddings(ctx, c.db, c.model, store); err != nil {
		log.Warn().Err(err).Msg("Embedding cache store failed")
	}
	return out, nil
}

// EmbedQuery is not cached: questions rarely repeat.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.next.EmbedQuery(ctx, text)
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
