package chromemdb

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"

	"document-qa/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
)

// Index is a built vector index: one in-memory chromem collection plus the
// embedder that produced its vectors. It is read-only once built.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embeddings.Embedder
	model      string
	dimension  int
	source     string
}

// Count is the number of chunks in the index.
func (idx *Index) Count() int {
	return idx.collection.Count()
}

// Source is the base name of the document the index was built from.
func (idx *Index) Source() string {
	return idx.source
}

func (idx *Index) Dimension() int {
	return idx.dimension
}

// SimilaritySearch returns the k chunks closest to query, best first.
func (idx *Index) SimilaritySearch(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	qv, err := idx.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := idx.nearest(ctx, qv, k)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScoredChunk, len(results))
	for i, r := range results {
		out[i] = models.ScoredChunk{Chunk: resultChunk(r), Score: r.Similarity}
	}
	return out, nil
}

// MaxMarginalRelevanceSearch fetches the fetchK nearest chunks and picks k of
// them, trading similarity to the query against similarity to the chunks
// already picked. lambda 1 is plain similarity search, 0 is maximum diversity.
func (idx *Index) MaxMarginalRelevanceSearch(ctx context.Context, query string, k, fetchK int, lambda float32) ([]models.ScoredChunk, error) {
	qv, err := idx.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if fetchK < k {
		fetchK = k
	}
	candidates, err := idx.nearest(ctx, qv, fetchK)
	if err != nil {
		return nil, err
	}

	picked := mmr(normalize(qv), candidates, k, lambda)
	out := make([]models.ScoredChunk, len(picked))
	for i, c := range picked {
		out[i] = models.ScoredChunk{Chunk: resultChunk(candidates[c]), Score: candidates[c].Similarity}
	}
	return out, nil
}

// AsRetriever exposes MMR search as a langchaingo retriever returning k
// documents per query.
func (idx *Index) AsRetriever(k, fetchK int, lambda float32) *Retriever {
	return &Retriever{index: idx, k: k, fetchK: fetchK, lambda: lambda}
}

func (idx *Index) embedQuery(ctx context.Context, query string) ([]float32, error) {
	qv, err := idx.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, models.Wrap(models.ErrEmbeddingFailure, "embed query", err)
	}
	if len(qv) != idx.dimension {
		return nil, models.Wrap(models.ErrEmbeddingFailure, "embed query",
			fmt.Errorf("query has dimension %d, index has %d", len(qv), idx.dimension))
	}
	return qv, nil
}

// nearest caps n at the collection size, which chromem requires.
func (idx *Index) nearest(ctx context.Context, qv []float32, n int) ([]chromem.Result, error) {
	n = min(n, idx.collection.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := idx.collection.QueryEmbedding(ctx, qv, n, nil, nil)
	if err != nil {
		return nil, models.Wrap(models.ErrIndexFailure, "query index", err)
	}
	return results, nil
}

// Retriever adapts an Index to schema.Retriever.
type Retriever struct {
	index  *Index
	k      int
	fetchK int
	lambda float32
}

var _ schema.Retriever = (*Retriever)(nil)

func (r *Retriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	hits, err := r.index.MaxMarginalRelevanceSearch(ctx, query, r.k, r.fetchK, r.lambda)
	if err != nil {
		return nil, err
	}
	docs := make([]schema.Document, len(hits))
	for i, h := range hits {
		docs[i] = schema.Document{
			PageContent: h.Content,
			Metadata: map[string]any{
				models.MetaSource:     h.Source,
				models.MetaPage:       h.Page,
				models.MetaStartIndex: h.StartIndex,
				models.MetaChunkID:    h.ID,
			},
			Score: h.Score,
		}
	}
	return docs, nil
}

// mmr returns the indexes of up to k candidates in pick order. Candidate
// embeddings are stored normalized, so dot products are cosine similarities.
func mmr(query []float32, candidates []chromem.Result, k int, lambda float32) []int {
	k = min(k, len(candidates))
	if k <= 0 {
		return nil
	}

	simQuery := make([]float32, len(candidates))
	for i, c := range candidates {
		simQuery[i] = dot(query, c.Embedding)
	}

	// chromem returns candidates sorted by similarity, so the first pick is 0
	picked := []int{0}
	used := make([]bool, len(candidates))
	used[0] = true
	// maxSim[i] is the highest similarity of candidate i to any picked candidate
	maxSim := make([]float32, len(candidates))
	for i := range candidates {
		maxSim[i] = dot(candidates[i].Embedding, candidates[0].Embedding)
	}

	for len(picked) < k {
		best, bestScore := -1, float32(math.Inf(-1))
		for i := range candidates {
			if used[i] {
				continue
			}
			score := lambda*simQuery[i] - (1-lambda)*maxSim[i]
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		picked = append(picked, best)
		used[best] = true
		for i := range candidates {
			if s := dot(candidates[i].Embedding, candidates[best].Embedding); s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}
	return picked
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range min(len(a), len(b)) {
		s += a[i] * b[i]
	}
	return s
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func chunkMetadata(c models.Chunk) map[string]string {
	return map[string]string{
		models.MetaSource:     c.Source,
		models.MetaPage:       strconv.Itoa(c.Page),
		models.MetaStartIndex: strconv.Itoa(c.StartIndex),
		models.MetaChunkID:    c.ID,
	}
}

func resultChunk(r chromem.Result) models.Chunk {
	page, _ := strconv.Atoi(r.Metadata[models.MetaPage])
	start, err := strconv.Atoi(r.Metadata[models.MetaStartIndex])
	if err != nil {
		start = -1
	}
	return models.Chunk{
		ID:         r.ID,
		Content:    r.Content,
		Source:     r.Metadata[models.MetaSource],
		Page:       page,
		StartIndex: start,
	}
}

func sourceName(chunks []models.Chunk) string {
	if len(chunks) == 0 || chunks[0].Source == "" {
		return ""
	}
	return filepath.Base(chunks[0].Source)
}
