package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"document-qa/internal/config"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/models"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"gopkg.in/yaml.v3"
)

const (
	collectionName = "documents"
	indexFile      = "index.gob"
	manifestFile   = "manifest.yaml"
)

// manifest describes a saved index next to the exported chromem file.
type manifest struct {
	EmbeddingModel string    `yaml:"embedding_model"`
	Dimension      int       `yaml:"dimension"`
	Chunks         int       `yaml:"chunks"`
	Source         string    `yaml:"source"`
	File           string    `yaml:"file"`
	Encrypted      bool      `yaml:"encrypted"`
	SavedAt        time.Time `yaml:"saved_at"`
}

// VectorStoreManager builds, saves and loads indexes and tracks the current one.
type VectorStoreManager struct {
	embedder      embeddings.Embedder
	model         string
	dir           string
	compress      bool
	encryptionKey string

	mu      sync.RWMutex
	current *Index
}

// NewVectorStoreManager creates a manager embedding with embedder. model names
// the embedding model and is recorded in saved stores.
func NewVectorStoreManager(cfg *config.RAGConfig, embedder embeddings.Embedder, model string) *VectorStoreManager {
	return &VectorStoreManager{
		embedder:      embedder,
		model:         model,
		dir:           cfg.VectorStoreDir,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
	}
}

// CreateStore builds an index from chunks and makes it current.
func (m *VectorStoreManager) CreateStore(ctx context.Context, chunks []models.Chunk) (*Index, error) {
	idx, err := m.Build(ctx, chunks)
	if err != nil {
		return nil, err
	}
	m.Activate(idx)
	return idx, nil
}

// Build embeds chunks in a single batch and indexes them. The current index
// is left untouched.
func (m *VectorStoreManager) Build(ctx context.Context, chunks []models.Chunk) (*Index, error) {
	if len(chunks) == 0 {
		return nil, models.Wrap(models.ErrEmptyIndex, "create store", nil)
	}

	start := time.Now()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := m.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		log.Error().Err(err).Int("chunks", len(chunks)).Msg("Error computing embeddings")
		return nil, models.Wrap(models.ErrEmbeddingFailure, "create store", err)
	}
	if len(vectors) != len(chunks) {
		return nil, models.Wrap(models.ErrEmbeddingFailure, "create store",
			fmt.Errorf("got %d embeddings for %d chunks", len(vectors), len(chunks)))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, models.Wrap(models.ErrEmbeddingFailure, "create store",
				fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), dim))
		}
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection(collectionName, map[string]string{
		"embedding_model": m.model,
		"dimension":       strconv.Itoa(dim),
	}, embedding.ChromemFunc(m.embedder))
	if err != nil {
		return nil, models.Wrap(models.ErrIndexFailure, "create store", err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  chunkMetadata(c),
			Embedding: vectors[i],
		}
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, models.Wrap(models.ErrIndexFailure, "create store", err)
	}

	log.Info().Int("chunks", len(chunks)).Int("dimension", dim).Dur("duration", time.Since(start)).Msg("Built vector index")
	return &Index{
		db:         db,
		collection: collection,
		embedder:   m.embedder,
		model:      m.model,
		dimension:  dim,
		source:     sourceName(chunks),
	}, nil
}

// Activate makes idx the current index.
func (m *VectorStoreManager) Activate(idx *Index) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = idx
}

// Current returns the current index, or nil.
func (m *VectorStoreManager) Current() *Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SaveStore exports the current index under name and returns its directory.
func (m *VectorStoreManager) SaveStore(name string) (string, error) {
	name, err := storeName(name)
	if err != nil {
		return "", models.Wrap(models.ErrPersistenceFailure, "save store", err)
	}
	idx := m.Current()
	if idx == nil {
		return "", models.Wrap(models.ErrNoIndex, "save store "+name, nil)
	}

	dir := m.StorePath(name)
	if err := helper.CreateFolder(dir); err != nil {
		return "", models.Wrap(models.ErrPersistenceFailure, "save store "+name, err)
	}

	file := indexFile
	if m.compress {
		file += ".gz"
	}
	if err := idx.db.ExportToFile(filepath.Join(dir, file), m.compress, m.encryptionKey, collectionName); err != nil {
		log.Error().Err(err).Str("store", name).Msg("Error exporting vector index")
		return "", models.Wrap(models.ErrPersistenceFailure, "save store "+name, err)
	}

	data, err := yaml.Marshal(manifest{
		EmbeddingModel: idx.model,
		Dimension:      idx.dimension,
		Chunks:         idx.Count(),
		Source:         idx.source,
		File:           file,
		Encrypted:      m.encryptionKey != "",
		SavedAt:        time.Now().UTC(),
	})
	if err != nil {
		return "", models.Wrap(models.ErrPersistenceFailure, "save store "+name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644); err != nil {
		return "", models.Wrap(models.ErrPersistenceFailure, "save store "+name, err)
	}

	log.Info().Str("store", name).Str("path", dir).Int("chunks", idx.Count()).Msg("Saved vector store")
	return dir, nil
}

// LoadStore reads the store saved under name and makes it current.
func (m *VectorStoreManager) LoadStore(ctx context.Context, name string) (*Index, error) {
	idx, err := m.ReadStore(ctx, name)
	if err != nil {
		return nil, err
	}
	m.Activate(idx)
	return idx, nil
}

// ReadStore reads the store saved under name without making it current. The
// stored embedding dimension must match the configured embedder.
func (m *VectorStoreManager) ReadStore(ctx context.Context, name string) (*Index, error) {
	name, err := storeName(name)
	if err != nil {
		return nil, models.Wrap(models.ErrPersistenceFailure, "load store", err)
	}
	op := "load store " + name
	dir := m.StorePath(name)

	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, models.Wrap(models.ErrPersistenceFailure, op, fmt.Errorf("no saved store at %s", dir))
	}
	if err != nil {
		return nil, models.Wrap(models.ErrPersistenceFailure, op, err)
	}
	var man manifest
	if err := yaml.Unmarshal(data, &man); err != nil {
		return nil, models.Wrap(models.ErrPersistenceFailure, op, fmt.Errorf("corrupt manifest: %w", err))
	}
	if man.Encrypted && m.encryptionKey == "" {
		return nil, models.Wrap(models.ErrPersistenceFailure, op, errors.New("store is encrypted and no key is configured"))
	}
	if man.File == "" || filepath.Base(man.File) != man.File {
		return nil, models.Wrap(models.ErrPersistenceFailure, op, fmt.Errorf("invalid index file %q", man.File))
	}

	key := ""
	if man.Encrypted {
		key = m.encryptionKey
	}
	db := chromem.NewDB()
	if err := db.ImportFromFile(filepath.Join(dir, man.File), key, collectionName); err != nil {
		log.Error().Err(err).Str("store", name).Msg("Error importing vector index")
		return nil, models.Wrap(models.ErrPersistenceFailure, op, err)
	}
	collection := db.GetCollection(collectionName, embedding.ChromemFunc(m.embedder))
	if collection == nil {
		return nil, models.Wrap(models.ErrPersistenceFailure, op, errors.New("index file holds no document collection"))
	}

	dim, err := embedding.Dimension(ctx, m.embedder)
	if err != nil {
		return nil, models.Wrap(models.ErrEmbeddingFailure, op, err)
	}
	if dim != man.Dimension {
		return nil, models.Wrap(models.ErrPersistenceFailure, op,
			fmt.Errorf("store has embedding dimension %d, embedder produces %d", man.Dimension, dim))
	}
	if man.EmbeddingModel != m.model {
		log.Warn().Str("store", name).Str("stored_model", man.EmbeddingModel).Str("model", m.model).Msg("Store was built with a different embedding model")
	}

	log.Info().Str("store", name).Int("chunks", collection.Count()).Msg("Loaded vector store")
	return &Index{
		db:         db,
		collection: collection,
		embedder:   m.embedder,
		model:      man.EmbeddingModel,
		dimension:  man.Dimension,
		source:     man.Source,
	}, nil
}

// StorePath is the directory a store named name is saved in.
func (m *VectorStoreManager) StorePath(name string) string {
	return filepath.Join(m.dir, name)
}

// ListStores returns the names of saved stores, sorted.
func (m *VectorStoreManager) ListStores() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Wrap(models.ErrPersistenceFailure, "list stores", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.dir, e.Name(), manifestFile)); err == nil {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// storeName defaults an empty name and rejects names that are not a single
// path element.
func storeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.DefaultStoreName, nil
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid store name %q", name)
	}
	return name, nil
}
