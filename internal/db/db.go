package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"document-qa/internal/helper"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/schema"
	_ "modernc.org/sqlite"
)

// lookupBatch bounds the number of keys per IN (...) clause.
const lookupBatch = 500

// CacheFile is the SQLite file created inside the cache directory.
const CacheFile = "embeddings.db"

// EmbeddingRecord is one cached vector, keyed by model and content hash.
type EmbeddingRecord struct {
	bun.BaseModel `bun:"table:embedding_cache,alias:ec"`
	Model         string    `bun:"model,pk"`
	Hash          string    `bun:"hash,pk"`
	Dimension     int       `bun:"dimension,notnull"`
	Vector        string    `bun:"vector,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ConnectDB opens the cache database. A postgres:// DSN selects Postgres;
// anything else is a SQLite path, and an empty DSN means a file in cacheDir.
func ConnectDB(dsn, cacheDir string) (*sql.DB, schema.Dialect, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		return sqldb, pgdialect.New(), nil
	}

	path := dsn
	if path == "" {
		if err := helper.CreateFolder(cacheDir); err != nil {
			return nil, nil, err
		}
		path = filepath.Join(cacheDir, CacheFile)
	}
	sqldb, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	sqldb.SetMaxOpenConns(1)
	return sqldb, sqlitedialect.New(), nil
}

func NewDB(sqldb *sql.DB, dialect schema.Dialect, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, dialect)
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func InitDB(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*EmbeddingRecord)(nil)).IfNotExists().Exec(ctx)
	return err
}

// LookupEmbeddings returns the cached vectors for hashes under model, keyed by hash.
// Missing hashes are simply absent from the result.
func LookupEmbeddings(ctx context.Context, db *bun.DB, model string, hashes []string) (map[string][]float32, error) {
	found := make(map[string][]float32, len(hashes))
	for start := 0; start < len(hashes); start += lookupBatch {
		end := min(start+lookupBatch, len(hashes))
		var records []EmbeddingRecord
		err := db.NewSelect().
			Model(&records).
			Column("hash", "dimension", "vector").
			Where("model = ?", model).
			Where("hash IN (?)", bun.In(hashes[start:end])).
			Scan(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			vec, err := decodeVector(rec.Vector)
			if err != nil || len(vec) != rec.Dimension {
				log.Warn().Err(err).Str("hash", rec.Hash).Msg("Skipping corrupt cache entry")
				continue
			}
			found[rec.Hash] = vec
		}
	}
	return found, nil
}

// StoreEmbeddings inserts vectors keyed by hash. Existing rows are kept.
func StoreEmbeddings(ctx context.Context, db *bun.DB, model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	now := time.Now()
	records := make([]EmbeddingRecord, 0, len(vectors))
	for hash, vec := range vectors {
		raw, err := encodeVector(vec)
		if err != nil {
			return err
		}
		records = append(records, EmbeddingRecord{
			Model:     model,
			Hash:      hash,
			Dimension: len(vec),
			Vector:    raw,
			CreatedAt: now,
		})
	}
	_, err := db.NewInsert().Model(&records).On("CONFLICT (model, hash) DO NOTHING").Exec(ctx)
	return err
}

// CountEmbeddings reports how many vectors are cached for model, or for every
// model when model is empty.
func CountEmbeddings(ctx context.Context, db *bun.DB, model string) (int, error) {
	q := db.NewSelect().Model((*EmbeddingRecord)(nil))
	if model != "" {
		q = q.Where("model = ?", model)
	}
	return q.Count(ctx)
}

// drop the cache table

func DropEmbeddings(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*EmbeddingRecord)(nil)).IfExists().Exec(ctx)
	return err
}

// ClearEmbeddings empties the cache and recreates its table, returning the
// number of vectors removed.
func ClearEmbeddings(ctx context.Context, db *bun.DB) (int, error) {
	n, err := CountEmbeddings(ctx, db, "")
	if err != nil {
		return 0, err
	}
	if err := DropEmbeddings(ctx, db); err != nil {
		return 0, err
	}
	if err := InitDB(ctx, db); err != nil {
		return 0, err
	}
	log.Info().Int("removed", n).Msg("Cleared embedding cache")
	return n, nil
}

func encodeVector(vec []float32) (string, error) {
	out, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func decodeVector(raw string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}
