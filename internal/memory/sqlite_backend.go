package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"autotool/internal/apperr"
	"autotool/internal/llm"
	"autotool/internal/logging"
	"autotool/internal/store"
)

// SQLiteBackend keeps records and their vectors in a SQLite table. Similarity
// is computed by a SQL distance function when the driver provides one
// (sqlite-vec or the registered pure-Go function) and in process otherwise.
type SQLiteBackend struct {
	db       *sql.DB
	embedder llm.Embedder
	distance string
	ownsDB   bool
}

// NewSQLiteBackend creates the memories table on db. A nil embedder uses
// lexical vectors.
func NewSQLiteBackend(db *sql.DB, embedder llm.Embedder) (*SQLiteBackend, error) {
	if embedder == nil {
		embedder = NewLexicalEmbedder(0)
	}
	b := &SQLiteBackend{db: db, embedder: embedder}
	if err := b.initialize(); err != nil {
		return nil, err
	}
	b.distance = store.DistanceFunction(db)
	logging.Memory("SQLite memory backend ready (vectors=%s, distance=%q)", embedder.Name(), b.distance)
	return b, nil
}

// OpenSQLiteBackend opens path with driver and wraps it. Close closes the
// database.
func OpenSQLiteBackend(path, driver string, embedder llm.Embedder) (*SQLiteBackend, error) {
	db, err := store.Open(path, driver)
	if err != nil {
		return nil, err
	}
	b, err := NewSQLiteBackend(db, embedder)
	if err != nil {
		db.Close()
		return nil, err
	}
	b.ownsDB = true
	return b, nil
}

func (b *SQLiteBackend) initialize() error {
	_, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		input TEXT NOT NULL,
		response TEXT NOT NULL,
		confidence REAL NOT NULL,
		used_capabilities TEXT DEFAULT '[]',
		embedding BLOB,
		vectorizer TEXT DEFAULT '',
		hits INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create memories table: %w", err)
	}
	return store.RunMigrations(b.db)
}

// Put inserts or replaces rec.
func (b *SQLiteBackend) Put(ctx context.Context, rec *Record) error {
	vec, err := b.embedder.Embed(ctx, rec.Input)
	if err != nil {
		return fmt.Errorf("failed to embed memory input: %w", err)
	}
	used, err := json.Marshal(rec.UsedCapabilities)
	if err != nil {
		return fmt.Errorf("failed to encode used capabilities: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories
			(id, input, response, confidence, used_capabilities, embedding, vectorizer, hits, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Input, rec.Response, rec.Confidence, string(used),
		store.EncodeVector(vec), b.embedder.Name(), rec.Hits, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	logging.MemoryDebug("stored memory %s (confidence=%.2f)", rec.ID, rec.Confidence)
	return nil
}

// UpdateConfidence sets a record's confidence and counts the hit.
func (b *SQLiteBackend) UpdateConfidence(ctx context.Context, id string, confidence float64) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE memories SET confidence = ?, hits = hits + 1, updated_at = ? WHERE id = ?`,
		clamp01(confidence), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update confidence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Errorf(apperr.KindNotFound, "memory.update_confidence", "memory %s not found", id)
	}
	return nil
}

// FindSimilar returns records at or above threshold, most similar first.
func (b *SQLiteBackend) FindSimilar(ctx context.Context, text string, threshold float64) ([]Match, error) {
	vec, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var matches []Match
	if b.distance != "" {
		matches, err = b.findSQL(ctx, vec, threshold)
	} else {
		matches, err = b.findScan(ctx, vec, threshold)
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches, nil
}

const memoryColumns = `id, input, response, confidence, used_capabilities, hits, created_at, updated_at`

func (b *SQLiteBackend) findSQL(ctx context.Context, vec []float32, threshold float64) ([]Match, error) {
	query := fmt.Sprintf(`
		SELECT %s, 1 - %s(embedding, ?) AS similarity
		FROM memories
		WHERE vectorizer = ? AND embedding IS NOT NULL AND length(embedding) = ?`,
		memoryColumns, b.distance)
	rows, err := b.db.QueryContext(ctx, query, store.EncodeVector(vec), b.embedder.Name(), 4*len(vec))
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var sim float64
		rec, err := scanRecord(rows, &sim)
		if err != nil {
			return nil, err
		}
		if sim >= threshold {
			out = append(out, Match{Record: rec, Similarity: sim})
		}
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) findScan(ctx context.Context, vec []float32, threshold float64) ([]Match, error) {
	rows, err := b.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s, embedding FROM memories WHERE vectorizer = ?`, memoryColumns),
		b.embedder.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var blob []byte
		rec, err := scanRecord(rows, &blob)
		if err != nil {
			return nil, err
		}
		stored, err := store.DecodeVector(blob)
		if err != nil {
			logging.MemoryWarn("skipping memory %s with corrupt vector: %v", rec.ID, err)
			continue
		}
		if sim := store.CosineSimilarity(vec, stored); sim >= threshold {
			out = append(out, Match{Record: rec, Similarity: sim})
		}
	}
	return out, rows.Err()
}

func scanRecord(rows *sql.Rows, extra any) (*Record, error) {
	var (
		rec  Record
		used string
	)
	if err := rows.Scan(&rec.ID, &rec.Input, &rec.Response, &rec.Confidence, &used,
		&rec.Hits, &rec.CreatedAt, &rec.UpdatedAt, extra); err != nil {
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}
	if used != "" {
		_ = json.Unmarshal([]byte(used), &rec.UsedCapabilities)
	}
	return &rec, nil
}

// Close closes the database if the backend opened it.
func (b *SQLiteBackend) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}
