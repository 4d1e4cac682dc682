package corpus

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/docsearch/internal/store"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fragments (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	filename    TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL DEFAULT '',
	file_type   TEXT NOT NULL DEFAULT '',
	text        TEXT NOT NULL,
	chunk_index INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT,
	embedding   BLOB
);
CREATE INDEX IF NOT EXISTS idx_fragments_document ON fragments(document_id);
`

// SQLiteSource reads fragments from a SQLite database written by the
// ingestion pipeline.
type SQLiteSource struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (and if needed creates) the fragments table at path.
// ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLiteSource, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteSource{db: db, path: path}, nil
}

// Fragments reads all fragments in rowid order.
func (s *SQLiteSource) Fragments(ctx context.Context) ([]store.Fragment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, filename, path, file_type, text, chunk_index, created_at, embedding
		FROM fragments ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Fragment
	for rows.Next() {
		var (
			f         store.Fragment
			createdAt sql.NullString
			embedding []byte
		)
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.Filename, &f.Path, &f.FileType,
			&f.Text, &f.ChunkIndex, &createdAt, &embedding); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		if createdAt.Valid && createdAt.String != "" {
			if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
				f.CreatedAt = t
			}
		}
		if len(embedding) > 0 {
			f.Embedding = decodeVector(embedding)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragments: %w", err)
	}
	return out, nil
}

// Upsert writes fragments in one transaction.
func (s *SQLiteSource) Upsert(ctx context.Context, fragments []store.Fragment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fragments (id, document_id, filename, path, file_type, text, chunk_index, created_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			filename    = excluded.filename,
			path        = excluded.path,
			file_type   = excluded.file_type,
			text        = excluded.text,
			chunk_index = excluded.chunk_index,
			created_at  = excluded.created_at,
			embedding   = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range fragments {
		var createdAt any
		if !f.CreatedAt.IsZero() {
			createdAt = f.CreatedAt.UTC().Format(time.RFC3339)
		}
		var embedding any
		if len(f.Embedding) > 0 {
			embedding = encodeVector(f.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, f.ID, f.DocumentID, f.Filename, f.Path, f.FileType,
			f.Text, f.ChunkIndex, createdAt, embedding); err != nil {
			return fmt.Errorf("upsert %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

// Delete removes fragments by ID.
func (s *SQLiteSource) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM fragments WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

var _ Source = (*SQLiteSource)(nil)

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
