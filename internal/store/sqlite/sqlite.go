// Package sqlite is the durable chunk store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"coursebot/internal/domain"
	"coursebot/internal/store"
)

// Store is a ChunkStore over a single sqlite database file.
type Store struct {
	conn *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	// one writer at a time; also keeps ":memory:" on a single connection
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping chunk store: %w", err)
	}
	if _, err := conn.Exec(Schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("init chunk store schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

func (s *Store) Replace(ctx context.Context, docPath string, chunks []domain.Chunk) (err error) {
	if err := store.CheckDocument(docPath, chunks); err != nil {
		return err
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace %s: %w", docPath, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_path = ?`, docPath); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", docPath, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, doc_path, title, module, chapter, position, text) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, c := range chunks {
		if _, err = stmt.ExecContext(ctx, c.ID, c.DocPath, c.Title, c.Module, c.Chapter, c.Position, c.Text); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace %s: %w", docPath, err)
	}
	return nil
}

func (s *Store) Prune(ctx context.Context, keep []string) (int, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT DISTINCT doc_path FROM chunks`)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, p := range keep {
		keepSet[p] = struct{}{}
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := keepSet[p]; !ok {
			stale = append(stale, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, p := range stale {
		if err := s.Replace(ctx, p, nil); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func (s *Store) All(ctx context.Context) ([]domain.Chunk, error) {
	return s.query(ctx, `SELECT id, doc_path, title, module, chapter, position, text FROM chunks ORDER BY doc_path, position`)
}

func (s *Store) Get(ctx context.Context, ids []string) ([]domain.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	found, err := s.query(ctx,
		`SELECT id, doc_path, title, module, chapter, position, text FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Chunk, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]domain.Chunk, error) {
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	var out []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.DocPath, &c.Title, &c.Module, &c.Chapter, &c.Position, &c.Text); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
