// Package sqlite is a durable single-file vector store on the pure-Go
// modernc.org/sqlite driver. Vectors are kept as float32 BLOBs and scored by
// brute force.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
    name TEXT PRIMARY KEY,
    dimension INTEGER NOT NULL,
    distance TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS points (
    collection TEXT NOT NULL,
    id INTEGER NOT NULL,
    text TEXT NOT NULL,
    embedding BLOB NOT NULL,
    PRIMARY KEY (collection, id)
);
`

type Config struct {
	// Path is a database file or ":memory:".
	Path string
}

// Storage implements domain.VectorIndex on a SQLite database.
type Storage struct {
	db *sql.DB
}

var _ domain.VectorIndex = (*Storage)(nil)

// Open opens (or creates) the database at cfg.Path and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: sqlite path is empty", domain.ErrConfiguration)
	}
	dsn := cfg.Path
	if cfg.Path != ":memory:" && !strings.Contains(dsn, "?") {
		// wait for a competing writer instead of failing with SQLITE_BUSY
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %v", domain.ErrIndex, cfg.Path, err)
	}
	if cfg.Path == ":memory:" {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", domain.ErrIndex, err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := s.collection(ctx, s.db, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrCollectionNotFound):
		return false, nil
	default:
		return false, err
	}
}

// CreateCollection inserts c in one statement, so of several processes
// racing on the same file exactly one succeeds and the rest see ErrAlreadyExists.
func (s *Storage) CreateCollection(ctx context.Context, c domain.Collection) error {
	if err := vectorstore.ValidateCollection(c); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections(name, dimension, distance) VALUES(?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		c.Name, c.Dimension, string(c.Distance))
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", domain.ErrIndex, c.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", domain.ErrIndex, c.Name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, c.Name)
	}
	return nil
}

func (s *Storage) RecreateCollection(ctx context.Context, c domain.Collection) error {
	if err := vectorstore.ValidateCollection(c); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := deleteCollection(ctx, tx, c.Name); err != nil {
			return err
		}
		return insertCollection(ctx, tx, c)
	})
}

func (s *Storage) DeleteCollection(ctx context.Context, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deleteCollection(ctx, tx, name)
	})
}

func (s *Storage) Upsert(ctx context.Context, name string, points []domain.IndexedPoint) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		c, err := s.collection(ctx, tx, name)
		if err != nil {
			return err
		}
		if err := vectorstore.ValidatePoints(c.Dimension, points); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO points(collection, id, text, embedding) VALUES(?, ?, ?, ?)
ON CONFLICT(collection, id) DO UPDATE SET text = excluded.text, embedding = excluded.embedding`)
		if err != nil {
			return fmt.Errorf("%w: prepare upsert: %v", domain.ErrIndex, err)
		}
		defer stmt.Close()
		for _, p := range points {
			if _, err := stmt.ExecContext(ctx, name, int64(p.ID), p.Payload.Text, vectorstore.EncodeVector(p.Vector)); err != nil {
				return fmt.Errorf("%w: upsert point %d: %v", domain.ErrIndex, p.ID, err)
			}
		}
		return nil
	})
}

func (s *Storage) Search(ctx context.Context, name string, vector []float32, topK int) ([]domain.SearchResult, error) {
	c, err := s.collection(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if err := vectorstore.ValidateQuery(c.Dimension, vector, topK); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, text, embedding FROM points WHERE collection = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", domain.ErrIndex, name, err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			id   int64
			text string
			blob []byte
		)
		if err := rows.Scan(&id, &text, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan point: %v", domain.ErrIndex, err)
		}
		vec, err := vectorstore.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: point %d: %v", domain.ErrIndex, id, err)
		}
		results = append(results, domain.SearchResult{
			ID:    uint64(id),
			Text:  text,
			Score: vectorstore.Score(c.Distance, vector, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", domain.ErrIndex, name, err)
	}
	return vectorstore.Rank(results, topK), nil
}

func (s *Storage) Count(ctx context.Context, name string) (int, error) {
	if _, err := s.collection(ctx, s.db, name); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE collection = ?`, name).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count %s: %v", domain.ErrIndex, name, err)
	}
	return n, nil
}

func (s *Storage) Close() error { return s.db.Close() }

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Storage) collection(ctx context.Context, q querier, name string) (domain.Collection, error) {
	c := domain.Collection{Name: name}
	var distance string
	err := q.QueryRowContext(ctx, `SELECT dimension, distance FROM collections WHERE name = ?`, name).Scan(&c.Dimension, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err != nil {
		return c, fmt.Errorf("%w: load collection %s: %v", domain.ErrIndex, name, err)
	}
	c.Distance = domain.Distance(distance)
	return c, nil
}

func (s *Storage) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrIndex, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrIndex, err)
	}
	return nil
}

func insertCollection(ctx context.Context, tx *sql.Tx, c domain.Collection) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO collections(name, dimension, distance) VALUES(?, ?, ?)`, c.Name, c.Dimension, string(c.Distance)); err != nil {
		return fmt.Errorf("%w: create collection %s: %v", domain.ErrIndex, c.Name, err)
	}
	return nil
}

func deleteCollection(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM points WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("%w: delete points of %s: %v", domain.ErrIndex, name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("%w: delete collection %s: %v", domain.ErrIndex, name, err)
	}
	return nil
}
