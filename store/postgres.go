package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store on a single documents table, one row per
// path with the document as jsonb.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the connection and ensures the documents table exists.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS documents (path TEXT PRIMARY KEY, doc JSONB NOT NULL)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE path=$1`, path).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return json.RawMessage(doc), nil
}

func (s *PostgresStore) Write(ctx context.Context, path string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (path, doc) VALUES ($1, $2)
		 ON CONFLICT (path) DO UPDATE SET doc=EXCLUDED.doc`, path, data)
	return err
}

// Update relies on the jsonb concatenation operator, which merges the named
// fields server-side in one atomic statement.
func (s *PostgresStore) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET doc = doc || $2::jsonb WHERE path=$1`, path, data)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GenerateKey(ctx context.Context, parent string) (string, error) {
	return uuid.New().String(), nil
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path=$1`, path)
	return err
}

func (s *PostgresStore) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, doc FROM documents WHERE path LIKE $1`, prefix+"/%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var path string
		var doc []byte
		if err := rows.Scan(&path, &doc); err != nil {
			return nil, err
		}
		child := strings.TrimPrefix(path, prefix+"/")
		out[child] = json.RawMessage(doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
