package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/obscura/internal/identity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDim is the width of the stored face descriptors.
const EmbeddingDim = 128

// ErrNotFound is returned when a named identity does not exist.
var ErrNotFound = errors.New("identity not found")

// Store manages the PostgreSQL pool and pgvector operations.
type Store struct {
	pool *pgxpool.Pool
}

// Identity is one enrolled person.
type Identity struct {
	ID        int
	Name      string
	Count     int
	CreatedAt time.Time
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS identities (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS identity_embeddings (
			id BIGSERIAL PRIMARY KEY,
			identity_id INT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS identity_embeddings_identity_id_idx ON identity_embeddings (identity_id);
	`, EmbeddingDim)
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates the database pool.
func (s *Store) Close() {
	s.pool.Close()
}

func toVector(e identity.Embedding) pgvector.Vector {
	f := make([]float32, len(e))
	for i, v := range e {
		f[i] = float32(v)
	}
	return pgvector.NewVector(f)
}

func fromVector(v pgvector.Vector) identity.Embedding {
	s := v.Slice()
	e := make(identity.Embedding, len(s))
	for i, f := range s {
		e[i] = float64(f)
	}
	return e
}

// CreateIdentity stores embeddings under name and returns the identity ID.
// Enrolling an existing name adds the embeddings to it.
func (s *Store) CreateIdentity(ctx context.Context, name string, embeddings []identity.Embedding) (int, error) {
	for i, e := range embeddings {
		if len(e) != EmbeddingDim {
			return 0, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(e), EmbeddingDim)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO identities (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for _, e := range embeddings {
		batch.Queue("INSERT INTO identity_embeddings (identity_id, embedding) VALUES ($1, $2::vector)", id, toVector(e))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, err
	}

	return id, tx.Commit(ctx)
}

// ListIdentities returns every identity with its embedding count.
func (s *Store) ListIdentities(ctx context.Context) ([]Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.id, i.name, COUNT(e.id), i.created_at
		FROM identities i
		LEFT JOIN identity_embeddings e ON e.identity_id = i.id
		GROUP BY i.id
		ORDER BY i.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.ID, &id.Name, &id.Count, &id.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// IdentityEmbeddings returns the stored embeddings for name.
func (s *Store) IdentityEmbeddings(ctx context.Context, name string) ([]identity.Embedding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.embedding::text
		FROM identity_embeddings e
		JOIN identities i ON i.id = e.identity_id
		WHERE i.name = $1
		ORDER BY e.id
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []identity.Embedding
	for rows.Next() {
		var v pgvector.Vector
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, fromVector(v))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return out, nil
}

// FindClosestIdentity searches for the nearest stored embedding by Euclidean distance.
// Returns -1 if nothing lies within tolerance.
func (s *Store) FindClosestIdentity(ctx context.Context, vec identity.Embedding, tolerance float64) (int, string, float64, error) {
	// <-> is the L2 distance operator in pgvector
	query := `
		SELECT i.id, i.name, e.embedding <-> $1::vector AS dist
		FROM identity_embeddings e
		JOIN identities i ON i.id = e.identity_id
		WHERE e.embedding <-> $1::vector <= $2
		ORDER BY dist ASC
		LIMIT 1`

	var (
		id   int
		name string
		dist float64
	)
	err := s.pool.QueryRow(ctx, query, toVector(vec), tolerance).Scan(&id, &name, &dist)
	if errors.Is(err, pgx.ErrNoRows) {
		return -1, "", 0, nil // No match found
	}
	if err != nil {
		return 0, "", 0, err
	}
	return id, name, dist, nil
}

// RenameIdentity updates the name of a known identity.
func (s *Store) RenameIdentity(ctx context.Context, id int, newName string) error {
	tag, err := s.pool.Exec(ctx, "UPDATE identities SET name = $1 WHERE id = $2", newName, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS identity_embeddings CASCADE;
		DROP TABLE IF EXISTS identities CASCADE;
	`)
	return err
}
