package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore implements Store on top of a single PostgreSQL JSONB table
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds connection settings for the document store
type PostgresConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
}

// NewPostgresStore opens a connection pool and verifies connectivity
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing database handle; used by tests
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitSchema creates the documents table if it does not exist
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	indexQuery := `
		CREATE INDEX IF NOT EXISTS documents_data_idx
		ON documents USING GIN (data jsonb_path_ops)
	`
	if _, err := s.db.ExecContext(ctx, indexQuery); err != nil {
		return fmt.Errorf("failed to create documents index: %w", err)
	}

	return nil
}

// DB exposes the underlying handle for health checks
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Get retrieves a single document
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	query := `SELECT data, updated_at FROM documents WHERE collection = $1 AND id = $2`

	var raw []byte
	doc := &Document{Collection: collection, ID: id}
	err := s.db.QueryRowContext(ctx, query, collection, id).Scan(&raw, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}

	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document %s/%s: %w", collection, id, err)
	}

	return doc, nil
}

// Query returns all documents in a collection matching the filters
func (s *PostgresStore) Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error) {
	query, args := buildQuery("SELECT id, data, updated_at FROM documents", collection, filters)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{Collection: collection}
		var raw []byte
		if err := rows.Scan(&doc.ID, &raw, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document %s/%s: %w", collection, doc.ID, err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Count returns the number of documents matching the filters without
// materializing them
func (s *PostgresStore) Count(ctx context.Context, collection string, filters ...Filter) (int, error) {
	query, args := buildQuery("SELECT COUNT(*) FROM documents", collection, filters)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count collection %s: %w", collection, err)
	}

	return count, nil
}

// Set creates or overwrites a document
func (s *PostgresStore) Set(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	raw, err := marshalFields(collection, id, fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, collection, id, raw); err != nil {
		return fmt.Errorf("failed to set document %s/%s: %w", collection, id, err)
	}

	return nil
}

// Update merges fields into an existing document
func (s *PostgresStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	raw, err := marshalFields(collection, id, fields)
	if err != nil {
		return err
	}

	query := `
		UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2
	`
	result, err := s.db.ExecContext(ctx, query, collection, id, raw)
	if err != nil {
		return fmt.Errorf("failed to update document %s/%s: %w", collection, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a document. Deleting an absent document is not an error.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	query := `DELETE FROM documents WHERE collection = $1 AND id = $2`
	if _, err := s.db.ExecContext(ctx, query, collection, id); err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

// BatchWrite applies all operations inside a single transaction
func (s *PostgresStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op WriteOp) error {
	switch op.Kind {
	case WriteSet:
		raw, err := marshalFields(op.Collection, op.ID, op.Fields)
		if err != nil {
			return err
		}
		query := `
			INSERT INTO documents (collection, id, data, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (collection, id) DO UPDATE
			SET data = EXCLUDED.data, updated_at = NOW()
		`
		if _, err := tx.ExecContext(ctx, query, op.Collection, op.ID, raw); err != nil {
			return fmt.Errorf("batch set %s/%s failed: %w", op.Collection, op.ID, err)
		}
	case WriteUpdate:
		raw, err := marshalFields(op.Collection, op.ID, op.Fields)
		if err != nil {
			return err
		}
		query := `
			UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
			WHERE collection = $1 AND id = $2
		`
		result, err := tx.ExecContext(ctx, query, op.Collection, op.ID, raw)
		if err != nil {
			return fmt.Errorf("batch update %s/%s failed: %w", op.Collection, op.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("batch update %s/%s failed: %w", op.Collection, op.ID, ErrNotFound)
		}
	case WriteDelete:
		query := `DELETE FROM documents WHERE collection = $1 AND id = $2`
		if _, err := tx.ExecContext(ctx, query, op.Collection, op.ID); err != nil {
			return fmt.Errorf("batch delete %s/%s failed: %w", op.Collection, op.ID, err)
		}
	default:
		return fmt.Errorf("unknown batch operation kind: %d", op.Kind)
	}

	return nil
}

// buildQuery compiles filters into a WHERE clause over the JSONB column.
// Typed comparisons cast the extracted text value so that numeric and
// timestamp ordering behaves as expected.
func buildQuery(base, collection string, filters []Filter) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString(" WHERE collection = $1")

	args := []interface{}{collection}
	for _, f := range filters {
		placeholder := fmt.Sprintf("$%d", len(args)+1)
		sb.WriteString(" AND ")
		sb.WriteString(filterExpr(f, placeholder))
		args = append(args, filterArg(f.Value))
	}

	return sb.String(), args
}

func filterExpr(f Filter, placeholder string) string {
	field := fmt.Sprintf("data->>'%s'", f.Field)
	switch f.Value.(type) {
	case time.Time:
		field = fmt.Sprintf("(%s)::timestamptz", field)
		placeholder += "::timestamptz"
	case int, int64, float64:
		field = fmt.Sprintf("(%s)::numeric", field)
	case bool:
		field = fmt.Sprintf("(%s)::boolean", field)
	}
	return fmt.Sprintf("%s %s %s", field, sqlOp(f.Op), placeholder)
}

func sqlOp(op FilterOp) string {
	if op == OpEqual {
		return "="
	}
	return string(op)
}

func filterArg(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func marshalFields(collection, id string, fields map[string]interface{}) ([]byte, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document %s/%s: %w", collection, id, err)
	}
	return raw, nil
}
