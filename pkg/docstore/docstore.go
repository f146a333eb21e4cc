// Package docstore provides a narrow document-store abstraction used by the
// billing and entitlement services. Documents are schemaless JSON objects
// addressed by (collection, id). Two implementations are provided: a
// PostgreSQL JSONB store for production and an in-memory store for tests.
package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("document not found")

// Document is a single stored document
type Document struct {
	Collection string
	ID         string
	Data       map[string]interface{}
	UpdatedAt  time.Time
}

// FilterOp is a comparison operator for queries
type FilterOp string

const (
	OpEqual          FilterOp = "=="
	OpGreaterOrEqual FilterOp = ">="
	OpLessOrEqual    FilterOp = "<="
)

// Filter restricts a query to documents whose field matches the value
type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

// Where is a convenience constructor for a Filter
func Where(field string, op FilterOp, value interface{}) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// WriteKind identifies the type of a batched write operation
type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteUpdate
	WriteDelete
)

// WriteOp is a single operation inside an atomic batch
type WriteOp struct {
	Kind       WriteKind
	Collection string
	ID         string
	Fields     map[string]interface{}
}

// SetOp builds a create/overwrite batch operation
func SetOp(collection, id string, fields map[string]interface{}) WriteOp {
	return WriteOp{Kind: WriteSet, Collection: collection, ID: id, Fields: fields}
}

// UpdateOp builds a merge batch operation; it fails the batch if the document is absent
func UpdateOp(collection, id string, fields map[string]interface{}) WriteOp {
	return WriteOp{Kind: WriteUpdate, Collection: collection, ID: id, Fields: fields}
}

// DeleteOp builds a delete batch operation
func DeleteOp(collection, id string) WriteOp {
	return WriteOp{Kind: WriteDelete, Collection: collection, ID: id}
}

// Store is the document-store contract consumed by the rest of the service.
// BatchWrite is the only atomicity primitive: all operations commit together
// or none apply.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error)
	Count(ctx context.Context, collection string, filters ...Filter) (int, error)
	Set(ctx context.Context, collection, id string, fields map[string]interface{}) error
	Update(ctx context.Context, collection, id string, fields map[string]interface{}) error
	Delete(ctx context.Context, collection, id string) error
	BatchWrite(ctx context.Context, ops []WriteOp) error
}

// String extracts a string field from document data
func (d *Document) String(field string) string {
	if v, ok := d.Data[field].(string); ok {
		return v
	}
	return ""
}

// Bool extracts a boolean field from document data
func (d *Document) Bool(field string) bool {
	if v, ok := d.Data[field].(bool); ok {
		return v
	}
	return false
}

// Int64 extracts an integer field from document data. JSON round-trips
// numbers as float64, so both representations are accepted.
func (d *Document) Int64(field string) int64 {
	switch v := d.Data[field].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Time extracts a timestamp field from document data. Timestamps survive a
// JSON round-trip as RFC 3339 strings, so both forms are accepted.
func (d *Document) Time(field string) (time.Time, bool) {
	return AsTime(d.Data[field])
}

// AsTime converts a stored value to a time.Time when possible
func AsTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// Map extracts a nested object field from document data
func (d *Document) Map(field string) map[string]interface{} {
	if v, ok := d.Data[field].(map[string]interface{}); ok {
		return v
	}
	return nil
}
