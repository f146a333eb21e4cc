package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by unit tests and local development.
// Field values are round-tripped through JSON so that documents read back the
// same way they would from the PostgreSQL store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]*Document // collection -> id -> doc

	// FailBatch, when set, makes the next BatchWrite fail before applying
	// anything. Tests use it to verify all-or-nothing behavior.
	FailBatch error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]*Document),
	}
}

// Get retrieves a single document
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(doc), nil
}

// Query returns all documents in a collection matching the filters,
// ordered by id for deterministic results
func (s *MemoryStore) Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []*Document
	for _, doc := range s.docs[collection] {
		if matchesAll(doc, filters) {
			docs = append(docs, copyDoc(doc))
		}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Count returns the number of matching documents
func (s *MemoryStore) Count(ctx context.Context, collection string, filters ...Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, doc := range s.docs[collection] {
		if matchesAll(doc, filters) {
			count++
		}
	}
	return count, nil
}

// Set creates or overwrites a document
func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(collection, id, fields)
}

// Update merges fields into an existing document
func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(collection, id, fields)
}

// Delete removes a document. Deleting an absent document is not an error.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[collection], id)
	return nil
}

// BatchWrite validates every operation before applying any, then applies
// them all under a single lock acquisition
func (s *MemoryStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailBatch != nil {
		err := s.FailBatch
		s.FailBatch = nil
		return err
	}

	// Validate first so a failing op leaves no partial state behind.
	for _, op := range ops {
		if op.Kind == WriteUpdate {
			if _, ok := s.docs[op.Collection][op.ID]; !ok {
				return fmt.Errorf("batch update %s/%s failed: %w", op.Collection, op.ID, ErrNotFound)
			}
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case WriteSet:
			if err := s.setLocked(op.Collection, op.ID, op.Fields); err != nil {
				return err
			}
		case WriteUpdate:
			if err := s.updateLocked(op.Collection, op.ID, op.Fields); err != nil {
				return err
			}
		case WriteDelete:
			delete(s.docs[op.Collection], op.ID)
		default:
			return fmt.Errorf("unknown batch operation kind: %d", op.Kind)
		}
	}

	return nil
}

func (s *MemoryStore) setLocked(collection, id string, fields map[string]interface{}) error {
	data, err := normalize(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s/%s: %w", collection, id, err)
	}

	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]*Document)
	}
	s.docs[collection][id] = &Document{
		Collection: collection,
		ID:         id,
		Data:       data,
		UpdatedAt:  time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) updateLocked(collection, id string, fields map[string]interface{}) error {
	doc, ok := s.docs[collection][id]
	if !ok {
		return ErrNotFound
	}

	data, err := normalize(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s/%s: %w", collection, id, err)
	}

	for k, v := range data {
		doc.Data[k] = v
	}
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

// normalize round-trips fields through JSON so stored values match what a
// real JSONB column would return
func normalize(fields map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	if data == nil {
		data = make(map[string]interface{})
	}
	return data, nil
}

func copyDoc(doc *Document) *Document {
	data := make(map[string]interface{}, len(doc.Data))
	for k, v := range doc.Data {
		data[k] = v
	}
	return &Document{
		Collection: doc.Collection,
		ID:         doc.ID,
		Data:       data,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func matchesAll(doc *Document, filters []Filter) bool {
	for _, f := range filters {
		if !matches(doc, f) {
			return false
		}
	}
	return true
}

func matches(doc *Document, f Filter) bool {
	value, ok := doc.Data[f.Field]
	if !ok {
		return false
	}

	cmp, ok := compare(value, f.Value)
	if !ok {
		return false
	}

	switch f.Op {
	case OpEqual:
		return cmp == 0
	case OpGreaterOrEqual:
		return cmp >= 0
	case OpLessOrEqual:
		return cmp <= 0
	}
	return false
}

// compare returns -1/0/1 for stored vs filter value, handling the type
// shapes a JSON round-trip produces
func compare(stored, filter interface{}) (int, bool) {
	if st, ok := AsTime(stored); ok {
		if ft, ok := AsTime(filter); ok {
			switch {
			case st.Before(ft):
				return -1, true
			case st.After(ft):
				return 1, true
			}
			return 0, true
		}
	}

	if sn, ok := asFloat(stored); ok {
		if fn, ok := asFloat(filter); ok {
			switch {
			case sn < fn:
				return -1, true
			case sn > fn:
				return 1, true
			}
			return 0, true
		}
	}

	ss, sok := stored.(string)
	fs, fok := filter.(string)
	if sok && fok {
		return strings.Compare(ss, fs), true
	}

	if sb, ok := stored.(bool); ok {
		if fb, ok := filter.(bool); ok {
			if sb == fb {
				return 0, true
			}
			return 1, true
		}
	}

	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
