package provisional

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/c360studio/semvocab/storage"
)

// Store persists provisional terms in a storage backend, one JSON record
// per term keyed by its zero-padded ID.
type Store struct {
	backend storage.Backend
}

// NewStore wraps backend.
func NewStore(backend storage.Backend) *Store {
	return &Store{backend: backend}
}

func recordKey(id int64) string {
	return fmt.Sprintf("%010d", id)
}

// nextIDKey holds the ID the next proposal receives. IDs are never
// reused, so a deleted term's URI stays retired.
const nextIDKey = "next_id"

// NextID reserves and returns the next term ID. Buckets written before the
// counter existed start one above the highest stored ID.
func (s *Store) NextID(ctx context.Context) (int64, error) {
	var next int64
	err := storage.GetJSON(ctx, s.backend, nextIDKey, &next)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		next, err = s.highestID(ctx)
		if err != nil {
			return 0, err
		}
		next++
	case err != nil:
		return 0, fmt.Errorf("read provisional ID counter: %w", err)
	}
	if err := storage.PutJSON(ctx, s.backend, nextIDKey, next+1); err != nil {
		return 0, fmt.Errorf("advance provisional ID counter: %w", err)
	}
	return next, nil
}

func (s *Store) highestID(ctx context.Context) (int64, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list provisional keys: %w", err)
	}
	var highest int64
	for _, k := range keys {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		if id > highest {
			highest = id
		}
	}
	return highest, nil
}

// Create stores a new term; its ID must not be in use.
func (s *Store) Create(ctx context.Context, t Term) error {
	if err := storage.CreateJSON(ctx, s.backend, recordKey(t.ProvisionalID), t); err != nil {
		return fmt.Errorf("store provisional term: %w", err)
	}
	return nil
}

// Put replaces a stored term.
func (s *Store) Put(ctx context.Context, t Term) error {
	if err := storage.PutJSON(ctx, s.backend, recordKey(t.ProvisionalID), t); err != nil {
		return fmt.Errorf("update provisional term: %w", err)
	}
	return nil
}

// Get loads one term.
func (s *Store) Get(ctx context.Context, id int64) (Term, error) {
	var t Term
	if err := storage.GetJSON(ctx, s.backend, recordKey(id), &t); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Term{}, ErrNotFound
		}
		return Term{}, fmt.Errorf("get provisional term: %w", err)
	}
	return t, nil
}

// Delete removes a term record.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := s.backend.Delete(ctx, recordKey(id)); err != nil {
		return fmt.Errorf("delete provisional term: %w", err)
	}
	return nil
}

// List returns every stored term in ID order. Keys that are not term IDs
// and records that fail to decode are skipped.
func (s *Store) List(ctx context.Context) ([]Term, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list provisional keys: %w", err)
	}
	terms := make([]Term, 0, len(keys))
	for _, k := range keys {
		if _, err := strconv.ParseInt(k, 10, 64); err != nil {
			continue
		}
		var t Term
		if err := storage.GetJSON(ctx, s.backend, k, &t); err != nil {
			continue
		}
		terms = append(terms, t)
	}
	return terms, nil
}
