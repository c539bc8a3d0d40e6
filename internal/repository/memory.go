package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"offlinesync/internal/domain"
)

// MemoryStore is a process-local PersistentStore. Values are copied on the way in and out.
type MemoryStore struct {
	values sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	val, ok := s.values.Load(key)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clone(val.(json.RawMessage)), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return domain.NewError(domain.KindValidation, "memory set "+key, errInvalidJSON)
	}
	s.values.Store(key, clone(value))
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.values.Delete(key)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.values.Range(func(k, _ any) bool {
		s.values.Delete(k)
		return true
	})
	return nil
}

func (s *MemoryStore) ListKeys(_ context.Context) ([]string, error) {
	keys := []string{}
	s.values.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys, nil
}

func clone(v json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}
