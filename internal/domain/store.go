package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// SetJSON marshals value and writes it under key.
func SetJSON(ctx context.Context, store PersistentStore, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return NewError(KindValidation, "encode "+key, err)
	}
	return store.Set(ctx, key, raw)
}

// GetJSON reads key into out. The bool is false when the key does not exist.
func GetJSON(ctx context.Context, store PersistentStore, key string, out any) (bool, error) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, NewError(KindStorage, "decode "+key, fmt.Errorf("corrupt value: %w", err))
	}
	return true, nil
}
