package domain

import (
	"context"
	"encoding/json"

	"offlinesync/internal/models"
)

// PersistentStore is an async key/value store of JSON documents.
// Get returns ErrNotFound for a missing key.
type PersistentStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	ListKeys(ctx context.Context) ([]string, error)
}

// RemoteSyncer delivers one action to the backend.
type RemoteSyncer interface {
	Sync(ctx context.Context, action models.PendingAction) error
}

// Reachability reports the cached connectivity status.
type Reachability interface {
	Status() bool
}

// NetworkObserver is notified on every connectivity transition.
type NetworkObserver interface {
	OnNetworkChange(online bool)
}

// NetworkObserverFunc adapts a function to NetworkObserver.
type NetworkObserverFunc func(online bool)

func (f NetworkObserverFunc) OnNetworkChange(online bool) { f(online) }

type NetworkMonitor interface {
	Reachability
	Subscribe(observer NetworkObserver) (unsubscribe func())
}

// DeadLetterSink keeps actions that were dropped from the queue.
type DeadLetterSink interface {
	RecordDeadLetter(ctx context.Context, action models.PendingAction, reason string) error
	ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error)
}
