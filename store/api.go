package store

import (
	"context"
	"errors"
)

// Well known keys of the shared profile store.
const (
	KeyToken         = "session/token"
	KeyUsername      = "session/username"
	KeyChats         = "chats/list"
	KeySelected      = "chats/selected"
	KeyRefreshToken  = "sync/refresh"
	KeyPreviewToken  = "sync/preview"
	PreviewKeyPrefix = "chats/preview/"
)

var ErrNotFound = errors.New("store: key not found")

// Change is a write observed on the shared store. Value is nil on delete.
type Change struct {
	Origin string `json:"origin"`
	Key    string `json:"key"`
	Value  []byte `json:"value,omitempty"`
}

// IBackend is the profile wide durable store, shared by all client instances.
type IBackend interface {
	Get(key string) ([]byte, error)
	Put(origin, key string, value []byte) error
	Delete(origin, key string) error

	// Keys lists keys with given prefix, in key order.
	Keys(prefix string) ([]string, error)

	// Subscribe delivers every change, including the subscriber's own, until
	// ctx is done.
	Subscribe(ctx context.Context) (<-chan *Change, error)

	Close() error
}

// IStore is the persistence port of one client instance.
type IStore interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)

	// Watch delivers changes written by other instances only. Writes of this
	// instance are never echoed back, callers poll for those.
	Watch(ctx context.Context) <-chan *Change

	// Origin is the instance id stamped on writes.
	Origin() string
}

func PreviewKey(conversationID string) string {
	return PreviewKeyPrefix + conversationID
}
