// Package storage defines the single key-value slot the recipient list is
// persisted in, mirroring a browser's local storage. Backends live in the
// sub-packages.
package storage

import (
	"context"
	"errors"
	"strings"
)

// Slot is a small key-value store. Values are opaque bytes; callers own the
// encoding.
type Slot interface {
	// Get returns the value stored under key. ok is false when nothing is
	// stored, which is not an error.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes the value stored under key. Removing a missing key is
	// not an error.
	Remove(ctx context.Context, key string) error

	// Revision returns an opaque token that changes whenever the value under
	// key changes, including removal. Other processes writing the same slot
	// are observed through it.
	Revision(ctx context.Context, key string) (string, error)

	// Name identifies the backend in logs.
	Name() string
}

// Closer is implemented by slots holding resources.
type Closer interface {
	Close() error
}

var ErrEmptyKey = errors.New("empty storage key")

// CheckKey rejects keys no backend can store.
func CheckKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}
