package kv

import (
	"errors"
	"fmt"
)

// Store defines the interface for a key-value store.
// Implementations of this interface can be swapped out,
// allowing for different storage backends (e.g., file-backed, in-memory, cached).
type Store interface {
	// Get retrieves the value associated with the given key.
	// Returns the value and true if the key exists, or nil and false if not.
	// A missing key is not an error.
	Get(key []byte) ([]byte, bool, error)

	// Set stores a key-value pair, replacing any previous value.
	// Returns an error if the operation fails.
	Set(key, value []byte) error

	// Delete removes a key from the store.
	// Deleting a missing key succeeds.
	Delete(key []byte) error
}

var (
	// ErrInvalidKey is returned for keys that cannot be stored (e.g. empty).
	ErrInvalidKey = errors.New("kvlite: invalid key")

	// ErrCorrupt is wrapped in an IOError when a stored record fails to decode.
	ErrCorrupt = errors.New("kvlite: corrupt record")

	// ErrKeyCollision is wrapped in an IOError when a record on disk belongs
	// to a different key than the one that maps to its file name.
	ErrKeyCollision = errors.New("kvlite: key collision")
)

// IOError reports a failed file-system operation together with the store
// operation and key that caused it.
type IOError struct {
	Op  string
	Key []byte
	Err error
}

func (e *IOError) Error() string {
	if len(e.Key) == 0 {
		return fmt.Sprintf("kvlite: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kvlite: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ValidateKey returns ErrInvalidKey for keys no store accepts.
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	return nil
}
