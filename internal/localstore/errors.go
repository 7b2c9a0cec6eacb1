package localstore

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized     = errors.New("store must be initialized in a client context")
	ErrStorageUnavailable = errors.New("durable storage unavailable and fallback disabled")
	ErrStorageRead        = errors.New("storage read failed")
	ErrStorageWrite       = errors.New("storage write failed")
	ErrItemNotFound       = errors.New("item not found")
	ErrInvalidInput       = errors.New("invalid input")
)

// StorageError wraps a backend failure, keeping the original cause in the
// message so callers can report it without unwrapping.
type StorageError struct {
	Op    string
	Kind  error
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Cause)
}

func (e *StorageError) Is(target error) bool {
	return target == e.Kind
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

func readError(op string, cause error) error {
	return &StorageError{Op: op, Kind: ErrStorageRead, Cause: cause}
}

func writeError(op string, cause error) error {
	return &StorageError{Op: op, Kind: ErrStorageWrite, Cause: cause}
}
