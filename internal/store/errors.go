package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by backends when an update targets a name that is
// not stored.
var ErrNotFound = errors.New("repository not found")

// ErrInvalidTopics rejects topic lists that would not survive the JSON
// encoding unchanged.
var ErrInvalidTopics = errors.New("topics must be valid UTF-8")

// StorageError wraps any failure of the underlying store. Callers never see
// raw driver errors; the cause stays reachable through errors.Unwrap.
type StorageError struct {
	Op   string
	Name string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Name, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrap(op, name string, err error) error {
	return &StorageError{Op: op, Name: name, Err: err}
}

// IsStorageError reports whether err came out of the Gateway.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
