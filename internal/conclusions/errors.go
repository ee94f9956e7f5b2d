package conclusions

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConclusion wraps validation failures on Add.
	ErrInvalidConclusion = errors.New("invalid conclusion")

	// ErrNotFound is returned by Lookup for an unknown ID.
	ErrNotFound = errors.New("conclusion not found")

	// ErrEmptyQuery is returned by Search for a blank query.
	ErrEmptyQuery = errors.New("query cannot be empty")
)

// StorageError reports that the backing vector store failed, as opposed to
// the conclusion simply not existing.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("conclusion store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err came from the backing store.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
