package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a record is not in the store.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidKey is returned for keys that cannot name a stored record.
	ErrInvalidKey = errors.New("invalid record key")
)

// PartialError lists store entries that could not be loaded.
type PartialError struct {
	Failures map[string]error
}

// Error implements the error interface for PartialError.
func (e *PartialError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failures[name]))
	}
	return fmt.Sprintf("%d unreadable records: %s", len(names), strings.Join(parts, "; "))
}
