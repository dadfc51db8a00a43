package graph

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when a caller supplies input that cannot be
// applied. No state is mutated.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound is returned when an entity doesn't exist in the store.
type ErrNotFound struct {
	Kind string
	Key  string
}

func (e ErrNotFound) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "entity"
	}

	if e.Key == "" {
		return kind + " not found"
	}

	return fmt.Sprintf("%s not found: %s", kind, e.Key)
}

// IsNotFound reports whether err carries an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
