package member

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("member: not found")
	ErrConflict     = errors.New("member: already exists")
	ErrInvalidInput = errors.New("member: invalid input")
	ErrUnknownRole  = fmt.Errorf("%w: unknown role", ErrInvalidInput)
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
