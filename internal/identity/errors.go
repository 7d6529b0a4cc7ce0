package identity

import (
	"errors"
	"fmt"

	"capitania.club/internal/member"
)

var (
	// ErrAuthFailure covers every credential or token rejection.
	ErrAuthFailure      = errors.New("identity: authentication failed")
	ErrCPFNotRegistered = fmt.Errorf("%w: cpf not registered", ErrAuthFailure)
	ErrInvalidToken     = fmt.Errorf("%w: invalid token", ErrAuthFailure)

	ErrWeakPassword     = fmt.Errorf("%w: password must have at least %d characters", member.ErrInvalidInput, MinPasswordLength)
	ErrPasswordMismatch = fmt.Errorf("%w: passwords do not match", member.ErrInvalidInput)
)
