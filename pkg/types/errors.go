package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidKind     = errors.New("invalid symbol kind")
	ErrInvalidLine     = errors.New("line number must be >= 1")
	ErrEmptyName       = errors.New("symbol name cannot be empty")
	ErrInvalidKeep     = errors.New("keep count must be >= 1")
	ErrInvalidInterval = errors.New("interval must be > 0")
)
