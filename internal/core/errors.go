package core

import (
	"errors"

	"github.com/tattoostencil/studio/internal/store"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrServiceUnavailable = errors.New("service not configured")
	ErrUpstream           = errors.New("upstream service failed")

	// Shared with the store so ledger and lookup failures keep their identity.
	ErrNotFound            = store.ErrNotFound
	ErrInsufficientCredits = store.ErrInsufficientCredits
)
