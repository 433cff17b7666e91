package stores

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable wraps any backend failure (connection refused, quota
	// exceeded, corruption). Callers treat it as a cache miss, never as a
	// fatal error.
	ErrUnavailable = errors.New("cache store unavailable")
)

type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("creation of store failed for reason : %s", ve.Reason)
}
