package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Provider failure classes. Callers test with errors.Is.
var (
	ErrRateLimited = errors.New("provider rate limited")
	ErrTransient   = errors.New("provider transient failure")
	ErrPermanent   = errors.New("provider permanent failure")
)

var (
	ErrPersistence     = errors.New("persistence failure")
	ErrDegenerateInput = errors.New("degenerate input")
	ErrCycleInProgress = errors.New("update cycle already in progress")
	ErrUnknownSymbol   = errors.New("unknown symbol")
)

// ProviderError describes a failed upstream call. It matches both its Kind
// and the underlying cause under errors.Is.
type ProviderError struct {
	Provider string
	Status   int
	Kind     error
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %v (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ClassifyStatus maps an HTTP status code to a provider failure class.
// It returns nil for 2xx codes.
func ClassifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout || code >= 500:
		return ErrTransient
	default:
		return ErrPermanent
	}
}

// IsRetryable reports whether err belongs to a class that may succeed on a
// later attempt.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrPermanent)
}
