package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderUnavailable marks a transient failure that survived every retry.
	ErrProviderUnavailable = errors.New("image provider unavailable")
	ErrSourceFetchFailed   = errors.New("source image could not be fetched")
	ErrEmptyPayload        = errors.New("provider returned no image")
	ErrSourceTooLarge      = errors.New("source image exceeds size limit")
)

type ErrorKind int

const (
	Retryable ErrorKind = iota + 1
	Terminal
)

func (k ErrorKind) String() string {
	switch k {
	case Retryable:
		return "retryable"
	case Terminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// ProviderError classifies a failed provider call. Retryable errors are
// retried with backoff; terminal errors end the attempt immediately.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s error: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is reports retryable errors as ErrProviderUnavailable.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderUnavailable && e.Kind == Retryable
}

func retryable(err error) *ProviderError {
	return &ProviderError{Kind: Retryable, Err: err}
}

func terminal(err error) *ProviderError {
	return &ProviderError{Kind: Terminal, Err: err}
}

func statusError(code int, body string) *ProviderError {
	kind := Terminal
	if code == 429 || code >= 500 {
		kind = Retryable
	}
	return &ProviderError{Kind: kind, StatusCode: code, Err: errors.New(body)}
}
