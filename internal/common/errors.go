// Package common defines sentinel errors and small helpers shared by the
// ompldr server layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// repository specific errors
	ErrorNotFound = errors.New("not found")

	// service specific errors
	ErrorInternal   = errors.New("internal error")
	ErrorBadRequest = errors.New("bad request")

	// backend failures, surfaced to clients as internal errors
	ErrorStorage        = errors.New("storage error")
	ErrorPaymentBackend = errors.New("payment backend error")

	// ErrInvalidToken is returned when an opaque file token cannot be decoded.
	ErrInvalidToken = errors.New("invalid token")
)
