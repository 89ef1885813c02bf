package models

import (
	"errors"
	"fmt"
)

var (
	ErrGatewayUnavailable  = errors.New("gateway not available")
	ErrUnsupportedGateway  = errors.New("unsupported gateway")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrSignatureInvalid    = errors.New("invalid webhook signature")
	ErrUnknownTransaction  = errors.New("unknown transaction")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrPersistence         = errors.New("transaction could not be persisted")
)

// UpstreamError is a network or HTTP failure from a provider call
type UpstreamError struct {
	Provider   Provider
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: provider returned status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: provider call failed: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
