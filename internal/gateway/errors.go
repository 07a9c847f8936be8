package gateway

import "errors"

// Validation errors surfaced synchronously to the caller of the operation
// that detected them. None are retried internally.
var (
	// ErrInvalidSignature reports a creation signature mismatch while
	// signature checking is enabled for the gateway.
	ErrInvalidSignature = errors.New("invalid order signature")
	// ErrInvalidOrderID reports a missing or empty order id while signature
	// checking is enabled; raised before any signature comparison.
	ErrInvalidOrderID = errors.New("order id is missing or empty")
	// ErrGatewayInactive rejects order creation on an inactive gateway.
	ErrGatewayInactive = errors.New("gateway is inactive")
	// ErrNotFound means no gateway matched the lookup.
	ErrNotFound = errors.New("gateway not found")
)
