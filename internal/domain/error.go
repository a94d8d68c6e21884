package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Payment confirmation errors
	ErrHandoffNotFound  = errors.New("payment handoff not found or already consumed")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrUnknownSubject   = errors.New("unknown payment subject kind")
	ErrChannelClosed    = errors.New("payment event channel closed")
	ErrRateLimited      = errors.New("too many requests")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrStatusAPIFailure = errors.New("payment status api request failed")
)
