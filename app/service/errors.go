package service

import "errors"

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrInvalidPayload      = errors.New("invalid webhook payload")
	ErrDuplicateEvent      = errors.New("webhook event already processed")
	ErrDonationNotFound    = errors.New("donation not found")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
)
