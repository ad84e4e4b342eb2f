package billing

import "errors"

var (
	// ErrNotConfigured is returned when the webhook signing secret or
	// another required setting is missing. Surfaced as a server error
	// for operator attention.
	ErrNotConfigured = errors.New("billing provider not configured")

	// ErrMissingSignature is returned when the signature header is
	// absent from an inbound notification.
	ErrMissingSignature = errors.New("missing webhook signature")

	// ErrInvalidSignature is returned when the recomputed signature
	// over the raw body does not match the supplied header value.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidPayload is returned when the event envelope cannot be
	// parsed.
	ErrInvalidPayload = errors.New("invalid webhook payload")

	// ErrDuplicateEvent marks an event id already seen within the
	// idempotency TTL. Not a failure: duplicates are acknowledged.
	ErrDuplicateEvent = errors.New("duplicate webhook event")

	// ErrUnresolvedUser is returned when a notification references a
	// customer or subscription with no matching local user. The event
	// is acknowledged since retrying cannot fix it.
	ErrUnresolvedUser = errors.New("no local user for billing customer")

	// ErrReadbackFailed is returned when the fallback read-by-id to the
	// provider fails. Handlers log it and proceed with local defaults.
	ErrReadbackFailed = errors.New("provider read-back failed")

	// ErrStoreWrite is returned when persisting to the relational store
	// fails. Surfaced as a server error so the provider redelivers.
	ErrStoreWrite = errors.New("store write failed")
)
