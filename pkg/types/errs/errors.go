package errs

import "errors"

var (
	ErrRecordNotFound      = errors.New("record not found")
	ErrDuplicateEvent      = errors.New("duplicate event")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrStaleTimestamp      = errors.New("stale webhook timestamp")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrUnknownJobType      = errors.New("unknown job type")
	ErrProviderUnavailable = errors.New("provider unavailable")
)
