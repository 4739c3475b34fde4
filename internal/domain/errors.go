package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotRetryable is returned when a retry is requested for a job that is not failed or dead,
	// or whose idempotency key is held by another active job
	ErrJobNotRetryable = errors.New("job not found or cannot be retried")

	// ErrNoJobAvailable is returned by a claim when nothing is eligible
	ErrNoJobAvailable = errors.New("no job available")

	// ErrStoreUnavailable wraps storage-layer failures surfaced to the HTTP layer
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidPayload is returned when a payload lacks the fields a transform needs
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// PermanentError marks a transform failure that a retry cannot fix.
// Jobs failing with it go to the failed state instead of being re-queued.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as a permanent failure
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError
func IsPermanent(err error) bool {
	var permanentErr *PermanentError
	return errors.As(err, &permanentErr)
}
