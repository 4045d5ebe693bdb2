package queue

import "errors"

// Common errors returned by the Queue's public API.
var (
	// ErrAdmissionRejected is returned by Enqueue when the admission
	// controller sheds the operation under resource pressure. The caller
	// learns about rejection synchronously; no callback fires.
	ErrAdmissionRejected = errors.New("operation rejected by admission control")

	// ErrQueueStopped is returned when an operation is submitted after Stop.
	ErrQueueStopped = errors.New("operation queue is stopped")

	// ErrEmptyKind is returned when an enqueue request carries no kind tag.
	ErrEmptyKind = errors.New("operation kind cannot be empty")
)
