package queue

import "errors"

var (
	// ErrNotFound is returned when an item id does not exist.
	ErrNotFound = errors.New("queue item not found")
	// ErrDuplicateURL is returned when the normalized URL is already queued.
	ErrDuplicateURL = errors.New("normalized url already queued")
	// ErrAlreadyPublished is returned when the normalized URL was published before.
	ErrAlreadyPublished = errors.New("normalized url already published")
	// ErrStatusConflict is returned when a transition's expected status no
	// longer matches the stored one.
	ErrStatusConflict = errors.New("queue item status changed concurrently")
	// ErrIllegalTransition is returned for moves the transition table forbids.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrLeaseHeld is returned when another worker holds the item lease.
	ErrLeaseHeld = errors.New("queue item lease held by another worker")
	// ErrLeaseLost is returned when renewing or releasing a lease that expired
	// and was taken over.
	ErrLeaseLost = errors.New("queue item lease lost")
)
