package queue

import "errors"

var (
	ErrInvalidTag     = errors.New("invalid tag")
	ErrContentTooLong = errors.New("content too long")
	ErrNilStore       = errors.New("queue: nil store")

	// ErrCustodyEnded is returned when a Delivery is resolved a second time.
	ErrCustodyEnded = errors.New("queue: custody already ended")

	// ErrStreamClosed is returned by Stream.Next after Close.
	ErrStreamClosed = errors.New("queue: stream closed")
)
