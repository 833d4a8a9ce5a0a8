package protocol

import "errors"

var (
	// ErrEmptyMessage is returned when an envelope has no payload.
	ErrEmptyMessage = errors.New("protocol: empty message")

	// ErrMalformedVerdict is returned for a classifier reply that is not four
	// comma-separated numbers.
	ErrMalformedVerdict = errors.New("protocol: malformed verdict")
)
