package jobs

import "errors"

var (
	ErrInvalidJobKind      = errors.New("invalid job kind")
	ErrInvalidJobPayload   = errors.New("invalid job payload")
	ErrPayloadTypeMismatch = errors.New("payload type mismatch for job kind")
)
