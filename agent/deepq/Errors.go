package deepq

import "errors"

var (
	// ErrEmptyBatch is returned by OptimizeModel when every experience
	// in a sampled batch was malformed. No update is performed.
	ErrEmptyBatch = errors.New("no valid experiences in batch")

	// ErrInFlight is returned when an update, checkpoint, or restore
	// is requested while another is still running
	ErrInFlight = errors.New("operation already in flight")

	// ErrArchitecture is returned when a checkpoint holds a network
	// of a different shape than the agent's
	ErrArchitecture = errors.New("checkpoint architecture mismatch")

	// ErrMalformed is returned when a checkpoint cannot be decoded
	ErrMalformed = errors.New("malformed checkpoint")
)
