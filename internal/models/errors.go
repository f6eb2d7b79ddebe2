package models

import "errors"

// Job validation errors. Messages are part of the client protocol.
var (
	// ErrInvalidJobID indicates a job id that is not a canonical ULID.
	ErrInvalidJobID = errors.New("invalid job id")

	// ErrJobNotFound indicates no job is registered under the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidToken indicates the capability token does not match the job.
	ErrInvalidToken = errors.New("invalid token")

	// ErrJobCompleted indicates the job already reached a terminal state.
	ErrJobCompleted = errors.New("job already completed")

	// ErrJobInProgress indicates a conversion is already running for the job.
	ErrJobInProgress = errors.New("job already in progress")

	// ErrNotErrored indicates an operation that requires a failed job.
	ErrNotErrored = errors.New("job is not in an error state")

	// ErrIncompleteHandshake indicates no target format was ever requested.
	ErrIncompleteHandshake = errors.New("incomplete websocket handshake")

	// ErrJobNotFinished indicates the output is not ready to be downloaded.
	ErrJobNotFinished = errors.New("job has not finished converting")

	// ErrInvalidInputFormat indicates the uploaded file extension is not a known format.
	ErrInvalidInputFormat = errors.New("invalid input format")

	// ErrInvalidOutputFormat indicates the requested target is not a known format.
	ErrInvalidOutputFormat = errors.New("invalid output format")

	// ErrInvalidCancellation indicates a cancel request that does not match the running job.
	ErrInvalidCancellation = errors.New("invalid token or job id for cancellation")
)
