package a2a

import "fmt"

// ErrorKind classifies a protocol-layer failure.
type ErrorKind string

const (
	// ErrVersionMismatch means the remote answered with an incompatible
	// protocol version. Never retried.
	ErrVersionMismatch ErrorKind = "version_mismatch"

	// ErrTimeout covers timeouts and transport-level connect failures.
	// Transient: eligible for client-side retry.
	ErrTimeout ErrorKind = "timeout"

	// ErrMalformed means the response body could not be decoded.
	ErrMalformed ErrorKind = "malformed"

	// ErrRemote means the remote reported an application-level error.
	ErrRemote ErrorKind = "remote_error"
)

// ProtocolError is a network/protocol layer failure talking to an agent
// endpoint.
type ProtocolError struct {
	Kind     ErrorKind
	Endpoint string
	Message  string
	Err      error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error (%s) at %s: %s: %v", e.Kind, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error (%s) at %s: %s", e.Kind, e.Endpoint, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying at the
// protocol-client layer.
func (e *ProtocolError) Transient() bool {
	return e.Kind == ErrTimeout
}

// NewProtocolError creates a ProtocolError.
func NewProtocolError(kind ErrorKind, endpoint, message string, err error) *ProtocolError {
	return &ProtocolError{
		Kind:     kind,
		Endpoint: endpoint,
		Message:  message,
		Err:      err,
	}
}
