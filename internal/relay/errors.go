package relay

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTimestamp  = errors.New("timestamp precedes genesis")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMessageNotFound   = errors.New("message not found")
	ErrDuplicateMessage  = errors.New("message already exists")
	ErrNotFinalized      = errors.New("required slot is not finalized yet")
	ErrNotDue            = errors.New("message is not due for another attempt yet")
)

// ErrorKind classifies a failure recorded on a message.
type ErrorKind string

const (
	ErrorKindProofSourceUnavailable ErrorKind = "ProofSourceUnavailable"
	ErrorKindProofDataMissing       ErrorKind = "ProofDataMissing"
	ErrorKindSendFailure            ErrorKind = "SendFailure"
	ErrorKindDecodeFailure          ErrorKind = "DecodeFailure"
	ErrorKindDestinationRejected    ErrorKind = "DestinationRejected"
)

// ProofError is returned by the proof generator.
type ProofError struct {
	Kind ErrorKind
	Err  error
}

func NewProofError(kind ErrorKind, err error) *ProofError {
	return &ProofError{Kind: kind, Err: err}
}

func (e *ProofError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *ProofError) Unwrap() error {
	return e.Err
}

// DispatchError is returned by the dispatcher when a redirect does not go through.
type DispatchError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s (retryable=%t): %s", e.Kind, e.Retryable, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// RedirectErrorKind is the error vocabulary of the destination redirect service.
type RedirectErrorKind string

const (
	RedirectNoEndpointForSlot      RedirectErrorKind = "NoEndpointForSlot"
	RedirectSendFailure            RedirectErrorKind = "SendFailure"
	RedirectReplyFailure           RedirectErrorKind = "ReplyFailure"
	RedirectDecodeFailure          RedirectErrorKind = "DecodeFailure"
	RedirectSourceEventClientError RedirectErrorKind = "SourceEventClientError"
)

// MissingCheckpointDetail is the event client detail reported when the destination has not
// stored the checkpoint for the requested slot yet.
const MissingCheckpointDetail = "MissingCheckpoint"

// RedirectErrorCode is the JSON-RPC error code of redirect service errors.
const RedirectErrorCode = -32000

// RedirectError is a structured error reported by the redirect service.
type RedirectError struct {
	Kind   RedirectErrorKind `json:"kind"`
	Detail string            `json:"detail,omitempty"`
}

func (e *RedirectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("redirect failed: %s", e.Kind)
	}
	return fmt.Sprintf("redirect failed: %s: %s", e.Kind, e.Detail)
}

// ErrorCode and ErrorData make the error travel as a JSON-RPC error carrying {kind, detail}.
func (e *RedirectError) ErrorCode() int {
	return RedirectErrorCode
}

func (e *RedirectError) ErrorData() interface{} {
	return e
}

// TransitionError reports an attempt to move a message along an edge the state machine does
// not have.
type TransitionError struct {
	ID   string
	From State
	Op   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s is not allowed for message %s in state %s", ErrInvalidTransition, e.Op, e.ID, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
