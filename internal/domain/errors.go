package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrIdentityUnavailable = errors.New("no connected identity")
	ErrReadUnavailable     = errors.New("remote value not yet available")
	ErrIntentInFlight      = errors.New("intent already in flight")
	ErrEmptyComment        = errors.New("comment is empty")
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	ErrAbandoned           = errors.New("confirmation wait abandoned")
	ErrReverted            = errors.New("transaction reverted")
	ErrLockHeld            = errors.New("lock already held")
)

// FallbackMessage is shown when a failure carries no readable explanation.
const FallbackMessage = "Something went wrong. Try again."

// SubmissionError reports an operation the remote service refused before
// inclusion (signing unavailable, estimation revert, RPC rejection).
type SubmissionError struct {
	Op      OperationKind
	Reason  string // structured remote reason, if any
	Message string // human-readable executor message, if any
	Err     error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("submit %s: %s", e.Op, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("submit %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("submit %s failed", e.Op)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmationError reports an operation that was reverted after inclusion
// or whose confirmation wait was abandoned or timed out.
type ConfirmationError struct {
	Hash    string
	Reason  string
	Message string
	Err     error
}

func (e *ConfirmationError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("confirm %s: %s", e.Hash, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("confirm %s: %v", e.Hash, e.Err)
	default:
		return fmt.Sprintf("confirm %s failed", e.Hash)
	}
}

func (e *ConfirmationError) Unwrap() error { return e.Err }

// ValidationError reports an intent rejected locally before any write.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

// RemoteError is a rejection produced by the remote service itself, such as
// a JSON-RPC error object. Its text is written for the caller.
type RemoteError interface {
	error
	ErrorCode() int
}

// UserMessage derives the single message shown for a failed intent: the
// structured remote reason, else the executor's readable message, else the
// text of a RemoteError in the chain, else FallbackMessage.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		sub *SubmissionError
		con *ConfirmationError
		val *ValidationError
	)
	switch {
	case errors.As(err, &sub):
		return pick(sub.Reason, sub.Message, remoteText(sub.Err))
	case errors.As(err, &con):
		return pick(con.Reason, con.Message, remoteText(con.Err))
	case errors.As(err, &val):
		return pick(val.Message)
	default:
		return FallbackMessage
	}
}

func pick(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return FallbackMessage
}

func remoteText(err error) string {
	var re RemoteError
	if err != nil && errors.As(err, &re) {
		return re.Error()
	}
	return ""
}
