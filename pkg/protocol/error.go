package protocol

import (
	"errors"
	"fmt"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// MayHaveSucceeded returns true if the operation that triggered the Error might have taken
	// effect on the remote side anyway. For example, a write that fails after some fragments of a
	// message were acknowledged may have left a partial message in the remote assembler.
	MayHaveSucceeded() bool

	// Temporary returns true if the Error might be the result of a transient condition, such as a
	// radio link that briefly dropped a write.
	Temporary() bool
}

var (
	// ErrDisconnected indicates the link backing a peer was closed or dropped. Every operation on a
	// disconnected peer fails with this error; peers are never resurrected.
	ErrDisconnected = NewError("peer disconnected", false, false)
	// ErrMalformedFragment indicates an inbound fragment without an interpretable control byte.
	ErrMalformedFragment = NewError("malformed fragment", false, false)
	// ErrMessageTooLarge indicates an inbound message exceeded the configured maximum size.
	ErrMessageTooLarge = NewError("message exceeds maximum size", false, false)
	// ErrSendSuperseded indicates a queued message was discarded because a newer message replaced
	// the send queue before any of its fragments were written.
	ErrSendSuperseded = NewError("message superseded by a newer send", false, true)
	// ErrReceiveInProgress indicates a caller tried to wait for a message while another caller was
	// already waiting on the same peer.
	ErrReceiveInProgress = NewError("another receive is already pending", false, true)
	// ErrNotConnected indicates a link operation was attempted without an open adapter.
	ErrNotConnected = NewError("link not connected", false, false)
)

type CommandError struct {
	Err               error
	PossibleSuccess   bool
	PossibleTemporary bool
}

func NewError(message string, mayHaveSucceeded bool, temporary bool) error {
	return &CommandError{Err: errors.New(message), PossibleSuccess: mayHaveSucceeded, PossibleTemporary: temporary}
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *CommandError) Temporary() bool {
	return e.PossibleTemporary
}

// LinkError reports a failure to establish the radio link: scanning, dialing, service discovery,
// missing characteristics, or subscribing to notifications.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("ble: %s: %s", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func (e *LinkError) MayHaveSucceeded() bool {
	return false
}

func (e *LinkError) Temporary() bool {
	return true
}

// WriteError reports a fragment write that the link did not acknowledge. The fragments of the
// message after Fragment were never written.
type WriteError struct {
	Fragment int // Zero-based index of the failed fragment within its message.
	Total    int // Number of fragments in the message.
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write of fragment %d/%d failed: %s", e.Fragment+1, e.Total, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// MayHaveSucceeded is true when at least one earlier fragment was acknowledged, since the remote
// side may then hold a partial message.
func (e *WriteError) MayHaveSucceeded() bool {
	return e.Fragment > 0
}

func (e *WriteError) Temporary() bool {
	return true
}

// HandshakeError indicates the session handshake received an unexpected or invalid message.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err == nil {
		return "handshake failed: " + e.Reason
	}
	return fmt.Sprintf("handshake failed: %s: %s", e.Reason, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

func (e *HandshakeError) MayHaveSucceeded() bool {
	return false
}

func (e *HandshakeError) Temporary() bool {
	return false
}

// AbortError indicates the remote side explicitly refused the session.
type AbortError struct {
	Reason  string
	Details map[string]any
}

func (e *AbortError) Error() string {
	if msg, ok := e.Details["message"].(string); ok && msg != "" {
		return fmt.Sprintf("session aborted: %s: %s", e.Reason, msg)
	}
	return "session aborted: " + e.Reason
}

func (e *AbortError) MayHaveSucceeded() bool {
	return false
}

func (e *AbortError) Temporary() bool {
	return false
}

// MayHaveSucceeded returns true if err is an Error that indicates the operation may have taken
// effect even though the caller observed a failure.
func MayHaveSucceeded(err error) bool {
	var protoErr Error
	if errors.As(err, &protoErr) && protoErr.MayHaveSucceeded() {
		return true
	}
	return false
}

// Temporary returns true if err is an Error that indicates the operation failed due to possibly
// transient conditions that do not require user action to resolve.
func Temporary(err error) bool {
	var protoErr Error
	if errors.As(err, &protoErr) && protoErr.Temporary() {
		return true
	}
	return false
}

// ShouldRetry returns true if the caller may retry the operation that triggered err. Nothing in
// this module retries on its own; retry policy belongs to the caller.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDisconnected) {
		return false
	}
	return Temporary(err) && !MayHaveSucceeded(err)
}
