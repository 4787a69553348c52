package connector

import (
	"context"
)

// MaxMessageSize caps the byte-length of reassembled messages that links accept by default.
const MaxMessageSize = 1 << 20

// Peer sends and receives complete messages ([]byte) over a fragmenting link.
type Peer interface {
	// Send transmits a message and returns once every fragment has been acknowledged by the link.
	//
	// If Send returns an error, the remote side may still have received part of the message. If the
	// returned error implements the protocol.Error interface, then the client can use its methods
	// to tell whether retrying is reasonable.
	//
	// Implementations must be thread safe.
	Send(ctx context.Context, message []byte) error

	// Receive blocks until a complete message arrives, ctx is done, or the link closes. Messages
	// are returned in the order their final fragments arrived.
	Receive(ctx context.Context) ([]byte, error)

	// Close terminates the link.
	//
	// Repeated calls to Close() must be idempotent. Pending and future Send and Receive calls fail
	// with protocol.ErrDisconnected.
	Close() error
}
