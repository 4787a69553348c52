package frame

import (
	"fmt"

	"github.com/xconnio/wampble/pkg/protocol"
)

// Option configures an Assembler.
type Option func(*Assembler)

// WithFrameSize sets the largest outbound fragment, control byte included. Links with a smaller
// negotiated MTU than FrameSize use this to shrink fragments. Values below 2 are ignored.
func WithFrameSize(size int) Option {
	return func(a *Assembler) {
		if size >= 2 {
			a.payloadSize = size - 1
		}
	}
}

// WithMaxMessageSize bounds the size of reassembled inbound messages. Zero means unbounded.
func WithMaxMessageSize(size int) Option {
	return func(a *Assembler) {
		if size >= 0 {
			a.maxMessageSize = size
		}
	}
}

// Assembler reassembles inbound fragments into messages and chunks outbound messages into
// fragments. Feed and Reset are not safe for concurrent use; the owning peer serializes them.
// Chunk only reads configuration and may be called at any time.
type Assembler struct {
	buffer         []byte
	payloadSize    int
	maxMessageSize int
}

func NewAssembler(options ...Option) *Assembler {
	a := &Assembler{payloadSize: PayloadSize}
	for _, option := range options {
		option(a)
	}
	return a
}

// PayloadSize returns the number of message bytes a full outbound fragment carries.
func (a *Assembler) PayloadSize() int {
	return a.payloadSize
}

// Buffered returns the number of bytes held from a partially received message.
func (a *Assembler) Buffered() int {
	return len(a.buffer)
}

// Reset discards any partially received message.
func (a *Assembler) Reset() {
	a.buffer = nil
}

// Feed appends the payload of one inbound fragment. If the fragment is final, Feed returns the
// complete message and clears its buffer; otherwise it returns nil.
//
// Malformed fragments return an error wrapping protocol.ErrMalformedFragment and discard the partial
// message, since the remainder of it can no longer be trusted.
func (a *Assembler) Feed(fragment []byte) ([]byte, error) {
	f, err := ParseFragment(fragment)
	if err != nil {
		a.Reset()
		return nil, err
	}

	if a.maxMessageSize > 0 && len(a.buffer)+len(f.Payload) > a.maxMessageSize {
		size := len(a.buffer) + len(f.Payload)
		a.Reset()
		return nil, fmt.Errorf("%w: %d > %d bytes", protocol.ErrMessageTooLarge, size, a.maxMessageSize)
	}

	a.buffer = append(a.buffer, f.Payload...)
	if !f.Final {
		return nil, nil
	}

	message := a.buffer
	if message == nil {
		message = []byte{}
	}
	a.buffer = nil
	return message, nil
}

// Chunk returns the fragments of message in transmission order.
func (a *Assembler) Chunk(message []byte) *Chunks {
	return newChunks(message, a.payloadSize)
}

// Chunks is a single-pass sequence of wire-form fragments. Fragments are produced on demand from
// the message; the sequence cannot be rewound.
type Chunks struct {
	message     []byte
	payloadSize int
	total       int
	next        int
}

func newChunks(message []byte, payloadSize int) *Chunks {
	return &Chunks{
		message:     message,
		payloadSize: payloadSize,
		total:       Count(len(message), payloadSize),
	}
}

// Next returns the next wire-form fragment, or false once every fragment has been produced.
func (c *Chunks) Next() ([]byte, bool) {
	if c.next >= c.total {
		return nil, false
	}
	start := c.next * c.payloadSize
	end := min(start+c.payloadSize, len(c.message))
	final := c.next == c.total-1
	c.next++

	out := make([]byte, 0, end-start+1)
	if final {
		out = append(out, controlFinal)
	} else {
		out = append(out, controlMore)
	}
	return append(out, c.message[start:end]...), true
}

// Count returns the total number of fragments in the sequence.
func (c *Chunks) Count() int {
	return c.total
}

// Remaining returns the number of fragments not yet produced.
func (c *Chunks) Remaining() int {
	return c.total - c.next
}
