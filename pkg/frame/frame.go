/*
Package frame converts between messages and the bounded fragments carried by single BLE
characteristic writes and notifications.

Each fragment starts with one control byte followed by up to [PayloadSize] payload bytes:

	0x00 <payload>   more fragments follow
	0x01 <payload>   last fragment of the message

Fragments carry no sequence numbers. The receiver relies on the link delivering fragments in order
and without duplicates.
*/
package frame

import (
	"fmt"

	"github.com/xconnio/wampble/pkg/protocol"
)

const (
	// FrameSize is the largest fragment, control byte included, that fits one characteristic write.
	FrameSize = 514
	// PayloadSize is the number of message bytes carried by a full fragment.
	PayloadSize = FrameSize - 1

	controlMore  byte = 0x00
	controlFinal byte = 0x01
)

// Fragment is the decoded form of a single write or notification.
type Fragment struct {
	Final   bool
	Payload []byte
}

// MarshalBinary returns the wire form of f.
func (f Fragment) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, len(f.Payload)+1)
	if f.Final {
		out = append(out, controlFinal)
	} else {
		out = append(out, controlMore)
	}
	return append(out, f.Payload...), nil
}

// ParseFragment decodes the wire form of a fragment. The returned payload aliases data.
func ParseFragment(data []byte) (Fragment, error) {
	if len(data) == 0 {
		return Fragment{}, fmt.Errorf("%w: empty fragment", protocol.ErrMalformedFragment)
	}
	switch data[0] {
	case controlMore:
		return Fragment{Final: false, Payload: data[1:]}, nil
	case controlFinal:
		return Fragment{Final: true, Payload: data[1:]}, nil
	}
	return Fragment{}, fmt.Errorf("%w: unknown control byte 0x%02x", protocol.ErrMalformedFragment, data[0])
}

// Count returns the number of fragments needed to carry a message of n bytes when each fragment
// holds at most payloadSize bytes. Empty messages still need one fragment.
func Count(n, payloadSize int) int {
	if n <= 0 {
		return 1
	}
	return (n + payloadSize - 1) / payloadSize
}

// Split eagerly chunks message into decoded fragments of at most PayloadSize bytes.
func Split(message []byte) []Fragment {
	fragments := make([]Fragment, 0, Count(len(message), PayloadSize))
	chunks := newChunks(message, PayloadSize)
	for {
		raw, ok := chunks.Next()
		if !ok {
			return fragments
		}
		f, _ := ParseFragment(raw)
		fragments = append(fragments, f)
	}
}
