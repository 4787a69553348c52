// Package pipe joins two peers with an in-memory link that behaves like a BLE characteristic pair:
// writes are delivered asynchronously, one at a time, and acknowledged after delivery.
package pipe

import (
	"errors"
	"sync"
	"time"

	"github.com/xconnio/wampble/pkg/peer"
)

// FaultFunc decides whether the seq-th write (1-based) issued by side ("a" or "b") fails. A failed
// write is not delivered.
type FaultFunc func(side string, seq int) error

type config struct {
	latency     time.Duration
	fault       FaultFunc
	peerOptions []peer.Option
}

// Option configures a pipe.
type Option func(*config)

// WithLatency delays every delivery by d.
func WithLatency(d time.Duration) Option {
	return func(c *config) {
		c.latency = d
	}
}

// WithFault injects write failures.
func WithFault(fault FaultFunc) Option {
	return func(c *config) {
		c.fault = fault
	}
}

// WithPeerOptions applies options to both peers.
func WithPeerOptions(options ...peer.Option) Option {
	return func(c *config) {
		c.peerOptions = append(c.peerOptions, options...)
	}
}

var (
	errClosed       = errors.New("pipe: link closed")
	errRemoteClosed = errors.New("pipe: remote peer closed the link")
)

type link struct {
	stop     chan struct{}
	stopOnce sync.Once
}

// shutdown stops the link and reports whether this call was the one that stopped it.
func (l *link) shutdown() bool {
	first := false
	l.stopOnce.Do(func() {
		close(l.stop)
		first = true
	})
	return first
}

type radio struct {
	side   string
	config *config
	link   *link
	out    chan []byte
	local  *peer.Peer
	remote *peer.Peer
	seq    int
}

func (r *radio) WriteFragment(fragment []byte) error {
	select {
	case <-r.link.stop:
		return errClosed
	default:
	}
	buffer := append([]byte{}, fragment...)
	select {
	case r.out <- buffer:
		return nil
	case <-r.link.stop:
		return errClosed
	}
}

func (r *radio) run() {
	for {
		select {
		case fragment := <-r.out:
			r.seq++
			if r.config.latency > 0 {
				select {
				case <-time.After(r.config.latency):
				case <-r.link.stop:
					return
				}
			}
			var err error
			if r.config.fault != nil {
				err = r.config.fault(r.side, r.seq)
			}
			if err == nil {
				r.remote.HandleFragment(fragment)
			}
			r.local.OnWriteCompleted(err)
		case <-r.link.stop:
			return
		}
	}
}

// New returns two connected peers. Closing either peer disconnects the other.
func New(options ...Option) (a, b *peer.Peer) {
	cfg := &config{}
	for _, option := range options {
		option(cfg)
	}
	l := &link{stop: make(chan struct{})}

	// One slot per direction is enough: a Peer never has more than one write outstanding.
	ra := &radio{side: "a", config: cfg, link: l, out: make(chan []byte, 1)}
	rb := &radio{side: "b", config: cfg, link: l, out: make(chan []byte, 1)}

	a = peer.New(ra, append([]peer.Option{peer.WithName("pipe-a"), peer.WithOnClose(closer(l, &rb.local))}, cfg.peerOptions...)...)
	b = peer.New(rb, append([]peer.Option{peer.WithName("pipe-b"), peer.WithOnClose(closer(l, &ra.local))}, cfg.peerOptions...)...)
	ra.local, ra.remote = a, b
	rb.local, rb.remote = b, a

	go ra.run()
	go rb.run()
	return a, b
}

// closer stops the link and reports the drop to the opposite peer.
func closer(l *link, other **peer.Peer) func() error {
	return func() error {
		// Only the side that stops the link notifies the other, so the peers' close paths never
		// re-enter each other.
		if l.shutdown() && *other != nil {
			(*other).Disconnect(errRemoteClosed)
		}
		return nil
	}
}
