/*
Package peer provides a message-oriented endpoint on top of a link that moves single fragments.

A [Peer] keeps at most one fragment write outstanding. The link reports each write's outcome by
calling [Peer.OnWriteCompleted], which releases the next queued fragment. Inbound fragments are
handed to [Peer.HandleFragment] (typically from a notification callback routed through a
dispatcher registry) and complete messages are queued until [Peer.Receive] consumes them.

The inbound queue is unbounded: a consumer that stops calling Receive lets memory grow without
limit.
*/
package peer

import (
	"context"
	"fmt"
	"sync"

	"github.com/xconnio/wampble/internal/log"
	"github.com/xconnio/wampble/pkg/frame"
	"github.com/xconnio/wampble/pkg/protocol"
)

// Writer issues physical fragment writes.
type Writer interface {
	// WriteFragment starts one write and returns without waiting for it to be acknowledged. The
	// link must report the outcome of every accepted write by calling Peer.OnWriteCompleted exactly
	// once, from any goroutine (including synchronously from within WriteFragment). A non-nil
	// return means the write was never started and is treated as a failed completion.
	WriteFragment(fragment []byte) error
}

// SendPolicy controls what happens to queued messages when a new message is sent.
type SendPolicy int

const (
	// SendAppend queues each message behind those already queued. Messages are delivered end to
	// end in call order.
	SendAppend SendPolicy = iota

	// SendReplace discards queued messages that have not started transmitting when a new message
	// is sent; their Send calls fail with protocol.ErrSendSuperseded. A message already partially
	// written always finishes first.
	SendReplace
)

func (s SendPolicy) String() string {
	switch s {
	case SendAppend:
		return "append"
	case SendReplace:
		return "replace"
	}
	return fmt.Sprintf("SendPolicy(%d)", int(s))
}

// Stats counts traffic through a Peer.
type Stats struct {
	FragmentsSent     int
	FragmentsReceived int
	MessagesSent      int
	MessagesReceived  int
	WriteFailures     int
	MalformedDropped  int
}

// Option configures a Peer.
type Option func(*Peer)

// WithSendPolicy sets the queueing policy for Send. The default is SendAppend.
func WithSendPolicy(policy SendPolicy) Option {
	return func(p *Peer) {
		p.policy = policy
	}
}

// WithAssemblerOptions configures the Peer's fragment assembler (frame size, inbound size limit).
func WithAssemblerOptions(options ...frame.Option) Option {
	return func(p *Peer) {
		p.assemblerOptions = append(p.assemblerOptions, options...)
	}
}

// WithName sets the label used in log messages.
func WithName(name string) Option {
	return func(p *Peer) {
		p.name = name
	}
}

// WithOnClose registers a function that releases link resources. It runs once, when the Peer is
// closed or disconnected.
func WithOnClose(onClose func() error) Option {
	return func(p *Peer) {
		p.onClose = onClose
	}
}

type outbound struct {
	chunks *frame.Chunks
	total  int
	done   chan error
}

func (o *outbound) started() bool {
	return o.chunks.Remaining() < o.total
}

// Peer is a flow-controlled, message-oriented endpoint. Peer implements connector.Peer.
type Peer struct {
	name             string
	writer           Writer
	policy           SendPolicy
	onClose          func() error
	assemblerOptions []frame.Option

	lock          sync.Mutex
	assembler     *frame.Assembler
	queue         []*outbound
	writeInFlight bool
	draining      bool
	halted        bool
	inbox         [][]byte
	receiving     bool
	stats         Stats
	err           error

	inboxSignal chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once
}

// New creates a Peer that writes fragments through w.
func New(w Writer, options ...Option) *Peer {
	p := &Peer{
		name:        "peer",
		writer:      w,
		inboxSignal: make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
	for _, option := range options {
		option(p)
	}
	p.assembler = frame.NewAssembler(p.assemblerOptions...)
	return p
}

// Send chunks message, queues its fragments, and blocks until the final fragment is acknowledged.
//
// If a fragment write fails, Send returns a *protocol.WriteError and the rest of the message is
// discarded. No fragment is retried, and the Peer stops writing queued messages until the next
// call to Send or Resume.
//
// If ctx is done before the message starts transmitting, the message is withdrawn from the queue.
// A message that is partially written keeps draining so the remote side is not left holding a
// truncated message, but Send returns ctx.Err() immediately.
func (p *Peer) Send(ctx context.Context, message []byte) error {
	chunks := p.assembler.Chunk(message)
	msg := &outbound{
		chunks: chunks,
		total:  chunks.Count(),
		done:   make(chan error, 1),
	}

	p.lock.Lock()
	if p.err != nil {
		p.lock.Unlock()
		return p.err
	}
	if p.policy == SendReplace {
		p.supersedeLocked()
	}
	p.queue = append(p.queue, msg)
	p.halted = false
	p.lock.Unlock()

	log.Debug("[%s] TX: %d-byte message in %d fragments", p.name, len(message), msg.total)
	p.drain()

	select {
	case err := <-msg.done:
		return err
	case <-ctx.Done():
		p.lock.Lock()
		p.withdrawLocked(msg)
		p.lock.Unlock()
		// Completion is recorded under the lock, so a finished message is visible here.
		select {
		case err := <-msg.done:
			return err
		default:
			return ctx.Err()
		}
	}
}

// Resume restarts draining after a write failure halted the queue.
func (p *Peer) Resume() {
	p.lock.Lock()
	p.halted = false
	p.lock.Unlock()
	p.drain()
}

// supersedeLocked drops queued messages that have not started transmitting.
func (p *Peer) supersedeLocked() {
	kept := p.queue[:0]
	for _, msg := range p.queue {
		if msg.started() {
			kept = append(kept, msg)
			continue
		}
		msg.done <- protocol.ErrSendSuperseded
	}
	p.queue = kept
}

func (p *Peer) withdrawLocked(msg *outbound) {
	if msg.started() {
		return
	}
	for i, queued := range p.queue {
		if queued == msg {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return
		}
	}
}

// nextFragmentLocked pops the next fragment to write, if writing is allowed.
func (p *Peer) nextFragmentLocked() ([]byte, bool) {
	if p.writeInFlight || p.halted || p.err != nil {
		return nil, false
	}
	for len(p.queue) > 0 {
		fragment, ok := p.queue[0].chunks.Next()
		if ok {
			p.writeInFlight = true
			return fragment, true
		}
		// Fully written messages leave the queue when their last write completes, so this only
		// skips entries left behind by a failure.
		p.queue = p.queue[1:]
	}
	return nil, false
}

// drain issues writes until one is in flight or nothing is left to write. Only one goroutine
// drains at a time; completions that arrive while another goroutine is draining are picked up by
// that goroutine's loop.
func (p *Peer) drain() {
	p.lock.Lock()
	if p.draining {
		p.lock.Unlock()
		return
	}
	p.draining = true
	for {
		fragment, ok := p.nextFragmentLocked()
		if !ok {
			p.draining = false
			p.lock.Unlock()
			return
		}
		p.lock.Unlock()

		log.Debug("[%s] TX: %02x", p.name, fragment)
		err := p.writer.WriteFragment(fragment)

		p.lock.Lock()
		if err != nil && p.writeInFlight {
			p.completeLocked(err)
		}
	}
}

// OnWriteCompleted records the outcome of the outstanding fragment write and, on success,
// continues draining the queue.
func (p *Peer) OnWriteCompleted(err error) {
	p.lock.Lock()
	if p.err != nil {
		p.lock.Unlock()
		return
	}
	if !p.writeInFlight {
		p.lock.Unlock()
		log.Warning("[%s] Ignoring write completion with no write in flight", p.name)
		return
	}
	p.completeLocked(err)
	p.lock.Unlock()
	p.drain()
}

// completeLocked finishes the in-flight write. The in-flight fragment always belongs to the head
// of the queue: only messages that have not started can be withdrawn or superseded.
func (p *Peer) completeLocked(err error) {
	p.writeInFlight = false
	if len(p.queue) == 0 {
		return
	}
	msg := p.queue[0]
	if err != nil {
		index := msg.total - msg.chunks.Remaining() - 1
		p.stats.WriteFailures++
		p.halted = true
		p.queue = p.queue[1:]
		log.Error("[%s] Write of fragment %d/%d failed: %s", p.name, index+1, msg.total, err)
		msg.done <- &protocol.WriteError{Fragment: index, Total: msg.total, Err: err}
		return
	}

	p.stats.FragmentsSent++
	if msg.chunks.Remaining() == 0 {
		p.queue = p.queue[1:]
		p.stats.MessagesSent++
		msg.done <- nil
	}
}

// HandleFragment feeds one inbound fragment to the Peer's assembler. Complete messages are queued
// for Receive. Malformed fragments are logged and dropped along with any partial message.
func (p *Peer) HandleFragment(fragment []byte) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.err != nil {
		return
	}

	log.Debug("[%s] RX: %02x", p.name, fragment)
	p.stats.FragmentsReceived++
	message, err := p.assembler.Feed(fragment)
	if err != nil {
		p.stats.MalformedDropped++
		log.Warning("[%s] Dropping inbound fragment: %s", p.name, err)
		return
	}
	if message == nil {
		return
	}

	p.stats.MessagesReceived++
	p.inbox = append(p.inbox, message)
	select {
	case p.inboxSignal <- struct{}{}:
	default:
	}
}

// Receive returns the next complete inbound message. Only one Receive may be pending at a time;
// a concurrent call fails with protocol.ErrReceiveInProgress.
func (p *Peer) Receive(ctx context.Context) ([]byte, error) {
	p.lock.Lock()
	if p.err != nil {
		p.lock.Unlock()
		return nil, p.err
	}
	if p.receiving {
		p.lock.Unlock()
		return nil, protocol.ErrReceiveInProgress
	}
	p.receiving = true
	p.lock.Unlock()

	defer func() {
		p.lock.Lock()
		p.receiving = false
		p.lock.Unlock()
	}()

	for {
		p.lock.Lock()
		if p.err != nil {
			err := p.err
			p.lock.Unlock()
			return nil, err
		}
		if len(p.inbox) > 0 {
			message := p.inbox[0]
			p.inbox[0] = nil
			p.inbox = p.inbox[1:]
			p.lock.Unlock()
			return message, nil
		}
		p.lock.Unlock()

		select {
		case <-p.inboxSignal:
		case <-p.closed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close releases the link. Pending and future Send and Receive calls fail with
// protocol.ErrDisconnected. Repeated calls are no-ops.
func (p *Peer) Close() error {
	return p.shutdown(protocol.ErrDisconnected)
}

// Disconnect marks the Peer as disconnected because the underlying link dropped. Operations fail
// with an error that wraps both protocol.ErrDisconnected and cause.
func (p *Peer) Disconnect(cause error) {
	err := protocol.ErrDisconnected
	if cause != nil {
		err = fmt.Errorf("%w: %w", protocol.ErrDisconnected, cause)
	}
	if closeErr := p.shutdown(err); closeErr != nil {
		log.Warning("[%s] Failed to release link: %s", p.name, closeErr)
	}
}

func (p *Peer) shutdown(reason error) error {
	var err error
	p.closeOnce.Do(func() {
		p.lock.Lock()
		p.err = reason
		pending := p.queue
		p.queue = nil
		p.inbox = nil
		p.writeInFlight = false
		close(p.closed)
		p.lock.Unlock()

		for _, msg := range pending {
			msg.done <- reason
		}
		log.Info("[%s] Peer closed: %s", p.name, reason)
		if p.onClose != nil {
			err = p.onClose()
		}
	})
	return err
}

// Done returns a channel that is closed when the Peer closes or disconnects.
func (p *Peer) Done() <-chan struct{} {
	return p.closed
}

// Err returns nil while the Peer is open, and the error operations fail with afterwards.
func (p *Peer) Err() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.err
}

// Stats returns a snapshot of the Peer's traffic counters.
func (p *Peer) Stats() Stats {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.stats
}

// Name returns the Peer's log label.
func (p *Peer) Name() string {
	return p.name
}

// PayloadSize returns the number of message bytes carried by a full outbound fragment.
func (p *Peer) PayloadSize() int {
	return p.assembler.PayloadSize()
}
