// Package session drives the WAMP handshake over a connector.Peer and wraps the result in a
// Session handle that exchanges serialized messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xconnio/wampble/internal/log"
	"github.com/xconnio/wampble/pkg/connector"
	"github.com/xconnio/wampble/pkg/wamp"
)

type joinConfig struct {
	authenticator wamp.Authenticator
}

// JoinOption configures Join.
type JoinOption func(*joinConfig)

// WithAuthenticator selects how the client authenticates. The default is anonymous.
func WithAuthenticator(a wamp.Authenticator) JoinOption {
	return func(c *joinConfig) {
		c.authenticator = a
	}
}

// Session is an established WAMP session on top of a Peer.
type Session struct {
	peer       connector.Peer
	serializer wamp.Serializer
	details    *wamp.SessionDetails
	closeOnce  sync.Once
	closeErr   error
}

// Join sends HELLO over p and answers the router until it replies with WELCOME or ABORT. The number
// of CHALLENGE rounds is up to the router; Join loops until the handshake finishes, fails, or ctx
// ends.
//
// On failure Join sends nothing further, closes p and returns the error: a *protocol.AbortError if
// the router refused the session, a *protocol.HandshakeError for protocol violations, or the
// transport error.
func Join(ctx context.Context, p connector.Peer, realm string, serializer wamp.Serializer, options ...JoinOption) (*Session, error) {
	var cfg joinConfig
	for _, option := range options {
		option(&cfg)
	}
	joiner := wamp.NewJoiner(realm, serializer, cfg.authenticator)

	fail := func(err error) (*Session, error) {
		if closeErr := p.Close(); closeErr != nil {
			log.Warning("Error closing peer after failed join: %s", closeErr)
		}
		return nil, err
	}

	payload, err := joiner.SendHello()
	if err != nil {
		return fail(err)
	}
	for payload != nil {
		if err := p.Send(ctx, payload); err != nil {
			return fail(fmt.Errorf("session: send during handshake: %w", err))
		}
		reply, err := p.Receive(ctx)
		if err != nil {
			return fail(fmt.Errorf("session: receive during handshake: %w", err))
		}
		if payload, err = joiner.Receive(reply); err != nil {
			return fail(err)
		}
	}

	details := joiner.SessionDetails()
	log.Info("Joined realm %s as session %d (authid=%s, authrole=%s)", details.Realm, details.ID, details.AuthID, details.AuthRole)
	return &Session{peer: p, serializer: serializer, details: details}, nil
}

const abortLinger = time.Second

// awaitHangup waits for the remote side to close p, if p can report that.
func awaitHangup(ctx context.Context, p connector.Peer) {
	closer, ok := p.(interface{ Done() <-chan struct{} })
	if !ok {
		return
	}
	select {
	case <-closer.Done():
	case <-ctx.Done():
	case <-time.After(abortLinger):
	}
}

// Accept runs the router side of the handshake over p. On failure the ABORT (if any) is sent before
// p is closed. Closing discards messages the client has not read yet, so after an ABORT Accept waits
// up to abortLinger for the client to hang up first.
func Accept(ctx context.Context, p connector.Peer, acceptor *wamp.Acceptor, serializer wamp.Serializer) (*Session, error) {
	for {
		payload, err := p.Receive(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("session: receive during handshake: %w", err)
		}
		reply, done, acceptErr := acceptor.Receive(payload)
		if reply != nil {
			if err := p.Send(ctx, reply); err != nil {
				p.Close()
				return nil, fmt.Errorf("session: send during handshake: %w", err)
			}
		}
		if acceptErr != nil {
			log.Warning("Rejected session: %s", acceptErr)
			if reply != nil {
				awaitHangup(ctx, p)
			}
			p.Close()
			return nil, acceptErr
		}
		if done {
			return &Session{peer: p, serializer: serializer, details: acceptor.SessionDetails()}, nil
		}
	}
}

func (s *Session) Details() *wamp.SessionDetails {
	return s.details
}

func (s *Session) ID() uint64 {
	return s.details.ID
}

func (s *Session) Realm() string {
	return s.details.Realm
}

func (s *Session) AuthID() string {
	return s.details.AuthID
}

func (s *Session) AuthRole() string {
	return s.details.AuthRole
}

func (s *Session) Serializer() wamp.Serializer {
	return s.serializer
}

// Send transmits an already serialized message.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	return s.peer.Send(ctx, payload)
}

// Receive returns the next raw message.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	return s.peer.Receive(ctx)
}

func (s *Session) SendMessage(ctx context.Context, msg wamp.Message) error {
	payload, err := s.serializer.Serialize(msg)
	if err != nil {
		return err
	}
	return s.peer.Send(ctx, payload)
}

func (s *Session) ReceiveMessage(ctx context.Context) (wamp.Message, error) {
	payload, err := s.peer.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return s.serializer.Deserialize(payload)
}

// Leave sends GOODBYE, waits for the router's GOODBYE and closes the session. Messages that arrive
// in between are discarded.
func (s *Session) Leave(ctx context.Context, reason string) error {
	if reason == "" {
		reason = wamp.ReasonCloseRealm
	}
	err := s.leave(ctx, reason)
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (s *Session) leave(ctx context.Context, reason string) error {
	if err := s.SendMessage(ctx, &wamp.Goodbye{Reason: reason}); err != nil {
		return err
	}
	for {
		msg, err := s.ReceiveMessage(ctx)
		if errors.Is(err, wamp.ErrInvalidMessage) {
			log.Debug("Ignoring message while leaving: %s", err)
			continue
		} else if err != nil {
			return err
		}
		if goodbye, ok := msg.(*wamp.Goodbye); ok {
			log.Info("Left session %d: %s", s.details.ID, goodbye.Reason)
			return nil
		}
		log.Debug("Ignoring %s while leaving", msg.Type())
	}
}

// Close releases the underlying link without a GOODBYE exchange.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.peer.Close()
	})
	return s.closeErr
}
