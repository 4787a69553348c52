package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/xconnio/wampble/internal/log"
	"github.com/xconnio/wampble/pkg/connector/pipe"
	"github.com/xconnio/wampble/pkg/peer"
	"github.com/xconnio/wampble/pkg/session"
	"github.com/xconnio/wampble/pkg/wamp"
)

// loopbackVerifier accepts exactly the credentials the client was configured with.
func loopbackVerifier(auth wamp.Authenticator, secret string) (*wamp.StaticVerifier, error) {
	v := &wamp.StaticVerifier{Role: "user"}
	switch a := auth.(type) {
	case *wamp.AnonymousAuthenticator:
		v.Anonymous = true
		v.Role = "anonymous"
	case *wamp.TicketAuthenticator:
		v.Tickets = map[string]string{a.AuthID(): secret}
	case *wamp.CRAAuthenticator:
		v.Secrets = map[string]string{a.AuthID(): secret}
	case *wamp.CryptosignAuthenticator:
		v.PublicKeys = map[string]string{a.AuthID(): a.PublicKey()}
	default:
		return nil, fmt.Errorf("loopback router does not support %s", auth.Method())
	}
	return v, nil
}

// startLoopback connects the client to an in-process router over a pipe. The router echoes every
// message back to the client until it receives GOODBYE.
func startLoopback(ctx context.Context, realm string, serializer wamp.Serializer, verifier wamp.Verifier, options ...pipe.Option) *peer.Peer {
	clientSide, routerSide := pipe.New(options...)
	acceptor := wamp.NewAcceptor(serializer, wamp.WithRealms(realm), wamp.WithVerifier(verifier))
	go runEchoRouter(ctx, routerSide, acceptor, serializer)
	return clientSide
}

func runEchoRouter(ctx context.Context, p *peer.Peer, acceptor *wamp.Acceptor, serializer wamp.Serializer) {
	s, err := session.Accept(ctx, p, acceptor, serializer)
	if err != nil {
		log.Warning("loopback: rejected client: %s", err)
		return
	}
	defer s.Close()
	log.Info("loopback: session %d joined %s as %s", s.ID(), s.Realm(), s.AuthID())

	for {
		payload, err := s.Receive(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Debug("loopback: %s", err)
			}
			return
		}
		fields, err := serializer.Decode(payload)
		if err != nil {
			log.Warning("loopback: dropping undecodable message: %s", err)
			continue
		}
		if t, _ := wamp.TypeOf(fields); t == wamp.TypeGoodbye {
			if err := s.SendMessage(ctx, &wamp.Goodbye{Reason: wamp.ReasonGoodbyeAndOut}); err != nil {
				log.Warning("loopback: failed to answer GOODBYE: %s", err)
				return
			}
			// Closing now could discard the reply before the client reads it.
			select {
			case <-p.Done():
			case <-ctx.Done():
			}
			return
		}
		if err := s.Send(ctx, payload); err != nil {
			log.Warning("loopback: echo failed: %s", err)
			return
		}
	}
}
