package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xconnio/wampble/pkg/connector"
	"github.com/xconnio/wampble/pkg/connector/pipe"
	"github.com/xconnio/wampble/pkg/peer"
	"github.com/xconnio/wampble/pkg/protocol"
	"github.com/xconnio/wampble/pkg/wamp"
)

type countingPeer struct {
	connector.Peer
	sends atomic.Int32
}

func (c *countingPeer) Send(ctx context.Context, message []byte) error {
	c.sends.Add(1)
	return c.Peer.Send(ctx, message)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// scriptedRouter answers HELLO with the given number of ticket challenges and then WELCOME.
func scriptedRouter(ctx context.Context, t *testing.T, p *peer.Peer, serializer wamp.Serializer, challenges int) {
	t.Helper()
	send := func(msg wamp.Message) {
		payload, err := serializer.Serialize(msg)
		if err != nil {
			t.Errorf("serialize %s: %s", msg.Type(), err)
			return
		}
		if err := p.Send(ctx, payload); err != nil {
			t.Errorf("router send: %s", err)
		}
	}
	receive := func(expected wamp.MessageType) bool {
		payload, err := p.Receive(ctx)
		if err != nil {
			t.Errorf("router receive: %s", err)
			return false
		}
		msg, err := serializer.Deserialize(payload)
		if err != nil || msg.Type() != expected {
			t.Errorf("Expected %s, got %v (%v)", expected, msg, err)
			return false
		}
		return true
	}

	if !receive(wamp.TypeHello) {
		return
	}
	for i := 0; i < challenges; i++ {
		send(&wamp.Challenge{AuthMethod: wamp.MethodTicket})
		if !receive(wamp.TypeAuthenticate) {
			return
		}
	}
	send(&wamp.Welcome{SessionID: 1234, Details: map[string]any{
		"authid":   "alice",
		"authrole": "user",
	}})
}

func TestJoinIssuesOneSendPerRound(t *testing.T) {
	serializer := wamp.CBORSerializer{}
	for _, k := range []int{0, 1, 4} {
		a, b := pipe.New()
		ctx := testContext(t)
		routerDone := make(chan struct{})
		go func() {
			defer close(routerDone)
			scriptedRouter(ctx, t, b, serializer, k)
		}()

		client := &countingPeer{Peer: a}
		s, err := Join(ctx, client, "realm1", serializer, WithAuthenticator(wamp.NewTicketAuthenticator("alice", "t")))
		if err != nil {
			t.Fatalf("k=%d: join failed: %s", k, err)
		}
		if n := int(client.sends.Load()); n != k+1 {
			t.Errorf("k=%d: expected %d sends, got %d", k, k+1, n)
		}
		if s.ID() != 1234 || s.AuthID() != "alice" || s.AuthRole() != "user" || s.Realm() != "realm1" {
			t.Errorf("k=%d: unexpected details %+v", k, s.Details())
		}
		<-routerDone
		s.Close()
	}
}

func TestJoinAgainstAcceptor(t *testing.T) {
	ctx := testContext(t)
	a, b := pipe.New()
	serializer := wamp.MsgPackSerializer{}

	verifier := &wamp.StaticVerifier{Secrets: map[string]string{"bob": "hunter2"}, Role: "operator"}
	routerResult := make(chan *Session, 1)
	go func() {
		router, err := Accept(ctx, b, wamp.NewAcceptor(serializer, wamp.WithVerifier(verifier)), serializer)
		if err != nil {
			t.Errorf("Accept failed: %s", err)
		}
		routerResult <- router
	}()

	s, err := Join(ctx, a, "realm1", serializer, WithAuthenticator(wamp.NewCRAAuthenticator("bob", "hunter2")))
	if err != nil {
		t.Fatal(err)
	}
	router := <-routerResult
	if router == nil {
		t.FailNow()
	}
	if router.ID() != s.ID() || s.AuthRole() != "operator" {
		t.Errorf("Session mismatch: client %+v, router %+v", s.Details(), router.Details())
	}

	// Messages flow both ways after the handshake.
	go router.SendMessage(ctx, &wamp.Challenge{AuthMethod: "ping"})
	msg, err := s.ReceiveMessage(ctx)
	if err != nil || msg.Type() != wamp.TypeChallenge {
		t.Fatalf("Unexpected message %v, %v", msg, err)
	}

	// Router answers GOODBYE.
	go func() {
		msg, err := router.ReceiveMessage(ctx)
		if err != nil || msg.Type() != wamp.TypeGoodbye {
			t.Errorf("Expected GOODBYE, got %v, %v", msg, err)
			return
		}
		router.SendMessage(ctx, &wamp.Goodbye{Reason: wamp.ReasonGoodbyeAndOut})
	}()
	if err := s.Leave(ctx, ""); err != nil {
		t.Fatalf("Leave failed: %s", err)
	}
	if _, err := s.Receive(ctx); !errors.Is(err, protocol.ErrDisconnected) {
		t.Errorf("Expected closed session, got %v", err)
	}
}

func TestJoinAbortClosesPeer(t *testing.T) {
	ctx := testContext(t)
	a, b := pipe.New()
	serializer := wamp.JSONSerializer{}
	go func() {
		if _, err := Accept(ctx, b, wamp.NewAcceptor(serializer, wamp.WithRealms("realm1")), serializer); err == nil {
			t.Error("Expected router to reject session")
		}
	}()

	_, err := Join(ctx, a, "nope", serializer)
	var abortErr *protocol.AbortError
	if !errors.As(err, &abortErr) || abortErr.Reason != wamp.ReasonNoSuchRealm {
		t.Fatalf("Expected abort, got %v", err)
	}
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Error("Peer not closed after failed join")
	}
}

func TestJoinMalformedReply(t *testing.T) {
	ctx := testContext(t)
	a, b := pipe.New()
	go func() {
		if _, err := b.Receive(ctx); err == nil {
			b.Send(ctx, []byte("definitely not cbor"))
		}
	}()

	client := &countingPeer{Peer: a}
	_, err := Join(ctx, client, "realm1", wamp.CBORSerializer{})
	var handshakeErr *protocol.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("Expected handshake error, got %v", err)
	}
	if n := client.sends.Load(); n != 1 {
		t.Errorf("Expected no sends after failure, got %d", n)
	}
}

func TestJoinRemoteDisconnect(t *testing.T) {
	ctx := testContext(t)
	a, b := pipe.New()
	go func() {
		b.Receive(ctx)
		b.Close()
	}()
	_, err := Join(ctx, a, "realm1", wamp.CBORSerializer{})
	if !errors.Is(err, protocol.ErrDisconnected) {
		t.Fatalf("Expected disconnect, got %v", err)
	}
}

func TestJoinContextDeadline(t *testing.T) {
	a, b := pipe.New()
	defer b.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Join(ctx, a, "realm1", wamp.CBORSerializer{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline, got %v", err)
	}
}

func TestAcceptRejectionReachesClient(t *testing.T) {
	ctx := testContext(t)
	a, b := pipe.New()
	serializer := wamp.CBORSerializer{}

	verifier := &wamp.StaticVerifier{Tickets: map[string]string{"alice": "right"}}
	routerErr := make(chan error, 1)
	go func() {
		_, err := Accept(ctx, b, wamp.NewAcceptor(serializer, wamp.WithVerifier(verifier)), serializer)
		routerErr <- err
	}()

	_, err := Join(ctx, a, "realm1", serializer, WithAuthenticator(wamp.NewTicketAuthenticator("alice", "wrong")))
	var abort *protocol.AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("Expected ABORT, got %v", err)
	}
	if abort.Reason != wamp.ReasonAuthenticationFailed {
		t.Errorf("Unexpected reason %s", abort.Reason)
	}
	if err := <-routerErr; err == nil {
		t.Error("Expected Accept to fail")
	}
	if !errors.Is(b.Err(), protocol.ErrDisconnected) {
		t.Errorf("Expected router side to be closed, got %v", b.Err())
	}
}
