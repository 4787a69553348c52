package wamp

import (
	"fmt"

	"github.com/xconnio/wampble/pkg/protocol"
)

// SessionDetails describes an established session. It is not modified after the handshake.
type SessionDetails struct {
	ID           uint64
	Realm        string
	AuthID       string
	AuthRole     string
	AuthMethod   string
	AuthProvider string
	AuthExtra    map[string]any
	Roles        map[string]any
}

func detailsFromWelcome(realm string, w *Welcome) *SessionDetails {
	d := &SessionDetails{ID: w.SessionID, Realm: realm}
	d.AuthID, _ = w.Details["authid"].(string)
	d.AuthRole, _ = w.Details["authrole"].(string)
	d.AuthMethod, _ = w.Details["authmethod"].(string)
	d.AuthProvider, _ = w.Details["authprovider"].(string)
	d.AuthExtra, _ = w.Details["authextra"].(map[string]any)
	d.Roles, _ = w.Details["roles"].(map[string]any)
	return d
}

// JoinState is the position of a Joiner in the handshake.
type JoinState int

const (
	StateAwaitingInitialSend JoinState = iota
	StateAwaitingResponse
	StateComplete
	StateFailed
)

func (s JoinState) String() string {
	switch s {
	case StateAwaitingInitialSend:
		return "awaiting initial send"
	case StateAwaitingResponse:
		return "awaiting response"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("JoinState(%d)", int(s))
}

// clientRoles are announced in HELLO. The session handle built on top of this package only carries
// raw messages, but routers expect at least one role.
func clientRoles() map[string]any {
	return map[string]any{
		"caller":     map[string]any{},
		"callee":     map[string]any{},
		"publisher":  map[string]any{},
		"subscriber": map[string]any{},
	}
}

// Joiner is the client side of the session handshake. It produces and consumes serialized payloads
// and leaves transport to the caller:
//
//	hello, err := j.SendHello()
//	// send hello
//	for {
//		// receive reply
//		next, err := j.Receive(reply)
//		if err != nil || next == nil {
//			break
//		}
//		// send next
//	}
//
// A Joiner is not safe for concurrent use.
type Joiner struct {
	realm         string
	serializer    Serializer
	authenticator Authenticator
	state         JoinState
	details       *SessionDetails
	err           error
}

// NewJoiner returns a Joiner for realm. A nil authenticator joins anonymously.
func NewJoiner(realm string, serializer Serializer, authenticator Authenticator) *Joiner {
	if authenticator == nil {
		authenticator = &AnonymousAuthenticator{}
	}
	return &Joiner{realm: realm, serializer: serializer, authenticator: authenticator}
}

func (j *Joiner) State() JoinState {
	return j.state
}

// SessionDetails returns the details from WELCOME, or nil before the handshake completes.
func (j *Joiner) SessionDetails() *SessionDetails {
	return j.details
}

// Err returns the error that moved the Joiner to StateFailed.
func (j *Joiner) Err() error {
	return j.err
}

// SendHello returns the serialized HELLO. It may only be called once, before any Receive.
func (j *Joiner) SendHello() ([]byte, error) {
	if j.state != StateAwaitingInitialSend {
		return nil, j.wrongState("SendHello")
	}
	details := map[string]any{
		"roles":       clientRoles(),
		"authmethods": []any{j.authenticator.Method()},
	}
	if id := j.authenticator.AuthID(); id != "" {
		details["authid"] = id
	}
	if extra := j.authenticator.AuthExtra(); extra != nil {
		details["authextra"] = extra
	}
	payload, err := j.serializer.Serialize(&Hello{Realm: j.realm, Details: details})
	if err != nil {
		return nil, j.fail(&protocol.HandshakeError{Reason: "cannot serialize HELLO", Err: err})
	}
	j.state = StateAwaitingResponse
	return payload, nil
}

// Receive consumes one message from the router. It returns the next payload to send, or nil once
// the session is established. Any error leaves the Joiner in StateFailed: an ABORT yields a
// *protocol.AbortError and anything unexpected a *protocol.HandshakeError.
func (j *Joiner) Receive(data []byte) ([]byte, error) {
	if j.state != StateAwaitingResponse {
		return nil, j.wrongState("Receive")
	}
	msg, err := j.serializer.Deserialize(data)
	if err != nil {
		return nil, j.fail(&protocol.HandshakeError{Reason: "cannot decode message", Err: err})
	}

	switch m := msg.(type) {
	case *Welcome:
		j.details = detailsFromWelcome(j.realm, m)
		j.state = StateComplete
		return nil, nil
	case *Abort:
		return nil, j.fail(&protocol.AbortError{Reason: m.Reason, Details: m.Details})
	case *Challenge:
		if m.AuthMethod != j.authenticator.Method() {
			return nil, j.fail(&protocol.HandshakeError{
				Reason: fmt.Sprintf("challenge for %q but %q was offered", m.AuthMethod, j.authenticator.Method()),
			})
		}
		reply, err := j.authenticator.Authenticate(m)
		if err != nil {
			return nil, j.fail(&protocol.HandshakeError{Reason: "cannot answer challenge", Err: err})
		}
		payload, err := j.serializer.Serialize(reply)
		if err != nil {
			return nil, j.fail(&protocol.HandshakeError{Reason: "cannot serialize AUTHENTICATE", Err: err})
		}
		return payload, nil
	}
	return nil, j.fail(&protocol.HandshakeError{Reason: fmt.Sprintf("unexpected %s", msg.Type())})
}

func (j *Joiner) wrongState(op string) error {
	if j.state == StateFailed {
		return j.err
	}
	err := &protocol.HandshakeError{Reason: fmt.Sprintf("%s called while %s", op, j.state)}
	if j.state == StateComplete {
		return err
	}
	return j.fail(err)
}

func (j *Joiner) fail(err error) error {
	j.state = StateFailed
	j.err = err
	return err
}
