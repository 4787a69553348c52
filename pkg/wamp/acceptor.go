package wamp

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/xconnio/wampble/pkg/protocol"
)

// Abort reasons sent by the Acceptor.
const (
	ReasonNoSuchRealm          = "wamp.error.no_such_realm"
	ReasonNoAuthMethod         = "wamp.error.no_auth_method"
	ReasonAuthenticationFailed = "wamp.error.authentication_failed"
	ReasonProtocolViolation    = "wamp.error.protocol_violation"
	ReasonCloseRealm           = "wamp.close.close_realm"
	ReasonGoodbyeAndOut        = "wamp.close.goodbye_and_out"
)

// ErrAuthenticationFailed is returned by verifiers that reject credentials.
var ErrAuthenticationFailed = errors.New("wamp: authentication failed")

// Verifier decides how a router authenticates joining clients.
type Verifier interface {
	Supports(method string) bool
	// Challenge returns the CHALLENGE to send for method, or nil to admit the client immediately.
	Challenge(method string, hello *Hello) (*Challenge, error)
	// Verify checks the client's answer and returns the authrole to assign.
	Verify(method string, hello *Hello, challenge *Challenge, reply *Authenticate) (string, error)
}

// StaticVerifier authenticates against fixed credential tables keyed by authid.
type StaticVerifier struct {
	Anonymous  bool
	Tickets    map[string]string
	Secrets    map[string]string
	PublicKeys map[string]string // hex-encoded Ed25519 keys
	// Salt, when set, makes WAMP-CRA clients derive their key with PBKDF2. Zero Iterations and
	// KeyLen mean DefaultCRAIterations and DefaultCRAKeyLen.
	Salt       string
	Iterations int
	KeyLen     int
	Role       string
}

func (v *StaticVerifier) role() string {
	if v.Role == "" {
		return "user"
	}
	return v.Role
}

func (v *StaticVerifier) keyDerivation() (iterations, keyLen int) {
	iterations, keyLen = v.Iterations, v.KeyLen
	if iterations <= 0 {
		iterations = DefaultCRAIterations
	}
	if keyLen <= 0 {
		keyLen = DefaultCRAKeyLen
	}
	return iterations, keyLen
}

func (v *StaticVerifier) Supports(method string) bool {
	switch method {
	case MethodAnonymous:
		return v.Anonymous
	case MethodTicket:
		return len(v.Tickets) > 0
	case MethodCRA:
		return len(v.Secrets) > 0
	case MethodCryptosign:
		return len(v.PublicKeys) > 0
	}
	return false
}

func (v *StaticVerifier) Challenge(method string, hello *Hello) (*Challenge, error) {
	switch method {
	case MethodAnonymous:
		return nil, nil
	case MethodTicket:
		return &Challenge{AuthMethod: method, Extra: map[string]any{}}, nil
	case MethodCRA:
		nonce, err := randomHex(16)
		if err != nil {
			return nil, err
		}
		extra := map[string]any{
			"challenge": fmt.Sprintf(`{"authid":%q,"authmethod":"wampcra","nonce":%q}`, hello.AuthID(), nonce),
		}
		if v.Salt != "" {
			iterations, keyLen := v.keyDerivation()
			extra["salt"] = v.Salt
			extra["iterations"] = int64(iterations)
			extra["keylen"] = int64(keyLen)
		}
		return &Challenge{AuthMethod: method, Extra: extra}, nil
	case MethodCryptosign:
		challenge, err := randomHex(32)
		if err != nil {
			return nil, err
		}
		return &Challenge{AuthMethod: method, Extra: map[string]any{"challenge": challenge}}, nil
	}
	return nil, fmt.Errorf("wamp: unsupported authmethod %q", method)
}

func (v *StaticVerifier) Verify(method string, hello *Hello, challenge *Challenge, reply *Authenticate) (string, error) {
	authID := hello.AuthID()
	switch method {
	case MethodTicket:
		if ticket, ok := v.Tickets[authID]; ok && hmac.Equal([]byte(ticket), []byte(reply.Signature)) {
			return v.role(), nil
		}
	case MethodCRA:
		secret, ok := v.Secrets[authID]
		if !ok {
			break
		}
		key := []byte(secret)
		if v.Salt != "" {
			iterations, keyLen := v.keyDerivation()
			key = []byte(DeriveCRAKey(secret, v.Salt, iterations, keyLen))
		}
		expected := SignCRAChallenge(key, challenge.Extra["challenge"].(string))
		if hmac.Equal([]byte(expected), []byte(reply.Signature)) {
			return v.role(), nil
		}
	case MethodCryptosign:
		publicKey, ok := v.PublicKeys[authID]
		if !ok {
			break
		}
		raw, err := hex.DecodeString(challenge.Extra["challenge"].(string))
		if err == nil && VerifyCryptosign(publicKey, raw, reply.Signature) {
			return v.role(), nil
		}
	}
	return "", ErrAuthenticationFailed
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type acceptState int

const (
	acceptAwaitingHello acceptState = iota
	acceptAwaitingAuthenticate
	acceptComplete
	acceptFailed
)

// AcceptorOption configures an Acceptor.
type AcceptorOption func(*Acceptor)

// WithRealms restricts the realms clients may join. By default any realm is accepted.
func WithRealms(realms ...string) AcceptorOption {
	return func(a *Acceptor) {
		a.realms = append(a.realms, realms...)
	}
}

// WithVerifier enables authentication. Without a verifier only anonymous clients are admitted.
func WithVerifier(v Verifier) AcceptorOption {
	return func(a *Acceptor) {
		a.verifier = v
	}
}

// WithRouterRoles sets the roles announced in WELCOME.
func WithRouterRoles(roles map[string]any) AcceptorOption {
	return func(a *Acceptor) {
		a.roles = roles
	}
}

// Acceptor is the router side of the session handshake. Like Joiner, it performs no I/O.
type Acceptor struct {
	serializer Serializer
	realms     []string
	verifier   Verifier
	roles      map[string]any

	state     acceptState
	hello     *Hello
	method    string
	challenge *Challenge
	details   *SessionDetails
}

func NewAcceptor(serializer Serializer, options ...AcceptorOption) *Acceptor {
	a := &Acceptor{
		serializer: serializer,
		verifier:   &StaticVerifier{Anonymous: true, Role: "anonymous"},
		roles:      map[string]any{"broker": map[string]any{}, "dealer": map[string]any{}},
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// SessionDetails returns the details sent in WELCOME, or nil before the handshake completes.
func (a *Acceptor) SessionDetails() *SessionDetails {
	return a.details
}

// Receive consumes one client message and returns the reply to send. done is true when the
// handshake is over; in that case the reply is either WELCOME (err is nil) or ABORT (err explains
// the refusal).
func (a *Acceptor) Receive(data []byte) (reply []byte, done bool, err error) {
	switch a.state {
	case acceptComplete, acceptFailed:
		return nil, true, &protocol.HandshakeError{Reason: "handshake already finished"}
	}

	msg, err := a.serializer.Deserialize(data)
	if err != nil {
		return a.abort(ReasonProtocolViolation, "cannot decode message", err)
	}

	switch a.state {
	case acceptAwaitingHello:
		hello, ok := msg.(*Hello)
		if !ok {
			return a.abort(ReasonProtocolViolation, fmt.Sprintf("expected HELLO, got %s", msg.Type()), nil)
		}
		return a.handleHello(hello)
	case acceptAwaitingAuthenticate:
		auth, ok := msg.(*Authenticate)
		if !ok {
			return a.abort(ReasonProtocolViolation, fmt.Sprintf("expected AUTHENTICATE, got %s", msg.Type()), nil)
		}
		role, err := a.verifier.Verify(a.method, a.hello, a.challenge, auth)
		if err != nil {
			return a.abort(ReasonAuthenticationFailed, "authentication failed", err)
		}
		return a.welcome(role)
	}
	return nil, true, &protocol.HandshakeError{Reason: "invalid acceptor state"}
}

func (a *Acceptor) handleHello(hello *Hello) ([]byte, bool, error) {
	a.hello = hello
	if len(a.realms) > 0 && !slices.Contains(a.realms, hello.Realm) {
		return a.abort(ReasonNoSuchRealm, fmt.Sprintf("no realm %q", hello.Realm), nil)
	}

	methods := hello.AuthMethods()
	if len(methods) == 0 {
		methods = []string{MethodAnonymous}
	}
	for _, method := range methods {
		if !a.verifier.Supports(method) {
			continue
		}
		a.method = method
		challenge, err := a.verifier.Challenge(method, hello)
		if err != nil {
			return a.abort(ReasonAuthenticationFailed, "cannot create challenge", err)
		}
		if challenge == nil {
			role := "anonymous"
			if v, ok := a.verifier.(*StaticVerifier); ok {
				role = v.role()
			}
			return a.welcome(role)
		}
		a.challenge = challenge
		a.state = acceptAwaitingAuthenticate
		payload, err := a.serializer.Serialize(challenge)
		if err != nil {
			a.state = acceptFailed
			return nil, true, &protocol.HandshakeError{Reason: "cannot serialize CHALLENGE", Err: err}
		}
		return payload, false, nil
	}
	return a.abort(ReasonNoAuthMethod, fmt.Sprintf("none of %v is supported", methods), nil)
}

func (a *Acceptor) welcome(role string) ([]byte, bool, error) {
	id, err := newSessionID()
	if err != nil {
		a.state = acceptFailed
		return nil, true, err
	}
	authID := a.hello.AuthID()
	if authID == "" {
		authID = fmt.Sprintf("anonymous-%d", id)
	}
	a.details = &SessionDetails{
		ID:           id,
		Realm:        a.hello.Realm,
		AuthID:       authID,
		AuthRole:     role,
		AuthMethod:   a.method,
		AuthProvider: "static",
		Roles:        a.roles,
	}
	payload, err := a.serializer.Serialize(&Welcome{SessionID: id, Details: map[string]any{
		"authid":       authID,
		"authrole":     role,
		"authmethod":   a.method,
		"authprovider": "static",
		"roles":        a.roles,
	}})
	if err != nil {
		a.state = acceptFailed
		return nil, true, &protocol.HandshakeError{Reason: "cannot serialize WELCOME", Err: err}
	}
	a.state = acceptComplete
	return payload, true, nil
}

func (a *Acceptor) abort(reason, message string, cause error) ([]byte, bool, error) {
	a.state = acceptFailed
	details := map[string]any{"message": message}
	payload, err := a.serializer.Serialize(&Abort{Details: details, Reason: reason})
	if err != nil {
		return nil, true, &protocol.HandshakeError{Reason: "cannot serialize ABORT", Err: err}
	}
	if cause == nil {
		return payload, true, &protocol.AbortError{Reason: reason, Details: details}
	}
	return payload, true, &protocol.HandshakeError{Reason: message, Err: cause}
}

// newSessionID draws a random id in [1, 2^53], the range WAMP allows.
func newSessionID() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:])&(1<<53-1) + 1, nil
}
