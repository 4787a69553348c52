// Package wamp implements the session-establishment subset of the WAMP protocol: the messages
// exchanged while joining a realm, the serializers that encode them, client authenticators, and the
// Joiner and Acceptor state machines that drive either side of the exchange.
//
// Nothing in this package performs I/O. Callers move the payloads produced here over a transport
// (see package session).
package wamp

import (
	"errors"
	"fmt"
	"math"
)

// MessageType identifies a WAMP message on the wire.
type MessageType int64

const (
	TypeHello        MessageType = 1
	TypeWelcome      MessageType = 2
	TypeAbort        MessageType = 3
	TypeChallenge    MessageType = 4
	TypeAuthenticate MessageType = 5
	TypeGoodbye      MessageType = 6
)

var typeNames = map[MessageType]string{
	TypeHello:        "HELLO",
	TypeWelcome:      "WELCOME",
	TypeAbort:        "ABORT",
	TypeChallenge:    "CHALLENGE",
	TypeAuthenticate: "AUTHENTICATE",
	TypeGoodbye:      "GOODBYE",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("message(%d)", int64(t))
}

// ErrInvalidMessage is wrapped by every parse failure.
var ErrInvalidMessage = errors.New("wamp: invalid message")

// Message is a WAMP message in its list form.
type Message interface {
	Type() MessageType
	// Marshal returns the message as a list whose first element is the type code.
	Marshal() []any
}

type Hello struct {
	Realm   string
	Details map[string]any
}

func (m *Hello) Type() MessageType { return TypeHello }

func (m *Hello) Marshal() []any {
	return []any{int64(TypeHello), m.Realm, orEmpty(m.Details)}
}

// AuthID returns the authid announced in the details, if any.
func (m *Hello) AuthID() string {
	s, _ := m.Details["authid"].(string)
	return s
}

// AuthMethods returns the authentication methods offered in the details.
func (m *Hello) AuthMethods() []string {
	raw, _ := m.Details["authmethods"].([]any)
	methods := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			methods = append(methods, s)
		}
	}
	return methods
}

type Welcome struct {
	SessionID uint64
	Details   map[string]any
}

func (m *Welcome) Type() MessageType { return TypeWelcome }

func (m *Welcome) Marshal() []any {
	return []any{int64(TypeWelcome), m.SessionID, orEmpty(m.Details)}
}

type Abort struct {
	Details map[string]any
	Reason  string
}

func (m *Abort) Type() MessageType { return TypeAbort }

func (m *Abort) Marshal() []any {
	return []any{int64(TypeAbort), orEmpty(m.Details), m.Reason}
}

type Challenge struct {
	AuthMethod string
	Extra      map[string]any
}

func (m *Challenge) Type() MessageType { return TypeChallenge }

func (m *Challenge) Marshal() []any {
	return []any{int64(TypeChallenge), m.AuthMethod, orEmpty(m.Extra)}
}

type Authenticate struct {
	Signature string
	Extra     map[string]any
}

func (m *Authenticate) Type() MessageType { return TypeAuthenticate }

func (m *Authenticate) Marshal() []any {
	return []any{int64(TypeAuthenticate), m.Signature, orEmpty(m.Extra)}
}

type Goodbye struct {
	Details map[string]any
	Reason  string
}

func (m *Goodbye) Type() MessageType { return TypeGoodbye }

func (m *Goodbye) Marshal() []any {
	return []any{int64(TypeGoodbye), orEmpty(m.Details), m.Reason}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Raw is a message this package does not model, such as CALL or EVENT. It is passed through the
// session untouched.
type Raw []any

// Type returns the code in the first field, or zero if it is missing or not an integer.
func (r Raw) Type() MessageType {
	t, _ := TypeOf(r)
	return t
}

func (r Raw) Marshal() []any { return r }

// TypeOf returns the type code of a decoded message list.
func TypeOf(fields []any) (MessageType, bool) {
	if len(fields) == 0 {
		return 0, false
	}
	code, ok := toUint64(fields[0])
	return MessageType(code), ok
}

// ParseMessage converts a decoded list into a Message. Numbers may arrive as any integer or float
// type, depending on the serializer; maps may be keyed by string or by interface values holding
// strings.
func ParseMessage(fields []any) (Message, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrInvalidMessage)
	}
	t, ok := TypeOf(fields)
	if !ok {
		return nil, fmt.Errorf("%w: message type %v is not an integer", ErrInvalidMessage, fields[0])
	}
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: %s has %d fields, expected 3", ErrInvalidMessage, t, len(fields))
	}

	switch t {
	case TypeHello:
		realm, err := stringField(t, "realm", fields[1])
		if err != nil {
			return nil, err
		}
		details, err := dictField(t, "details", fields[2])
		if err != nil {
			return nil, err
		}
		if realm == "" {
			return nil, fmt.Errorf("%w: HELLO with empty realm", ErrInvalidMessage)
		}
		return &Hello{Realm: realm, Details: details}, nil
	case TypeWelcome:
		id, ok := toUint64(fields[1])
		if !ok {
			return nil, fmt.Errorf("%w: WELCOME session id %v is not an integer", ErrInvalidMessage, fields[1])
		}
		details, err := dictField(t, "details", fields[2])
		if err != nil {
			return nil, err
		}
		return &Welcome{SessionID: id, Details: details}, nil
	case TypeAbort, TypeGoodbye:
		details, err := dictField(t, "details", fields[1])
		if err != nil {
			return nil, err
		}
		reason, err := stringField(t, "reason", fields[2])
		if err != nil {
			return nil, err
		}
		if t == TypeAbort {
			return &Abort{Details: details, Reason: reason}, nil
		}
		return &Goodbye{Details: details, Reason: reason}, nil
	case TypeChallenge:
		method, err := stringField(t, "authmethod", fields[1])
		if err != nil {
			return nil, err
		}
		extra, err := dictField(t, "extra", fields[2])
		if err != nil {
			return nil, err
		}
		return &Challenge{AuthMethod: method, Extra: extra}, nil
	case TypeAuthenticate:
		signature, err := stringField(t, "signature", fields[1])
		if err != nil {
			return nil, err
		}
		extra, err := dictField(t, "extra", fields[2])
		if err != nil {
			return nil, err
		}
		return &Authenticate{Signature: signature, Extra: extra}, nil
	}
	return nil, fmt.Errorf("%w: unsupported message type %d", ErrInvalidMessage, int64(t))
}

func stringField(t MessageType, name string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s %s must be a string, got %T", ErrInvalidMessage, t, name, v)
	}
	return s, nil
}

func dictField(t MessageType, name string, v any) (map[string]any, error) {
	m, ok := normalizeDict(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s must be a dictionary, got %T", ErrInvalidMessage, t, name, v)
	}
	return m, nil
}

// normalizeDict converts decoded maps (including nested ones) to map[string]any.
func normalizeDict(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		for k, inner := range m {
			m[k] = normalize(inner)
		}
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, inner := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = normalize(inner)
		}
		return out, true
	case nil:
		return map[string]any{}, true
	}
	return nil, false
}

func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any, map[any]any:
		if m, ok := normalizeDict(x); ok {
			return m
		}
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
	}
	return v
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint:
		return uint64(n), true
	case int64:
		return uint64(n), n >= 0
	case int32:
		return uint64(n), n >= 0
	case int16:
		return uint64(n), n >= 0
	case int8:
		return uint64(n), n >= 0
	case int:
		return uint64(n), n >= 0
	case float64:
		if n < 0 || n != math.Trunc(n) || n > math.MaxUint64 {
			return 0, false
		}
		return uint64(n), true
	case float32:
		return toUint64(float64(n))
	}
	return 0, false
}
