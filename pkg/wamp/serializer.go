package wamp

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Serializer converts messages to and from the payloads carried by a transport.
type Serializer interface {
	// Name is the WebSocket-style subprotocol identifier, e.g. "wamp.2.cbor".
	Name() string
	Serialize(Message) ([]byte, error)
	Deserialize([]byte) (Message, error)
	// Encode and Decode work on the bare message list, for messages outside the handshake.
	Encode([]any) ([]byte, error)
	Decode([]byte) ([]any, error)
}

type JSONSerializer struct{}

func (JSONSerializer) Name() string { return "wamp.2.json" }

func (s JSONSerializer) Serialize(m Message) ([]byte, error) { return s.Encode(m.Marshal()) }

func (s JSONSerializer) Deserialize(data []byte) (Message, error) { return deserialize(s, data) }

func (JSONSerializer) Encode(fields []any) ([]byte, error) {
	return json.Marshal(fields)
}

func (JSONSerializer) Decode(data []byte) ([]any, error) {
	var fields []any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	return fields, nil
}

var cborDecMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

type CBORSerializer struct{}

func (CBORSerializer) Name() string { return "wamp.2.cbor" }

func (s CBORSerializer) Serialize(m Message) ([]byte, error) { return s.Encode(m.Marshal()) }

func (s CBORSerializer) Deserialize(data []byte) (Message, error) { return deserialize(s, data) }

func (CBORSerializer) Encode(fields []any) ([]byte, error) {
	return cbor.Marshal(fields)
}

func (CBORSerializer) Decode(data []byte) ([]any, error) {
	var fields []any
	if err := cborDecMode.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	return fields, nil
}

type MsgPackSerializer struct{}

func (MsgPackSerializer) Name() string { return "wamp.2.msgpack" }

func (s MsgPackSerializer) Serialize(m Message) ([]byte, error) { return s.Encode(m.Marshal()) }

func (s MsgPackSerializer) Deserialize(data []byte) (Message, error) { return deserialize(s, data) }

func (MsgPackSerializer) Encode(fields []any) ([]byte, error) {
	return msgpack.Marshal(fields)
}

func (MsgPackSerializer) Decode(data []byte) ([]any, error) {
	var fields []any
	if err := msgpack.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	return fields, nil
}

// ProtobufSerializer encodes the message list as a google.protobuf.ListValue. Numbers travel as
// doubles, so integers above 2^53 lose precision; WAMP ids never exceed that range.
type ProtobufSerializer struct{}

func (ProtobufSerializer) Name() string { return "wamp.2.protobuf" }

func (s ProtobufSerializer) Serialize(m Message) ([]byte, error) {
	data, err := s.Encode(m.Marshal())
	if err != nil {
		return nil, fmt.Errorf("wamp: cannot encode %s: %w", m.Type(), err)
	}
	return data, nil
}

func (s ProtobufSerializer) Deserialize(data []byte) (Message, error) { return deserialize(s, data) }

func (ProtobufSerializer) Encode(fields []any) ([]byte, error) {
	list, err := structpb.NewList(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(list)
}

func (ProtobufSerializer) Decode(data []byte) ([]any, error) {
	var list structpb.ListValue
	if err := proto.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	return list.AsSlice(), nil
}

func deserialize(s Serializer, data []byte) (Message, error) {
	fields, err := s.Decode(data)
	if err != nil {
		return nil, err
	}
	return ParseMessage(fields)
}

var serializers = map[string]Serializer{
	"json":     JSONSerializer{},
	"cbor":     CBORSerializer{},
	"msgpack":  MsgPackSerializer{},
	"protobuf": ProtobufSerializer{},
}

// SerializerByName looks up a serializer by short name ("cbor") or subprotocol ("wamp.2.cbor").
func SerializerByName(name string) (Serializer, error) {
	if s, ok := serializers[name]; ok {
		return s, nil
	}
	for _, s := range serializers {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("wamp: unknown serializer %q (choose from %v)", name, SerializerNames())
}

// SerializerNames lists the short names accepted by SerializerByName.
func SerializerNames() []string {
	names := make([]string, 0, len(serializers))
	for name := range serializers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
