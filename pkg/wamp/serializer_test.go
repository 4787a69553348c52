package wamp_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xconnio/wampble/pkg/wamp"
)

var allSerializers = []wamp.Serializer{
	wamp.JSONSerializer{},
	wamp.CBORSerializer{},
	wamp.MsgPackSerializer{},
	wamp.ProtobufSerializer{},
}

var _ = Describe("Serializers", func() {
	for _, s := range allSerializers {
		s := s
		Describe(s.Name(), func() {
			It("normalizes WELCOME numbers and nested dictionaries", func() {
				welcome := &wamp.Welcome{SessionID: 4711, Details: map[string]any{
					"authid": "alice",
					"roles":  map[string]any{"dealer": map[string]any{"features": map[string]any{}}},
				}}
				data, err := s.Serialize(welcome)
				Expect(err).ToNot(HaveOccurred())

				msg, err := s.Deserialize(data)
				Expect(err).ToNot(HaveOccurred())
				got, ok := msg.(*wamp.Welcome)
				Expect(ok).To(BeTrue())
				Expect(got.SessionID).To(Equal(uint64(4711)))
				Expect(got.Details["authid"]).To(Equal("alice"))
				roles, ok := got.Details["roles"].(map[string]any)
				Expect(ok).To(BeTrue())
				Expect(roles).To(HaveKey("dealer"))
				Expect(roles["dealer"]).To(BeAssignableToTypeOf(map[string]any{}))
			})

			It("keeps the authmethods list of HELLO", func() {
				data, err := s.Serialize(&wamp.Hello{Realm: "realm1", Details: map[string]any{
					"authmethods": []any{"ticket", "anonymous"},
				}})
				Expect(err).ToNot(HaveOccurred())
				msg, err := s.Deserialize(data)
				Expect(err).ToNot(HaveOccurred())
				Expect(msg.(*wamp.Hello).AuthMethods()).To(Equal([]string{"ticket", "anonymous"}))
			})

			It("passes messages outside the handshake through as lists", func() {
				call := wamp.Raw{int64(48), int64(7), map[string]any{}, "com.example.add", []any{int64(2), int64(3)}}
				data, err := s.Encode(call.Marshal())
				Expect(err).ToNot(HaveOccurred())

				fields, err := s.Decode(data)
				Expect(err).ToNot(HaveOccurred())
				Expect(fields).To(HaveLen(5))
				Expect(wamp.Raw(fields).Type()).To(Equal(wamp.MessageType(48)))
				Expect(fields[3]).To(Equal("com.example.add"))

				_, err = s.Deserialize(data)
				Expect(errors.Is(err, wamp.ErrInvalidMessage)).To(BeTrue())
			})

			It("rejects garbage", func() {
				_, err := s.Deserialize([]byte{0xff, 0x00, 0x13})
				Expect(errors.Is(err, wamp.ErrInvalidMessage)).To(BeTrue())
			})
		})
	}

	It("looks serializers up by short name and subprotocol", func() {
		s, err := wamp.SerializerByName("cbor")
		Expect(err).ToNot(HaveOccurred())
		Expect(s.Name()).To(Equal("wamp.2.cbor"))

		s, err = wamp.SerializerByName("wamp.2.msgpack")
		Expect(err).ToNot(HaveOccurred())
		Expect(s).To(Equal(wamp.MsgPackSerializer{}))

		_, err = wamp.SerializerByName("xml")
		Expect(err).To(MatchError(ContainSubstring("unknown serializer")))
		Expect(wamp.SerializerNames()).To(Equal([]string{"cbor", "json", "msgpack", "protobuf"}))
	})
})

var _ = Describe("ParseMessage", func() {
	It("accepts any integer type for the message code", func() {
		for _, code := range []any{int64(6), uint8(6), float64(6), int(6)} {
			msg, err := wamp.ParseMessage([]any{code, map[string]any{}, "wamp.close.normal"})
			Expect(err).ToNot(HaveOccurred())
			Expect(msg.Type()).To(Equal(wamp.TypeGoodbye))
		}
	})

	It("converts interface-keyed dictionaries", func() {
		msg, err := wamp.ParseMessage([]any{uint64(4), "ticket", map[any]any{"nested": map[any]any{"a": 1}}})
		Expect(err).ToNot(HaveOccurred())
		extra := msg.(*wamp.Challenge).Extra
		Expect(extra["nested"]).To(Equal(map[string]any{"a": 1}))
	})

	DescribeTable("rejects invalid lists",
		func(fields []any) {
			_, err := wamp.ParseMessage(fields)
			Expect(errors.Is(err, wamp.ErrInvalidMessage)).To(BeTrue())
		},
		Entry("empty", []any{}),
		Entry("non-integer code", []any{"1", "realm1", map[string]any{}}),
		Entry("fractional code", []any{1.5, "realm1", map[string]any{}}),
		Entry("unknown code", []any{int64(48), "x", map[string]any{}}),
		Entry("wrong arity", []any{int64(1), "realm1"}),
		Entry("empty realm", []any{int64(1), "", map[string]any{}}),
		Entry("details not a dictionary", []any{int64(1), "realm1", "oops"}),
		Entry("negative session id", []any{int64(2), int64(-4), map[string]any{}}),
		Entry("non-string reason", []any{int64(3), map[string]any{}, int64(7)}),
	)
})
