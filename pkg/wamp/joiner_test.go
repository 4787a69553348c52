package wamp_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xconnio/wampble/pkg/protocol"
	"github.com/xconnio/wampble/pkg/wamp"
)

// handshake runs a Joiner against an Acceptor in memory and returns the number of payloads the
// Joiner produced.
func handshake(j *wamp.Joiner, a *wamp.Acceptor) (int, error) {
	payload, err := j.SendHello()
	if err != nil {
		return 0, err
	}
	sends := 1
	for {
		reply, _, acceptErr := a.Receive(payload)
		if reply == nil {
			return sends, acceptErr
		}
		payload, err = j.Receive(reply)
		if err != nil {
			return sends, err
		}
		if payload == nil {
			return sends, nil
		}
		sends++
	}
}

var _ = Describe("Joiner", func() {
	var serializer wamp.Serializer

	BeforeEach(func() {
		serializer = wamp.CBORSerializer{}
	})

	It("joins anonymously with a single send", func() {
		j := wamp.NewJoiner("realm1", serializer, nil)
		Expect(j.State()).To(Equal(wamp.StateAwaitingInitialSend))
		sends, err := handshake(j, wamp.NewAcceptor(serializer))
		Expect(err).ToNot(HaveOccurred())
		Expect(sends).To(Equal(1))
		Expect(j.State()).To(Equal(wamp.StateComplete))

		details := j.SessionDetails()
		Expect(details).ToNot(BeNil())
		Expect(details.Realm).To(Equal("realm1"))
		Expect(details.ID).To(BeNumerically(">", 0))
		Expect(details.AuthRole).To(Equal("anonymous"))
		Expect(details.AuthMethod).To(Equal(wamp.MethodAnonymous))
		Expect(details.Roles).To(HaveKey("dealer"))
	})

	It("answers a ticket challenge", func() {
		verifier := &wamp.StaticVerifier{Tickets: map[string]string{"alice": "s3cr3t"}, Role: "admin"}
		j := wamp.NewJoiner("realm1", serializer, wamp.NewTicketAuthenticator("alice", "s3cr3t"))
		sends, err := handshake(j, wamp.NewAcceptor(serializer, wamp.WithVerifier(verifier)))
		Expect(err).ToNot(HaveOccurred())
		Expect(sends).To(Equal(2))
		Expect(j.SessionDetails().AuthID).To(Equal("alice"))
		Expect(j.SessionDetails().AuthRole).To(Equal("admin"))
	})

	It("answers a salted WAMP-CRA challenge", func() {
		verifier := &wamp.StaticVerifier{
			Secrets:    map[string]string{"bob": "hunter2"},
			Salt:       "pepper",
			Iterations: 100,
			KeyLen:     32,
		}
		for _, s := range allSerializers {
			j := wamp.NewJoiner("realm1", s, wamp.NewCRAAuthenticator("bob", "hunter2"))
			sends, err := handshake(j, wamp.NewAcceptor(s, wamp.WithVerifier(verifier)))
			Expect(err).ToNot(HaveOccurred(), s.Name())
			Expect(sends).To(Equal(2))
			Expect(j.SessionDetails().AuthMethod).To(Equal(wamp.MethodCRA))
		}
	})

	It("uses default PBKDF2 parameters when only a salt is configured", func() {
		verifier := &wamp.StaticVerifier{Secrets: map[string]string{"bob": "hunter2"}, Salt: "salt"}
		hello := &wamp.Hello{Realm: "realm1", Details: map[string]any{"authid": "bob"}}
		challenge, err := verifier.Challenge(wamp.MethodCRA, hello)
		Expect(err).ToNot(HaveOccurred())
		Expect(challenge.Extra).To(HaveKeyWithValue("iterations", int64(wamp.DefaultCRAIterations)))
		Expect(challenge.Extra).To(HaveKeyWithValue("keylen", int64(wamp.DefaultCRAKeyLen)))

		for _, s := range allSerializers {
			j := wamp.NewJoiner("realm1", s, wamp.NewCRAAuthenticator("bob", "hunter2"))
			_, err := handshake(j, wamp.NewAcceptor(s, wamp.WithVerifier(verifier)))
			Expect(err).ToNot(HaveOccurred(), s.Name())
			Expect(j.SessionDetails().AuthID).To(Equal("bob"))
		}
	})

	It("answers a cryptosign challenge", func() {
		seed, err := wamp.GenerateCryptosignSeed()
		Expect(err).ToNot(HaveOccurred())
		auth, err := wamp.NewCryptosignAuthenticator("carol", seed)
		Expect(err).ToNot(HaveOccurred())
		Expect(auth.AuthExtra()).To(HaveKeyWithValue("pubkey", auth.PublicKey()))

		verifier := &wamp.StaticVerifier{PublicKeys: map[string]string{"carol": auth.PublicKey()}}
		j := wamp.NewJoiner("realm1", serializer, auth)
		sends, err := handshake(j, wamp.NewAcceptor(serializer, wamp.WithVerifier(verifier)))
		Expect(err).ToNot(HaveOccurred())
		Expect(sends).To(Equal(2))
	})

	It("rejects malformed cryptosign seeds", func() {
		_, err := wamp.NewCryptosignAuthenticator("carol", "abcd")
		Expect(err).To(HaveOccurred())
		_, err = wamp.NewCryptosignAuthenticator("carol", "not hex")
		Expect(err).To(HaveOccurred())
	})

	It("fails with an AbortError when the router refuses the ticket", func() {
		verifier := &wamp.StaticVerifier{Tickets: map[string]string{"alice": "s3cr3t"}}
		j := wamp.NewJoiner("realm1", serializer, wamp.NewTicketAuthenticator("alice", "wrong"))
		a := wamp.NewAcceptor(serializer, wamp.WithVerifier(verifier))

		hello, err := j.SendHello()
		Expect(err).ToNot(HaveOccurred())
		challenge, done, err := a.Receive(hello)
		Expect(err).ToNot(HaveOccurred())
		Expect(done).To(BeFalse())
		authenticate, err := j.Receive(challenge)
		Expect(err).ToNot(HaveOccurred())

		abort, done, err := a.Receive(authenticate)
		Expect(done).To(BeTrue())
		Expect(errors.Is(err, wamp.ErrAuthenticationFailed)).To(BeTrue())

		_, err = j.Receive(abort)
		var abortErr *protocol.AbortError
		Expect(errors.As(err, &abortErr)).To(BeTrue())
		Expect(abortErr.Reason).To(Equal(wamp.ReasonAuthenticationFailed))
		Expect(j.State()).To(Equal(wamp.StateFailed))
		Expect(j.SessionDetails()).To(BeNil())
	})

	It("aborts joins to unknown realms", func() {
		j := wamp.NewJoiner("realm2", serializer, nil)
		_, err := handshake(j, wamp.NewAcceptor(serializer, wamp.WithRealms("realm1")))
		var abortErr *protocol.AbortError
		Expect(errors.As(err, &abortErr)).To(BeTrue())
		Expect(abortErr.Reason).To(Equal(wamp.ReasonNoSuchRealm))
	})

	It("aborts when no offered method is supported", func() {
		verifier := &wamp.StaticVerifier{Tickets: map[string]string{"alice": "s3cr3t"}}
		j := wamp.NewJoiner("realm1", serializer, nil)
		_, err := handshake(j, wamp.NewAcceptor(serializer, wamp.WithVerifier(verifier)))
		var abortErr *protocol.AbortError
		Expect(errors.As(err, &abortErr)).To(BeTrue())
		Expect(abortErr.Reason).To(Equal(wamp.ReasonNoAuthMethod))
	})

	Describe("failure handling", func() {
		var j *wamp.Joiner

		BeforeEach(func() {
			j = wamp.NewJoiner("realm1", serializer, wamp.NewTicketAuthenticator("alice", "s3cr3t"))
			_, err := j.SendHello()
			Expect(err).ToNot(HaveOccurred())
		})

		expectHandshakeError := func(err error) {
			var handshakeErr *protocol.HandshakeError
			Expect(errors.As(err, &handshakeErr)).To(BeTrue())
			Expect(j.State()).To(Equal(wamp.StateFailed))
		}

		It("fails on undecodable payloads", func() {
			_, err := j.Receive([]byte("garbage"))
			expectHandshakeError(err)
		})

		It("fails on unexpected message types", func() {
			goodbye, err := serializer.Serialize(&wamp.Goodbye{Reason: wamp.ReasonCloseRealm})
			Expect(err).ToNot(HaveOccurred())
			_, err = j.Receive(goodbye)
			expectHandshakeError(err)
		})

		It("fails on a challenge for a method it did not offer", func() {
			challenge, err := serializer.Serialize(&wamp.Challenge{AuthMethod: wamp.MethodCRA})
			Expect(err).ToNot(HaveOccurred())
			_, err = j.Receive(challenge)
			expectHandshakeError(err)
		})

		It("stays failed", func() {
			_, first := j.Receive([]byte("garbage"))
			_, err := j.SendHello()
			Expect(err).To(Equal(first))
			welcome, _ := serializer.Serialize(&wamp.Welcome{SessionID: 1})
			_, err = j.Receive(welcome)
			Expect(err).To(Equal(first))
			Expect(j.Err()).To(Equal(first))
		})

		It("refuses a second HELLO", func() {
			_, err := j.SendHello()
			expectHandshakeError(err)
		})
	})

	It("refuses Receive before HELLO", func() {
		j := wamp.NewJoiner("realm1", serializer, nil)
		_, err := j.Receive(nil)
		Expect(err).To(HaveOccurred())
		Expect(j.State()).To(Equal(wamp.StateFailed))
	})

	It("answers challenges until the router welcomes it", func() {
		j := wamp.NewJoiner("realm1", serializer, wamp.NewTicketAuthenticator("alice", "s3cr3t"))
		_, err := j.SendHello()
		Expect(err).ToNot(HaveOccurred())

		const rounds = 3
		for i := 0; i < rounds; i++ {
			challenge, _ := serializer.Serialize(&wamp.Challenge{AuthMethod: wamp.MethodTicket})
			next, err := j.Receive(challenge)
			Expect(err).ToNot(HaveOccurred())
			Expect(next).ToNot(BeNil())
			Expect(j.State()).To(Equal(wamp.StateAwaitingResponse))
		}
		welcome, _ := serializer.Serialize(&wamp.Welcome{SessionID: 99, Details: map[string]any{"authrole": "user"}})
		next, err := j.Receive(welcome)
		Expect(err).ToNot(HaveOccurred())
		Expect(next).To(BeNil())
		Expect(j.SessionDetails().ID).To(Equal(uint64(99)))
	})
})

var _ = Describe("Authenticators", func() {
	It("signs WAMP-CRA challenges without a salt", func() {
		auth := wamp.NewCRAAuthenticator("bob", "secret")
		reply, err := auth.Authenticate(&wamp.Challenge{
			AuthMethod: wamp.MethodCRA,
			Extra:      map[string]any{"challenge": "hello"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(reply.Signature).To(Equal(wamp.SignCRAChallenge([]byte("secret"), "hello")))
	})

	It("rejects challenges without data", func() {
		_, err := wamp.NewCRAAuthenticator("bob", "secret").Authenticate(&wamp.Challenge{Extra: map[string]any{}})
		Expect(err).To(HaveOccurred())
		_, err = (&wamp.AnonymousAuthenticator{}).Authenticate(&wamp.Challenge{})
		Expect(err).To(MatchError(wamp.ErrUnexpectedChallenge))
	})

	It("produces verifiable cryptosign signatures", func() {
		seed, _ := wamp.GenerateCryptosignSeed()
		auth, err := wamp.NewCryptosignAuthenticator("carol", seed)
		Expect(err).ToNot(HaveOccurred())
		challenge := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
		reply, err := auth.Authenticate(&wamp.Challenge{Extra: map[string]any{"challenge": challenge}})
		Expect(err).ToNot(HaveOccurred())
		Expect(reply.Signature).To(HaveLen(192))
		Expect(reply.Signature).To(HaveSuffix(challenge))

		raw := make([]byte, 32)
		for i := range raw {
			raw[i] = byte(i%16) * 0x11
		}
		Expect(wamp.VerifyCryptosign(auth.PublicKey(), raw, reply.Signature)).To(BeTrue())
		raw[0] ^= 1
		Expect(wamp.VerifyCryptosign(auth.PublicKey(), raw, reply.Signature)).To(BeFalse())
	})
})
