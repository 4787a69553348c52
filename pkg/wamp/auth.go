package wamp

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	MethodAnonymous  = "anonymous"
	MethodTicket     = "ticket"
	MethodCRA        = "wampcra"
	MethodCryptosign = "cryptosign"
)

// ErrUnexpectedChallenge is returned by authenticators that never expect a CHALLENGE.
var ErrUnexpectedChallenge = errors.New("wamp: unexpected challenge")

// Authenticator produces the client's side of an authentication exchange.
type Authenticator interface {
	Method() string
	AuthID() string
	// AuthExtra is sent in HELLO.Details.authextra. May be nil.
	AuthExtra() map[string]any
	Authenticate(*Challenge) (*Authenticate, error)
}

type AnonymousAuthenticator struct {
	ID string
}

func (a *AnonymousAuthenticator) Method() string            { return MethodAnonymous }
func (a *AnonymousAuthenticator) AuthID() string            { return a.ID }
func (a *AnonymousAuthenticator) AuthExtra() map[string]any { return nil }

func (a *AnonymousAuthenticator) Authenticate(*Challenge) (*Authenticate, error) {
	return nil, ErrUnexpectedChallenge
}

type TicketAuthenticator struct {
	ID     string
	Ticket string
}

func NewTicketAuthenticator(authID, ticket string) *TicketAuthenticator {
	return &TicketAuthenticator{ID: authID, Ticket: ticket}
}

func (a *TicketAuthenticator) Method() string            { return MethodTicket }
func (a *TicketAuthenticator) AuthID() string            { return a.ID }
func (a *TicketAuthenticator) AuthExtra() map[string]any { return nil }

func (a *TicketAuthenticator) Authenticate(*Challenge) (*Authenticate, error) {
	return &Authenticate{Signature: a.Ticket, Extra: map[string]any{}}, nil
}

// CRAAuthenticator answers WAMP-CRA challenges with an HMAC-SHA256 of the challenge string. When
// the router supplies a salt, the key is derived from the secret with PBKDF2 first.
type CRAAuthenticator struct {
	ID     string
	Secret string
}

func NewCRAAuthenticator(authID, secret string) *CRAAuthenticator {
	return &CRAAuthenticator{ID: authID, Secret: secret}
}

func (a *CRAAuthenticator) Method() string            { return MethodCRA }
func (a *CRAAuthenticator) AuthID() string            { return a.ID }
func (a *CRAAuthenticator) AuthExtra() map[string]any { return nil }

func (a *CRAAuthenticator) Authenticate(c *Challenge) (*Authenticate, error) {
	challenge, ok := c.Extra["challenge"].(string)
	if !ok {
		return nil, fmt.Errorf("wamp: wampcra challenge missing challenge string")
	}
	key := []byte(a.Secret)
	if salt, ok := c.Extra["salt"].(string); ok && salt != "" {
		iterations, keyLen := DefaultCRAIterations, DefaultCRAKeyLen
		if n, ok := toUint64(c.Extra["iterations"]); ok && n > 0 {
			iterations = int(n)
		}
		if n, ok := toUint64(c.Extra["keylen"]); ok && n > 0 {
			keyLen = int(n)
		}
		key = []byte(DeriveCRAKey(a.Secret, salt, iterations, keyLen))
	}
	return &Authenticate{Signature: SignCRAChallenge(key, challenge), Extra: map[string]any{}}, nil
}

// PBKDF2 parameters assumed when a salted challenge leaves them out or sets them to zero.
const (
	DefaultCRAIterations = 1000
	DefaultCRAKeyLen     = 32
)

// DeriveCRAKey returns the base64-encoded PBKDF2-SHA256 derivation of secret.
func DeriveCRAKey(secret, salt string, iterations, keyLen int) string {
	derived := pbkdf2.Key([]byte(secret), []byte(salt), iterations, keyLen, sha256.New)
	return base64.StdEncoding.EncodeToString(derived)
}

// SignCRAChallenge returns the base64-encoded HMAC-SHA256 of challenge under key.
func SignCRAChallenge(key []byte, challenge string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(challenge))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// CryptosignAuthenticator signs router challenges with an Ed25519 key.
type CryptosignAuthenticator struct {
	ID  string
	key ed25519.PrivateKey
}

// NewCryptosignAuthenticator builds an authenticator from a hex-encoded 32-byte seed.
func NewCryptosignAuthenticator(authID, seedHex string) (*CryptosignAuthenticator, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("wamp: invalid cryptosign seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("wamp: cryptosign seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &CryptosignAuthenticator{ID: authID, key: ed25519.NewKeyFromSeed(seed)}, nil
}

// GenerateCryptosignSeed returns a new random seed in hex.
func GenerateCryptosignSeed() (string, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}
	return hex.EncodeToString(seed), nil
}

func (a *CryptosignAuthenticator) Method() string { return MethodCryptosign }
func (a *CryptosignAuthenticator) AuthID() string { return a.ID }

// PublicKey returns the hex-encoded public key announced to the router.
func (a *CryptosignAuthenticator) PublicKey() string {
	return hex.EncodeToString(a.key.Public().(ed25519.PublicKey))
}

func (a *CryptosignAuthenticator) AuthExtra() map[string]any {
	return map[string]any{"pubkey": a.PublicKey()}
}

func (a *CryptosignAuthenticator) Authenticate(c *Challenge) (*Authenticate, error) {
	challengeHex, ok := c.Extra["challenge"].(string)
	if !ok {
		return nil, fmt.Errorf("wamp: cryptosign challenge missing challenge string")
	}
	challenge, err := hex.DecodeString(challengeHex)
	if err != nil || len(challenge) != 32 {
		return nil, fmt.Errorf("wamp: cryptosign challenge must be 32 hex-encoded bytes")
	}
	signature := ed25519.Sign(a.key, challenge)
	return &Authenticate{
		Signature: hex.EncodeToString(signature) + challengeHex,
		Extra:     map[string]any{},
	}, nil
}

// VerifyCryptosign checks a signature produced by CryptosignAuthenticator.
func VerifyCryptosign(publicKeyHex string, challenge []byte, signatureHex string) bool {
	publicKey, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	raw, err := hex.DecodeString(signatureHex)
	if err != nil || len(raw) < ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, challenge, raw[:ed25519.SignatureSize])
}
