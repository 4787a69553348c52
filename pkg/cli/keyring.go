package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName   = "io.xconn.wampble"
	keyringSecretService = "wampSecret"
	keyringDirectory     = "~/.wampble_keys"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

func (c *Config) getPassword(message string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}
	password, err := prompt(message)
	if err != nil {
		return "", err
	}
	c.password = &password
	return password, nil
}

// prompt reads a line from stdin without echo, writing message to whichever of stdout and stderr
// is a terminal.
func prompt(message string) (string, error) {
	var w io.Writer
	switch {
	case term.IsTerminal(int(os.Stdout.Fd())):
		w = os.Stdout
	case term.IsTerminal(int(os.Stderr.Fd())):
		w = os.Stderr
	default:
		return "", fmt.Errorf("no terminal output available for password prompt")
	}

	fmt.Fprintf(w, "%s: ", message)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	return string(b), nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	if c.Debug {
		keyring.Debug = true
	}
	return keyring.Open(c.Backend)
}

func (c *Config) fullSecretName() string {
	return keyringSecretService + "." + c.KeyringSecretName
}

// LoadSecretFromKeyring reads the ticket, secret or seed stored under c.KeyringSecretName.
func (c *Config) LoadSecretFromKeyring() (string, error) {
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(c.fullSecretName())
	if err != nil {
		return "", fmt.Errorf("could not load secret: %w", err)
	}
	return string(item.Data), nil
}

// SaveSecretToKeyring writes secret to the system keyring.
//
// The name identifies the secret for future use with LoadSecretFromKeyring and does not need to
// match the authid.
func (c *Config) SaveSecretToKeyring(secret string) error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}

	if err := kr.Set(keyring.Item{
		Key:         c.fullSecretName(),
		Label:       fmt.Sprintf("WAMP %s secret (%s)", c.AuthMethod, c.KeyringSecretName),
		Description: "wampble authentication secret",
		Data:        []byte(secret),
	}); err != nil {
		return fmt.Errorf("failed to enroll secret in keyring: %s", err)
	}
	return nil
}

// DeleteSecret removes the secret from the system keyring.
func (c *Config) DeleteSecret() error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	return kr.Remove(c.fullSecretName())
}
