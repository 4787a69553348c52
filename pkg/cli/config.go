/*
Package cli facilitates building command-line applications that join WAMP realms over BLE. It
defines a [Config] type that can be used to register common command-line flags (using the Golang
flag package), environment variable equivalents, and an optional TOML configuration file.

The package uses [keyring]'s platform-agnostic interface for storing authentication secrets (tickets,
WAMP-CRA secrets and cryptosign seeds) in an OS-dependent credential store.

# Examples

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for BLE, realm, secrets, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	if err := config.ReadFromFile(); err != nil { // Fills in remaining fields from -config
		panic(err)
	}
	config.ApplyDefaults()

	auth, err := config.Authenticator() // May prompt for a keyring password or secret

Values are resolved in order of precedence: command-line flags, environment variables, the
configuration file, and finally built-in defaults.
*/
package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/99designs/keyring"

	"github.com/xconnio/wampble/internal/log"
	"github.com/xconnio/wampble/pkg/connector/ble"
	"github.com/xconnio/wampble/pkg/wamp"
)

// Environment variable names used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvConfigFile      = "WAMPBLE_CONFIG"
	EnvAdapter         = "WAMPBLE_ADAPTER"
	EnvAddress         = "WAMPBLE_ADDRESS"
	EnvLocalName       = "WAMPBLE_LOCAL_NAME"
	EnvServiceUUID     = "WAMPBLE_SERVICE_UUID"
	EnvReaderUUID      = "WAMPBLE_READER_UUID"
	EnvWriterUUID      = "WAMPBLE_WRITER_UUID"
	EnvRealm           = "WAMPBLE_REALM"
	EnvSerializer      = "WAMPBLE_SERIALIZER"
	EnvAuthMethod      = "WAMPBLE_AUTHMETHOD"
	EnvAuthID          = "WAMPBLE_AUTHID"
	EnvSecretFile      = "WAMPBLE_SECRET_FILE"
	EnvSecretName      = "WAMPBLE_SECRET_NAME"
	EnvKeyringType     = "WAMPBLE_KEYRING_TYPE"
	EnvKeyringPassword = "WAMPBLE_KEYRING_PASSWORD"
	EnvKeyringPath     = "WAMPBLE_KEYRING_PATH"
	EnvKeyringDebug    = "WAMPBLE_KEYRING_DEBUG"
)

const (
	DefaultRealm      = "realm1"
	DefaultSerializer = "cbor"
)

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagBLE     Flag = 1 // Enable adapter and GATT service options.
	FlagSession Flag = 2 // Enable realm, serializer and authentication method options.
	FlagSecret  Flag = 4 // Enable secret storage options. Required for ticket, wampcra and cryptosign.
	FlagAll     Flag = FlagBLE | FlagSession | FlagSecret
)

var (
	ErrNoSecretSpecified = errors.New("secret location not provided")
	ErrKeyNotFound       = keyring.ErrKeyNotFound
)

// Config fields determine how a client reaches the device and authenticates to the realm.
type Config struct {
	Flags          Flag // Controls which set of environment variables/CLI flags to use.
	ConfigFilename string
	BtAdapterID    string
	BLE            ble.Config

	Realm          string
	SerializerName string
	AuthMethod     string
	AuthID         string

	SecretFilename    string
	KeyringSecretName string // Name of the secret in the system keyring
	Backend           keyring.Config
	BackendType       backendType
	Debug             bool // Enable keyring debug messages

	password *string
	secret   string
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

func (c *Config) RegisterCommandLineFlags() {
	c.RegisterFlags(flag.CommandLine)
}

// RegisterFlags adds the options enabled by c.Flags to fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFilename, "config", "", "TOML configuration `file`. Defaults to $WAMPBLE_CONFIG.")
	if c.Flags.isSet(FlagBLE) {
		fs.StringVar(&c.BLE.Address, "address", "", "Connect only to the device with this `address`. Defaults to $WAMPBLE_ADDRESS.")
		fs.StringVar(&c.BLE.LocalName, "local-name", "", "Connect only to devices advertising this `name`. Defaults to $WAMPBLE_LOCAL_NAME.")
		fs.StringVar(&c.BLE.ServiceUUID, "service-uuid", "", "GATT service `UUID`. Defaults to $WAMPBLE_SERVICE_UUID or "+ble.DefaultServiceUUID+".")
		fs.StringVar(&c.BLE.ReaderUUID, "reader-uuid", "", "Notifying characteristic `UUID`. Defaults to $WAMPBLE_READER_UUID or "+ble.DefaultReaderUUID+".")
		fs.StringVar(&c.BLE.WriterUUID, "writer-uuid", "", "Writable characteristic `UUID`. Defaults to $WAMPBLE_WRITER_UUID or "+ble.DefaultWriterUUID+".")
		c.registerFlagsOsSpecific(fs)
	}
	if c.Flags.isSet(FlagSession) {
		fs.StringVar(&c.Realm, "realm", "", "WAMP `realm` to join. Defaults to $WAMPBLE_REALM or "+DefaultRealm+".")
		fs.StringVar(&c.SerializerName, "serializer", "", "Message `encoding` ("+strings.Join(wamp.SerializerNames(), "|")+"). Defaults to $WAMPBLE_SERIALIZER or "+DefaultSerializer+".")
		fs.StringVar(&c.AuthMethod, "authmethod", "", "Authentication `method` (anonymous|ticket|wampcra|cryptosign). Defaults to $WAMPBLE_AUTHMETHOD.")
		fs.StringVar(&c.AuthID, "authid", "", "Authentication `id`. Defaults to $WAMPBLE_AUTHID.")
	}
	if c.Flags.isSet(FlagSecret) {
		fs.StringVar(&c.SecretFilename, "secret-file", "", "A `file` containing the ticket, secret or cryptosign seed. Defaults to $WAMPBLE_SECRET_FILE.")
		fs.StringVar(&c.KeyringSecretName, "secret-name", "", "System keyring `name` for the secret. Defaults to $WAMPBLE_SECRET_NAME.")

		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		fs.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $WAMPBLE_KEYRING_TYPE.")
		fs.StringVar(&c.Backend.FileDir, "keyring-file-dir", "", "keyring `directory` for file-backed keyring types. Defaults to $WAMPBLE_KEYRING_PATH or "+keyringDirectory+".")
		fs.BoolVar(&c.Debug, "keyring-debug", false, "Enable keyring debug logging")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters.
func (c *Config) ReadFromEnvironment() {
	setFromEnv(&c.ConfigFilename, EnvConfigFile, "config file")
	if c.Flags.isSet(FlagBLE) {
		setFromEnv(&c.BtAdapterID, EnvAdapter, "adapter")
		setFromEnv(&c.BLE.Address, EnvAddress, "device address")
		setFromEnv(&c.BLE.LocalName, EnvLocalName, "device name")
		setFromEnv(&c.BLE.ServiceUUID, EnvServiceUUID, "service UUID")
		setFromEnv(&c.BLE.ReaderUUID, EnvReaderUUID, "reader UUID")
		setFromEnv(&c.BLE.WriterUUID, EnvWriterUUID, "writer UUID")
	}
	if c.Flags.isSet(FlagSession) {
		setFromEnv(&c.Realm, EnvRealm, "realm")
		setFromEnv(&c.SerializerName, EnvSerializer, "serializer")
		setFromEnv(&c.AuthMethod, EnvAuthMethod, "authmethod")
		setFromEnv(&c.AuthID, EnvAuthID, "authid")
	}
	if c.Flags.isSet(FlagSecret) {
		if c.KeyringSecretName == "" && c.SecretFilename == "" {
			setFromEnv(&c.KeyringSecretName, EnvSecretName, "secret name")
			setFromEnv(&c.SecretFilename, EnvSecretFile, "secret file")
		}
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if value := os.Getenv(EnvKeyringType); value != "" && c.BackendType.Set(value) == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvKeyringPassword)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		setFromEnv(&c.Backend.FileDir, EnvKeyringPath, "keyring File Path")
		if !c.Debug {
			_, c.Debug = os.LookupEnv(EnvKeyringDebug)
			log.Debug("Set keyring Debug Logging to '%v'", c.Debug)
		}
	}
}

func setFromEnv(field *string, name, description string) {
	if *field != "" {
		return
	}
	if value, ok := os.LookupEnv(name); ok {
		*field = value
		log.Debug("Set %s to '%s'", description, value)
	}
}

// ApplyDefaults fills in every field that is still empty.
func (c *Config) ApplyDefaults() {
	defaults := ble.DefaultConfig()
	setDefault(&c.BLE.ServiceUUID, defaults.ServiceUUID)
	setDefault(&c.BLE.ReaderUUID, defaults.ReaderUUID)
	setDefault(&c.BLE.WriterUUID, defaults.WriterUUID)
	setDefault(&c.Realm, DefaultRealm)
	setDefault(&c.SerializerName, DefaultSerializer)
	setDefault(&c.Backend.FileDir, keyringDirectory)
	if c.AuthMethod == "" {
		if c.SecretFilename != "" || c.KeyringSecretName != "" {
			c.AuthMethod = wamp.MethodTicket
		} else {
			c.AuthMethod = wamp.MethodAnonymous
		}
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// BLEConfig returns the validated GATT service description.
func (c *Config) BLEConfig() (ble.Config, error) {
	cfg := c.BLE
	if err := cfg.Validate(); err != nil {
		return ble.Config{}, err
	}
	return cfg, nil
}

func (c *Config) Serializer() (wamp.Serializer, error) {
	return wamp.SerializerByName(c.SerializerName)
}

// Authenticator builds the authenticator for c.AuthMethod, loading the secret it needs.
func (c *Config) Authenticator() (wamp.Authenticator, error) {
	switch c.AuthMethod {
	case "", wamp.MethodAnonymous:
		return &wamp.AnonymousAuthenticator{ID: c.AuthID}, nil
	case wamp.MethodTicket:
		ticket, err := c.Secret()
		if err != nil {
			return nil, err
		}
		authID := c.AuthID
		if info, err := InspectTicket(ticket); err == nil {
			info.Warn()
			if authID == "" {
				authID = info.Subject
			}
		}
		return wamp.NewTicketAuthenticator(authID, ticket), nil
	case wamp.MethodCRA:
		secret, err := c.Secret()
		if err != nil {
			return nil, err
		}
		return wamp.NewCRAAuthenticator(c.AuthID, secret), nil
	case wamp.MethodCryptosign:
		seed, err := c.Secret()
		if err != nil {
			return nil, err
		}
		return wamp.NewCryptosignAuthenticator(c.AuthID, seed)
	}
	return nil, fmt.Errorf("unsupported authmethod '%s'", c.AuthMethod)
}

// Secret loads the ticket, secret or seed from the location specified in c, trying the file
// first and the system keyring second. The secret is cached after it is first loaded.
//
// If c does not specify a location, Secret prompts on the terminal when one is available.
func (c *Config) Secret() (string, error) {
	if c.secret != "" {
		return c.secret, nil
	}
	var err error
	if c.SecretFilename != "" {
		var data []byte
		data, err = os.ReadFile(c.SecretFilename)
		if err == nil {
			c.secret = strings.TrimSpace(string(data))
			return c.secret, nil
		}
		if !errors.Is(err, os.ErrNotExist) || c.KeyringSecretName == "" {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		// If the file doesn't exist, fall through to trying to load from the system keyring.
	}
	if c.KeyringSecretName != "" {
		c.secret, err = c.LoadSecretFromKeyring()
		return c.secret, err
	}
	secret, err := c.PromptSecret()
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoSecretSpecified, err)
	}
	c.secret = secret
	return secret, nil
}

// PromptSecret reads a secret from the terminal without echo.
func (c *Config) PromptSecret() (string, error) {
	secret, err := prompt(fmt.Sprintf("%s secret", c.AuthMethod))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(secret), nil
}

// SaveSecret writes secret to the system keyring or file, depending on what options are
// configured. The method prefers the keyring if both options are available.
func (c *Config) SaveSecret(secret string) error {
	if c.KeyringSecretName != "" {
		return c.SaveSecretToKeyring(secret)
	}
	if c.SecretFilename != "" {
		return os.WriteFile(c.SecretFilename, []byte(secret+"\n"), 0600)
	}
	return ErrNoSecretSpecified
}
