package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
	"github.com/BurntSushi/toml"

	"github.com/xconnio/wampble/internal/log"
)

// fileConfig maps config.toml keys onto Config fields.
//
//	adapter = "hci1"
//	realm = "realm1"
//	serializer = "msgpack"
//	authmethod = "wampcra"
//	authid = "alice"
//	secret_file = "alice.secret"
//
//	[ble]
//	service_uuid = "6bb39355-45d9-419e-a678-774a7fa9b51c"
//	local_name = "thermostat"
type fileConfig struct {
	Adapter    string `toml:"adapter"`
	Realm      string `toml:"realm"`
	Serializer string `toml:"serializer"`
	AuthMethod string `toml:"authmethod"`
	AuthID     string `toml:"authid"`
	SecretFile string `toml:"secret_file"`
	SecretName string `toml:"secret_name"`
	Keyring    struct {
		Type string `toml:"type"`
		Dir  string `toml:"dir"`
	} `toml:"keyring"`
	BLE struct {
		Address     string `toml:"address"`
		LocalName   string `toml:"local_name"`
		ServiceUUID string `toml:"service_uuid"`
		ReaderUUID  string `toml:"reader_uuid"`
		WriterUUID  string `toml:"writer_uuid"`
	} `toml:"ble"`
}

// ReadFromFile populates fields that are still empty from the TOML file named by
// c.ConfigFilename. It does nothing if no file is configured.
//
// A relative secret_file is resolved against the directory containing the configuration file.
func (c *Config) ReadFromFile() error {
	if c.ConfigFilename == "" {
		return nil
	}
	return c.LoadFile(c.ConfigFilename)
}

func (c *Config) LoadFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Warning("Ignoring unknown keys in %s: %v", path, undecoded)
	}

	overlay := func(key string, field *string, value string) {
		if meta.IsDefined(strings.Split(key, ".")...) && *field == "" {
			*field = strings.TrimSpace(value)
		}
	}

	overlay("adapter", &c.BtAdapterID, raw.Adapter)
	overlay("ble.address", &c.BLE.Address, raw.BLE.Address)
	overlay("ble.local_name", &c.BLE.LocalName, raw.BLE.LocalName)
	overlay("ble.service_uuid", &c.BLE.ServiceUUID, raw.BLE.ServiceUUID)
	overlay("ble.reader_uuid", &c.BLE.ReaderUUID, raw.BLE.ReaderUUID)
	overlay("ble.writer_uuid", &c.BLE.WriterUUID, raw.BLE.WriterUUID)
	overlay("realm", &c.Realm, raw.Realm)
	overlay("serializer", &c.SerializerName, raw.Serializer)
	overlay("authmethod", &c.AuthMethod, raw.AuthMethod)
	overlay("authid", &c.AuthID, raw.AuthID)
	overlay("keyring.dir", &c.Backend.FileDir, raw.Keyring.Dir)

	if c.SecretFilename == "" && c.KeyringSecretName == "" {
		overlay("secret_name", &c.KeyringSecretName, raw.SecretName)
		if meta.IsDefined("secret_file") {
			secretFile := strings.TrimSpace(raw.SecretFile)
			if secretFile != "" && !filepath.IsAbs(secretFile) {
				secretFile = filepath.Join(filepath.Dir(path), secretFile)
			}
			c.SecretFilename = secretFile
		}
	}

	if meta.IsDefined("keyring", "type") && c.BackendType.String() == string(keyring.InvalidBackend) {
		if err := c.BackendType.Set(strings.TrimSpace(raw.Keyring.Type)); err != nil {
			return fmt.Errorf("load config: keyring.type: %w", err)
		}
	}
	log.Debug("Loaded configuration from %s", path)
	return nil
}
