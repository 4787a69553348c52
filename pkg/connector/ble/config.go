package ble

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	DefaultServiceUUID = "6bb39355-45d9-419e-a678-774a7fa9b51c"
	DefaultReaderUUID  = "4212049d-573e-48ae-9ffa-ddce066e36c8"
	DefaultWriterUUID  = "661119d9-9996-44f1-a19d-42abe4b47f4f"
)

// Config identifies the GATT service that carries the message link. The reader characteristic
// notifies the client of inbound fragments; the client writes outbound fragments to the writer
// characteristic.
type Config struct {
	ServiceUUID string
	ReaderUUID  string
	WriterUUID  string

	// Optional filters applied to advertisements in addition to the service UUID.
	LocalName string
	Address   string
}

func DefaultConfig() Config {
	return Config{
		ServiceUUID: DefaultServiceUUID,
		ReaderUUID:  DefaultReaderUUID,
		WriterUUID:  DefaultWriterUUID,
	}
}

// Validate checks the UUIDs and normalizes them to lower-case canonical form.
func (c *Config) Validate() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"service", &c.ServiceUUID},
		{"reader", &c.ReaderUUID},
		{"writer", &c.WriterUUID},
	}
	seen := make(map[string]string)
	for _, f := range fields {
		parsed, err := uuid.Parse(*f.value)
		if err != nil {
			return fmt.Errorf("ble: invalid %s UUID %q: %w", f.name, *f.value, err)
		}
		*f.value = parsed.String()
		if other, ok := seen[*f.value]; ok {
			return fmt.Errorf("ble: %s and %s UUIDs are both %s", other, f.name, *f.value)
		}
		seen[*f.value] = f.name
	}
	c.Address = strings.ToLower(c.Address)
	return nil
}

// Matches reports whether b advertises the configured service and passes the optional filters.
func (c *Config) Matches(b *Beacon) bool {
	if c.Address != "" && !strings.EqualFold(b.Address, c.Address) {
		return false
	}
	if c.LocalName != "" && b.LocalName != c.LocalName {
		return false
	}
	for _, s := range b.Services {
		if parsed, err := uuid.Parse(s); err == nil && parsed.String() == c.ServiceUUID {
			return true
		}
	}
	// Some controllers omit service UUIDs from advertisements; an explicit address is enough.
	return c.Address != "" && len(b.Services) == 0
}
