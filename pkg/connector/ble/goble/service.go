package goble

import (
	"fmt"

	"github.com/go-ble/ble"

	bleconn "github.com/xconnio/wampble/pkg/connector/ble"
)

type service struct {
	client  ble.Client
	service *ble.Service
}

func (s *service) Characteristic(uuid string) (bleconn.Characteristic, error) {
	c, err := s.discover(uuid)
	if err != nil {
		return nil, err
	}
	return &characteristic{characteristic: c, client: s.client}, nil
}

// Subscribe enables notifications (not indications) on the characteristic; the client
// library writes the client configuration descriptor.
func (s *service) Subscribe(uuid string, callback func(buf []byte)) error {
	c, err := s.discover(uuid)
	if err != nil {
		return err
	}
	if c.CCCD == nil {
		return fmt.Errorf("characteristic %s does not support notifications", uuid)
	}
	if err := s.client.Subscribe(c, false, callback); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", uuid, err)
	}
	return nil
}

func (s *service) discover(uuidStr string) (*ble.Characteristic, error) {
	uuid, err := ble.Parse(uuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuidStr, err)
	}
	characteristics, err := s.client.DiscoverCharacteristics([]ble.UUID{uuid}, s.service)
	if err != nil {
		return nil, fmt.Errorf("failed to discover service characteristics: %w", err)
	}

	var found *ble.Characteristic
	for _, c := range characteristics {
		if c.UUID.Equal(uuid) {
			found = c
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("characteristic %s not found", uuidStr)
	}

	if _, err := s.client.DiscoverDescriptors(nil, found); err != nil {
		return nil, fmt.Errorf("couldn't fetch descriptors: %w", err)
	}
	return found, nil
}

type characteristic struct {
	characteristic *ble.Characteristic
	client         ble.Client
}

// Write uses write-with-response, so it returns once the remote side acknowledged the value.
func (c *characteristic) Write(buf []byte) error {
	return c.client.WriteCharacteristic(c.characteristic, buf, false)
}

func (c *characteristic) MTU(rxMTU int) (int, error) {
	return c.client.ExchangeMTU(rxMTU)
}
