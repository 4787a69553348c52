package goble

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"

	"github.com/xconnio/wampble/internal/log"
	bleconn "github.com/xconnio/wampble/pkg/connector/ble"
)

type device struct {
	client ble.Client
}

func (d *device) Service(_ context.Context, uuid string) (bleconn.Service, error) {
	id, err := ble.Parse(uuid)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", uuid, err)
	}
	services, err := d.client.DiscoverServices([]ble.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate device services: %w", err)
	}
	for _, s := range services {
		if s.UUID.Equal(id) {
			return &service{client: d.client, service: s}, nil
		}
	}
	return nil, fmt.Errorf("service %s not found", uuid)
}

func (d *device) Disconnected() <-chan struct{} {
	return d.client.Disconnected()
}

func (d *device) Close() error {
	if err := d.client.ClearSubscriptions(); err != nil {
		log.Warning("ble: failed to clear subscriptions: %s", err)
	}
	return d.client.CancelConnection()
}
