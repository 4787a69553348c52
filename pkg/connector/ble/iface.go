package ble

import (
	"context"
)

type Beacon struct {
	Address     string
	LocalName   string
	RSSI        int16
	Connectable bool
	Services    []string
}

// Adapter is a local Bluetooth controller.
type Adapter interface {
	// Scan returns the first advertisement for which match returns true.
	Scan(ctx context.Context, match func(*Beacon) bool) (*Beacon, error)
	Connect(ctx context.Context, beacon *Beacon) (Device, error)
	Close() error
}

// Device is a connected remote GATT server.
type Device interface {
	Service(ctx context.Context, uuid string) (Service, error)
	// Disconnected is closed when the link drops.
	Disconnected() <-chan struct{}
	Close() error
}

type Service interface {
	Characteristic(uuid string) (Characteristic, error)
	// Subscribe enables notifications on the characteristic. callback runs on the adapter's
	// goroutine, once per notification, in arrival order.
	Subscribe(uuid string, callback func(buf []byte)) error
}

type Characteristic interface {
	// Write performs one acknowledged write and blocks until the remote side confirms it.
	Write(buf []byte) error
	MTU(rxMTU int) (txMTU int, err error)
}
