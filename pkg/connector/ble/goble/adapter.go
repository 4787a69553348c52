// Package goble implements the ble.Adapter abstraction on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"

	"github.com/xconnio/wampble/internal/log"
	bleconn "github.com/xconnio/wampble/pkg/connector/ble"
	"github.com/xconnio/wampble/pkg/protocol"
)

var ErrAdapterInvalidID = protocol.NewError("the bluetooth adapter ID is invalid", false, false)

var (
	sharedDevice ble.Device
	sharedLock   sync.Mutex
)

// NewAdapter opens the host controller. id selects an HCI device on Linux ("hci0", "1", ...) and
// must be empty elsewhere.
//
// The controller is shared: multiple calls reuse the same device, since opening the HCI socket
// twice fails on Linux.
func NewAdapter(id string) (bleconn.Adapter, error) {
	sharedLock.Lock()
	defer sharedLock.Unlock()

	if sharedDevice != nil {
		log.Debug("Reusing existing BLE device")
	} else {
		log.Debug("Creating new BLE adapter")
		device, err := newDevice(id)
		if err != nil {
			return nil, fmt.Errorf("ble: failed to enable device: %w", err)
		}
		sharedDevice = device
	}
	return &adapter{device: sharedDevice}, nil
}

type adapter struct {
	device ble.Device
}

func (a *adapter) Scan(ctx context.Context, match func(*bleconn.Beacon) bool) (*bleconn.Beacon, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan *bleconn.Beacon, 1)
	fn := func(adv ble.Advertisement) {
		beacon := advertisementToBeacon(adv)
		if !match(beacon) {
			return
		}
		select {
		case ch <- beacon:
			cancel() // Notify device.Scan() that we found a match
		case <-scanCtx.Done():
			// Another advertisement already matched. Return so that the Darwin implementation of
			// device.Scan() unblocks.
		}
	}

	// device.Scan() always returns an error once scanCtx is canceled, including when a match was
	// found; ctx errors are picked up below.
	if err := a.device.Scan(scanCtx, false, fn); !errors.Is(err, context.Canceled) {
		return nil, err
	}

	select {
	case beacon := <-ch:
		return beacon, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *adapter) Connect(ctx context.Context, beacon *bleconn.Beacon) (bleconn.Device, error) {
	client, err := a.device.Dial(ctx, ble.NewAddr(beacon.Address))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s (%s): %w", beacon.Address, beacon.LocalName, err)
	}
	return &device{client: client}, nil
}

// Close stops the shared controller so that the next NewAdapter call opens a fresh one. It does not
// disconnect devices; close their Peers first.
func (a *adapter) Close() error {
	sharedLock.Lock()
	defer sharedLock.Unlock()
	if sharedDevice == nil || sharedDevice != a.device {
		return nil
	}
	if err := sharedDevice.Stop(); err != nil {
		return fmt.Errorf("ble: failed to stop device: %w", err)
	}
	sharedDevice = nil
	log.Debug("Closed BLE adapter")
	return nil
}

func advertisementToBeacon(a ble.Advertisement) *bleconn.Beacon {
	services := make([]string, 0, len(a.Services()))
	for _, uuid := range a.Services() {
		services = append(services, uuid.String())
	}
	return &bleconn.Beacon{
		Address:     a.Addr().String(),
		LocalName:   a.LocalName(),
		RSSI:        int16(a.RSSI()),
		Connectable: a.Connectable(),
		Services:    services,
	}
}
