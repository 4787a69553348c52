package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xconnio/wampble/internal/dispatcher"
	"github.com/xconnio/wampble/internal/log"
	"github.com/xconnio/wampble/pkg/connector"
	"github.com/xconnio/wampble/pkg/frame"
	"github.com/xconnio/wampble/pkg/peer"
	"github.com/xconnio/wampble/pkg/protocol"
)

var (
	ErrNotConnectable = protocol.NewError("device is not accepting connections", false, true)
	// ErrLinkLost is the cause recorded on a Peer whose device dropped the connection.
	ErrLinkLost = errors.New("ble: remote device disconnected")

	errLinkClosed = errors.New("ble: link closed")
)

const (
	defaultMTU = 23
	// go-ble refuses larger exchanges, so ATT values and therefore frames never exceed 512 bytes.
	maxMTU = 512 + 3

	retryInterval = time.Second
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPeerOptions applies options to every Peer the Manager creates.
func WithPeerOptions(options ...peer.Option) ManagerOption {
	return func(m *Manager) {
		m.peerOptions = append(m.peerOptions, options...)
	}
}

// WithRetryInterval sets the pause between connection attempts.
func WithRetryInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retryInterval = d
	}
}

// Manager establishes links to devices exposing the configured service and turns each link into a
// Peer. Inbound notifications reach Peers through the Manager's dispatcher registry.
type Manager struct {
	adapter       Adapter
	config        Config
	registry      *dispatcher.Registry
	peerOptions   []peer.Option
	retryInterval time.Duration

	lock  sync.Mutex
	peers map[*peer.Peer]struct{}
}

func NewManager(adapter Adapter, config Config, options ...ManagerOption) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		adapter:       adapter,
		config:        config,
		registry:      dispatcher.New(),
		retryInterval: retryInterval,
		peers:         make(map[*peer.Peer]struct{}),
	}
	for _, option := range options {
		option(m)
	}
	return m, nil
}

func (m *Manager) Config() Config {
	return m.config
}

// Peers returns the number of open Peers.
func (m *Manager) Peers() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.peers)
}

// Scan returns the first advertisement that matches the configuration.
func (m *Manager) Scan(ctx context.Context) (*Beacon, error) {
	log.Debug("Scanning for service %s...", m.config.ServiceUUID)
	beacon, err := m.adapter.Scan(ctx, m.config.Matches)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &protocol.LinkError{Op: "scan", Err: err}
	}
	log.Info("Found %s (%s, RSSI %d)", beacon.Address, beacon.LocalName, beacon.RSSI)
	return beacon, nil
}

// Connect scans for a matching device and connects to it. Every call is an independent attempt;
// calling Connect again after a Peer closes produces a new Peer.
func (m *Manager) Connect(ctx context.Context) (*peer.Peer, error) {
	beacon, err := m.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return m.ConnectBeacon(ctx, beacon)
}

// ConnectBeacon connects to a previously scanned device, retrying until ctx is done. If no attempt
// succeeds, the error from the last attempt is returned.
func (m *Manager) ConnectBeacon(ctx context.Context, beacon *Beacon) (*peer.Peer, error) {
	var lastError error

	if !beacon.Connectable {
		return nil, &protocol.LinkError{Op: "connect", Err: ErrNotConnectable}
	}

	for {
		p, err := m.tryToConnect(ctx, beacon)
		if err == nil {
			return p, nil
		}
		log.Warning("BLE connection attempt failed: %+v", err)
		lastError = err

		select {
		case <-ctx.Done():
			return nil, lastError
		case <-time.After(m.retryInterval):
		}
	}
}

func (m *Manager) tryToConnect(ctx context.Context, beacon *Beacon) (_ *peer.Peer, err error) {
	log.Debug("Dialing %s...", beacon.Address)
	device, err := m.adapter.Connect(ctx, beacon)
	if err != nil {
		return nil, &protocol.LinkError{Op: "dial", Err: err}
	}
	defer func() {
		if err != nil {
			if closeErr := device.Close(); closeErr != nil {
				log.Warning("ble: failed to release device after error: %s", closeErr)
			}
		}
	}()

	service, err := device.Service(ctx, m.config.ServiceUUID)
	if err != nil {
		return nil, &protocol.LinkError{Op: "discover service", Err: err}
	}
	writer, err := service.Characteristic(m.config.WriterUUID)
	if err != nil {
		return nil, &protocol.LinkError{Op: "discover writer characteristic", Err: err}
	}

	frameSize := min(frame.FrameSize, maxMTU-3)
	if txMTU, err := writer.MTU(maxMTU); err != nil {
		log.Warning("ble: failed to exchange MTU: %s", err)
		frameSize = defaultMTU - 3
	} else {
		log.Debug("MTU size: %d", txMTU)
		frameSize = min(frameSize, txMTU-3) // 3 bytes for ATT header
	}
	if frameSize < maxMTU-3 {
		log.Warning("ble: link carries at most %d bytes per write; fragments are limited to %d bytes instead of %d", frameSize, frameSize, maxMTU-3)
	}

	channelID := fmt.Sprintf("%s/%s", beacon.Address, m.config.ReaderUUID)
	l := &link{characteristic: writer, writes: make(chan []byte, 1), stop: make(chan struct{})}

	options := []peer.Option{
		peer.WithName(beacon.Address),
		peer.WithAssemblerOptions(frame.WithFrameSize(frameSize), frame.WithMaxMessageSize(connector.MaxMessageSize)),
	}
	options = append(options, m.peerOptions...)
	var registration *dispatcher.Registration
	options = append(options, peer.WithOnClose(func() error {
		l.shutdown()
		registration.Close()
		log.Debug("Closing link to %s", beacon.Address)
		err := device.Close()
		m.untrack(l.peer)
		return err
	}))
	l.peer = peer.New(l, options...)
	registration = m.registry.Register(channelID, l.peer.HandleFragment)

	err = service.Subscribe(m.config.ReaderUUID, func(buf []byte) {
		log.Debug("RX: %02x", buf)
		m.registry.Dispatch(channelID, buf)
	})
	if err != nil {
		registration.Close()
		return nil, &protocol.LinkError{Op: "subscribe to reader characteristic", Err: err}
	}

	m.track(l.peer)
	go l.run()
	go watchDisconnect(device.Disconnected(), l.peer)

	log.Info("Connected to %s", beacon.Address)
	return l.peer, nil
}

func watchDisconnect(disconnected <-chan struct{}, p *peer.Peer) {
	select {
	case <-disconnected:
		log.Warning("Device %s disconnected", p.Name())
		p.Disconnect(ErrLinkLost)
	case <-p.Done():
	}
}

func (m *Manager) track(p *peer.Peer) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.peers[p] = struct{}{}
}

func (m *Manager) untrack(p *peer.Peer) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.peers, p)
}

// Close closes every Peer created by the Manager and releases the adapter.
func (m *Manager) Close() error {
	m.lock.Lock()
	peers := make([]*peer.Peer, 0, len(m.peers))
	for p := range m.peers {
		peers = append(peers, p)
	}
	m.lock.Unlock()

	for _, p := range peers {
		if err := p.Close(); err != nil {
			log.Warning("ble: failed to close link to %s: %s", p.Name(), err)
		}
	}
	return m.adapter.Close()
}

// link turns blocking characteristic writes into the asynchronous write/complete pair a Peer
// expects. Writes run one at a time on the link's goroutine.
type link struct {
	characteristic Characteristic
	peer           *peer.Peer
	writes         chan []byte
	stop           chan struct{}
	stopOnce       sync.Once
}

func (l *link) WriteFragment(fragment []byte) error {
	select {
	case l.writes <- fragment:
		return nil
	case <-l.stop:
		return errLinkClosed
	}
}

func (l *link) run() {
	for {
		select {
		case fragment := <-l.writes:
			log.Debug("TX: %02x", fragment)
			l.peer.OnWriteCompleted(l.characteristic.Write(fragment))
		case <-l.stop:
			return
		}
	}
}

func (l *link) shutdown() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}
