package ble_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/xconnio/wampble/mocks"
	"github.com/xconnio/wampble/pkg/connector/ble"
	"github.com/xconnio/wampble/pkg/frame"
	"github.com/xconnio/wampble/pkg/peer"
	"github.com/xconnio/wampble/pkg/protocol"
)

var _ = Describe("Config", func() {
	It("normalizes UUIDs", func() {
		cfg := ble.Config{
			ServiceUUID: "6BB39355-45D9-419E-A678-774A7FA9B51C",
			ReaderUUID:  "4212049d573e48ae9ffaddce066e36c8",
			WriterUUID:  ble.DefaultWriterUUID,
			Address:     "AA:BB:CC:DD:EE:FF",
		}
		Expect(cfg.Validate()).To(Succeed())
		Expect(cfg.ServiceUUID).To(Equal(ble.DefaultServiceUUID))
		Expect(cfg.ReaderUUID).To(Equal(ble.DefaultReaderUUID))
		Expect(cfg.Address).To(Equal("aa:bb:cc:dd:ee:ff"))
	})

	It("rejects invalid and duplicate UUIDs", func() {
		cfg := ble.DefaultConfig()
		cfg.ReaderUUID = "not-a-uuid"
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("invalid reader UUID")))

		cfg = ble.DefaultConfig()
		cfg.WriterUUID = cfg.ReaderUUID
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("both")))
	})

	It("matches advertisements", func() {
		cfg := ble.DefaultConfig()
		Expect(cfg.Validate()).To(Succeed())
		Expect(cfg.Matches(&ble.Beacon{Services: []string{"180d", "6bb3935545d9419ea678774a7fa9b51c"}})).To(BeTrue())
		Expect(cfg.Matches(&ble.Beacon{Services: []string{"180d"}})).To(BeFalse())

		cfg.LocalName = "xconn"
		Expect(cfg.Matches(&ble.Beacon{LocalName: "other", Services: []string{ble.DefaultServiceUUID}})).To(BeFalse())
		Expect(cfg.Matches(&ble.Beacon{LocalName: "xconn", Services: []string{ble.DefaultServiceUUID}})).To(BeTrue())

		cfg = ble.DefaultConfig()
		cfg.Address = "aa:bb:cc:dd:ee:ff"
		Expect(cfg.Matches(&ble.Beacon{Address: "AA:BB:CC:DD:EE:FF"})).To(BeTrue())
		Expect(cfg.Matches(&ble.Beacon{Address: "11:22:33:44:55:66"})).To(BeFalse())
	})
})

// fakeLink wires mocks for one successful connection and records traffic.
type fakeLink struct {
	device         *mocks.BLEDevice
	service        *mocks.BLEService
	characteristic *mocks.BLECharacteristic
	disconnected   chan struct{}

	lock     sync.Mutex
	notify   func([]byte)
	written  [][]byte
	writeErr error
}

func newFakeLink(ctrl *gomock.Controller, mtu int) *fakeLink {
	f := &fakeLink{
		device:         mocks.NewBLEDevice(ctrl),
		service:        mocks.NewBLEService(ctrl),
		characteristic: mocks.NewBLECharacteristic(ctrl),
		disconnected:   make(chan struct{}),
	}
	f.device.EXPECT().Service(gomock.Any(), ble.DefaultServiceUUID).Return(f.service, nil)
	f.device.EXPECT().Disconnected().Return(f.disconnected)
	f.service.EXPECT().Characteristic(ble.DefaultWriterUUID).Return(f.characteristic, nil)
	if mtu > 0 {
		f.characteristic.EXPECT().MTU(515).Return(mtu, nil)
	} else {
		f.characteristic.EXPECT().MTU(515).Return(0, errors.New("not supported"))
	}
	f.service.EXPECT().Subscribe(ble.DefaultReaderUUID, gomock.Any()).DoAndReturn(func(_ string, callback func([]byte)) error {
		f.lock.Lock()
		defer f.lock.Unlock()
		f.notify = callback
		return nil
	})
	f.characteristic.EXPECT().Write(gomock.Any()).DoAndReturn(func(buf []byte) error {
		f.lock.Lock()
		defer f.lock.Unlock()
		f.written = append(f.written, append([]byte{}, buf...))
		return f.writeErr
	}).AnyTimes()
	return f
}

func (f *fakeLink) deliver(fragment []byte) {
	f.lock.Lock()
	notify := f.notify
	f.lock.Unlock()
	notify(fragment)
}

func (f *fakeLink) writes() [][]byte {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([][]byte{}, f.written...)
}

var _ = Describe("Manager", func() {
	var (
		ctrl    *gomock.Controller
		adapter *mocks.BLEAdapter
		manager *ble.Manager
		beacon  *ble.Beacon
		ctx     context.Context
	)

	BeforeEach(func() {
		var err error
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		DeferCleanup(cancel)

		ctrl = gomock.NewController(GinkgoT())
		adapter = mocks.NewBLEAdapter(ctrl)
		manager, err = ble.NewManager(adapter, ble.DefaultConfig(), ble.WithRetryInterval(10*time.Millisecond))
		Expect(err).ToNot(HaveOccurred())
		beacon = &ble.Beacon{
			Address:     "aa:bb:cc:dd:ee:ff",
			LocalName:   "xconn",
			Connectable: true,
			Services:    []string{ble.DefaultServiceUUID},
		}
	})

	expectScan := func() {
		adapter.EXPECT().Scan(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, match func(*ble.Beacon) bool) (*ble.Beacon, error) {
				Expect(match(&ble.Beacon{Services: []string{"180f"}})).To(BeFalse())
				Expect(match(beacon)).To(BeTrue())
				return beacon, nil
			})
	}

	It("rejects an invalid configuration", func() {
		cfg := ble.DefaultConfig()
		cfg.ServiceUUID = ""
		_, err := ble.NewManager(adapter, cfg)
		Expect(err).To(HaveOccurred())
	})

	Context("connected", func() {
		var (
			link *fakeLink
			p    *peer.Peer
		)

		BeforeEach(func() {
			link = newFakeLink(ctrl, 515)
			expectScan()
			adapter.EXPECT().Connect(gomock.Any(), beacon).Return(link.device, nil)

			var err error
			p, err = manager.Connect(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(manager.Peers()).To(Equal(1))
		})

		It("caps frames at the largest ATT value", func() {
			Expect(p.PayloadSize()).To(Equal(511))
			link.device.EXPECT().Close().Return(nil)
			Expect(p.Close()).To(Succeed())
		})

		It("writes fragments one at a time in order", func() {
			message := bytes.Repeat([]byte{0x42}, 1200)
			Expect(p.Send(ctx, message)).To(Succeed())

			writes := link.writes()
			Expect(writes).To(HaveLen(3))
			Expect(writes[0]).To(HaveLen(512))
			Expect(writes[0][0]).To(Equal(byte(0)))
			Expect(writes[1]).To(HaveLen(512))
			Expect(writes[1][0]).To(Equal(byte(0)))
			Expect(writes[2]).To(HaveLen(179))
			Expect(writes[2][0]).To(Equal(byte(1)))

			link.device.EXPECT().Close().Return(nil)
			Expect(p.Close()).To(Succeed())
		})

		It("routes notifications to the peer", func() {
			for _, f := range frame.Split(bytes.Repeat([]byte("abc"), 400)) {
				data, _ := f.MarshalBinary()
				link.deliver(data)
			}
			message, err := p.Receive(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(message).To(Equal(bytes.Repeat([]byte("abc"), 400)))

			link.device.EXPECT().Close().Return(nil)
			Expect(p.Close()).To(Succeed())
		})

		It("stops routing notifications after close", func() {
			link.device.EXPECT().Close().Return(nil)
			Expect(p.Close()).To(Succeed())
			Expect(manager.Peers()).To(Equal(0))

			link.deliver([]byte{1, 'x'})
			Expect(p.Stats().FragmentsReceived).To(Equal(0))
		})

		It("surfaces write failures to the sender", func() {
			link.lock.Lock()
			link.writeErr = errors.New("gatt: write failed")
			link.lock.Unlock()

			err := p.Send(ctx, []byte("hello"))
			var writeErr *protocol.WriteError
			Expect(errors.As(err, &writeErr)).To(BeTrue())
			Expect(writeErr.Fragment).To(Equal(0))

			link.device.EXPECT().Close().Return(nil)
			Expect(p.Close()).To(Succeed())
		})

		It("disconnects the peer when the device drops", func() {
			link.device.EXPECT().Close().Return(nil)
			close(link.disconnected)

			Eventually(p.Done()).Should(BeClosed())
			Eventually(manager.Peers).Should(Equal(0))
			Expect(errors.Is(p.Err(), protocol.ErrDisconnected)).To(BeTrue())
			Expect(errors.Is(p.Err(), ble.ErrLinkLost)).To(BeTrue())
			_, err := p.Receive(ctx)
			Expect(errors.Is(err, protocol.ErrDisconnected)).To(BeTrue())
		})

		It("closes peers and the adapter on Close", func() {
			link.device.EXPECT().Close().Return(nil)
			adapter.EXPECT().Close().Return(nil)
			Expect(manager.Close()).To(Succeed())
			Eventually(p.Done()).Should(BeClosed())
			Expect(manager.Peers()).To(Equal(0))
		})

		It("creates an independent peer on the next Connect", func() {
			link.device.EXPECT().Close().Return(nil)
			Expect(p.Close()).To(Succeed())

			second := newFakeLink(ctrl, 515)
			expectScan()
			adapter.EXPECT().Connect(gomock.Any(), beacon).Return(second.device, nil)
			p2, err := manager.Connect(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(p2).ToNot(BeIdenticalTo(p))

			second.deliver([]byte{1, 'h', 'i'})
			message, err := p2.Receive(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(message)).To(Equal("hi"))

			// Closing the old peer again must not drop the new peer's registration.
			Expect(p.Close()).To(Succeed())
			second.deliver([]byte{1, 'y'})
			message, err = p2.Receive(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(message)).To(Equal("y"))

			second.device.EXPECT().Close().Return(nil)
			Expect(p2.Close()).To(Succeed())
		})
	})

	DescribeTable("sizes fragments to the negotiated MTU",
		func(mtu int, payload int) {
			link := newFakeLink(ctrl, mtu)
			adapter.EXPECT().Connect(gomock.Any(), beacon).Return(link.device, nil)
			p, err := manager.ConnectBeacon(ctx, beacon)
			Expect(err).ToNot(HaveOccurred())
			Expect(p.PayloadSize()).To(Equal(payload))

			Expect(p.Send(ctx, make([]byte, 3*payload))).To(Succeed())
			Expect(link.writes()).To(HaveLen(3))

			link.device.EXPECT().Close().Return(nil)
			Expect(p.Close()).To(Succeed())
		},
		Entry("small MTU", 185, 181),
		Entry("failed exchange", 0, 19),
	)

	It("reports scan failures as link errors", func() {
		adapter.EXPECT().Scan(gomock.Any(), gomock.Any()).Return(nil, errors.New("hci: busy"))
		_, err := manager.Connect(ctx)
		var linkErr *protocol.LinkError
		Expect(errors.As(err, &linkErr)).To(BeTrue())
		Expect(linkErr.Op).To(Equal("scan"))
	})

	It("refuses beacons that are not connectable", func() {
		beacon.Connectable = false
		_, err := manager.ConnectBeacon(ctx, beacon)
		Expect(errors.Is(err, ble.ErrNotConnectable)).To(BeTrue())
	})

	It("retries and releases the device when a characteristic is missing", func() {
		shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		device := mocks.NewBLEDevice(ctrl)
		service := mocks.NewBLEService(ctrl)
		adapter.EXPECT().Connect(gomock.Any(), beacon).Return(device, nil).MinTimes(2)
		device.EXPECT().Service(gomock.Any(), ble.DefaultServiceUUID).Return(service, nil).MinTimes(2)
		service.EXPECT().Characteristic(ble.DefaultWriterUUID).Return(nil, errors.New("characteristic not found")).MinTimes(2)
		device.EXPECT().Close().Return(nil).MinTimes(2)

		_, err := manager.ConnectBeacon(shortCtx, beacon)
		var linkErr *protocol.LinkError
		Expect(errors.As(err, &linkErr)).To(BeTrue())
		Expect(linkErr.Op).To(Equal("discover writer characteristic"))
		Expect(protocol.ShouldRetry(err)).To(BeTrue())
	})

	It("releases the device when subscribing fails", func() {
		device := mocks.NewBLEDevice(ctrl)
		service := mocks.NewBLEService(ctrl)
		characteristic := mocks.NewBLECharacteristic(ctrl)
		adapter.EXPECT().Connect(gomock.Any(), beacon).Return(device, nil)
		device.EXPECT().Service(gomock.Any(), ble.DefaultServiceUUID).Return(service, nil)
		service.EXPECT().Characteristic(ble.DefaultWriterUUID).Return(characteristic, nil)
		characteristic.EXPECT().MTU(515).Return(515, nil)
		service.EXPECT().Subscribe(ble.DefaultReaderUUID, gomock.Any()).Return(errors.New("no CCCD"))
		device.EXPECT().Close().Return(nil)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := manager.ConnectBeacon(cancelled, beacon)
		var linkErr *protocol.LinkError
		Expect(errors.As(err, &linkErr)).To(BeTrue())
		Expect(linkErr.Op).To(Equal("subscribe to reader characteristic"))
	})
})
