package backend

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/native/sim"
	"github.com/srg/blecentral/pkg/ble"
	"github.com/srg/blecentral/pkg/stream"
)

const coreProfile = `
peripherals:
  - id: hr-1
    name: Polar H10
    mtu: 185
    advertisement:
      local_name: Polar H10
      services: ["180d"]
    services:
      - uuid: "180d"
        characteristics:
          - uuid: "2a37"
            properties: notify
            descriptors:
              - uuid: "2902"
                value: "0x0000"
          - uuid: "2a38"
            properties: read
            value: "0x01"
          - uuid: "2a39"
            properties: read,write
          - uuid: "ff01"
            properties: write,write-without-response
  - id: thermo-1
    advertisement:
      local_name: Thermo
      services: ["1809"]
  - id: beacon-1
    advertisement:
      not_connectable: true
`

var (
	hrService   = ble.UUID16(0x180d)
	hrMeasure   = ble.UUID16(0x2a37)
	bodyLoc     = ble.UUID16(0x2a38)
	controlPt   = ble.UUID16(0x2a39)
	cccd        = ble.UUID16(0x2902)
	fastWrite   = ble.UUID16(0xff01)
	thermometer = ble.UUID16(0x1809)
)

type CoreTestSuite struct {
	suite.Suite
	stack *sim.Stack
	core  *Core
}

func (suite *CoreTestSuite) newCore(opts sim.Options) {
	profile, err := sim.ParseProfile([]byte(coreProfile))
	suite.Require().NoError(err)
	suite.stack, err = sim.NewFromProfile(profile, opts, nil)
	suite.Require().NoError(err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	suite.core, err = NewCore(context.Background(), suite.stack, DefaultOptions(), logger)
	suite.Require().NoError(err)
}

func (suite *CoreTestSuite) SetupTest() {
	suite.newCore(sim.Options{})
}

func (suite *CoreTestSuite) TearDownTest() {
	if suite.core != nil {
		suite.core.Close()
	}
}

func (suite *CoreTestSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	suite.T().Cleanup(cancel)
	return ctx
}

func next[T any](suite *CoreTestSuite, s *stream.Stream[T]) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Next(ctx)
}

// expectNothing asserts that s delivers nothing within a short window.
func expectNothing[T any](suite *CoreTestSuite, s *stream.Stream[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	v, err := s.Next(ctx)
	suite.ErrorIs(err, context.DeadlineExceeded, "MUST NOT deliver, got %v", v)
}

func drainError[T any](suite *CoreTestSuite, s *stream.Stream[T]) error {
	for i := 0; i < 1000; i++ {
		if _, err := next(suite, s); err != nil {
			return err
		}
	}
	suite.FailNow("stream never terminated")
	return nil
}

func (suite *CoreTestSuite) connectHR() {
	suite.Require().NoError(suite.core.Connect(suite.ctx(), "hr-1"))
}

// characteristic discovers one characteristic of the heart rate service.
func (suite *CoreTestSuite) characteristic(u ble.UUID) AttrInfo {
	svcs, err := suite.core.DiscoverServices(suite.ctx(), "hr-1", []ble.UUID{hrService})
	suite.Require().NoError(err)
	suite.Require().Len(svcs, 1)
	chars, err := suite.core.DiscoverCharacteristics(suite.ctx(), svcs[0].Ref, []ble.UUID{u})
	suite.Require().NoError(err)
	suite.Require().Len(chars, 1)
	return chars[0]
}

func (suite *CoreTestSuite) TestScanFilterMatchesAnyService() {
	// GOAL: Verify only advertisements carrying a filtered service are delivered
	//
	// TEST SCENARIO: Filter on 180d and 1809 → two matching devices in order → beacon excluded
	s, err := suite.core.StartScan(suite.ctx(), []ble.UUID{thermometer, hrService})
	suite.Require().NoError(err)
	defer s.Close()

	first, err := next(suite, s)
	suite.Require().NoError(err)
	suite.Equal(ble.DeviceID("hr-1"), first.Device)
	suite.Equal("Polar H10", first.Name)
	suite.True(first.Data.HasService(hrService))

	second, err := next(suite, s)
	suite.Require().NoError(err)
	suite.Equal(ble.DeviceID("thermo-1"), second.Device)

	suite.stack.Flush()
	expectNothing(suite, s)
}

func (suite *CoreTestSuite) TestSecondScanRejected() {
	// GOAL: Verify only one scan runs at a time and a closed scan frees the slot
	//
	// TEST SCENARIO: Start scan → second start fails with OperationInProgress → close → start again succeeds
	s, err := suite.core.StartScan(suite.ctx(), nil)
	suite.Require().NoError(err)

	_, err = suite.core.StartScan(suite.ctx(), nil)
	suite.True(ble.IsKind(err, ble.OperationInProgress), "second scan MUST be rejected, got %v", err)

	s.Close()
	suite.False(suite.stack.Scanning(), "closing the stream MUST stop the native scan")

	again, err := suite.core.StartScan(suite.ctx(), nil)
	suite.Require().NoError(err)
	again.Close()
}

func (suite *CoreTestSuite) TestClosedScanSeesNoLateAdvertisements() {
	// GOAL: Verify nothing is delivered after Close even when the platform keeps reporting
	//
	// TEST SCENARIO: Leaky stack → drain burst → close → platform re-advertises → stream stays closed
	suite.core.Close()
	suite.newCore(sim.Options{LeakyScan: true})

	s, err := suite.core.StartScan(suite.ctx(), nil)
	suite.Require().NoError(err)
	for range 3 {
		_, err := next(suite, s)
		suite.Require().NoError(err)
	}
	s.Close()

	suite.Require().NoError(suite.stack.Advertise("hr-1"))
	suite.stack.Flush()

	_, err = next(suite, s)
	suite.ErrorIs(err, stream.ErrClosed)
	suite.Equal(uint64(3), s.Stats().Delivered, "MUST NOT count advertisements after close")
}

func (suite *CoreTestSuite) TestConnectIsIdempotent() {
	// GOAL: Verify repeated connects share one link and publish one event
	//
	// TEST SCENARIO: Subscribe to events → connect twice → one Connected event → disconnect twice → one Disconnected event
	events, err := suite.core.ConnectionEvents(suite.ctx(), "")
	suite.Require().NoError(err)
	defer events.Close()

	suite.connectHR()
	suite.connectHR()
	suite.True(suite.core.IsConnected("hr-1"))
	suite.Equal([]ble.DeviceID{"hr-1"}, suite.core.ConnectedDevices())
	suite.Equal("Polar H10", suite.core.DeviceName("hr-1"))

	ev, err := next(suite, events)
	suite.Require().NoError(err)
	suite.Equal(ble.ConnectionEvent{Device: "hr-1", Connected: true}, ev)
	expectNothing(suite, events)

	suite.NoError(suite.core.Disconnect(suite.ctx(), "hr-1"))
	suite.NoError(suite.core.Disconnect(suite.ctx(), "hr-1"), "second disconnect MUST be a no-op")
	suite.False(suite.core.IsConnected("hr-1"))
	suite.False(suite.stack.Connected("hr-1"))

	ev, err = next(suite, events)
	suite.Require().NoError(err)
	suite.False(ev.Connected)
	suite.NoError(ev.Err, "requested disconnect MUST carry no error")
	expectNothing(suite, events)
}

func (suite *CoreTestSuite) TestConnectFailures() {
	err := suite.core.Connect(suite.ctx(), "beacon-1")
	suite.True(ble.IsKind(err, ble.ConnectionFailed), "non-connectable peer MUST fail with ConnectionFailed, got %v", err)

	p, ok := suite.stack.Peripheral("thermo-1")
	suite.Require().True(ok)
	p.SetConnectDelay(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = suite.core.Connect(ctx, "thermo-1")
	suite.True(ble.IsKind(err, ble.Timeout), "expired context MUST map to Timeout, got %v", err)

	suite.Never(func() bool { return suite.core.IsConnected("thermo-1") }, 400*time.Millisecond, 20*time.Millisecond,
		"abandoned connect MUST NOT leave a connection behind")
	suite.False(suite.stack.Connected("thermo-1"), "late native link MUST be torn down")
}

func (suite *CoreTestSuite) TestStaleHandlesAfterReconnect() {
	// GOAL: Verify handles from a previous connection are rejected
	//
	// TEST SCENARIO: Discover → disconnect → reconnect → old ref fails with NotConnected → fresh ref works
	suite.connectHR()
	old := suite.characteristic(bodyLoc)

	suite.Require().NoError(suite.core.Disconnect(suite.ctx(), "hr-1"))
	_, err := suite.core.Read(suite.ctx(), old.Ref)
	suite.True(ble.IsKind(err, ble.NotConnected), "read while disconnected MUST fail with NotConnected, got %v", err)

	suite.connectHR()
	_, err = suite.core.Read(suite.ctx(), old.Ref)
	suite.True(ble.IsKind(err, ble.NotConnected), "stale ref MUST fail with NotConnected, got %v", err)

	fresh := suite.characteristic(bodyLoc)
	suite.NotEqual(old.Ref.Gen, fresh.Ref.Gen)
	v, err := suite.core.Read(suite.ctx(), fresh.Ref)
	suite.NoError(err)
	suite.Equal([]byte{0x01}, v)
}

func (suite *CoreTestSuite) TestDiscoveryKeepsIdentity() {
	suite.connectHR()

	a := suite.characteristic(controlPt)
	b := suite.characteristic(controlPt)
	suite.Equal(a.Ref, b.Ref, "rediscovery MUST return the same handle")
	suite.Equal(ble.PropRead|ble.PropWrite, a.Properties)

	_, err := suite.core.DiscoverCharacteristics(suite.ctx(), a.Ref, nil)
	suite.True(ble.IsKind(err, ble.NotFound), "characteristic ref MUST NOT resolve as a service, got %v", err)
}

func (suite *CoreTestSuite) TestPropertyChecks() {
	suite.connectHR()

	tests := []struct {
		name string
		run  func() error
		kind ble.ErrorKind
	}{
		{"read notify-only", func() error {
			_, err := suite.core.Read(suite.ctx(), suite.characteristic(hrMeasure).Ref)
			return err
		}, ble.ReadNotSupported},
		{"write read-only", func() error {
			return suite.core.Write(suite.ctx(), suite.characteristic(bodyLoc).Ref, []byte{1}, ble.WithResponse)
		}, ble.WriteNotSupported},
		{"write without response to write-only", func() error {
			return suite.core.Write(suite.ctx(), suite.characteristic(controlPt).Ref, []byte{1}, ble.WithoutResponse)
		}, ble.WriteNotSupported},
		{"subscribe read-only", func() error {
			_, err := suite.core.Subscribe(suite.ctx(), suite.characteristic(bodyLoc).Ref)
			return err
		}, ble.NotSupported},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			err := tt.run()
			suite.True(ble.IsKind(err, tt.kind), "MUST fail with %s, got %v", tt.kind, err)
		})
	}
}

func (suite *CoreTestSuite) TestOperationsRunInOrder() {
	// GOAL: Verify a device's GATT operations never overlap
	//
	// TEST SCENARIO: Gate write acks → write blocks → read queued behind it → release → both finish, read sees written value
	suite.connectHR()
	chr := suite.characteristic(controlPt)

	p, _ := suite.stack.Peripheral("hr-1")
	gate := p.GateWriteAcks()
	native := p.Characteristic(controlPt)

	writeDone := make(chan error, 1)
	go func() {
		writeDone <- suite.core.Write(context.Background(), chr.Ref, []byte{0x0a}, ble.WithResponse)
	}()
	suite.Eventually(func() bool { return len(native.Writes()) == 1 }, time.Second, 5*time.Millisecond)

	type readResult struct {
		v   []byte
		err error
	}
	readDone := make(chan readResult, 1)
	go func() {
		v, err := suite.core.Read(context.Background(), chr.Ref)
		readDone <- readResult{v, err}
	}()

	suite.Never(func() bool { return len(readDone) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"read MUST wait for the pending write")

	gate <- struct{}{}
	suite.NoError(<-writeDone)
	r := <-readDone
	suite.NoError(r.err)
	suite.Equal([]byte{0x0a}, r.v)
	suite.Equal([]sim.WriteRecord{{Data: []byte{0x0a}, WithResponse: true}}, native.Writes())
}

func (suite *CoreTestSuite) TestRequestTimeout() {
	suite.connectHR()
	chr := suite.characteristic(controlPt)
	p, _ := suite.stack.Peripheral("hr-1")
	gate := p.GateWriteAcks()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := suite.core.Write(ctx, chr.Ref, []byte{0x01}, ble.WithResponse)
	suite.True(ble.IsKind(err, ble.Timeout), "unacknowledged write MUST time out, got %v", err)

	gate <- struct{}{}
}

func (suite *CoreTestSuite) TestWriteWithoutResponseSkipsAck() {
	// GOAL: Verify only acknowledged writes wait for the peripheral
	//
	// TEST SCENARIO: Gate write acks → write without response returns at once → write with response blocks until the ack
	suite.connectHR()
	chr := suite.characteristic(fastWrite)
	p, _ := suite.stack.Peripheral("hr-1")
	gate := p.GateWriteAcks()
	native := p.Characteristic(fastWrite)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	suite.Require().NoError(suite.core.Write(ctx, chr.Ref, []byte{0x01}, ble.WithoutResponse),
		"write without response MUST NOT wait for an acknowledgement")

	acked := make(chan error, 1)
	go func() {
		acked <- suite.core.Write(context.Background(), chr.Ref, []byte{0x02}, ble.WithResponse)
	}()
	suite.Eventually(func() bool { return len(native.Writes()) == 2 }, time.Second, 5*time.Millisecond)
	suite.Never(func() bool { return len(acked) > 0 }, 100*time.Millisecond, 10*time.Millisecond,
		"write with response MUST wait for the acknowledgement")

	gate <- struct{}{}
	select {
	case err := <-acked:
		suite.NoError(err)
	case <-time.After(time.Second):
		suite.FailNow("write with response MUST complete once acknowledged")
	}
	suite.Equal([]sim.WriteRecord{
		{Data: []byte{0x01}, WithResponse: false},
		{Data: []byte{0x02}, WithResponse: true},
	}, native.Writes())
}

func (suite *CoreTestSuite) TestAbandonedSubscribeIsUndone() {
	// GOAL: Verify a subscribe whose caller gave up while queued leaves no native subscription behind
	//
	// TEST SCENARIO: Block the queue with a gated write → subscribe times out → release → native subscribe runs and is undone → fresh subscribe works
	suite.connectHR()
	ctrl := suite.characteristic(controlPt)
	chr := suite.characteristic(hrMeasure)
	p, _ := suite.stack.Peripheral("hr-1")
	gate := p.GateWriteAcks()
	native := p.Characteristic(hrMeasure)

	writeDone := make(chan error, 1)
	go func() {
		writeDone <- suite.core.Write(context.Background(), ctrl.Ref, []byte{0x01}, ble.WithResponse)
	}()
	suite.Eventually(func() bool { return len(p.Characteristic(controlPt).Writes()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := suite.core.Subscribe(ctx, chr.Ref)
	suite.True(ble.IsKind(err, ble.Timeout), "queued subscribe MUST time out, got %v", err)

	gate <- struct{}{}
	suite.NoError(<-writeDone)

	// Anything queued after the abandoned subscribe runs once it has been resolved.
	_, err = suite.core.Read(suite.ctx(), suite.characteristic(bodyLoc).Ref)
	suite.Require().NoError(err)
	suite.Equal(1, native.SubscribeCount(), "the queued native subscribe MUST still run")
	suite.False(native.Subscribed(), "an abandoned subscription MUST be disabled")

	s, err := suite.core.Subscribe(suite.ctx(), chr.Ref)
	suite.Require().NoError(err)
	defer s.Close()
	suite.True(native.Subscribed())
	suite.Require().NoError(suite.stack.Notify("hr-1", hrMeasure, []byte{0x00, 0x50}))
	v, err := next(suite, s)
	suite.NoError(err)
	suite.Equal([]byte{0x00, 0x50}, v)
}

func (suite *CoreTestSuite) TestSubscriptionsShareNativeNotify() {
	// GOAL: Verify notification streams are reference counted over one native subscription
	//
	// TEST SCENARIO: Two streams → one native enable → both receive → close one → other still receives → close last → native disabled
	suite.connectHR()
	chr := suite.characteristic(hrMeasure)
	native := func() *sim.Characteristic {
		p, _ := suite.stack.Peripheral("hr-1")
		return p.Characteristic(hrMeasure)
	}()

	a, err := suite.core.Subscribe(suite.ctx(), chr.Ref)
	suite.Require().NoError(err)
	b, err := suite.core.Subscribe(suite.ctx(), chr.Ref)
	suite.Require().NoError(err)
	suite.Equal(1, native.SubscribeCount(), "second stream MUST reuse the native subscription")

	suite.Require().NoError(suite.stack.Notify("hr-1", hrMeasure, []byte{0x00, 0x48}))
	va, err := next(suite, a)
	suite.NoError(err)
	vb, err := next(suite, b)
	suite.NoError(err)
	suite.Equal([]byte{0x00, 0x48}, va)
	suite.Equal([]byte{0x00, 0x48}, vb)
	va[0] = 0xff
	suite.Equal(byte(0x00), vb[0], "subscribers MUST receive independent copies")

	a.Close()
	suite.True(native.Subscribed(), "native subscription MUST survive while a stream remains")

	suite.Require().NoError(suite.stack.Notify("hr-1", hrMeasure, []byte{0x00, 0x49}))
	vb, err = next(suite, b)
	suite.NoError(err)
	suite.Equal([]byte{0x00, 0x49}, vb)

	b.Close()
	suite.False(native.Subscribed(), "last close MUST disable native notifications")
}

func (suite *CoreTestSuite) TestLinkLossEndsNotifications() {
	suite.connectHR()
	chr := suite.characteristic(hrMeasure)
	events, err := suite.core.ConnectionEvents(suite.ctx(), "hr-1")
	suite.Require().NoError(err)
	defer events.Close()

	s, err := suite.core.Subscribe(suite.ctx(), chr.Ref)
	suite.Require().NoError(err)
	defer s.Close()

	suite.True(suite.stack.DropConnection("hr-1", nil))
	suite.stack.Flush()

	_, err = next(suite, s)
	suite.True(ble.IsKind(err, ble.NotConnected), "link loss MUST end notifications with NotConnected, got %v", err)
	suite.False(suite.core.IsConnected("hr-1"))

	ev, err := next(suite, events)
	suite.Require().NoError(err)
	suite.False(ev.Connected)
	suite.Error(ev.Err, "unexpected disconnect MUST carry its cause")
}

func (suite *CoreTestSuite) TestDescriptors() {
	suite.connectHR()
	chr := suite.characteristic(hrMeasure)

	descs, err := suite.core.DiscoverDescriptors(suite.ctx(), chr.Ref)
	suite.Require().NoError(err)
	suite.Require().Len(descs, 1)
	suite.Equal(cccd, descs[0].UUID)
	suite.Equal(KindDescriptor, descs[0].Ref.Kind)

	suite.NoError(suite.core.Write(suite.ctx(), descs[0].Ref, []byte{0x01, 0x00}, ble.WithResponse))
	v, err := suite.core.Read(suite.ctx(), descs[0].Ref)
	suite.NoError(err)
	suite.Equal([]byte{0x01, 0x00}, v)

	mtu, err := suite.core.MTU(suite.ctx(), "hr-1")
	suite.NoError(err)
	suite.Equal(185, mtu)
}

func (suite *CoreTestSuite) TestPowerLossFailsEverything() {
	// GOAL: Verify power loss ends scans, connections and notifications with AdapterUnavailable
	//
	// TEST SCENARIO: Events + scan + connection + subscription → power off twice → one event, all streams failed
	adapter, err := suite.core.AdapterEvents(suite.ctx())
	suite.Require().NoError(err)
	defer adapter.Close()
	first, err := next(suite, adapter)
	suite.Require().NoError(err)
	suite.Equal(ble.Available, first, "first event MUST be the current state")

	suite.connectHR()
	notify, err := suite.core.Subscribe(suite.ctx(), suite.characteristic(hrMeasure).Ref)
	suite.Require().NoError(err)
	defer notify.Close()

	scan, err := suite.core.StartScan(suite.ctx(), nil)
	suite.Require().NoError(err)
	defer scan.Close()

	suite.stack.SetPowered(false)
	suite.stack.SetPowered(false)
	suite.stack.Flush()

	ev, err := next(suite, adapter)
	suite.Require().NoError(err)
	suite.Equal(ble.Unavailable, ev)
	expectNothing(suite, adapter)

	suite.True(ble.IsKind(drainError(suite, scan), ble.AdapterUnavailable))
	suite.True(ble.IsKind(drainError(suite, notify), ble.AdapterUnavailable))
	suite.False(suite.core.IsConnected("hr-1"))
	suite.False(suite.core.IsAvailable())

	err = suite.core.Connect(suite.ctx(), "hr-1")
	suite.True(ble.IsKind(err, ble.AdapterUnavailable), "connect MUST fail while powered off, got %v", err)
	_, err = suite.core.StartScan(suite.ctx(), nil)
	suite.True(ble.IsKind(err, ble.AdapterUnavailable), "scan MUST fail while powered off, got %v", err)
}

func (suite *CoreTestSuite) TestWaitAvailable() {
	suite.stack.SetPowered(false)
	suite.stack.Flush()

	done := make(chan error, 1)
	go func() { done <- suite.core.WaitAvailable(suite.ctx()) }()

	suite.Never(func() bool { return len(done) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
	suite.stack.SetPowered(true)

	select {
	case err := <-done:
		suite.NoError(err)
	case <-time.After(time.Second):
		suite.Fail("WaitAvailable MUST return once powered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	suite.NoError(suite.core.WaitAvailable(ctx), "powered adapter MUST not wait")
}

func (suite *CoreTestSuite) TestCloseEndsEverything() {
	// GOAL: Verify a closed backend fails every operation as AdapterUnavailable
	//
	// TEST SCENARIO: Scan and connect → close twice → live scan and every new call report AdapterUnavailable
	scan, err := suite.core.StartScan(suite.ctx(), nil)
	suite.Require().NoError(err)
	suite.connectHR()

	suite.NoError(suite.core.Close())
	suite.NoError(suite.core.Close(), "close MUST be idempotent")

	err = drainError(suite, scan)
	suite.False(errors.Is(err, stream.ErrClosed))
	suite.True(ble.IsKind(err, ble.AdapterUnavailable), "running scan MUST end as AdapterUnavailable, got %v", err)
	suite.False(suite.core.IsConnected("hr-1"))

	_, err = suite.core.StartScan(suite.ctx(), nil)
	suite.True(ble.IsKind(err, ble.AdapterUnavailable), "scan after close MUST fail as AdapterUnavailable, got %v", err)
	err = suite.core.Connect(suite.ctx(), "hr-1")
	suite.True(ble.IsKind(err, ble.AdapterUnavailable), "connect after close MUST fail as AdapterUnavailable, got %v", err)
	_, err = suite.core.AdapterEvents(suite.ctx())
	suite.True(ble.IsKind(err, ble.AdapterUnavailable), "adapter events after close MUST fail as AdapterUnavailable, got %v", err)
	_, err = suite.core.ConnectionEvents(suite.ctx(), "")
	suite.True(ble.IsKind(err, ble.AdapterUnavailable), "connection events after close MUST fail as AdapterUnavailable, got %v", err)
}

func TestCoreTestSuite(t *testing.T) {
	suite.Run(t, new(CoreTestSuite))
}
