package central

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/backend"
	"github.com/srg/blecentral/internal/native/sim"
	"github.com/srg/blecentral/pkg/config"
	"github.com/srg/blecentral/pkg/stream"
)

const profile = `
peripherals:
  - id: hr-1
    name: Polar H10
    rssi: -48
    advertisement:
      local_name: Polar H10
      services: ["180d", "180f"]
      company_id: 0x006b
      manufacturer_data: "0x0102"
    services:
      - uuid: "180d"
        characteristics:
          - uuid: "2a37"
            properties: notify
            descriptors:
              - uuid: "2902"
                value: "0x0000"
          - uuid: "2a39"
            properties: read,write,write-without-response
            value: "0x00"
  - id: thermo-1
    advertisement:
      local_name: Thermo
      services: ["1809"]
`

var (
	heartRate   = UUID16(0x180d)
	hrMeasure   = UUID16(0x2a37)
	controlPt   = UUID16(0x2a39)
	cccd        = UUID16(0x2902)
	thermometer = UUID16(0x1809)
)

type CentralTestSuite struct {
	suite.Suite
	stack   *sim.Stack
	adapter *Adapter
}

func (suite *CentralTestSuite) SetupTest() {
	p, err := sim.ParseProfile([]byte(profile))
	suite.Require().NoError(err)
	suite.stack, err = sim.NewFromProfile(p, sim.Options{}, nil)
	suite.Require().NoError(err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	core, err := backend.NewCore(context.Background(), suite.stack, backend.DefaultOptions(), logger)
	suite.Require().NoError(err)
	suite.adapter = New(core, logger)
}

func (suite *CentralTestSuite) TearDownTest() {
	suite.adapter.Close()
}

func (suite *CentralTestSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	suite.T().Cleanup(cancel)
	return ctx
}

func next[T any](suite *CentralTestSuite, s *stream.Stream[T]) T {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := s.Next(ctx)
	suite.Require().NoError(err)
	return v
}

func (suite *CentralTestSuite) heartRateMonitor() *Device {
	d, err := suite.adapter.OpenDevice("hr-1")
	suite.Require().NoError(err)
	suite.Require().NoError(d.Connect(suite.ctx()))
	return d
}

func (suite *CentralTestSuite) characteristic(d *Device, u UUID) *Characteristic {
	svcs, err := d.DiscoverServices(suite.ctx(), heartRate)
	suite.Require().NoError(err)
	suite.Require().Len(svcs, 1)
	chars, err := svcs[0].DiscoverCharacteristics(suite.ctx(), u)
	suite.Require().NoError(err)
	suite.Require().Len(chars, 1)
	return chars[0]
}

func (suite *CentralTestSuite) TestScanDeliversSnapshots() {
	// GOAL: Verify scanning yields advertisement snapshots bound to stable device handles
	//
	// TEST SCENARIO: Scan for heart rate → hr-1 snapshot with normalized data → re-advertise → same Device handle
	s, err := suite.adapter.Scan(suite.ctx(), heartRate)
	suite.Require().NoError(err)
	defer s.Close()

	first := next(suite, s)
	suite.Equal(DeviceID("hr-1"), first.Device.ID())
	suite.Equal("Polar H10", first.AdvertisementData.Name())
	suite.Equal([]UUID{heartRate, UUID16(0x180f)}, first.AdvertisementData.Services)
	suite.Require().NotNil(first.AdvertisementData.ManufacturerData)
	suite.Equal(uint16(0x006b), first.AdvertisementData.ManufacturerData.CompanyID)
	suite.Equal([]byte{0x01, 0x02}, first.AdvertisementData.ManufacturerData.Data)
	suite.Require().NotNil(first.RSSI)
	suite.Equal(int16(-48), *first.RSSI)
	suite.Equal("Polar H10", first.Device.Name(), "advertised name MUST be remembered")

	suite.Require().NoError(suite.stack.Advertise("hr-1"))
	second := next(suite, s)
	suite.Same(first.Device, second.Device, "one device MUST map to one handle")
}

func (suite *CentralTestSuite) TestDiscoverDevicesYieldsEachOnce() {
	// GOAL: Verify device discovery reports every device only at its first sighting
	//
	// TEST SCENARIO: Unfiltered discovery → hr-1, thermo-1 → both re-advertise → nothing new
	s, err := suite.adapter.DiscoverDevices(suite.ctx())
	suite.Require().NoError(err)
	defer s.Close()

	suite.Equal(DeviceID("hr-1"), next(suite, s).ID())
	suite.Equal(DeviceID("thermo-1"), next(suite, s).ID())

	suite.Require().NoError(suite.stack.Advertise("thermo-1"))
	suite.Require().NoError(suite.stack.Advertise("hr-1"))
	suite.stack.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d, err := s.Next(ctx)
	suite.ErrorIs(err, context.DeadlineExceeded, "repeat sightings MUST NOT be reported, got %v", d)
}

func (suite *CentralTestSuite) TestScanRequiresPower() {
	// GOAL: Verify scanning with the radio off fails with AdapterUnavailable
	//
	// TEST SCENARIO: Power off → Scan fails → IsAvailable false
	suite.stack.SetPowered(false)
	suite.stack.Flush()

	suite.False(suite.adapter.IsAvailable())
	_, err := suite.adapter.Scan(suite.ctx())
	suite.True(IsKind(err, AdapterUnavailable), "scan MUST fail while powered off, got %v", err)
}

func (suite *CentralTestSuite) TestOpenDevice() {
	// GOAL: Verify devices can be opened by ID and share the scanned handle
	//
	// TEST SCENARIO: Empty ID fails → open hr-1 → same handle as Scan reports
	_, err := suite.adapter.OpenDevice("")
	suite.True(IsKind(err, NotFound), "empty id MUST be rejected, got %v", err)

	opened, err := suite.adapter.OpenDevice("hr-1")
	suite.Require().NoError(err)

	s, err := suite.adapter.Scan(suite.ctx(), heartRate)
	suite.Require().NoError(err)
	defer s.Close()
	suite.Same(opened, next(suite, s).Device)
}

func (suite *CentralTestSuite) TestGATTRoundTrip() {
	// GOAL: Verify the handle hierarchy reaches reads, both write modes and descriptors
	//
	// TEST SCENARIO: Connect → discover → write with and without response → read back → read CCCD
	d := suite.heartRateMonitor()
	suite.True(d.IsConnected())
	suite.Equal([]*Device{d}, suite.adapter.ConnectedDevices())

	chr := suite.characteristic(d, controlPt)
	suite.Equal(d, chr.Service().Device())
	suite.True(chr.Properties().Has(PropWrite))

	suite.Require().NoError(chr.Write(suite.ctx(), []byte{0x01}))
	suite.Require().NoError(chr.WriteWithoutResponse(suite.ctx(), []byte{0x02}))

	p, _ := suite.stack.Peripheral("hr-1")
	writes := p.Characteristic(controlPt).Writes()
	suite.Require().Len(writes, 2)
	suite.True(writes[0].WithResponse)
	suite.False(writes[1].WithResponse, "WriteWithoutResponse MUST NOT request an acknowledgement")

	v, err := chr.Read(suite.ctx())
	suite.Require().NoError(err)
	suite.Equal([]byte{0x02}, v)

	measurement := suite.characteristic(d, hrMeasure)
	descs, err := measurement.DiscoverDescriptors(suite.ctx())
	suite.Require().NoError(err)
	suite.Require().Len(descs, 1)
	suite.Equal(cccd, descs[0].UUID())
	v, err = descs[0].Read(suite.ctx())
	suite.Require().NoError(err)
	suite.Equal([]byte{0x00, 0x00}, v)
}

func (suite *CentralTestSuite) TestSubscribe() {
	// GOAL: Verify notifications reach the subscriber and stop after close
	//
	// TEST SCENARIO: Subscribe to 2a37 → peripheral notifies → value delivered → close → native subscription released
	d := suite.heartRateMonitor()
	chr := suite.characteristic(d, hrMeasure)

	s, err := chr.Subscribe(suite.ctx())
	suite.Require().NoError(err)

	suite.Require().NoError(suite.stack.Notify("hr-1", hrMeasure, []byte{0x00, 0x50}))
	suite.Equal([]byte{0x00, 0x50}, next(suite, s))

	s.Close()
	p, _ := suite.stack.Peripheral("hr-1")
	suite.False(p.Characteristic(hrMeasure).Subscribed(), "closing the only stream MUST unsubscribe")
}

func (suite *CentralTestSuite) TestHandlesDieWithConnection() {
	// GOAL: Verify attribute handles fail after their connection ends, even after reconnecting
	//
	// TEST SCENARIO: Discover → disconnect → read fails NotConnected → reconnect → old handle still fails
	d := suite.heartRateMonitor()
	chr := suite.characteristic(d, controlPt)

	suite.Require().NoError(d.Disconnect(suite.ctx()))
	suite.False(d.IsConnected())
	_, err := chr.Read(suite.ctx())
	suite.True(IsKind(err, NotConnected), "read after disconnect MUST fail with NotConnected, got %v", err)

	suite.Require().NoError(d.Connect(suite.ctx()))
	_, err = chr.Read(suite.ctx())
	suite.True(IsKind(err, NotConnected), "stale handle MUST fail with NotConnected, got %v", err)

	_, err = suite.characteristic(d, controlPt).Read(suite.ctx())
	suite.NoError(err, "rediscovered handle MUST work")
}

func (suite *CentralTestSuite) TestConnectionEventsFilter() {
	// GOAL: Verify connection events can be limited to chosen devices
	//
	// TEST SCENARIO: Watch hr-1 only → connect thermo-1 and hr-1 → only hr-1 events arrive
	hr, err := suite.adapter.OpenDevice("hr-1")
	suite.Require().NoError(err)
	thermo, err := suite.adapter.OpenDevice("thermo-1")
	suite.Require().NoError(err)

	events, err := suite.adapter.ConnectionEvents(suite.ctx(), hr)
	suite.Require().NoError(err)
	defer events.Close()

	suite.Require().NoError(thermo.Connect(suite.ctx()))
	suite.Require().NoError(hr.Connect(suite.ctx()))
	suite.Require().NoError(hr.Disconnect(suite.ctx()))

	ev := next(suite, events)
	suite.Equal(DeviceID("hr-1"), ev.Device)
	suite.True(ev.Connected)

	ev = next(suite, events)
	suite.Equal(DeviceID("hr-1"), ev.Device)
	suite.False(ev.Connected)
	suite.NoError(ev.Err, "requested disconnect MUST NOT carry an error")
}

func (suite *CentralTestSuite) TestEventsStartWithCurrentState() {
	// GOAL: Verify adapter events begin with the current state and follow power changes
	//
	// TEST SCENARIO: Subscribe → Available → power off → Unavailable
	events, err := suite.adapter.Events(suite.ctx())
	suite.Require().NoError(err)
	defer events.Close()

	suite.Equal(Available, next(suite, events))
	suite.stack.SetPowered(false)
	suite.Equal(Unavailable, next(suite, events))
}

func TestCentralTestSuite(t *testing.T) {
	suite.Run(t, new(CentralTestSuite))
}

func TestOpenSimBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	if err := os.WriteFile(path, []byte(profile), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendSim
	cfg.SimProfile = path

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	adapter, err := Open(ctx, cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer adapter.Close()

	if got := adapter.Backend(); got != "sim" {
		t.Fatalf("backend = %q, want sim", got)
	}
	if err := adapter.WaitAvailable(ctx); err != nil {
		t.Fatal(err)
	}
	s, err := adapter.Scan(ctx, thermometer)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	adv, err := s.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if adv.Device.ID() != "thermo-1" {
		t.Fatalf("device = %s, want thermo-1", adv.Device.ID())
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "bluez"
	_, err := Open(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("Open MUST reject an unknown backend")
	}
}
