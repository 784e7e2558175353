package testutils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/backend"
	"github.com/srg/blecentral/internal/native/sim"
	"github.com/srg/blecentral/pkg/central"
)

// SimSuite runs tests against a simulated adapter.
//
// Custom peripherals are configured before the parent SetupTest:
//
//	func (s *InspectSuite) SetupTest() {
//	    s.WithPeripheral("hr-1").
//	        WithService("180d").
//	        WithCharacteristic("2a37", "read,notify", []byte{80})
//	    s.SimSuite.SetupTest()
//	}
//
// Without configuration every test gets one peripheral "dev-1" with a
// Battery Service (180f) whose Battery Level (2a19) reads 50.
type SimSuite struct {
	suite.Suite

	Helper  *TestHelper
	Logger  *logrus.Logger
	Timeout time.Duration

	Profile *ProfileBuilder
	Options sim.Options
	Stack   *sim.Stack
	Adapter *central.Adapter
}

func (s *SimSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	if s.Timeout == 0 {
		s.Timeout = 2 * time.Second
	}
}

func (s *SimSuite) SetupTest() {
	if s.Profile == nil {
		s.Profile = DefaultProfile()
	}

	var err error
	s.Stack, err = sim.NewFromProfile(s.Profile.Profile(), s.Options, s.Logger)
	s.Require().NoError(err, "simulator MUST build from profile")

	core, err := backend.NewCore(context.Background(), s.Stack, backend.DefaultOptions(), s.Logger)
	s.Require().NoError(err, "backend MUST start on the simulator")
	s.Adapter = central.New(core, s.Logger)
}

func (s *SimSuite) TearDownTest() {
	if s.Adapter != nil {
		_ = s.Adapter.Close()
	}
	s.Adapter = nil
	s.Stack = nil
	s.Profile = nil
}

// WithPeripheral adds a peripheral to the profile of the next SetupTest.
func (s *SimSuite) WithPeripheral(id string) *PeripheralBuilder {
	if s.Profile == nil {
		s.Profile = NewProfileBuilder()
	}
	return s.Profile.WithPeripheral(id)
}

// Ctx returns a context bounded by the suite timeout.
func (s *SimSuite) Ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	s.T().Cleanup(cancel)
	return ctx
}

// Connect opens and connects a device.
func (s *SimSuite) Connect(id central.DeviceID) *central.Device {
	d, err := s.Adapter.OpenDevice(id)
	s.Require().NoError(err, "device MUST open")
	s.Require().NoError(d.Connect(s.Ctx()), "connection MUST succeed")
	return d
}

// DefaultProfile is one battery-powered peripheral.
func DefaultProfile() *ProfileBuilder {
	p := NewProfileBuilder()
	p.WithPeripheral("dev-1").
		WithName("Battery Demo").
		WithService("180f").
		WithCharacteristic("2a19", "read,notify", []byte{50}).
		WithDescriptor("2902", []byte{0, 0}).
		Advertise().WithLocalName("Battery Demo").WithServices("180f")
	return p
}
