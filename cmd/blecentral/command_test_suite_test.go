package main

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/testutils"
	"github.com/srg/blecentral/pkg/central"
	"github.com/srg/blecentral/pkg/config"
)

// CommandTestSuite runs commands against the simulator. Every command opens
// the suite's adapter and closes it on exit, so each test runs one command
// that talks to the device.
type CommandTestSuite struct {
	testutils.SimSuite
	restore func()
}

func (s *CommandTestSuite) SetupTest() {
	if s.Profile == nil {
		s.Profile = commandProfile()
	}
	s.SimSuite.SetupTest()

	prev := openAdapter
	openAdapter = func(context.Context, *config.Config, *logrus.Logger) (*central.Adapter, error) {
		return s.Adapter, nil
	}
	s.restore = func() { openAdapter = prev }
}

func (s *CommandTestSuite) TearDownTest() {
	if s.restore != nil {
		s.restore()
	}
	s.SimSuite.TearDownTest()
}

// commandProfile is a heart rate monitor and a lamp.
func commandProfile() *testutils.ProfileBuilder {
	p := testutils.NewProfileBuilder()
	p.WithPeripheral("hr-1").
		WithName("Polar H10").
		WithRSSI(-50).
		WithMTU(247).
		WithService("180d").
		WithCharacteristic("2a37", "notify", nil).
		WithDescriptor("2902", []byte{0, 0}).
		WithCharacteristic("2a38", "read", []byte{0x01}).
		WithService("180f").
		WithCharacteristic("2a19", "read,notify", []byte{0x5a}).
		Advertise().
		WithLocalName("Polar H10").
		WithServices("180d").
		WithManufacturerData(0x006b, []byte{0x01, 0x02}).
		WithTxPower(4)
	p.WithPeripheral("lamp-1").
		WithName("Lamp").
		WithRSSI(-70).
		WithService("fff0").
		WithCharacteristic("fff1", "read,write,write-without-response", []byte("on")).
		WithDescriptor("2901", []byte("Power")).
		Advertise().
		WithLocalName("Lamp").
		WithServices("fff0")
	return p
}

// syncBuffer is a bytes.Buffer safe for a command writing while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ExecuteCommand runs the CLI with args and returns stdout and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandContext(context.Background(), args...)
}

func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, error) {
	out := &syncBuffer{}
	err := s.start(ctx, out, args...)
	return out.String(), err
}

func (s *CommandTestSuite) start(ctx context.Context, out io.Writer, args ...string) error {
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// StartCommand runs the CLI in the background. The returned channel yields its error.
func (s *CommandTestSuite) StartCommand(ctx context.Context, args ...string) (*syncBuffer, <-chan error) {
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- s.start(ctx, out, args...) }()
	return out, done
}

// Await waits for a background command.
func (s *CommandTestSuite) Await(done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		s.FailNow("command MUST finish in time")
		return nil
	}
}
