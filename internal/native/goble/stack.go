// Package goble drives the go-ble/ble library: CoreBluetooth on macOS, raw HCI on Linux.
//
// go-ble has no power-state callback. The stack treats a failed device
// creation as "powered off" and polls until the device can be opened, and
// reports power loss when a scan fails with a power-related error.
package goble

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/native"
)

var (
	errPoweredOff  = errors.New("bluetooth is turned off")
	errScanRunning = errors.New("scan already in progress")
	errLinkLost    = errors.New("peripheral disconnected")
)

// DefaultPowerPollInterval is used when Options.PowerPollInterval is zero.
const DefaultPowerPollInterval = 2 * time.Second

// scanStopTimeout bounds how long StopScan waits for go-ble's scan loop to return.
const scanStopTimeout = 2 * time.Second

// Options tune the driver.
type Options struct {
	PowerPollInterval time.Duration
}

// Stack implements native.Stack on a go-ble device.
type Stack struct {
	opts   Options
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	dev        ble.Device
	powered    bool
	polling    bool
	stateFn    func(bool)
	discFn     func(native.Peer, error)
	scanCancel context.CancelFunc
	scanDone   chan struct{}
}

var _ native.Stack = (*Stack)(nil)

// New creates an unstarted driver.
func New(opts Options, logger *logrus.Logger) *Stack {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if opts.PowerPollInterval <= 0 {
		opts.PowerPollInterval = DefaultPowerPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stack{opts: opts, logger: logger, ctx: ctx, cancel: cancel}
}

func (s *Stack) Name() string { return "goble" }

// Start opens the platform device. An adapter that is off or missing is
// reported as powered off and polled; only an unsupported host is an error.
func (s *Stack) Start(ctx context.Context) error {
	dev, err := DeviceFactory()
	if errors.Is(err, native.ErrUnsupported) {
		return err
	}
	if err != nil {
		s.logger.WithError(err).Warn("Bluetooth adapter unavailable, waiting for it")
		s.startPowerMonitor()
		return nil
	}
	s.attach(dev)
	return nil
}

func (s *Stack) Powered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powered
}

func (s *Stack) SetStateHandler(fn func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateFn = fn
}

func (s *Stack) SetDisconnectHandler(fn func(native.Peer, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discFn = fn
}

func (s *Stack) attach(dev ble.Device) {
	s.mu.Lock()
	s.dev = dev
	s.powered = true
	stateFn := s.stateFn
	s.mu.Unlock()

	s.logger.Info("Bluetooth adapter available")
	if stateFn != nil {
		stateFn(true)
	}
}

// powerLost drops the device after a power-related failure and starts polling for it.
func (s *Stack) powerLost(cause error) {
	s.mu.Lock()
	if !s.powered {
		s.mu.Unlock()
		return
	}
	dev := s.dev
	s.dev = nil
	s.powered = false
	stateFn := s.stateFn
	s.mu.Unlock()

	s.logger.WithError(cause).Warn("Bluetooth adapter lost")
	if dev != nil {
		if err := dev.Stop(); err != nil {
			s.logger.WithError(err).Debug("Stopping lost device failed")
		}
	}
	if stateFn != nil {
		stateFn(false)
	}
	s.startPowerMonitor()
}

func (s *Stack) startPowerMonitor() {
	s.mu.Lock()
	if s.polling {
		s.mu.Unlock()
		return
	}
	s.polling = true
	s.mu.Unlock()

	groutine.Go(s.ctx, "power-monitor", func(ctx context.Context) {
		defer func() {
			s.mu.Lock()
			s.polling = false
			s.mu.Unlock()
		}()

		ticker := time.NewTicker(s.opts.PowerPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dev, err := DeviceFactory()
				if err != nil {
					s.logger.WithError(err).Debug("Bluetooth adapter still unavailable")
					continue
				}
				s.attach(dev)
				return
			}
		}
	})
}

func isPowerError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid state") || strings.Contains(msg, "turned off") || strings.Contains(msg, "powered off")
}

func (s *Stack) StartScan(filter []uuid.UUID, onAdv func(native.RawAdvertisement), onStop func(error)) error {
	s.mu.Lock()
	if s.dev == nil {
		s.mu.Unlock()
		return errPoweredOff
	}
	if s.scanCancel != nil {
		s.mu.Unlock()
		return errScanRunning
	}
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.scanCancel, s.scanDone = cancel, done
	dev := s.dev
	s.mu.Unlock()

	if onStop == nil {
		onStop = func(error) {}
	}

	groutine.Go(ctx, "scan-pump", func(ctx context.Context) {
		defer close(done)
		err := dev.Scan(ctx, true, func(a ble.Advertisement) {
			onAdv(rawAdvertisement(a))
		})

		s.mu.Lock()
		if s.scanDone == done {
			s.scanCancel, s.scanDone = nil, nil
		}
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if err != nil && isPowerError(err) {
			s.powerLost(err)
		}
		onStop(convertError(err))
	})

	s.logger.WithField("filter", len(filter)).Debug("go-ble scan started")
	return nil
}

func (s *Stack) StopScan() error {
	s.mu.Lock()
	cancel, done := s.scanCancel, s.scanDone
	s.scanCancel, s.scanDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-time.After(scanStopTimeout):
		s.logger.Warn("go-ble scan did not stop in time")
	}
	return nil
}

func (s *Stack) Connect(ctx context.Context, peerID string) (native.Peer, error) {
	s.mu.Lock()
	dev := s.dev
	s.mu.Unlock()
	if dev == nil {
		return nil, errPoweredOff
	}

	s.logger.WithField("address", peerID).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(peerID))
	if err != nil {
		return nil, convertError(err)
	}

	p := newPeer(s, peerID, client)
	p.monitor()
	return p, nil
}

func (s *Stack) notifyDisconnect(p *peer, err error) {
	s.mu.Lock()
	discFn := s.discFn
	s.mu.Unlock()
	if discFn != nil {
		discFn(p, err)
	}
}

func (s *Stack) Close() error {
	_ = s.StopScan()
	s.cancel()

	s.mu.Lock()
	dev := s.dev
	s.dev = nil
	s.powered = false
	s.mu.Unlock()

	if dev != nil {
		return dev.Stop()
	}
	return nil
}
