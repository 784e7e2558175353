//go:build darwin || linux || windows

// Package tinygo drives tinygo.org/x/bluetooth: BlueZ over D-Bus on Linux,
// CoreBluetooth on macOS, WinRT on Windows. It is the default driver on Windows,
// where go-ble has no backend.
//
// The library exposes no descriptors and no characteristic properties, so
// descriptor calls return native.ErrUnsupported and Properties reports 0.
package tinygo

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

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

// Options tune the driver.
type Options struct {
	PowerPollInterval time.Duration
}

// Stack implements native.Stack on the default tinygo adapter.
type Stack struct {
	opts    Options
	logger  *logrus.Logger
	adapter *bluetooth.Adapter

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	powered   bool
	polling   bool
	scanning  bool
	stateFn   func(bool)
	discFn    func(native.Peer, error)
	addresses map[string]bluetooth.Address
	peers     map[string]*peer
}

var _ native.Stack = (*Stack)(nil)

// New creates an unstarted driver on bluetooth.DefaultAdapter.
func New(opts Options, logger *logrus.Logger) *Stack {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if opts.PowerPollInterval <= 0 {
		opts.PowerPollInterval = DefaultPowerPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stack{
		opts:      opts,
		logger:    logger,
		adapter:   bluetooth.DefaultAdapter,
		ctx:       ctx,
		cancel:    cancel,
		addresses: make(map[string]bluetooth.Address),
		peers:     make(map[string]*peer),
	}
}

func (s *Stack) Name() string { return "tinygo" }

// Start enables the adapter, polling until it comes up when it is off.
func (s *Stack) Start(ctx context.Context) error {
	s.adapter.SetConnectHandler(s.onConnectionChange)
	if err := s.adapter.Enable(); err != nil {
		s.logger.WithError(err).Warn("Bluetooth adapter unavailable, waiting for it")
		s.startPowerMonitor()
		return nil
	}
	s.setPowered(true)
	return nil
}

func (s *Stack) startPowerMonitor() {
	s.mu.Lock()
	if s.polling {
		s.mu.Unlock()
		return
	}
	s.polling = true
	s.mu.Unlock()

	groutine.Go(s.ctx, "power-monitor", s.pollPower)
}

func (s *Stack) pollPower(ctx context.Context) {
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
			if err := s.adapter.Enable(); err != nil {
				s.logger.WithError(err).Debug("Bluetooth adapter still unavailable")
				continue
			}
			s.setPowered(true)
			return
		}
	}
}

// checkPower treats a power-related failure as the adapter going away.
// tinygo has no adapter state callback, so failed calls are the only signal.
func (s *Stack) checkPower(err error) error {
	if err == nil || !isPowerError(err) {
		return err
	}
	s.mu.Lock()
	was := s.powered
	s.mu.Unlock()
	if was {
		s.logger.WithError(err).Warn("Bluetooth adapter lost")
	}
	s.setPowered(false)
	s.startPowerMonitor()
	return err
}

func isPowerError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, frag := range []string{"not ready", "not powered", "powered off", "poweredoff", "turned off", "invalid state"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

func (s *Stack) setPowered(on bool) {
	s.mu.Lock()
	changed := s.powered != on
	s.powered = on
	fn := s.stateFn
	s.mu.Unlock()
	if changed && fn != nil {
		fn(on)
	}
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

func (s *Stack) onConnectionChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	id := device.Address.String()

	s.mu.Lock()
	p, ok := s.peers[id]
	if ok {
		delete(s.peers, id)
	}
	fn := s.discFn
	s.mu.Unlock()

	if !ok || fn == nil {
		return
	}
	var err error
	if !p.requested.Load() {
		err = errLinkLost
	}
	fn(p, err)
}

func (s *Stack) StartScan(filter []uuid.UUID, onAdv func(native.RawAdvertisement), onStop func(error)) error {
	s.mu.Lock()
	if !s.powered {
		s.mu.Unlock()
		return errPoweredOff
	}
	if s.scanning {
		s.mu.Unlock()
		return errScanRunning
	}
	s.scanning = true
	s.mu.Unlock()

	if onStop == nil {
		onStop = func(error) {}
	}

	groutine.Go(s.ctx, "scan-pump", func(ctx context.Context) {
		err := s.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			id := r.Address.String()
			s.mu.Lock()
			s.addresses[id] = r.Address
			s.mu.Unlock()
			onAdv(rawAdvertisement(r, filter))
		})
		s.checkPower(err)

		s.mu.Lock()
		requested := !s.scanning
		s.scanning = false
		s.mu.Unlock()

		if requested || ctx.Err() != nil {
			return
		}
		onStop(err)
	})
	return nil
}

func (s *Stack) StopScan() error {
	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		return nil
	}
	s.scanning = false
	s.mu.Unlock()
	return s.adapter.StopScan()
}

type connectResult struct {
	device bluetooth.Device
	err    error
}

// Connect dials a peer seen during scanning. tinygo's Connect cannot be
// cancelled, so an abandoned attempt is disconnected once it completes.
func (s *Stack) Connect(ctx context.Context, peerID string) (native.Peer, error) {
	s.mu.Lock()
	addr, ok := s.addresses[peerID]
	powered := s.powered
	s.mu.Unlock()
	if !powered {
		return nil, errPoweredOff
	}
	if !ok {
		addr.Set(peerID)
	}

	ch := make(chan connectResult, 1)
	groutine.Go(s.ctx, "tinygo-connect", func(context.Context) {
		d, err := s.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{d, err}
	})

	select {
	case <-ctx.Done():
		groutine.Go(s.ctx, "tinygo-connect-cleanup", func(context.Context) {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		})
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, s.checkPower(r.err)
		}
		p := newPeer(peerID, r.device, s.logger, s.checkPower)
		s.mu.Lock()
		s.peers[peerID] = p
		s.mu.Unlock()
		return p, nil
	}
}

func (s *Stack) Close() error {
	_ = s.StopScan()
	s.cancel()

	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	var errs []error
	for _, p := range peers {
		if err := p.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// rawAdvertisement converts a scan result. filter is the scan's service filter;
// without a payload tinygo can only answer membership questions about services.
func rawAdvertisement(r bluetooth.ScanResult, filter []uuid.UUID) native.RawAdvertisement {
	rssi := r.RSSI
	raw := native.RawAdvertisement{
		PeerID:  r.Address.String(),
		Name:    r.LocalName(),
		RSSI:    &rssi,
		Payload: r.Bytes(),
	}
	// Platforms that only hand over parsed fields leave Payload empty.
	if len(raw.Payload) == 0 {
		if name := r.LocalName(); name != "" {
			raw.LocalName = &name
		}
		for _, m := range r.ManufacturerData() {
			block := []byte{byte(m.CompanyID), byte(m.CompanyID >> 8)}
			raw.Manufacturer = append(raw.Manufacturer, append(block, m.Data...))
		}
		for _, sd := range r.ServiceData() {
			if u, ok := fromUUID(sd.UUID); ok {
				raw.ServiceData = append(raw.ServiceData, native.ServiceDataEntry{UUID: u, Data: sd.Data})
			}
		}
		raw.Services = advertisedServices(filter, r.HasServiceUUID)
	}
	return raw
}

// advertisedServices returns the filter UUIDs for which has reports true.
func advertisedServices(filter []uuid.UUID, has func(bluetooth.UUID) bool) []uuid.UUID {
	var out []uuid.UUID
	for _, u := range filter {
		v, err := bluetooth.ParseUUID(u.String())
		if err == nil && has(v) {
			out = append(out, u)
		}
	}
	return out
}

func fromUUID(u bluetooth.UUID) (uuid.UUID, bool) {
	v, err := uuid.Parse(u.String())
	return v, err == nil
}

func toUUIDs(us []uuid.UUID) []bluetooth.UUID {
	if len(us) == 0 {
		return nil
	}
	out := make([]bluetooth.UUID, 0, len(us))
	for _, u := range us {
		if v, err := bluetooth.ParseUUID(u.String()); err == nil {
			out = append(out, v)
		}
	}
	return out
}
