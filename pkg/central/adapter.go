package central

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/backend"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/internal/native/goble"
	"github.com/srg/blecentral/internal/native/sim"
	"github.com/srg/blecentral/internal/native/tinygo"
	"github.com/srg/blecentral/pkg/ble"
	"github.com/srg/blecentral/pkg/config"
	"github.com/srg/blecentral/pkg/stream"
)

// Adapter is the local Bluetooth radio.
type Adapter struct {
	be      backend.Backend
	logger  *logrus.Logger
	devices *hashmap.Map[ble.DeviceID, *Device]
}

// DefaultBackend names the driver used when the configuration leaves it empty.
func DefaultBackend() string {
	if runtime.GOOS == "windows" {
		return config.BackendTinyGo
	}
	return config.BackendGoBLE
}

// Open starts the configured driver and wraps it in an Adapter.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Adapter, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = cfg.NewLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts, err := cfg.BackendOptions()
	if err != nil {
		return nil, err
	}
	stack, err := newStack(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.WithField("driver", stack.Name()).Debug("Opening Bluetooth adapter")
	core, err := backend.NewCore(ctx, stack, opts, logger)
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	return New(core, logger), nil
}

func newStack(cfg *config.Config, logger *logrus.Logger) (native.Stack, error) {
	name := cfg.Backend
	if name == "" {
		name = DefaultBackend()
	}

	switch name {
	case config.BackendGoBLE:
		return goble.New(goble.Options{PowerPollInterval: cfg.PowerPollInterval}, logger), nil
	case config.BackendTinyGo:
		return tinygo.New(tinygo.Options{PowerPollInterval: cfg.PowerPollInterval}, logger), nil
	case config.BackendSim:
		if cfg.SimProfile == "" {
			return sim.New(sim.Options{}, logger), nil
		}
		profile, err := sim.LoadProfile(cfg.SimProfile)
		if err != nil {
			return nil, err
		}
		return sim.NewFromProfile(profile, sim.Options{}, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// New wraps an existing backend.
func New(be backend.Backend, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Adapter{
		be:      be,
		logger:  logger,
		devices: hashmap.New[ble.DeviceID, *Device](),
	}
}

// Backend returns the driver name, e.g. "goble" or "sim".
func (a *Adapter) Backend() string { return a.be.Name() }

func (a *Adapter) device(id ble.DeviceID) *Device {
	d, _ := a.devices.GetOrInsert(id, &Device{id: id, adapter: a})
	return d
}

// Events streams adapter availability, starting with the current state.
func (a *Adapter) Events(ctx context.Context) (*stream.Stream[AdapterEvent], error) {
	return a.be.AdapterEvents(ctx)
}

// IsAvailable reports whether the radio is powered.
func (a *Adapter) IsAvailable() bool { return a.be.IsAvailable() }

// WaitAvailable blocks until the radio is powered or ctx ends.
func (a *Adapter) WaitAvailable(ctx context.Context) error { return a.be.WaitAvailable(ctx) }

// Scan streams advertisements carrying any of the services, or all of them
// when none are given. Only one scan runs at a time; a second one fails with
// OperationInProgress until the first stream is closed.
func (a *Adapter) Scan(ctx context.Context, services ...UUID) (*stream.Stream[AdvertisingDevice], error) {
	s, err := a.be.StartScan(ctx, services)
	if err != nil {
		return nil, err
	}
	return stream.Map(s, func(adv backend.Advertisement) (AdvertisingDevice, bool) {
		return AdvertisingDevice{
			Device:            a.device(adv.Device),
			AdvertisementData: adv.Data,
			RSSI:              adv.RSSI,
		}, true
	}), nil
}

// DiscoverDevices is Scan reduced to the first sighting of each device.
func (a *Adapter) DiscoverDevices(ctx context.Context, services ...UUID) (*stream.Stream[*Device], error) {
	s, err := a.be.StartScan(ctx, services)
	if err != nil {
		return nil, err
	}
	seen := hashmap.New[ble.DeviceID, struct{}]()
	return stream.Map(s, func(adv backend.Advertisement) (*Device, bool) {
		if _, loaded := seen.GetOrInsert(adv.Device, struct{}{}); loaded {
			return nil, false
		}
		return a.device(adv.Device), true
	}), nil
}

// OpenDevice returns the handle of a device known by ID, for instance from an earlier session.
func (a *Adapter) OpenDevice(id DeviceID) (*Device, error) {
	if id == "" {
		return nil, ble.NewError(ble.NotFound, "open device", "empty device id")
	}
	return a.device(id), nil
}

// ConnectDevice connects d. It is a no-op when d is already connected.
func (a *Adapter) ConnectDevice(ctx context.Context, d *Device) error {
	a.logger.WithField("device", d.id).Info("Connecting to device")
	if err := a.be.Connect(ctx, d.id); err != nil {
		a.logger.WithError(err).WithField("device", d.id).Error("Connection failed")
		return err
	}
	return nil
}

// DisconnectDevice disconnects d. It is a no-op when d is not connected.
func (a *Adapter) DisconnectDevice(ctx context.Context, d *Device) error {
	a.logger.WithField("device", d.id).Info("Disconnecting from device")
	return a.be.Disconnect(ctx, d.id)
}

// ConnectedDevices lists devices this adapter holds connections to.
func (a *Adapter) ConnectedDevices() []*Device {
	ids := a.be.ConnectedDevices()
	out := make([]*Device, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.device(id))
	}
	return out
}

// ConnectionEvents streams connects and disconnects of the given devices, or of all when none are given.
func (a *Adapter) ConnectionEvents(ctx context.Context, devices ...*Device) (*stream.Stream[ConnectionEvent], error) {
	if len(devices) == 1 {
		return a.be.ConnectionEvents(ctx, devices[0].id)
	}
	s, err := a.be.ConnectionEvents(ctx, "")
	if err != nil || len(devices) == 0 {
		return s, err
	}
	wanted := make(map[ble.DeviceID]struct{}, len(devices))
	for _, d := range devices {
		wanted[d.id] = struct{}{}
	}
	return stream.Map(s, func(ev ConnectionEvent) (ConnectionEvent, bool) {
		_, ok := wanted[ev.Device]
		return ev, ok
	}), nil
}

// Close disconnects every device, ends all streams and releases the driver.
func (a *Adapter) Close() error {
	return a.be.Close()
}
