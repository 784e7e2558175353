package central

import (
	"context"
	"fmt"

	"github.com/srg/blecentral/internal/backend"
	"github.com/srg/blecentral/pkg/ble"
	"github.com/srg/blecentral/pkg/stream"
)

// Device is a remote peripheral. One handle exists per ID and adapter; it
// stays valid across any number of connect and disconnect cycles.
type Device struct {
	id      DeviceID
	adapter *Adapter
}

func (d *Device) ID() DeviceID { return d.id }

// Name is the best known name: the GAP name once connected, else the last advertised one.
func (d *Device) Name() string { return d.adapter.be.DeviceName(d.id) }

func (d *Device) IsConnected() bool { return d.adapter.be.IsConnected(d.id) }

func (d *Device) Connect(ctx context.Context) error { return d.adapter.ConnectDevice(ctx, d) }

func (d *Device) Disconnect(ctx context.Context) error { return d.adapter.DisconnectDevice(ctx, d) }

func (d *Device) String() string {
	if name := d.Name(); name != "" {
		return fmt.Sprintf("%s (%s)", name, d.id)
	}
	return string(d.id)
}

// DiscoverServices lists primary services, limited to the given UUIDs when any are passed.
func (d *Device) DiscoverServices(ctx context.Context, uuids ...UUID) ([]*Service, error) {
	infos, err := d.adapter.be.DiscoverServices(ctx, d.id, uuids)
	if err != nil {
		return nil, err
	}
	out := make([]*Service, 0, len(infos))
	for _, info := range infos {
		out = append(out, &Service{device: d, info: info})
	}
	return out, nil
}

// MTU is the negotiated ATT MTU.
func (d *Device) MTU(ctx context.Context) (int, error) { return d.adapter.be.MTU(ctx, d.id) }

// Service is a primary GATT service of a connected device.
type Service struct {
	device *Device
	info   backend.AttrInfo
}

func (s *Service) UUID() UUID      { return s.info.UUID }
func (s *Service) Device() *Device { return s.device }
func (s *Service) String() string  { return ble.FormatUUID(s.info.UUID) }

func (s *Service) DiscoverCharacteristics(ctx context.Context, uuids ...UUID) ([]*Characteristic, error) {
	infos, err := s.device.adapter.be.DiscoverCharacteristics(ctx, s.info.Ref, uuids)
	if err != nil {
		return nil, err
	}
	out := make([]*Characteristic, 0, len(infos))
	for _, info := range infos {
		out = append(out, &Characteristic{service: s, info: info})
	}
	return out, nil
}

// Characteristic is a GATT characteristic.
type Characteristic struct {
	service *Service
	info    backend.AttrInfo
}

func (c *Characteristic) UUID() UUID { return c.info.UUID }

// Properties is empty when the platform does not report them.
func (c *Characteristic) Properties() CharacteristicProperty { return c.info.Properties }

func (c *Characteristic) Service() *Service { return c.service }

func (c *Characteristic) String() string { return ble.FormatUUID(c.info.UUID) }

func (c *Characteristic) backend() backend.Backend { return c.service.device.adapter.be }

func (c *Characteristic) Read(ctx context.Context) ([]byte, error) {
	return c.backend().Read(ctx, c.info.Ref)
}

// Write waits for the peripheral to acknowledge.
func (c *Characteristic) Write(ctx context.Context, data []byte) error {
	return c.backend().Write(ctx, c.info.Ref, data, ble.WithResponse)
}

// WriteWithoutResponse returns once the value is handed to the stack.
func (c *Characteristic) WriteWithoutResponse(ctx context.Context, data []byte) error {
	return c.backend().Write(ctx, c.info.Ref, data, ble.WithoutResponse)
}

// Subscribe streams notification or indication values. Several subscribers
// share one native subscription, which ends when the last stream is closed.
func (c *Characteristic) Subscribe(ctx context.Context) (*stream.Stream[[]byte], error) {
	return c.backend().Subscribe(ctx, c.info.Ref)
}

func (c *Characteristic) DiscoverDescriptors(ctx context.Context) ([]*Descriptor, error) {
	infos, err := c.backend().DiscoverDescriptors(ctx, c.info.Ref)
	if err != nil {
		return nil, err
	}
	out := make([]*Descriptor, 0, len(infos))
	for _, info := range infos {
		out = append(out, &Descriptor{characteristic: c, info: info})
	}
	return out, nil
}

// Descriptor is a GATT descriptor.
type Descriptor struct {
	characteristic *Characteristic
	info           backend.AttrInfo
}

func (d *Descriptor) UUID() UUID                      { return d.info.UUID }
func (d *Descriptor) Characteristic() *Characteristic { return d.characteristic }

func (d *Descriptor) Read(ctx context.Context) ([]byte, error) {
	return d.characteristic.backend().Read(ctx, d.info.Ref)
}

func (d *Descriptor) Write(ctx context.Context, data []byte) error {
	return d.characteristic.backend().Write(ctx, d.info.Ref, data, ble.WithResponse)
}
