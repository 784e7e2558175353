//go:build darwin || linux || windows

package tinygo

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/blecentral/internal/native"
)

// readBufferSize fits the largest attribute value ATT allows.
const readBufferSize = 512

type service struct {
	uuid uuid.UUID
	raw  bluetooth.DeviceService
}

func (s *service) UUID() uuid.UUID { return s.uuid }

type characteristic struct {
	uuid uuid.UUID
	raw  bluetooth.DeviceCharacteristic
}

func (c *characteristic) UUID() uuid.UUID    { return c.uuid }
func (c *characteristic) Properties() uint32 { return 0 }

type peer struct {
	id     string
	device bluetooth.Device
	logger *logrus.Logger
	// check inspects every adapter error for power loss.
	check func(error) error

	requested atomic.Bool

	mu       sync.Mutex
	services map[string]*service
	chars    map[string]*characteristic
}

func newPeer(id string, device bluetooth.Device, logger *logrus.Logger, check func(error) error) *peer {
	return &peer{
		id:       id,
		device:   device,
		logger:   logger,
		check:    check,
		services: make(map[string]*service),
		chars:    make(map[string]*characteristic),
	}
}

func (p *peer) ID() string { return p.id }

// Name is unknown to tinygo after connection; the core keeps the advertised name.
func (p *peer) Name() string { return "" }

func (p *peer) DiscoverServices(filter []uuid.UUID) ([]native.Service, error) {
	raws, err := p.device.DiscoverServices(toUUIDs(filter))
	if err != nil {
		return nil, p.check(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]native.Service, 0, len(raws))
	for i, r := range raws {
		u, ok := fromUUID(r.UUID())
		if !ok {
			continue
		}
		key := fmt.Sprintf("%s/%d", u, i)
		s, ok := p.services[key]
		if !ok {
			s = &service{uuid: u}
			p.services[key] = s
		}
		s.raw = r
		out = append(out, s)
	}
	return out, nil
}

func (p *peer) DiscoverCharacteristics(svc native.Service, filter []uuid.UUID) ([]native.Characteristic, error) {
	s, ok := svc.(*service)
	if !ok {
		return nil, native.ATTError(native.ATTInvalidHandle, "foreign service handle")
	}
	p.mu.Lock()
	raw := s.raw
	p.mu.Unlock()

	raws, err := raw.DiscoverCharacteristics(toUUIDs(filter))
	if err != nil {
		return nil, p.check(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]native.Characteristic, 0, len(raws))
	for i, r := range raws {
		u, ok := fromUUID(r.UUID())
		if !ok {
			continue
		}
		key := fmt.Sprintf("%p/%s/%d", s, u, i)
		c, ok := p.chars[key]
		if !ok {
			c = &characteristic{uuid: u}
			p.chars[key] = c
		}
		c.raw = r
		out = append(out, c)
	}
	return out, nil
}

func (p *peer) DiscoverDescriptors(native.Characteristic) ([]native.Descriptor, error) {
	return nil, native.ErrUnsupported
}

func (p *peer) char(chr native.Characteristic) (bluetooth.DeviceCharacteristic, error) {
	c, ok := chr.(*characteristic)
	if !ok {
		return bluetooth.DeviceCharacteristic{}, native.ATTError(native.ATTInvalidHandle, "foreign characteristic handle")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return c.raw, nil
}

func (p *peer) Read(chr native.Characteristic) ([]byte, error) {
	c, err := p.char(chr)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, readBufferSize)
	n, err := c.Read(buf)
	if err != nil {
		return nil, p.check(err)
	}
	return buf[:n], nil
}

func (p *peer) Write(chr native.Characteristic, data []byte, withResponse bool) error {
	c, err := p.char(chr)
	if err != nil {
		return err
	}
	if withResponse {
		_, err = c.Write(data)
	} else {
		_, err = c.WriteWithoutResponse(data)
	}
	return p.check(err)
}

func (p *peer) ReadDescriptor(native.Descriptor) ([]byte, error) {
	return nil, native.ErrUnsupported
}

func (p *peer) WriteDescriptor(native.Descriptor, []byte) error {
	return native.ErrUnsupported
}

func (p *peer) Subscribe(chr native.Characteristic, handler func([]byte)) error {
	c, err := p.char(chr)
	if err != nil {
		return err
	}
	return p.check(c.EnableNotifications(func(buf []byte) {
		handler(slices.Clone(buf))
	}))
}

// Unsubscribe passes a nil callback, which tinygo treats as "disable".
func (p *peer) Unsubscribe(chr native.Characteristic) error {
	c, err := p.char(chr)
	if err != nil {
		return err
	}
	return p.check(c.EnableNotifications(nil))
}

// MTU asks the first discovered characteristic, the only place tinygo exposes it.
func (p *peer) MTU() (int, error) {
	p.mu.Lock()
	var c *characteristic
	for _, v := range p.chars {
		c = v
		break
	}
	p.mu.Unlock()
	if c == nil {
		return 0, native.ErrUnsupported
	}
	mtu, err := c.raw.GetMTU()
	if err != nil {
		return 0, err
	}
	return int(mtu), nil
}

func (p *peer) Disconnect() error {
	p.requested.Store(true)
	return p.device.Disconnect()
}
