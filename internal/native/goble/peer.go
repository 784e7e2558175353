package goble

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/native"
)

// go-ble returns fresh structs on every discovery, so handles are cached by
// key and their inner pointer refreshed to keep identities stable.

type service struct {
	uuid uuid.UUID
	raw  atomic.Pointer[ble.Service]
}

func (s *service) UUID() uuid.UUID { return s.uuid }

type characteristic struct {
	uuid  uuid.UUID
	props uint32
	raw   atomic.Pointer[ble.Characteristic]
	// indicate records the mode used by the last Subscribe.
	indicate atomic.Bool
}

func (c *characteristic) UUID() uuid.UUID    { return c.uuid }
func (c *characteristic) Properties() uint32 { return c.props }

type descriptor struct {
	uuid uuid.UUID
	raw  atomic.Pointer[ble.Descriptor]
}

func (d *descriptor) UUID() uuid.UUID { return d.uuid }

type peer struct {
	stack  *Stack
	id     string
	client ble.Client
	logger *logrus.Logger

	requested atomic.Bool

	mu       sync.Mutex
	services map[string]*service
	chars    map[string]*characteristic
	descs    map[string]*descriptor
}

func newPeer(s *Stack, id string, client ble.Client) *peer {
	return &peer{
		stack:    s,
		id:       id,
		client:   client,
		logger:   s.logger,
		services: make(map[string]*service),
		chars:    make(map[string]*characteristic),
		descs:    make(map[string]*descriptor),
	}
}

// monitor watches the client's Disconnected channel where the platform provides one.
func (p *peer) monitor() {
	dc, ok := p.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		p.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(p.stack.ctx, "ble-connection-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			var err error
			if !p.requested.Load() {
				err = errLinkLost
				p.logger.WithField("address", p.id).Warn("Platform reported disconnection")
			}
			p.stack.notifyDisconnect(p, err)
		case <-ctx.Done():
		}
	})
}

func (p *peer) ID() string { return p.id }

func (p *peer) Name() string { return p.client.Name() }

func (p *peer) service(raw *ble.Service) (*service, bool) {
	u, ok := fromBLEUUID(raw.UUID)
	if !ok {
		return nil, false
	}
	key := fmt.Sprintf("%s/%d", u, raw.Handle)

	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.services[key]
	if !ok {
		s = &service{uuid: u}
		p.services[key] = s
	}
	s.raw.Store(raw)
	return s, true
}

func (p *peer) characteristic(parent *service, raw *ble.Characteristic) (*characteristic, bool) {
	u, ok := fromBLEUUID(raw.UUID)
	if !ok {
		return nil, false
	}
	key := fmt.Sprintf("%s/%d/%s/%d", parent.uuid, parent.raw.Load().Handle, u, raw.ValueHandle)

	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chars[key]
	if !ok {
		c = &characteristic{uuid: u, props: convertProperties(raw.Property)}
		p.chars[key] = c
	}
	c.raw.Store(raw)
	return c, true
}

func (p *peer) descriptor(parent *characteristic, raw *ble.Descriptor) (*descriptor, bool) {
	u, ok := fromBLEUUID(raw.UUID)
	if !ok {
		return nil, false
	}
	key := fmt.Sprintf("%p/%s/%d", parent, u, raw.Handle)

	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.descs[key]
	if !ok {
		d = &descriptor{uuid: u}
		p.descs[key] = d
	}
	d.raw.Store(raw)
	return d, true
}

func (p *peer) DiscoverServices(filter []uuid.UUID) ([]native.Service, error) {
	raws, err := p.client.DiscoverServices(toBLEUUIDs(filter))
	if err != nil {
		return nil, convertError(err)
	}
	out := make([]native.Service, 0, len(raws))
	for _, r := range raws {
		if s, ok := p.service(r); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *peer) DiscoverCharacteristics(svc native.Service, filter []uuid.UUID) ([]native.Characteristic, error) {
	s, ok := svc.(*service)
	if !ok {
		return nil, native.ATTError(native.ATTInvalidHandle, "foreign service handle")
	}
	raws, err := p.client.DiscoverCharacteristics(toBLEUUIDs(filter), s.raw.Load())
	if err != nil {
		return nil, convertError(err)
	}
	out := make([]native.Characteristic, 0, len(raws))
	for _, r := range raws {
		if c, ok := p.characteristic(s, r); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (p *peer) DiscoverDescriptors(chr native.Characteristic) ([]native.Descriptor, error) {
	c, ok := chr.(*characteristic)
	if !ok {
		return nil, native.ATTError(native.ATTInvalidHandle, "foreign characteristic handle")
	}
	raws, err := p.client.DiscoverDescriptors(nil, c.raw.Load())
	if err != nil {
		return nil, convertError(err)
	}
	out := make([]native.Descriptor, 0, len(raws))
	for _, r := range raws {
		if d, ok := p.descriptor(c, r); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (p *peer) Read(chr native.Characteristic) ([]byte, error) {
	c, ok := chr.(*characteristic)
	if !ok {
		return nil, native.ATTError(native.ATTInvalidHandle, "foreign characteristic handle")
	}
	v, err := p.client.ReadCharacteristic(c.raw.Load())
	if err != nil {
		return nil, convertError(err)
	}
	return slices.Clone(v), nil
}

func (p *peer) Write(chr native.Characteristic, data []byte, withResponse bool) error {
	c, ok := chr.(*characteristic)
	if !ok {
		return native.ATTError(native.ATTInvalidHandle, "foreign characteristic handle")
	}
	return convertError(p.client.WriteCharacteristic(c.raw.Load(), data, !withResponse))
}

func (p *peer) ReadDescriptor(d native.Descriptor) ([]byte, error) {
	dd, ok := d.(*descriptor)
	if !ok {
		return nil, native.ATTError(native.ATTInvalidHandle, "foreign descriptor handle")
	}
	v, err := p.client.ReadDescriptor(dd.raw.Load())
	if err != nil {
		return nil, convertError(err)
	}
	return slices.Clone(v), nil
}

func (p *peer) WriteDescriptor(d native.Descriptor, data []byte) error {
	dd, ok := d.(*descriptor)
	if !ok {
		return native.ATTError(native.ATTInvalidHandle, "foreign descriptor handle")
	}
	return convertError(p.client.WriteDescriptor(dd.raw.Load(), data))
}

// Subscribe prefers notifications and falls back to indications. go-ble needs
// the CCCD, so descriptors are discovered first when they are not known yet.
func (p *peer) Subscribe(chr native.Characteristic, handler func([]byte)) error {
	c, ok := chr.(*characteristic)
	if !ok {
		return native.ATTError(native.ATTInvalidHandle, "foreign characteristic handle")
	}
	raw := c.raw.Load()
	if raw.CCCD == nil {
		if _, err := p.client.DiscoverDescriptors(nil, raw); err != nil {
			p.logger.WithError(err).WithField("char_uuid", c.uuid).Debug("CCCD discovery failed")
		}
	}

	indicate := raw.Property&ble.CharNotify == 0 && raw.Property&ble.CharIndicate != 0
	c.indicate.Store(indicate)
	return convertError(p.client.Subscribe(raw, indicate, func(b []byte) {
		handler(slices.Clone(b))
	}))
}

// Unsubscribe tries both modes and fails only when both do.
func (p *peer) Unsubscribe(chr native.Characteristic) error {
	c, ok := chr.(*characteristic)
	if !ok {
		return native.ATTError(native.ATTInvalidHandle, "foreign characteristic handle")
	}
	raw := c.raw.Load()
	first := c.indicate.Load()
	err1 := p.client.Unsubscribe(raw, first)
	if err1 == nil {
		return nil
	}
	err2 := p.client.Unsubscribe(raw, !first)
	if err2 == nil {
		return nil
	}
	p.logger.WithFields(logrus.Fields{
		"char_uuid":   c.uuid,
		"notifyErr":   err1,
		"indicateErr": err2,
	}).Debug("Failed to unsubscribe from characteristic notifications")
	return convertError(err1)
}

func (p *peer) MTU() (int, error) {
	conn := p.client.Conn()
	if conn == nil {
		return 0, native.ErrUnsupported
	}
	return conn.TxMTU(), nil
}

func (p *peer) Disconnect() error {
	p.requested.Store(true)
	return convertError(p.client.CancelConnection())
}
