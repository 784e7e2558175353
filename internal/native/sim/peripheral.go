package sim

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/ble"
)

var (
	errNotConnected = errors.New("device not connected")
	errPoweredOff   = errors.New("bluetooth is turned off")
	errLinkLost     = &native.Error{Domain: native.DomainCoreBluetooth, Code: 7, Msg: "The specified device has disconnected from us."}
)

// Peripheral is one simulated remote device. Its GATT objects keep their identity
// for the lifetime of the peripheral, like handles of a real stack.
type Peripheral struct {
	id       string
	services []*Service

	mu           sync.Mutex
	name         string
	rssi         int16
	mtu          int
	payload      []byte
	connectable  bool
	connectErr   error
	connectDelay time.Duration
	ackGate      chan struct{}
}

// NewPeripheral creates a bare connectable peripheral.
func NewPeripheral(id, name string) *Peripheral {
	return &Peripheral{id: id, name: name, mtu: 23, connectable: true, rssi: -60}
}

func (p *Peripheral) ID() string { return p.id }

// Services returns the GATT database in declaration order.
func (p *Peripheral) Services() []*Service { return p.services }

// AddService appends a service and returns it.
func (p *Peripheral) AddService(u uuid.UUID) *Service {
	s := &Service{uuid: u}
	p.services = append(p.services, s)
	return s
}

// SetPayload replaces the raw advertising payload.
func (p *Peripheral) SetPayload(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payload = append([]byte(nil), b...)
}

// SetRSSI changes the signal strength reported with future advertisements.
func (p *Peripheral) SetRSSI(v int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rssi = v
}

// SetConnectError makes future connection attempts fail with err.
func (p *Peripheral) SetConnectError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectErr = err
}

// SetConnectDelay delays connection completion. The delay ignores the caller's
// context, as a platform connect that is already pending cannot be withdrawn.
func (p *Peripheral) SetConnectDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectDelay = d
}

// GateWriteAcks makes every acknowledged write wait for one token on the returned channel.
func (p *Peripheral) GateWriteAcks() chan<- struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ackGate == nil {
		p.ackGate = make(chan struct{})
	}
	return p.ackGate
}

// Characteristic returns the first characteristic with the given UUID.
func (p *Peripheral) Characteristic(u uuid.UUID) *Characteristic {
	for _, s := range p.services {
		for _, c := range s.chars {
			if c.uuid == u {
				return c
			}
		}
	}
	return nil
}

func (p *Peripheral) connectParams() (time.Duration, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectDelay, p.connectable, p.connectErr
}

func (p *Peripheral) gate() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ackGate
}

// Service is a simulated primary service.
type Service struct {
	uuid  uuid.UUID
	chars []*Characteristic
}

func (s *Service) UUID() uuid.UUID { return s.uuid }

// Characteristics returns the service's characteristics in declaration order.
func (s *Service) Characteristics() []*Characteristic { return s.chars }

// AddCharacteristic appends a characteristic and returns it.
func (s *Service) AddCharacteristic(u uuid.UUID, props ble.CharacteristicProperty, value []byte) *Characteristic {
	c := &Characteristic{uuid: u, props: uint32(props), value: value}
	s.chars = append(s.chars, c)
	return c
}

// WriteRecord is one write received by a simulated characteristic.
type WriteRecord struct {
	Data         []byte
	WithResponse bool
}

// Characteristic is a simulated characteristic with a stored value.
type Characteristic struct {
	uuid  uuid.UUID
	props uint32
	descs []*Descriptor

	mu       sync.Mutex
	value    []byte
	writes   []WriteRecord
	readErr  error
	writeErr error
	handler  func([]byte)
	subs     int
}

func (c *Characteristic) UUID() uuid.UUID    { return c.uuid }
func (c *Characteristic) Properties() uint32 { return c.props }

// Descriptors returns the characteristic's descriptors.
func (c *Characteristic) Descriptors() []*Descriptor { return c.descs }

// AddDescriptor appends a descriptor and returns it.
func (c *Characteristic) AddDescriptor(u uuid.UUID, value []byte) *Descriptor {
	d := &Descriptor{uuid: u, value: value}
	c.descs = append(c.descs, d)
	return d
}

// Value returns a copy of the stored value.
func (c *Characteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.value)
}

// SetValue replaces the stored value.
func (c *Characteristic) SetValue(v []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = slices.Clone(v)
}

// Writes returns every write received so far.
func (c *Characteristic) Writes() []WriteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.writes)
}

// FailReads makes reads return err until cleared with nil.
func (c *Characteristic) FailReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// FailWrites makes writes return err until cleared with nil.
func (c *Characteristic) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Subscribed reports whether notifications are enabled.
func (c *Characteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// SubscribeCount reports how many times notifications were enabled natively.
func (c *Characteristic) SubscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs
}

func (c *Characteristic) currentHandler() func([]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// Descriptor is a simulated descriptor.
type Descriptor struct {
	uuid uuid.UUID

	mu    sync.Mutex
	value []byte
}

func (d *Descriptor) UUID() uuid.UUID { return d.uuid }

// Value returns a copy of the stored value.
func (d *Descriptor) Value() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.value)
}

// link is one connection to a peripheral, handed to the core as a native.Peer.
type link struct {
	stack  *Stack
	p      *Peripheral
	closed atomic.Bool
	done   chan struct{}
	once   sync.Once
}

func newLink(s *Stack, p *Peripheral) *link {
	return &link{stack: s, p: p, done: make(chan struct{})}
}

// close reports whether this call performed the teardown.
func (l *link) close() bool {
	closed := false
	l.once.Do(func() {
		closed = true
		l.closed.Store(true)
		close(l.done)
		for _, svc := range l.p.services {
			for _, c := range svc.chars {
				c.mu.Lock()
				c.handler = nil
				c.mu.Unlock()
			}
		}
	})
	return closed
}

func (l *link) check() error {
	if l.closed.Load() {
		return errNotConnected
	}
	return nil
}

func (l *link) ID() string { return l.p.id }

func (l *link) Name() string {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	return l.p.name
}

func (l *link) DiscoverServices(filter []uuid.UUID) ([]native.Service, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	var out []native.Service
	for _, s := range l.p.services {
		if len(filter) == 0 || slices.Contains(filter, s.uuid) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (l *link) DiscoverCharacteristics(svc native.Service, filter []uuid.UUID) ([]native.Characteristic, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	s, ok := svc.(*Service)
	if !ok {
		return nil, native.ATTError(native.ATTInvalidHandle, "foreign service handle")
	}
	var out []native.Characteristic
	for _, c := range s.chars {
		if len(filter) == 0 || slices.Contains(filter, c.uuid) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (l *link) DiscoverDescriptors(chr native.Characteristic) ([]native.Descriptor, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	c, ok := chr.(*Characteristic)
	if !ok {
		return nil, native.ATTError(native.ATTInvalidHandle, "foreign characteristic handle")
	}
	out := make([]native.Descriptor, 0, len(c.descs))
	for _, d := range c.descs {
		out = append(out, d)
	}
	return out, nil
}

func (l *link) Read(chr native.Characteristic) ([]byte, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	c, ok := chr.(*Characteristic)
	if !ok {
		return nil, native.ATTError(native.ATTInvalidHandle, "foreign characteristic handle")
	}
	if c.props&uint32(ble.PropRead) == 0 {
		return nil, native.ATTError(native.ATTReadNotPermitted, "Read Not Permitted")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	return slices.Clone(c.value), nil
}

func (l *link) Write(chr native.Characteristic, data []byte, withResponse bool) error {
	if err := l.check(); err != nil {
		return err
	}
	c, ok := chr.(*Characteristic)
	if !ok {
		return native.ATTError(native.ATTInvalidHandle, "foreign characteristic handle")
	}
	want := ble.PropWrite
	if !withResponse {
		want = ble.PropWriteWithoutResponse
	}
	if c.props&uint32(want) == 0 {
		return native.ATTError(native.ATTWriteNotPermitted, "Write Not Permitted")
	}

	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	c.value = slices.Clone(data)
	c.writes = append(c.writes, WriteRecord{Data: slices.Clone(data), WithResponse: withResponse})
	c.mu.Unlock()

	if !withResponse {
		return nil
	}
	if gate := l.p.gate(); gate != nil {
		select {
		case <-gate:
		case <-l.done:
			return errNotConnected
		case <-l.stack.done:
			return errPoweredOff
		}
	}
	return nil
}

func (l *link) ReadDescriptor(d native.Descriptor) ([]byte, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	sd, ok := d.(*Descriptor)
	if !ok {
		return nil, native.ATTError(native.ATTInvalidHandle, "foreign descriptor handle")
	}
	return sd.Value(), nil
}

func (l *link) WriteDescriptor(d native.Descriptor, data []byte) error {
	if err := l.check(); err != nil {
		return err
	}
	sd, ok := d.(*Descriptor)
	if !ok {
		return native.ATTError(native.ATTInvalidHandle, "foreign descriptor handle")
	}
	sd.mu.Lock()
	sd.value = slices.Clone(data)
	sd.mu.Unlock()
	return nil
}

func (l *link) Subscribe(chr native.Characteristic, handler func([]byte)) error {
	if err := l.check(); err != nil {
		return err
	}
	c, ok := chr.(*Characteristic)
	if !ok {
		return native.ATTError(native.ATTInvalidHandle, "foreign characteristic handle")
	}
	if !ble.CharacteristicProperty(c.props).CanSubscribe() {
		return native.ATTError(native.ATTRequestNotSupported, "notifications not supported")
	}
	c.mu.Lock()
	c.handler = handler
	c.subs++
	c.mu.Unlock()
	return nil
}

func (l *link) Unsubscribe(chr native.Characteristic) error {
	if err := l.check(); err != nil {
		return err
	}
	c, ok := chr.(*Characteristic)
	if !ok {
		return native.ATTError(native.ATTInvalidHandle, "foreign characteristic handle")
	}
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
	return nil
}

func (l *link) MTU() (int, error) {
	if err := l.check(); err != nil {
		return 0, err
	}
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	return l.p.mtu, nil
}

func (l *link) Disconnect() error {
	l.stack.dropLink(l, nil)
	return nil
}
