// Package backend defines the capability contract every platform backend
// fulfils, and Core, the shared implementation that turns any native.Stack
// into that contract.
//
// Core owns the policies that must not vary across platforms: one scan at a
// time, match-any service filtering, per-device FIFO GATT queues, generation
// checked handles, reference counted notifications and adapter power handling.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/srg/blecentral/pkg/ble"
	"github.com/srg/blecentral/pkg/stream"
)

// AttrKind distinguishes the attribute a handle points at.
type AttrKind int

const (
	KindService AttrKind = iota + 1
	KindCharacteristic
	KindDescriptor
)

func (k AttrKind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindCharacteristic:
		return "characteristic"
	case KindDescriptor:
		return "descriptor"
	default:
		return "attribute"
	}
}

// AttrRef is a lookup key for a discovered attribute. It is only valid for the
// connection generation it was discovered on.
type AttrRef struct {
	Device ble.DeviceID
	Gen    uint64
	ID     uint64
	Kind   AttrKind
}

func (r AttrRef) String() string {
	return fmt.Sprintf("%s/%d/%s#%d", r.Device, r.Gen, r.Kind, r.ID)
}

// AttrInfo describes a discovered attribute.
type AttrInfo struct {
	Ref        AttrRef
	UUID       ble.UUID
	Properties ble.CharacteristicProperty
}

// Advertisement is one received advertisement packet.
type Advertisement struct {
	Device ble.DeviceID
	Name   string
	Data   ble.AdvertisementData
	RSSI   *int16
}

// Backend is the capability set a platform backend provides.
// Every error it returns is a *ble.Error.
type Backend interface {
	Name() string

	AdapterEvents(ctx context.Context) (*stream.Stream[ble.AdapterEvent], error)
	IsAvailable() bool
	WaitAvailable(ctx context.Context) error

	StartScan(ctx context.Context, filter []ble.UUID) (*stream.Stream[Advertisement], error)

	Connect(ctx context.Context, id ble.DeviceID) error
	Disconnect(ctx context.Context, id ble.DeviceID) error
	IsConnected(id ble.DeviceID) bool
	ConnectedDevices() []ble.DeviceID
	DeviceName(id ble.DeviceID) string
	// ConnectionEvents streams connect and disconnect events of id, or of every device when id is empty.
	ConnectionEvents(ctx context.Context, id ble.DeviceID) (*stream.Stream[ble.ConnectionEvent], error)

	DiscoverServices(ctx context.Context, id ble.DeviceID, filter []ble.UUID) ([]AttrInfo, error)
	DiscoverCharacteristics(ctx context.Context, svc AttrRef, filter []ble.UUID) ([]AttrInfo, error)
	DiscoverDescriptors(ctx context.Context, chr AttrRef) ([]AttrInfo, error)

	// Read and Write accept characteristic and descriptor refs. Descriptor writes ignore mode.
	Read(ctx context.Context, ref AttrRef) ([]byte, error)
	Write(ctx context.Context, ref AttrRef, data []byte, mode ble.WriteMode) error
	Subscribe(ctx context.Context, chr AttrRef) (*stream.Stream[[]byte], error)

	MTU(ctx context.Context, id ble.DeviceID) (int, error)

	Close() error
}

// Options tune Core.
type Options struct {
	ScanBuffer   stream.Options
	NotifyBuffer stream.Options
	EventBuffer  stream.Options
	// QueueDepth bounds pending GATT operations per connection.
	QueueDepth int
	// ConnectTimeout and RequestTimeout cap operations whose context has a later or no deadline. Zero disables.
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultOptions returns the stock buffering and timeouts.
func DefaultOptions() Options {
	return Options{
		ScanBuffer:     stream.Options{Capacity: 256, Policy: stream.DropOldest, Name: "scan"},
		NotifyBuffer:   stream.Options{Capacity: 64, Policy: stream.Block, Name: "notify"},
		EventBuffer:    stream.Options{Capacity: 16, Policy: stream.DropOldest, Name: "events"},
		QueueDepth:     32,
		ConnectTimeout: 30 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.ScanBuffer.Capacity <= 0 {
		o.ScanBuffer = d.ScanBuffer
	}
	if o.NotifyBuffer.Capacity <= 0 {
		o.NotifyBuffer = d.NotifyBuffer
	}
	if o.EventBuffer.Capacity <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = d.QueueDepth
	}
	return o
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
