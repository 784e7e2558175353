// Package native defines the boundary between the portable core and a platform
// Bluetooth stack. Drivers adapt CoreBluetooth, BlueZ, WinRT or an HCI socket to
// these callback-style interfaces; the core turns them into streams and queued calls.
//
// Callbacks may arrive on any goroutine, including a driver-owned "native thread".
// Implementations must not block inside a callback.
package native

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUnsupported is returned by drivers for operations they cannot express.
var ErrUnsupported = errors.New("operation not supported by driver")

// Stack is one local Bluetooth adapter.
type Stack interface {
	Name() string
	// Start brings the stack up. Failure to start is reported as a power-off, not an error,
	// unless the stack cannot exist at all on this host.
	Start(ctx context.Context) error
	Powered() bool
	// SetStateHandler registers the radio power callback. Repeated states may be delivered.
	SetStateHandler(fn func(powered bool))
	// SetDisconnectHandler registers the link-loss callback. p is the Peer returned by
	// Connect, so a late callback for an old link can be told apart from the current one.
	SetDisconnectHandler(fn func(p Peer, err error))

	// StartScan begins discovery. filter is a hint; the core filters again.
	// onStop reports a scan that ended on its own, for instance on power loss.
	StartScan(filter []uuid.UUID, onAdv func(RawAdvertisement), onStop func(error)) error
	StopScan() error

	Connect(ctx context.Context, peerID string) (Peer, error)
	Close() error
}

// Attribute is any native GATT object handle. Handles must be comparable and keep
// their identity across discoveries of the same connection.
type Attribute interface {
	UUID() uuid.UUID
}

// Service is a native service handle.
type Service interface {
	Attribute
}

// Characteristic is a native characteristic handle. Properties returns 0 when unknown.
type Characteristic interface {
	Attribute
	Properties() uint32
}

// Descriptor is a native descriptor handle.
type Descriptor interface {
	Attribute
}

// Peer is a connected remote device. Calls block until the native completion arrives;
// the core serializes them per peer.
type Peer interface {
	ID() string
	Name() string

	DiscoverServices(filter []uuid.UUID) ([]Service, error)
	DiscoverCharacteristics(svc Service, filter []uuid.UUID) ([]Characteristic, error)
	DiscoverDescriptors(chr Characteristic) ([]Descriptor, error)

	Read(chr Characteristic) ([]byte, error)
	Write(chr Characteristic, data []byte, withResponse bool) error
	ReadDescriptor(d Descriptor) ([]byte, error)
	WriteDescriptor(d Descriptor, data []byte) error

	// Subscribe enables notifications or indications; handler receives a private copy of each value.
	Subscribe(chr Characteristic, handler func([]byte)) error
	Unsubscribe(chr Characteristic) error

	MTU() (int, error)
	Disconnect() error
}

// ServiceDataEntry is one service data AD record in arrival order.
type ServiceDataEntry struct {
	UUID uuid.UUID
	Data []byte
}

// RawAdvertisement is what a driver knows about one advertisement packet.
// Structured fields come from platform metadata, Payload from the raw AD bytes.
// Either may be empty.
type RawAdvertisement struct {
	PeerID       string
	Name         string // best known device name for the peer, not necessarily advertised
	RSSI         *int16
	Payload      []byte
	LocalName    *string
	Manufacturer [][]byte // company id (little-endian) followed by data
	Services     []uuid.UUID
	Solicited    []uuid.UUID
	ServiceData  []ServiceDataEntry
	TxPower      *int16
	Connectable  *bool
}
