package central

import "github.com/srg/blecentral/pkg/ble"

type (
	UUID                   = ble.UUID
	DeviceID               = ble.DeviceID
	AdvertisementData      = ble.AdvertisementData
	ManufacturerData       = ble.ManufacturerData
	CharacteristicProperty = ble.CharacteristicProperty
	AdapterEvent           = ble.AdapterEvent
	ConnectionEvent        = ble.ConnectionEvent
	WriteMode              = ble.WriteMode
	Error                  = ble.Error
	ErrorKind              = ble.ErrorKind
)

const (
	Available   = ble.Available
	Unavailable = ble.Unavailable
)

// Error kinds.
const (
	Other               = ble.Other
	AdapterUnavailable  = ble.AdapterUnavailable
	PermissionDenied    = ble.PermissionDenied
	NotConnected        = ble.NotConnected
	ConnectionFailed    = ble.ConnectionFailed
	Timeout             = ble.Timeout
	ReadNotSupported    = ble.ReadNotSupported
	WriteNotSupported   = ble.WriteNotSupported
	OperationInProgress = ble.OperationInProgress
	NotFound            = ble.NotFound
	NotSupported        = ble.NotSupported
)

// Characteristic properties, bit-exact with the Core Specification.
const (
	PropBroadcast                 = ble.PropBroadcast
	PropRead                      = ble.PropRead
	PropWriteWithoutResponse      = ble.PropWriteWithoutResponse
	PropWrite                     = ble.PropWrite
	PropNotify                    = ble.PropNotify
	PropIndicate                  = ble.PropIndicate
	PropAuthenticatedSignedWrites = ble.PropAuthenticatedSignedWrites
	PropExtendedProperties        = ble.PropExtendedProperties
	PropReliableWrite             = ble.PropReliableWrite
	PropWritableAuxiliaries       = ble.PropWritableAuxiliaries
)

var (
	UUID16        = ble.UUID16
	UUID32        = ble.UUID32
	ParseUUID     = ble.ParseUUID
	MustParseUUID = ble.MustParseUUID
	FormatUUID    = ble.FormatUUID
	NewError      = ble.NewError
	KindOf        = ble.KindOf
	IsKind        = ble.IsKind
)

// AdvertisingDevice is one received advertisement. It is never modified after delivery.
type AdvertisingDevice struct {
	Device            *Device
	AdvertisementData AdvertisementData
	// RSSI is nil when the platform did not report signal strength.
	RSSI *int16
}
