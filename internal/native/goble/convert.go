package goble

import (
	"errors"

	"github.com/go-ble/ble"
	"github.com/google/uuid"

	"github.com/srg/blecentral/internal/native"
	bt "github.com/srg/blecentral/pkg/ble"
)

// txPowerUnavailable is what go-ble reports when an advertisement has no TX power field.
const txPowerUnavailable = 127

// fromBLEUUID converts go-ble's little-endian UUID bytes.
func fromBLEUUID(u ble.UUID) (uuid.UUID, bool) {
	v, err := bt.UUIDFromBytes(u)
	return v, err == nil
}

func toBLEUUID(u uuid.UUID) ble.UUID {
	return ble.UUID(bt.AirBytes(u))
}

func toBLEUUIDs(us []uuid.UUID) []ble.UUID {
	if len(us) == 0 {
		return nil
	}
	out := make([]ble.UUID, 0, len(us))
	for _, u := range us {
		out = append(out, toBLEUUID(u))
	}
	return out
}

func fromBLEUUIDs(groups ...[]ble.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, g := range groups {
		for _, u := range g {
			if v, ok := fromBLEUUID(u); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// rawAdvertisement turns a go-ble advertisement into the driver-neutral record.
// go-ble has already split the AD structures, so Payload stays empty.
func rawAdvertisement(a ble.Advertisement) native.RawAdvertisement {
	raw := native.RawAdvertisement{
		PeerID:    a.Addr().String(),
		Name:      a.LocalName(),
		Services:  fromBLEUUIDs(a.Services(), a.OverflowService()),
		Solicited: fromBLEUUIDs(a.SolicitedService()),
	}

	rssi := int16(a.RSSI())
	raw.RSSI = &rssi

	if name := a.LocalName(); name != "" {
		raw.LocalName = &name
	}
	if md := a.ManufacturerData(); len(md) > 0 {
		raw.Manufacturer = [][]byte{append([]byte(nil), md...)}
	}
	for _, sd := range a.ServiceData() {
		if u, ok := fromBLEUUID(sd.UUID); ok {
			raw.ServiceData = append(raw.ServiceData, native.ServiceDataEntry{UUID: u, Data: append([]byte(nil), sd.Data...)})
		}
	}
	if tx := a.TxPowerLevel(); tx != txPowerUnavailable {
		v := int16(tx)
		raw.TxPower = &v
	}
	connectable := a.Connectable()
	raw.Connectable = &connectable
	return raw
}

var propertyMap = []struct {
	from ble.Property
	to   bt.CharacteristicProperty
}{
	{ble.CharBroadcast, bt.PropBroadcast},
	{ble.CharRead, bt.PropRead},
	{ble.CharWriteNR, bt.PropWriteWithoutResponse},
	{ble.CharWrite, bt.PropWrite},
	{ble.CharNotify, bt.PropNotify},
	{ble.CharIndicate, bt.PropIndicate},
	{ble.CharSignedWrite, bt.PropAuthenticatedSignedWrites},
	{ble.CharExtended, bt.PropExtendedProperties},
}

func convertProperties(p ble.Property) uint32 {
	var out bt.CharacteristicProperty
	for _, m := range propertyMap {
		if p&m.from != 0 {
			out |= m.to
		}
	}
	return out.Uint32()
}

// convertError lifts ATT error responses into structured native errors.
// Everything else is left for the message table of the error mapper.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	var ae ble.ATTError
	if errors.As(err, &ae) {
		return native.ATTError(int(ae), ae.Error())
	}
	return err
}
