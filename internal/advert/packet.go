package advert

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/ble"
)

// MaxLegacyLength is the payload limit of a legacy advertising or scan response PDU.
const MaxLegacyLength = 31

// AD structure types (Core Specification Supplement, Part A).
const (
	TypeFlags            = 0x01
	TypeSomeUUID16       = 0x02
	TypeAllUUID16        = 0x03
	TypeSomeUUID32       = 0x04
	TypeAllUUID32        = 0x05
	TypeSomeUUID128      = 0x06
	TypeAllUUID128       = 0x07
	TypeShortName        = 0x08
	TypeCompleteName     = 0x09
	TypeTxPower          = 0x0A
	TypeSolicit16        = 0x14
	TypeSolicit128       = 0x15
	TypeServiceData16    = 0x16
	TypeSolicit32        = 0x1F
	TypeServiceData32    = 0x20
	TypeServiceData128   = 0x21
	TypeManufacturerData = 0xFF
)

// Advertising flags
const (
	FlagLimitedDiscoverable = 0x01
	FlagGeneralDiscoverable = 0x02
	FlagLEOnly              = 0x04
)

// Fields are the AD structures decoded from one payload, in arrival order.
type Fields struct {
	Flags        *byte
	ShortName    *string
	CompleteName *string
	TxPower      *int16
	Services     []uuid.UUID
	Solicited    []uuid.UUID
	ServiceData  []native.ServiceDataEntry
	Manufacturer [][]byte
	// Malformed is set when decoding stopped early on a truncated structure.
	Malformed bool
}

// ParsePayload walks the AD structures of p. A zero length byte ends the payload;
// a structure running past the end stops decoding and keeps what came before.
// Fields whose content is truncated are skipped.
func ParsePayload(p []byte) Fields {
	var f Fields
	b := p
	for len(b) > 0 {
		l := int(b[0])
		if l == 0 {
			break
		}
		if len(b) < 1+l {
			f.Malformed = true
			break
		}
		typ, data := b[1], b[2:1+l]
		b = b[1+l:]

		switch typ {
		case TypeFlags:
			if len(data) >= 1 {
				v := data[0]
				f.Flags = &v
			}
		case TypeSomeUUID16, TypeAllUUID16:
			f.Services = appendUUIDs(f.Services, data, 2)
		case TypeSomeUUID32, TypeAllUUID32:
			f.Services = appendUUIDs(f.Services, data, 4)
		case TypeSomeUUID128, TypeAllUUID128:
			f.Services = appendUUIDs(f.Services, data, 16)
		case TypeShortName:
			s := string(data)
			f.ShortName = &s
		case TypeCompleteName:
			s := string(data)
			f.CompleteName = &s
		case TypeTxPower:
			if len(data) >= 1 {
				v := int16(int8(data[0]))
				f.TxPower = &v
			}
		case TypeSolicit16:
			f.Solicited = appendUUIDs(f.Solicited, data, 2)
		case TypeSolicit32:
			f.Solicited = appendUUIDs(f.Solicited, data, 4)
		case TypeSolicit128:
			f.Solicited = appendUUIDs(f.Solicited, data, 16)
		case TypeServiceData16:
			f.ServiceData = appendServiceData(f.ServiceData, data, 2)
		case TypeServiceData32:
			f.ServiceData = appendServiceData(f.ServiceData, data, 4)
		case TypeServiceData128:
			f.ServiceData = appendServiceData(f.ServiceData, data, 16)
		case TypeManufacturerData:
			f.Manufacturer = append(f.Manufacturer, append([]byte(nil), data...))
		}
	}
	return f
}

// appendUUIDs decodes a packed UUID list; a trailing partial entry is dropped.
func appendUUIDs(dst []uuid.UUID, d []byte, w int) []uuid.UUID {
	for len(d) >= w {
		if u, err := ble.UUIDFromBytes(d[:w]); err == nil {
			dst = append(dst, u)
		}
		d = d[w:]
	}
	return dst
}

func appendServiceData(dst []native.ServiceDataEntry, d []byte, w int) []native.ServiceDataEntry {
	if len(d) < w {
		return dst
	}
	u, err := ble.UUIDFromBytes(d[:w])
	if err != nil {
		return dst
	}
	return append(dst, native.ServiceDataEntry{UUID: u, Data: append([]byte{}, d[w:]...)})
}

// Packet crafts advertising payloads. Used by the simulator and tests.
type Packet []byte

// AppendField appends one AD structure.
func (p Packet) AppendField(typ byte, b []byte) Packet {
	p = append(p, byte(len(b)+1), typ)
	return append(p, b...)
}

// AppendFlags appends the flags structure.
func (p Packet) AppendFlags(f byte) Packet {
	return p.AppendField(TypeFlags, []byte{f})
}

// AppendShortName appends a shortened local name.
func (p Packet) AppendShortName(n string) Packet {
	return p.AppendField(TypeShortName, []byte(n))
}

// AppendCompleteName appends a complete local name.
func (p Packet) AppendCompleteName(n string) Packet {
	return p.AppendField(TypeCompleteName, []byte(n))
}

// AppendTxPower appends the TX power level in dBm.
func (p Packet) AppendTxPower(dbm int8) Packet {
	return p.AppendField(TypeTxPower, []byte{byte(dbm)})
}

// AppendManufacturerData appends a manufacturer block with a little-endian company id.
func (p Packet) AppendManufacturerData(companyID uint16, b []byte) Packet {
	d := binary.LittleEndian.AppendUint16(nil, companyID)
	return p.AppendField(TypeManufacturerData, append(d, b...))
}

// AppendServices appends complete service lists grouped by UUID width.
func (p Packet) AppendServices(us ...uuid.UUID) Packet {
	return p.appendUUIDLists([3]byte{TypeAllUUID16, TypeAllUUID32, TypeAllUUID128}, us)
}

// AppendSolicited appends solicitation lists grouped by UUID width.
func (p Packet) AppendSolicited(us ...uuid.UUID) Packet {
	return p.appendUUIDLists([3]byte{TypeSolicit16, TypeSolicit32, TypeSolicit128}, us)
}

// AppendServiceData appends a service data structure using the shortest UUID form.
func (p Packet) AppendServiceData(u uuid.UUID, data []byte) Packet {
	key := ble.AirBytes(u)
	typ := byte(TypeServiceData128)
	switch len(key) {
	case 2:
		typ = TypeServiceData16
	case 4:
		typ = TypeServiceData32
	}
	return p.AppendField(typ, append(key, data...))
}

func (p Packet) appendUUIDLists(types [3]byte, us []uuid.UUID) Packet {
	var lists [3][]byte
	for _, u := range us {
		b := ble.AirBytes(u)
		switch len(b) {
		case 2:
			lists[0] = append(lists[0], b...)
		case 4:
			lists[1] = append(lists[1], b...)
		default:
			lists[2] = append(lists[2], b...)
		}
	}
	for i, l := range lists {
		if len(l) > 0 {
			p = p.AppendField(types[i], l)
		}
	}
	return p
}
