package ble

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// UUID is a 128-bit Bluetooth UUID. Short 16 and 32-bit forms are expanded onto BaseUUID.
type UUID = uuid.UUID

// BaseUUID is the Bluetooth SIG base UUID 00000000-0000-1000-8000-00805f9b34fb.
var BaseUUID = uuid.UUID{
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb,
}

// UUID16 expands a 16-bit SIG-assigned UUID.
func UUID16(v uint16) UUID {
	return UUID32(uint32(v))
}

// UUID32 expands a 32-bit SIG-assigned UUID.
func UUID32(v uint32) UUID {
	u := BaseUUID
	binary.BigEndian.PutUint32(u[0:4], v)
	return u
}

// UUIDFromBytes converts an on-air (little-endian) UUID of 2, 4 or 16 bytes.
func UUIDFromBytes(b []byte) (UUID, error) {
	switch len(b) {
	case 2:
		return UUID16(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return UUID32(binary.LittleEndian.Uint32(b)), nil
	case 16:
		var u UUID
		for i := 0; i < 16; i++ {
			u[i] = b[15-i]
		}
		return u, nil
	default:
		return uuid.Nil, fmt.Errorf("invalid UUID length %d: must be 2, 4 or 16 bytes", len(b))
	}
}

// IsShort reports whether u lies on BaseUUID and so has a 32-bit alias.
func IsShort(u UUID) bool {
	for i := 4; i < 16; i++ {
		if u[i] != BaseUUID[i] {
			return false
		}
	}
	return true
}

// Short16 returns the 16-bit alias of u, if it has one.
func Short16(u UUID) (uint16, bool) {
	v, ok := Short32(u)
	if !ok || v > 0xffff {
		return 0, false
	}
	return uint16(v), true
}

// Short32 returns the 32-bit alias of u, if it has one.
func Short32(u UUID) (uint32, bool) {
	if !IsShort(u) {
		return 0, false
	}
	return binary.BigEndian.Uint32(u[0:4]), true
}

// ShortUUID returns the shortest alias of u and its width in bits (16 or 32).
// The width is 128 when u has no short form.
func ShortUUID(u UUID) (uint32, int) {
	v, ok := Short32(u)
	switch {
	case !ok:
		return 0, 128
	case v <= 0xffff:
		return v, 16
	default:
		return v, 32
	}
}

// Is16Bit reports whether u is a 16-bit SIG UUID.
func Is16Bit(u UUID) bool {
	_, w := ShortUUID(u)
	return w == 16
}

// Is32Bit reports whether u needs exactly 32 bits.
func Is32Bit(u UUID) bool {
	_, w := ShortUUID(u)
	return w == 32
}

// AirBytes returns the shortest little-endian encoding of u.
func AirBytes(u UUID) []byte {
	if v, ok := Short16(u); ok {
		return binary.LittleEndian.AppendUint16(nil, v)
	}
	if v, ok := Short32(u); ok {
		return binary.LittleEndian.AppendUint32(nil, v)
	}
	b := make([]byte, 16)
	for i := 0; i < 16; i++ {
		b[i] = u[15-i]
	}
	return b
}

// ParseUUID accepts "180d", "0x180D", "0000fe59", braces, and any form google/uuid understands.
func ParseUUID(s string) (UUID, error) {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(strings.TrimPrefix(t, "0x"), "0X")
	t = strings.Trim(t, "{}")

	switch len(t) {
	case 4:
		var v uint16
		if _, err := fmt.Sscanf(t, "%04x", &v); err != nil {
			return uuid.Nil, fmt.Errorf("invalid 16-bit UUID %q: %w", s, err)
		}
		return UUID16(v), nil
	case 8:
		var v uint32
		if _, err := fmt.Sscanf(t, "%08x", &v); err != nil {
			return uuid.Nil, fmt.Errorf("invalid 32-bit UUID %q: %w", s, err)
		}
		return UUID32(v), nil
	}

	u, err := uuid.Parse(t)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

// MustParseUUID is ParseUUID for constants; it panics on malformed input.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ParseUUIDs parses every entry of ss, stopping at the first failure.
func ParseUUIDs(ss ...string) ([]UUID, error) {
	out := make([]UUID, 0, len(ss))
	for _, s := range ss {
		u, err := ParseUUID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// FormatUUID renders 16-bit UUIDs as four hex digits and everything else canonically.
func FormatUUID(u UUID) string {
	if v, ok := Short16(u); ok {
		return fmt.Sprintf("%04x", v)
	}
	return u.String()
}
