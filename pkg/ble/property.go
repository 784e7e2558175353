package ble

import (
	"fmt"
	"strings"
)

// CharacteristicProperty is the bit set of GATT characteristic properties.
// The low byte matches the on-air properties field, the high bits the extended properties.
type CharacteristicProperty uint32

const (
	PropBroadcast                 CharacteristicProperty = 0x01
	PropRead                      CharacteristicProperty = 0x02
	PropWriteWithoutResponse      CharacteristicProperty = 0x04
	PropWrite                     CharacteristicProperty = 0x08
	PropNotify                    CharacteristicProperty = 0x10
	PropIndicate                  CharacteristicProperty = 0x20
	PropAuthenticatedSignedWrites CharacteristicProperty = 0x40
	PropExtendedProperties        CharacteristicProperty = 0x80
	PropReliableWrite             CharacteristicProperty = 0x0100
	PropWritableAuxiliaries       CharacteristicProperty = 0x0200
)

var propertyNames = []struct {
	bit  CharacteristicProperty
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropAuthenticatedSignedWrites, "authenticated-signed-writes"},
	{PropExtendedProperties, "extended-properties"},
	{PropReliableWrite, "reliable-write"},
	{PropWritableAuxiliaries, "writable-auxiliaries"},
}

// Has reports whether every bit of flag is set.
func (p CharacteristicProperty) Has(flag CharacteristicProperty) bool {
	return p&flag == flag
}

// Uint32 returns the raw bit set.
func (p CharacteristicProperty) Uint32() uint32 { return uint32(p) }

// CanSubscribe reports whether notify or indicate is set.
func (p CharacteristicProperty) CanSubscribe() bool {
	return p&(PropNotify|PropIndicate) != 0
}

// Flags returns the names of all set bits in declaration order.
func (p CharacteristicProperty) Flags() []string {
	var out []string
	for _, pn := range propertyNames {
		if p&pn.bit != 0 {
			out = append(out, pn.name)
		}
	}
	return out
}

func (p CharacteristicProperty) String() string {
	if p == 0 {
		return "none"
	}
	return strings.Join(p.Flags(), "|")
}

// ParseProperties parses a list like "read,notify" or "read|write".
func ParseProperties(s string) (CharacteristicProperty, error) {
	var p CharacteristicProperty
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' || r == ' ' })
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		found := false
		for _, pn := range propertyNames {
			if pn.name == f {
				p |= pn.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", f)
		}
	}
	return p, nil
}
