// Package advert turns driver advertisement records into the normalized
// ble.AdvertisementData model.
//
// Merge rules:
//   - platform metadata is consulted before fields decoded from the raw payload
//   - the complete local name wins over the shortened one
//   - service and solicitation UUIDs form ordered sets; the first occurrence keeps its position
//   - service data keeps one entry per UUID; the last one seen wins
//   - manufacturer data keeps the first block of at least two bytes
package advert

import (
	"encoding/binary"
	"slices"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/ble"
)

// Normalize builds the portable model from a raw record. It never fails and
// never aliases the input buffers.
func Normalize(raw native.RawAdvertisement) ble.AdvertisementData {
	fields := ParsePayload(raw.Payload)

	var data ble.AdvertisementData

	switch {
	case raw.LocalName != nil:
		data.LocalName = cloneString(raw.LocalName)
	case fields.CompleteName != nil:
		data.LocalName = cloneString(fields.CompleteName)
	case fields.ShortName != nil:
		data.LocalName = cloneString(fields.ShortName)
	}

	data.ManufacturerData = firstManufacturer(raw.Manufacturer, fields.Manufacturer)
	data.Services = orderedSet(raw.Services, fields.Services)
	data.SolicitedServices = orderedSet(raw.Solicited, fields.Solicited)
	data.ServiceData = mergeServiceData(raw.ServiceData, fields.ServiceData)

	switch {
	case raw.TxPower != nil:
		v := *raw.TxPower
		data.TxPowerLevel = &v
	case fields.TxPower != nil:
		v := *fields.TxPower
		data.TxPowerLevel = &v
	}

	data.IsConnectable = raw.Connectable != nil && *raw.Connectable
	return data
}

// ManufacturerFromBlob splits a company id (little-endian) from its payload.
func ManufacturerFromBlob(b []byte) (*ble.ManufacturerData, bool) {
	if len(b) < 2 {
		return nil, false
	}
	return &ble.ManufacturerData{
		CompanyID: binary.LittleEndian.Uint16(b[:2]),
		Data:      slices.Clone(b[2:]),
	}, true
}

func firstManufacturer(groups ...[][]byte) *ble.ManufacturerData {
	for _, blobs := range groups {
		for _, b := range blobs {
			if md, ok := ManufacturerFromBlob(b); ok {
				return md
			}
		}
	}
	return nil
}

func orderedSet(groups ...[]uuid.UUID) []uuid.UUID {
	set := orderedmap.New[uuid.UUID, struct{}]()
	for _, g := range groups {
		for _, u := range g {
			if _, present := set.Get(u); !present {
				set.Set(u, struct{}{})
			}
		}
	}
	if set.Len() == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, set.Len())
	for pair := set.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func mergeServiceData(groups ...[]native.ServiceDataEntry) map[uuid.UUID][]byte {
	var out map[uuid.UUID][]byte
	for _, g := range groups {
		for _, e := range g {
			if out == nil {
				out = make(map[uuid.UUID][]byte)
			}
			out[e.UUID] = slices.Clone(e.Data)
		}
	}
	return out
}

func cloneString(s *string) *string {
	v := *s
	return &v
}
