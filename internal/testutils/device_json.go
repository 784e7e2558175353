package testutils

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/srg/blecentral/pkg/central"
)

type DeviceJSON struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Connected bool          `json:"connected"`
	Services  []ServiceJSON `json:"services"`
}

type ServiceJSON struct {
	UUID            string               `json:"uuid"`
	Characteristics []CharacteristicJSON `json:"characteristics"`
}

type CharacteristicJSON struct {
	UUID        string           `json:"uuid"`
	Properties  string           `json:"properties"`
	Value       string           `json:"value,omitempty"`
	Descriptors []DescriptorJSON `json:"descriptors"`
}

type DescriptorJSON struct {
	UUID  string `json:"uuid"`
	Value string `json:"value,omitempty"`
}

// DeviceToJSON walks the GATT database of a connected device and reads every
// readable characteristic and descriptor. Errors leave the affected parts empty.
func DeviceToJSON(ctx context.Context, d *central.Device) string {
	out := DeviceJSON{
		ID:        d.ID().String(),
		Name:      d.Name(),
		Connected: d.IsConnected(),
		Services:  []ServiceJSON{},
	}

	svcs, _ := d.DiscoverServices(ctx)
	for _, svc := range svcs {
		sj := ServiceJSON{UUID: svc.String(), Characteristics: []CharacteristicJSON{}}
		chars, _ := svc.DiscoverCharacteristics(ctx)
		for _, chr := range chars {
			cj := CharacteristicJSON{
				UUID:        chr.String(),
				Properties:  strings.Join(chr.Properties().Flags(), ","),
				Descriptors: []DescriptorJSON{},
			}
			if chr.Properties().Has(central.PropRead) {
				if v, err := chr.Read(ctx); err == nil {
					cj.Value = hex.EncodeToString(v)
				}
			}
			descs, _ := chr.DiscoverDescriptors(ctx)
			for _, desc := range descs {
				dj := DescriptorJSON{UUID: central.FormatUUID(desc.UUID())}
				if v, err := desc.Read(ctx); err == nil {
					dj.Value = hex.EncodeToString(v)
				}
				cj.Descriptors = append(cj.Descriptors, dj)
			}
			sj.Characteristics = append(sj.Characteristics, cj)
		}
		out.Services = append(out.Services, sj)
	}

	data, err := json.Marshal(out)
	if err != nil {
		panic(err)
	}
	return string(data)
}
