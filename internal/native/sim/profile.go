package sim

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/srg/blecentral/internal/advert"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/ble"
)

// Profile is a set of simulated peripherals, loadable from YAML.
type Profile struct {
	Powered     *bool              `yaml:"powered,omitempty" json:"powered,omitempty"`
	Peripherals []PeripheralConfig `yaml:"peripherals" json:"peripherals"`
}

// PeripheralConfig describes one simulated device.
type PeripheralConfig struct {
	ID            string              `yaml:"id" json:"id"`
	Name          string              `yaml:"name,omitempty" json:"name,omitempty"`
	RSSI          int16               `yaml:"rssi,omitempty" json:"rssi,omitempty"`
	MTU           int                 `yaml:"mtu,omitempty" json:"mtu,omitempty"`
	ConnectError  string              `yaml:"connect_error,omitempty" json:"connect_error,omitempty"`
	Advertisement AdvertisementConfig `yaml:"advertisement" json:"advertisement"`
	Services      []ServiceConfig     `yaml:"services,omitempty" json:"services,omitempty"`
}

// AdvertisementConfig is encoded into a raw AD payload when the peripheral advertises.
type AdvertisementConfig struct {
	LocalName      string            `yaml:"local_name,omitempty" json:"local_name,omitempty"`
	Services       []string          `yaml:"services,omitempty" json:"services,omitempty"`
	Solicited      []string          `yaml:"solicited,omitempty" json:"solicited,omitempty"`
	CompanyID      *uint16           `yaml:"company_id,omitempty" json:"company_id,omitempty"`
	Manufacturer   string            `yaml:"manufacturer_data,omitempty" json:"manufacturer_data,omitempty"`
	ServiceData    map[string]string `yaml:"service_data,omitempty" json:"service_data,omitempty"`
	TxPower        *int8             `yaml:"tx_power,omitempty" json:"tx_power,omitempty"`
	NotConnectable bool              `yaml:"not_connectable,omitempty" json:"not_connectable,omitempty"`
}

// ServiceConfig describes a primary service.
type ServiceConfig struct {
	UUID            string                 `yaml:"uuid" json:"uuid"`
	Characteristics []CharacteristicConfig `yaml:"characteristics,omitempty" json:"characteristics,omitempty"`
}

// CharacteristicConfig describes a characteristic. Properties uses "read,write,notify" syntax.
type CharacteristicConfig struct {
	UUID        string             `yaml:"uuid" json:"uuid"`
	Properties  string             `yaml:"properties,omitempty" json:"properties,omitempty"`
	Value       string             `yaml:"value,omitempty" json:"value,omitempty"`
	Descriptors []DescriptorConfig `yaml:"descriptors,omitempty" json:"descriptors,omitempty"`
}

// DescriptorConfig describes a descriptor.
type DescriptorConfig struct {
	UUID  string `yaml:"uuid" json:"uuid"`
	Value string `yaml:"value,omitempty" json:"value,omitempty"`
}

// LoadProfile reads a YAML profile file.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sim profile: %w", err)
	}
	return ParseProfile(raw)
}

// ParseProfile decodes a YAML (or JSON) profile.
func ParseProfile(raw []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse sim profile: %w", err)
	}
	return &p, nil
}

// DecodeValue accepts "0x0a0b" or "hex:0a0b" for bytes, anything else is taken literally.
func DecodeValue(s string) ([]byte, error) {
	switch {
	case strings.HasPrefix(s, "0x"):
		return hex.DecodeString(s[2:])
	case strings.HasPrefix(s, "hex:"):
		return hex.DecodeString(s[4:])
	default:
		return []byte(s), nil
	}
}

// Build turns the configuration into a live peripheral.
func (c PeripheralConfig) Build() (*Peripheral, error) {
	if c.ID == "" {
		return nil, fmt.Errorf("peripheral id is required")
	}

	p := &Peripheral{
		id:   c.ID,
		name: c.Name,
		rssi: c.RSSI,
		mtu:  c.MTU,
	}
	if p.mtu == 0 {
		p.mtu = 23
	}
	if c.ConnectError != "" {
		p.connectErr = fmt.Errorf("%s", c.ConnectError)
	}

	payload, err := c.Advertisement.payload()
	if err != nil {
		return nil, fmt.Errorf("peripheral %s: %w", c.ID, err)
	}
	p.payload = payload
	p.connectable = !c.Advertisement.NotConnectable

	for _, sc := range c.Services {
		su, err := ble.ParseUUID(sc.UUID)
		if err != nil {
			return nil, fmt.Errorf("peripheral %s: %w", c.ID, err)
		}
		svc := &Service{uuid: su}
		for _, cc := range sc.Characteristics {
			chr, err := cc.build()
			if err != nil {
				return nil, fmt.Errorf("peripheral %s service %s: %w", c.ID, sc.UUID, err)
			}
			svc.chars = append(svc.chars, chr)
		}
		p.services = append(p.services, svc)
	}
	return p, nil
}

func (c CharacteristicConfig) build() (*Characteristic, error) {
	u, err := ble.ParseUUID(c.UUID)
	if err != nil {
		return nil, err
	}
	props := ble.PropRead | ble.PropWrite | ble.PropNotify
	if c.Properties != "" {
		if props, err = ble.ParseProperties(c.Properties); err != nil {
			return nil, err
		}
	}
	val, err := DecodeValue(c.Value)
	if err != nil {
		return nil, fmt.Errorf("characteristic %s value: %w", c.UUID, err)
	}

	chr := &Characteristic{uuid: u, props: uint32(props), value: val}
	for _, dc := range c.Descriptors {
		du, err := ble.ParseUUID(dc.UUID)
		if err != nil {
			return nil, err
		}
		dv, err := DecodeValue(dc.Value)
		if err != nil {
			return nil, fmt.Errorf("descriptor %s value: %w", dc.UUID, err)
		}
		chr.descs = append(chr.descs, &Descriptor{uuid: du, value: dv})
	}
	return chr, nil
}

func (a AdvertisementConfig) payload() ([]byte, error) {
	p := advert.Packet(nil).AppendFlags(advert.FlagGeneralDiscoverable | advert.FlagLEOnly)
	if a.LocalName != "" {
		p = p.AppendCompleteName(a.LocalName)
	}
	if len(a.Services) > 0 {
		us, err := ble.ParseUUIDs(a.Services...)
		if err != nil {
			return nil, err
		}
		p = p.AppendServices(us...)
	}
	if len(a.Solicited) > 0 {
		us, err := ble.ParseUUIDs(a.Solicited...)
		if err != nil {
			return nil, err
		}
		p = p.AppendSolicited(us...)
	}
	if a.TxPower != nil {
		p = p.AppendTxPower(*a.TxPower)
	}
	for k, v := range a.ServiceData {
		u, err := ble.ParseUUID(k)
		if err != nil {
			return nil, err
		}
		d, err := DecodeValue(v)
		if err != nil {
			return nil, err
		}
		p = p.AppendServiceData(u, d)
	}
	if a.CompanyID != nil {
		d, err := DecodeValue(a.Manufacturer)
		if err != nil {
			return nil, err
		}
		p = p.AppendManufacturerData(*a.CompanyID, d)
	}
	return p, nil
}

// raw builds the record a real driver would hand over for one received packet.
func (p *Peripheral) raw() native.RawAdvertisement {
	p.mu.Lock()
	defer p.mu.Unlock()

	connectable := p.connectable
	rssi := p.rssi
	return native.RawAdvertisement{
		PeerID:      p.id,
		Name:        p.name,
		RSSI:        &rssi,
		Payload:     append([]byte(nil), p.payload...),
		Connectable: &connectable,
	}
}
