package testutils

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/srg/blecentral/internal/native/sim"
)

// PeripheralBuilder assembles a simulated peripheral configuration.
//
//	p := testutils.NewPeripheralBuilder("hr-1").
//	    WithName("Polar H10").
//	    WithService("180d").
//	    WithCharacteristic("2a37", "notify", nil).
//	    WithDescriptor("2902", []byte{0, 0}).
//	    Advertise().WithServices("180d").Done()
type PeripheralBuilder struct {
	cfg sim.PeripheralConfig
}

func NewPeripheralBuilder(id string) *PeripheralBuilder {
	return &PeripheralBuilder{cfg: sim.PeripheralConfig{ID: id}}
}

// FromJSON replaces the configuration with the JSON form of sim.PeripheralConfig.
// Panics on invalid JSON as this is intended for test data setup.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...any) *PeripheralBuilder {
	var cfg sim.PeripheralConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &cfg); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if cfg.ID == "" {
		cfg.ID = b.cfg.ID
	}
	b.cfg = cfg
	return b
}

func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.cfg.Name = name
	return b
}

func (b *PeripheralBuilder) WithRSSI(rssi int16) *PeripheralBuilder {
	b.cfg.RSSI = rssi
	return b
}

func (b *PeripheralBuilder) WithMTU(mtu int) *PeripheralBuilder {
	b.cfg.MTU = mtu
	return b
}

// WithConnectError makes every connection attempt fail with msg.
func (b *PeripheralBuilder) WithConnectError(msg string) *PeripheralBuilder {
	b.cfg.ConnectError = msg
	return b
}

// WithService adds a primary service; following characteristics attach to it.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.cfg.Services = append(b.cfg.Services, sim.ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last service. properties uses "read,write,notify" syntax.
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.cfg.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	svc := &b.cfg.Services[len(b.cfg.Services)-1]
	svc.Characteristics = append(svc.Characteristics, sim.CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      encodeValue(value),
	})
	return b
}

// WithDescriptor adds a descriptor to the last characteristic.
func (b *PeripheralBuilder) WithDescriptor(uuid string, value []byte) *PeripheralBuilder {
	if len(b.cfg.Services) == 0 || len(b.cfg.Services[len(b.cfg.Services)-1].Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	chars := b.cfg.Services[len(b.cfg.Services)-1].Characteristics
	chr := &chars[len(chars)-1]
	chr.Descriptors = append(chr.Descriptors, sim.DescriptorConfig{UUID: uuid, Value: encodeValue(value)})
	return b
}

// Advertise configures the advertisement payload. Done returns to the peripheral.
func (b *PeripheralBuilder) Advertise() *AdvertisementBuilder {
	return &AdvertisementBuilder{parent: b, cfg: &b.cfg.Advertisement}
}

// Config returns the configuration built so far.
func (b *PeripheralBuilder) Config() sim.PeripheralConfig {
	return b.cfg
}

// Build creates the simulated peripheral.
func (b *PeripheralBuilder) Build() (*sim.Peripheral, error) {
	return b.cfg.Build()
}

func encodeValue(v []byte) string {
	if len(v) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(v)
}

// AdvertisementBuilder fills the advertisement of a PeripheralBuilder.
type AdvertisementBuilder struct {
	parent *PeripheralBuilder
	cfg    *sim.AdvertisementConfig
}

func (a *AdvertisementBuilder) WithLocalName(name string) *AdvertisementBuilder {
	a.cfg.LocalName = name
	return a
}

func (a *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	a.cfg.Services = append(a.cfg.Services, uuids...)
	return a
}

func (a *AdvertisementBuilder) WithSolicited(uuids ...string) *AdvertisementBuilder {
	a.cfg.Solicited = append(a.cfg.Solicited, uuids...)
	return a
}

func (a *AdvertisementBuilder) WithManufacturerData(companyID uint16, data []byte) *AdvertisementBuilder {
	a.cfg.CompanyID = &companyID
	a.cfg.Manufacturer = encodeValue(data)
	return a
}

func (a *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	if a.cfg.ServiceData == nil {
		a.cfg.ServiceData = make(map[string]string)
	}
	a.cfg.ServiceData[uuid] = encodeValue(data)
	return a
}

func (a *AdvertisementBuilder) WithTxPower(power int8) *AdvertisementBuilder {
	a.cfg.TxPower = &power
	return a
}

func (a *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	a.cfg.NotConnectable = !c
	return a
}

func (a *AdvertisementBuilder) Done() *PeripheralBuilder {
	return a.parent
}

// ProfileBuilder collects peripherals into a simulator profile.
type ProfileBuilder struct {
	peripherals []*PeripheralBuilder
	powered     *bool
}

func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{}
}

// WithPeripheral adds a peripheral and returns its builder.
func (p *ProfileBuilder) WithPeripheral(id string) *PeripheralBuilder {
	b := NewPeripheralBuilder(id)
	p.peripherals = append(p.peripherals, b)
	return b
}

// Add appends already configured peripherals.
func (p *ProfileBuilder) Add(bs ...*PeripheralBuilder) *ProfileBuilder {
	p.peripherals = append(p.peripherals, bs...)
	return p
}

// PoweredOff starts the simulator with the radio off.
func (p *ProfileBuilder) PoweredOff() *ProfileBuilder {
	off := false
	p.powered = &off
	return p
}

func (p *ProfileBuilder) Profile() *sim.Profile {
	out := &sim.Profile{Powered: p.powered}
	for _, b := range p.peripherals {
		out.Peripherals = append(out.Peripherals, b.Config())
	}
	return out
}
