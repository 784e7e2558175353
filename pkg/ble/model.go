package ble

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// DeviceID identifies a peer as seen by one backend. It is opaque and not portable across backends.
type DeviceID string

func (id DeviceID) String() string { return string(id) }

// ManufacturerData is the first manufacturer-specific block of an advertisement.
type ManufacturerData struct {
	CompanyID uint16 `json:"company_id"`
	Data      []byte `json:"data"`
}

// AdvertisementData is the normalized content of one advertisement packet.
// Absent fields stay nil or empty.
type AdvertisementData struct {
	LocalName         *string          `json:"local_name,omitempty"`
	ManufacturerData  *ManufacturerData `json:"manufacturer_data,omitempty"`
	Services          []UUID           `json:"services,omitempty"`
	SolicitedServices []UUID           `json:"solicited_services,omitempty"`
	ServiceData       map[UUID][]byte  `json:"service_data,omitempty"`
	TxPowerLevel      *int16           `json:"tx_power_level,omitempty"`
	IsConnectable     bool             `json:"is_connectable"`
}

// Name returns the local name or "" when none was advertised.
func (a AdvertisementData) Name() string {
	if a.LocalName == nil {
		return ""
	}
	return *a.LocalName
}

// HasService reports whether u is among the advertised services.
func (a AdvertisementData) HasService(u UUID) bool {
	return slices.Contains(a.Services, u)
}

// Clone returns a deep copy so snapshots never share buffers.
func (a AdvertisementData) Clone() AdvertisementData {
	out := a
	if a.LocalName != nil {
		n := *a.LocalName
		out.LocalName = &n
	}
	if a.ManufacturerData != nil {
		out.ManufacturerData = &ManufacturerData{
			CompanyID: a.ManufacturerData.CompanyID,
			Data:      slices.Clone(a.ManufacturerData.Data),
		}
	}
	if a.TxPowerLevel != nil {
		p := *a.TxPowerLevel
		out.TxPowerLevel = &p
	}
	out.Services = slices.Clone(a.Services)
	out.SolicitedServices = slices.Clone(a.SolicitedServices)
	if a.ServiceData != nil {
		out.ServiceData = make(map[UUID][]byte, len(a.ServiceData))
		for k, v := range a.ServiceData {
			out.ServiceData[k] = slices.Clone(v)
		}
	}
	return out
}

// ServiceDataUUIDs returns the service data keys in a stable order.
func (a AdvertisementData) ServiceDataUUIDs() []UUID {
	keys := slices.Collect(maps.Keys(a.ServiceData))
	slices.SortFunc(keys, func(x, y UUID) int { return strings.Compare(x.String(), y.String()) })
	return keys
}

// AdapterEvent reports radio availability changes.
type AdapterEvent int

const (
	Unavailable AdapterEvent = iota
	Available
)

func (e AdapterEvent) String() string {
	if e == Available {
		return "available"
	}
	return "unavailable"
}

// WriteMode selects acknowledged or unacknowledged writes.
type WriteMode int

const (
	WithResponse WriteMode = iota
	WithoutResponse
)

func (m WriteMode) String() string {
	if m == WithoutResponse {
		return "without-response"
	}
	return "with-response"
}

// ConnectionEvent is published whenever a device connects or disconnects.
type ConnectionEvent struct {
	Device    DeviceID
	Connected bool
	Err       error
}

func (e ConnectionEvent) String() string {
	state := "disconnected"
	if e.Connected {
		state = "connected"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Device, state, e.Err)
	}
	return fmt.Sprintf("%s %s", e.Device, state)
}
