//go:build test

// Package mocks holds testify mocks of the go-ble interfaces used by the go-ble driver.
// Each mock embeds the interface it stands in for; calling a method that is not
// overridden here panics on the nil embedded value.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice is a mock of ble.Device.
type MockDevice struct {
	ble.Device
	mock.Mock
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	ret := m.Called(ctx, allowDup, h)
	return ret.Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	ret := m.Called(ctx, a)
	c, _ := ret.Get(0).(ble.Client)
	return c, ret.Error(1)
}

func (m *MockDevice) Stop() error {
	ret := m.Called()
	return ret.Error(0)
}

// MockClient is a mock of ble.Client.
type MockClient struct {
	ble.Client
	mock.Mock
}

func (m *MockClient) Name() string {
	return m.Called().String(0)
}

func (m *MockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	ret := m.Called(filter)
	s, _ := ret.Get(0).([]*ble.Service)
	return s, ret.Error(1)
}

func (m *MockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	ret := m.Called(filter, s)
	c, _ := ret.Get(0).([]*ble.Characteristic)
	return c, ret.Error(1)
}

func (m *MockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	ret := m.Called(filter, c)
	d, _ := ret.Get(0).([]*ble.Descriptor)
	return d, ret.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	ret := m.Called(c)
	b, _ := ret.Get(0).([]byte)
	return b, ret.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	ret := m.Called(d)
	b, _ := ret.Get(0).([]byte)
	return b, ret.Error(1)
}

func (m *MockClient) WriteDescriptor(d *ble.Descriptor, v []byte) error {
	return m.Called(d, v).Error(0)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *MockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *MockClient) Conn() ble.Conn {
	c, _ := m.Called().Get(0).(ble.Conn)
	return c
}

func (m *MockClient) Disconnected() <-chan struct{} {
	ch, _ := m.Called().Get(0).(<-chan struct{})
	return ch
}

// MockConn is a mock of ble.Conn.
type MockConn struct {
	ble.Conn
	mock.Mock
}

func (m *MockConn) TxMTU() int {
	return m.Called().Int(0)
}

// MockAdvertisement is a mock of ble.Advertisement.
type MockAdvertisement struct {
	ble.Advertisement
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string { return m.Called().String(0) }

func (m *MockAdvertisement) ManufacturerData() []byte {
	b, _ := m.Called().Get(0).([]byte)
	return b
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	sd, _ := m.Called().Get(0).([]ble.ServiceData)
	return sd
}

func (m *MockAdvertisement) Services() []ble.UUID {
	u, _ := m.Called().Get(0).([]ble.UUID)
	return u
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	u, _ := m.Called().Get(0).([]ble.UUID)
	return u
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	u, _ := m.Called().Get(0).([]ble.UUID)
	return u
}

func (m *MockAdvertisement) TxPowerLevel() int { return m.Called().Int(0) }
func (m *MockAdvertisement) Connectable() bool { return m.Called().Bool(0) }
func (m *MockAdvertisement) RSSI() int         { return m.Called().Int(0) }

func (m *MockAdvertisement) Addr() ble.Addr {
	a, _ := m.Called().Get(0).(ble.Addr)
	return a
}

// MockAddr is a mock of ble.Addr.
type MockAddr struct {
	mock.Mock
}

func (m *MockAddr) String() string { return m.Called().String(0) }
