package serial

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/backend"
	"github.com/srg/blecentral/internal/native/sim"
	"github.com/srg/blecentral/pkg/central"
)

const uartProfile = `
peripherals:
  - id: uart-1
    name: UART
    mtu: 50
    advertisement:
      local_name: UART
    services:
      - uuid: "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
        characteristics:
          - uuid: "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
            properties: notify
            descriptors:
              - uuid: "2902"
                value: "0x0000"
          - uuid: "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
            properties: write,write-without-response
  - id: plain-1
    advertisement:
      local_name: Plain
    services:
      - uuid: "180f"
        characteristics:
          - uuid: "2a19"
            properties: read
            value: "0x64"
`

type SerialTestSuite struct {
	suite.Suite
	stack   *sim.Stack
	adapter *central.Adapter
	device  *central.Device
}

func (suite *SerialTestSuite) SetupTest() {
	p, err := sim.ParseProfile([]byte(uartProfile))
	suite.Require().NoError(err)
	suite.stack, err = sim.NewFromProfile(p, sim.Options{}, nil)
	suite.Require().NoError(err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	core, err := backend.NewCore(context.Background(), suite.stack, backend.DefaultOptions(), logger)
	suite.Require().NoError(err)
	suite.adapter = central.New(core, logger)

	suite.device = suite.connect("uart-1")
}

func (suite *SerialTestSuite) TearDownTest() {
	suite.adapter.Close()
}

func (suite *SerialTestSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	suite.T().Cleanup(cancel)
	return ctx
}

func (suite *SerialTestSuite) connect(id central.DeviceID) *central.Device {
	d, err := suite.adapter.OpenDevice(id)
	suite.Require().NoError(err)
	suite.Require().NoError(d.Connect(suite.ctx()))
	return d
}

func (suite *SerialTestSuite) open(opts Options) *Port {
	port, err := Open(suite.ctx(), suite.device, opts, nil)
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { _ = port.Close() })
	return port
}

// readWithin reads once, failing the test if nothing arrives in time.
func (suite *SerialTestSuite) readWithin(port *Port, size int) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, size)
		n, err := port.Read(buf)
		ch <- result{buf[:n], err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-time.After(time.Second):
		suite.FailNow("Read MUST return in time")
		return nil, nil
	}
}

func (suite *SerialTestSuite) TestWriteChunksByMTU() {
	// GOAL: Verify writes are split to fit the negotiated MTU
	//
	// TEST SCENARIO: MTU 50 → chunk 47 → write 100 bytes → RX receives 47, 47, 6 without response
	port := suite.open(DefaultOptions())
	suite.Equal(47, port.ChunkSize())

	payload := bytes.Repeat([]byte{0xAB}, 100)
	n, err := port.Write(payload)
	suite.Require().NoError(err)
	suite.Equal(100, n)

	p, _ := suite.stack.Peripheral("uart-1")
	writes := p.Characteristic(RxCharUUID).Writes()
	suite.Require().Len(writes, 3)
	suite.Len(writes[0].Data, 47)
	suite.Len(writes[1].Data, 47)
	suite.Len(writes[2].Data, 6)
	for _, w := range writes {
		suite.False(w.WithResponse, "default writes MUST NOT request acknowledgements")
	}
}

func (suite *SerialTestSuite) TestWriteOptions() {
	// GOAL: Verify explicit chunk size and acknowledged writes are honoured
	//
	// TEST SCENARIO: ChunkSize 4, WithResponse → write 10 bytes → 4, 4, 2 with response
	opts := DefaultOptions()
	opts.ChunkSize = 4
	opts.WithResponse = true
	opts.ChunkDelay = time.Millisecond
	port := suite.open(opts)

	_, err := port.Write([]byte("0123456789"))
	suite.Require().NoError(err)

	p, _ := suite.stack.Peripheral("uart-1")
	writes := p.Characteristic(RxCharUUID).Writes()
	suite.Require().Len(writes, 3)
	suite.Equal([]byte("0123"), writes[0].Data)
	suite.Equal([]byte("89"), writes[2].Data)
	suite.True(writes[0].WithResponse)
}

func (suite *SerialTestSuite) TestReadReceivesNotifications() {
	// GOAL: Verify TX notifications are readable in order
	//
	// TEST SCENARIO: Peripheral notifies "hello" and " world" → Read returns the concatenated bytes
	port := suite.open(DefaultOptions())

	suite.Require().NoError(suite.stack.Notify("uart-1", TxCharUUID, []byte("hello")))
	suite.Require().NoError(suite.stack.Notify("uart-1", TxCharUUID, []byte(" world")))
	suite.stack.Flush()

	var got []byte
	for len(got) < len("hello world") {
		data, err := suite.readWithin(port, 64)
		suite.Require().NoError(err)
		got = append(got, data...)
	}
	suite.Equal("hello world", string(got))
}

func (suite *SerialTestSuite) TestReceiveOverflowDrops() {
	// GOAL: Verify a full receive buffer drops excess bytes and counts them
	//
	// TEST SCENARIO: 4-byte buffer → notify 6 bytes → Read gets 4 → 2 counted as dropped
	opts := DefaultOptions()
	opts.BufferSize = 4
	port := suite.open(opts)

	suite.Require().NoError(suite.stack.Notify("uart-1", TxCharUUID, []byte("abcdef")))
	data, err := suite.readWithin(port, 16)
	suite.Require().NoError(err)
	suite.Equal("abcd", string(data))
	suite.Eventually(func() bool { return port.Dropped() == 2 }, time.Second, 5*time.Millisecond,
		"overflow MUST be counted")
}

func (suite *SerialTestSuite) TestCloseEndsReads() {
	// GOAL: Verify Close unblocks readers with EOF and rejects further writes
	//
	// TEST SCENARIO: Blocked Read → Close → io.EOF → Write fails ErrClosed → TX unsubscribed
	port := suite.open(DefaultOptions())

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = port.Close()
	}()
	_, err := suite.readWithin(port, 8)
	suite.ErrorIs(err, io.EOF)

	_, err = port.Write([]byte("x"))
	suite.ErrorIs(err, ErrClosed)

	p, _ := suite.stack.Peripheral("uart-1")
	suite.False(p.Characteristic(TxCharUUID).Subscribed(), "Close MUST release the TX subscription")
	suite.True(suite.device.IsConnected(), "Close MUST NOT disconnect the device")
}

func (suite *SerialTestSuite) TestLinkLoss() {
	// GOAL: Verify link loss surfaces as NotConnected after buffered data
	//
	// TEST SCENARIO: Notify "ok" → drop connection → Read "ok" → Read fails NotConnected
	port := suite.open(DefaultOptions())

	suite.Require().NoError(suite.stack.Notify("uart-1", TxCharUUID, []byte("ok")))
	suite.stack.Flush()
	suite.Require().True(suite.stack.DropConnection("uart-1", nil))

	data, err := suite.readWithin(port, 8)
	suite.Require().NoError(err)
	suite.Equal("ok", string(data))

	_, err = suite.readWithin(port, 8)
	suite.True(central.IsKind(err, central.NotConnected), "link loss MUST read as NotConnected, got %v", err)
}

func (suite *SerialTestSuite) TestMissingService() {
	// GOAL: Verify devices without the UART service are rejected
	//
	// TEST SCENARIO: Open on plain-1 → NotFound
	plain := suite.connect("plain-1")
	_, err := Open(suite.ctx(), plain, DefaultOptions(), nil)
	suite.True(central.IsKind(err, central.NotFound), "missing service MUST be NotFound, got %v", err)
}

func TestSerialTestSuite(t *testing.T) {
	suite.Run(t, new(SerialTestSuite))
}
