package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/native/sim"
	"github.com/srg/blecentral/pkg/central"
)

type WriteCommandSuite struct {
	CommandTestSuite
}

func (suite *WriteCommandSuite) lampWrites() []sim.WriteRecord {
	p, ok := suite.Stack.Peripheral("lamp-1")
	suite.Require().True(ok)
	return p.Characteristic(central.UUID16(0xfff1)).Writes()
}

func (suite *WriteCommandSuite) TestWriteString() {
	// GOAL: Verify a string argument is written as-is with response
	//
	// TEST SCENARIO: Write "off" to the lamp → one acknowledged write with the bytes

	out, err := suite.ExecuteCommand("write", "lamp-1", "fff1", "off")
	suite.Require().NoError(err, "write MUST succeed")
	suite.Equal("Wrote 3 bytes to fff1\n", out)

	writes := suite.lampWrites()
	suite.Require().Len(writes, 1)
	suite.Equal([]byte("off"), writes[0].Data)
	suite.True(writes[0].WithResponse, "default write MUST request a response")
}

func (suite *WriteCommandSuite) TestWriteHexWithoutResponse() {
	out, err := suite.ExecuteCommand("write", "lamp-1", "fff1", "0x01:02", "--hex", "--without-response")
	suite.Require().NoError(err, "write MUST succeed")
	suite.Contains(out, "Wrote 2 bytes")

	writes := suite.lampWrites()
	suite.Require().Len(writes, 1)
	suite.Equal([]byte{0x01, 0x02}, writes[0].Data)
	suite.False(writes[0].WithResponse, "--without-response MUST skip the acknowledgement")
}

func (suite *WriteCommandSuite) TestWriteChunked() {
	// GOAL: Verify --chunk splits the payload into ordered writes
	//
	// TEST SCENARIO: Write 10 bytes with --chunk 4 → writes of 4, 4 and 2 bytes

	out, err := suite.ExecuteCommand("write", "lamp-1", "fff1", "0123456789", "--chunk", "4")
	suite.Require().NoError(err, "write MUST succeed")
	suite.Equal("Wrote 10 bytes to fff1 in 3 chunks\n", out)

	writes := suite.lampWrites()
	suite.Require().Len(writes, 3)
	suite.Equal("0123", string(writes[0].Data))
	suite.Equal("4567", string(writes[1].Data))
	suite.Equal("89", string(writes[2].Data))
}

func (suite *WriteCommandSuite) TestWriteSplitsByMTU() {
	// GOAL: Verify payloads longer than the ATT limit are split by MTU
	//
	// TEST SCENARIO: Write 30 bytes at the default MTU of 23 → chunks of 20 and 10 bytes

	payload := strings.Repeat("x", 30)
	out, err := suite.ExecuteCommand("write", "lamp-1", "fff1", payload)
	suite.Require().NoError(err, "write MUST succeed")
	suite.Contains(out, "in 2 chunks")

	writes := suite.lampWrites()
	suite.Require().Len(writes, 2)
	suite.Len(writes[0].Data, 20)
	suite.Len(writes[1].Data, 10)
}

func (suite *WriteCommandSuite) TestWriteDescriptor() {
	out, err := suite.ExecuteCommand("write", "lamp-1", "fff1", "Light", "--desc", "2901")
	suite.Require().NoError(err, "descriptor write MUST succeed")
	suite.Equal("Wrote 5 bytes to descriptor 2901 (Characteristic User Descriptor)\n", out)

	p, ok := suite.Stack.Peripheral("lamp-1")
	suite.Require().True(ok)
	descs := p.Characteristic(central.UUID16(0xfff1)).Descriptors()
	suite.Require().Len(descs, 1)
	suite.Equal([]byte("Light"), descs[0].Value())
}

func (suite *WriteCommandSuite) TestWriteNotSupported() {
	// GOAL: Verify writing a read-only characteristic fails with WriteNotSupported
	//
	// TEST SCENARIO: Write to the body sensor location → WriteNotSupported

	_, err := suite.ExecuteCommand("write", "hr-1", "2a38", "02", "--hex")
	suite.Require().Error(err, "write MUST fail")
	suite.True(central.IsKind(err, central.WriteNotSupported), "error MUST be WriteNotSupported, got %v", err)
}

func (suite *WriteCommandSuite) TestArgumentValidation() {
	_, err := suite.ExecuteCommand("write", "lamp-1", "fff1", "zz", "--hex")
	suite.Require().Error(err)
	suite.Contains(err.Error(), "invalid hex data")

	_, err = suite.ExecuteCommand("write", "lamp-1", "fff1", "on", "--desc", "2901", "--without-response")
	suite.Require().Error(err)
	suite.Contains(err.Error(), "descriptor writes do not support")

	suite.Empty(suite.lampWrites(), "rejected commands MUST NOT write")
}

func TestWriteCommandSuite(t *testing.T) {
	suite.Run(t, new(WriteCommandSuite))
}

func TestParseWriteData(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		hex     bool
		want    []byte
		wantErr bool
	}{
		{name: "raw", input: "hi", want: []byte("hi")},
		{name: "plain hex", input: "ff01", hex: true, want: []byte{0xff, 0x01}},
		{name: "separators", input: "0xFF 01-02:03", hex: true, want: []byte{0xff, 0x01, 0x02, 0x03}},
		{name: "odd length", input: "abc", hex: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWriteData(tt.input, tt.hex)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
