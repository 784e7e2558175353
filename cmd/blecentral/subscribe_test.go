package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/native/sim"
	"github.com/srg/blecentral/pkg/central"
)

var (
	heartRateUUID = central.UUID16(0x2a37)
	batteryUUID   = central.UUID16(0x2a19)
)

type SubscribeCommandSuite struct {
	CommandTestSuite
}

func (suite *SubscribeCommandSuite) peripheral() *sim.Peripheral {
	p, ok := suite.Stack.Peripheral("hr-1")
	suite.Require().True(ok)
	return p
}

// awaitSubscribed waits until the command has enabled notifications on every uuid.
func (suite *SubscribeCommandSuite) awaitSubscribed(uuids ...central.UUID) {
	p := suite.peripheral()
	suite.Require().Eventually(func() bool {
		for _, u := range uuids {
			if !p.Characteristic(u).Subscribed() {
				return false
			}
		}
		return true
	}, suite.Timeout, 5*time.Millisecond, "command MUST subscribe")
}

func (suite *SubscribeCommandSuite) notify(u central.UUID, data ...byte) {
	suite.Require().NoError(suite.Stack.Notify("hr-1", u, data))
	suite.Stack.Flush()
}

func (suite *SubscribeCommandSuite) TestLiveCount() {
	// GOAL: Verify live mode prints every notification and --count ends the command
	//
	// TEST SCENARIO: Subscribe with --count 3, send three notifications → three hex lines, clean exit

	out, done := suite.StartCommand(context.Background(), "subscribe", "hr-1", "2a37", "--hex", "--count", "3")
	suite.awaitSubscribed(heartRateUUID)

	suite.notify(heartRateUUID, 0x00, 0x48)
	suite.notify(heartRateUUID, 0x00, 0x49)
	suite.notify(heartRateUUID, 0x00, 0x4a)

	suite.Require().NoError(suite.Await(done), "subscribe MUST end after --count notifications")
	suite.Equal("0048\n0049\n004A\n", out.String())
}

func (suite *SubscribeCommandSuite) TestMultipleCharacteristicsArePrefixed() {
	out, done := suite.StartCommand(context.Background(), "subscribe", "hr-1", "2a37,2a19", "--hex", "--count", "2")
	suite.awaitSubscribed(heartRateUUID, batteryUUID)

	// Each characteristic has its own pump; wait so the order is deterministic.
	suite.notify(heartRateUUID, 0x00, 0x50)
	suite.Eventually(func() bool { return strings.Contains(out.String(), "2a37: 0050") },
		suite.Timeout, 5*time.Millisecond)
	suite.notify(batteryUUID, 0x59)

	suite.Require().NoError(suite.Await(done))
	suite.Equal("2a37: 0050\n2a19: 59\n", out.String())
}

func (suite *SubscribeCommandSuite) TestLatestModeKeepsNewest() {
	// GOAL: Verify latest mode only prints the newest value per interval
	//
	// TEST SCENARIO: Three notifications inside one long interval, then cancel → only the last is flushed

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, done := suite.StartCommand(ctx, "subscribe", "hr-1", "2a37", "--hex", "--mode", "latest", "--rate", "1h")
	suite.awaitSubscribed(heartRateUUID)

	suite.notify(heartRateUUID, 0x01)
	suite.notify(heartRateUUID, 0x02)
	suite.notify(heartRateUUID, 0x03)
	// Notifications reach the printer asynchronously.
	time.Sleep(50 * time.Millisecond)
	suite.Empty(out.String(), "nothing MUST be printed before the interval ends")

	cancel()
	suite.Require().NoError(suite.Await(done), "cancel MUST end the command cleanly")
	suite.Equal("03\n", out.String(), "only the latest value MUST be flushed")
}

func (suite *SubscribeCommandSuite) TestBatchedModeFlushesAll() {
	out, done := suite.StartCommand(context.Background(), "subscribe", "hr-1", "2a37", "--hex", "--mode", "batched", "--rate", "1h", "--count", "2")
	suite.awaitSubscribed(heartRateUUID)

	suite.notify(heartRateUUID, 0x0a)
	suite.notify(heartRateUUID, 0x0b)

	suite.Require().NoError(suite.Await(done))
	suite.Equal("0A\n0B\n", out.String(), "batched mode MUST flush every value in order")
}

func (suite *SubscribeCommandSuite) TestLinkLoss() {
	// GOAL: Verify a peripheral-initiated disconnect ends the subscription with ErrConnectionLost
	//
	// TEST SCENARIO: Subscribe, drop the link → ErrConnectionLost

	_, done := suite.StartCommand(context.Background(), "subscribe", "hr-1", "2a37")
	suite.awaitSubscribed(heartRateUUID)

	suite.True(suite.Stack.DropConnection("hr-1", nil), "link MUST be up")
	suite.ErrorIs(suite.Await(done), ErrConnectionLost)
}

func (suite *SubscribeCommandSuite) TestDurationEndsCommand() {
	out, done := suite.StartCommand(context.Background(), "subscribe", "hr-1", "2a37", "--duration", "100ms")
	suite.NoError(suite.Await(done), "--duration MUST end the command cleanly")
	suite.Empty(strings.TrimSpace(out.String()))
}

func (suite *SubscribeCommandSuite) TestSubscribeNotSupported() {
	_, err := suite.ExecuteCommand("subscribe", "hr-1", "2a38")
	suite.Require().Error(err, "subscribing a read-only characteristic MUST fail")
	suite.True(central.IsKind(err, central.NotSupported), "error MUST be NotSupported, got %v", err)
}

func (suite *SubscribeCommandSuite) TestInvalidMode() {
	_, err := suite.ExecuteCommand("subscribe", "hr-1", "2a37", "--mode", "sometimes")
	suite.Require().Error(err)
	suite.Contains(err.Error(), "invalid mode")
}

func TestSubscribeCommandSuite(t *testing.T) {
	suite.Run(t, new(SubscribeCommandSuite))
}
