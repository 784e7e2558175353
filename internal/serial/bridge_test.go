//go:build darwin || linux

package serial

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/srg/blecentral/internal/ptyio"
	"github.com/srg/blecentral/pkg/central"
)

type bridgeRun struct {
	tty  *os.File
	done chan error
}

func (suite *SerialTestSuite) startBridge(ctx context.Context, opts BridgeOptions) *bridgeRun {
	port := suite.open(DefaultOptions())
	ready := make(chan string, 1)
	opts.OnReady = func(tty string) { ready <- tty }

	run := &bridgeRun{done: make(chan error, 1)}
	go func() { run.done <- Bridge(ctx, port, opts, nil) }()

	var path string
	select {
	case path = <-ready:
	case err := <-run.done:
		suite.T().Skipf("PTY unavailable: %v", err)
	case <-time.After(2 * time.Second):
		suite.FailNow("bridge MUST become ready")
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		suite.T().Skipf("cannot open %s: %v", path, err)
	}
	suite.T().Cleanup(func() { _ = f.Close() })
	run.tty = f
	return run
}

func (suite *SerialTestSuite) readTTY(f *os.File, want int) string {
	got := make(chan string, 1)
	go func() {
		var out []byte
		buf := make([]byte, 64)
		for len(out) < want {
			n, err := f.Read(buf)
			if err != nil {
				break
			}
			out = append(out, buf[:n]...)
		}
		got <- string(out)
	}()
	select {
	case s := <-got:
		return s
	case <-time.After(2 * time.Second):
		suite.FailNow("tty MUST receive device data")
		return ""
	}
}

func (suite *SerialTestSuite) TestBridgeCopiesBothWays() {
	// GOAL: Verify the bridge relays tty input to RX and TX notifications to the tty
	//
	// TEST SCENARIO: tty writes "AT" → RX receives "AT" → TX notifies "OK" → tty reads "OK" → cancel → nil
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	link := filepath.Join(suite.T().TempDir(), "ble-uart")
	run := suite.startBridge(ctx, BridgeOptions{SymlinkPath: link, PTY: ptyOptions()})

	target, err := os.Readlink(link)
	suite.Require().NoError(err, "symlink MUST exist while the bridge runs")
	suite.NotEmpty(target)

	_, err = run.tty.Write([]byte("AT"))
	suite.Require().NoError(err)
	p, _ := suite.stack.Peripheral("uart-1")
	suite.Eventually(func() bool {
		var got []byte
		for _, w := range p.Characteristic(RxCharUUID).Writes() {
			got = append(got, w.Data...)
		}
		return string(got) == "AT"
	}, 2*time.Second, 10*time.Millisecond, "tty input MUST reach the RX characteristic")

	suite.Require().NoError(suite.stack.Notify("uart-1", TxCharUUID, []byte("OK")))
	suite.Equal("OK", suite.readTTY(run.tty, 2))

	cancel()
	select {
	case err := <-run.done:
		suite.NoError(err, "cancellation MUST end the bridge cleanly")
	case <-time.After(3 * time.Second):
		suite.FailNow("bridge MUST stop on cancellation")
	}
	_, err = os.Lstat(link)
	suite.True(os.IsNotExist(err), "symlink MUST be removed on exit")
}

func (suite *SerialTestSuite) TestBridgeEndsOnLinkLoss() {
	// GOAL: Verify link loss ends the bridge with NotConnected
	//
	// TEST SCENARIO: Bridge running → drop connection → Bridge returns NotConnected
	run := suite.startBridge(context.Background(), BridgeOptions{PTY: ptyOptions()})

	suite.Require().True(suite.stack.DropConnection("uart-1", nil))
	select {
	case err := <-run.done:
		suite.True(central.IsKind(err, central.NotConnected), "link loss MUST surface as NotConnected, got %v", err)
	case <-time.After(3 * time.Second):
		suite.FailNow("bridge MUST stop on link loss")
	}
}

func ptyOptions() ptyio.Options {
	return ptyio.Options{PollTimeout: 10 * time.Millisecond}
}
