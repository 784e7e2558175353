package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/ptyio"
	"github.com/srg/blecentral/internal/serial"
	"github.com/srg/blecentral/pkg/central"
)

type bridgeOptions struct {
	service      string
	tx           string
	rx           string
	symlink      string
	withResponse bool
	chunk        int
	chunkDelay   time.Duration
	bufferSize   int
}

func newBridgeCmd(g *globalOptions) *cobra.Command {
	o := &bridgeOptions{}
	cmd := &cobra.Command{
		Use:   "bridge <device-id>",
		Short: "Create a PTY bridge to a BLE serial device",
		Long: `Creates a bidirectional PTY (pseudoterminal) bridge to a BLE device,
allowing applications that expect a serial port to talk to it.

Data written to the PTY is sent to the device's RX characteristic and
notifications from its TX characteristic are written to the PTY. The Nordic
UART Service is used unless other UUIDs are given.

Examples:
  blecentral bridge uart-1
  blecentral bridge uart-1 --symlink /tmp/ble-uart
  screen /tmp/ble-uart 115200`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd, g, o, args[0])
		},
	}

	def := serial.DefaultOptions()
	f := cmd.Flags()
	f.StringVar(&o.service, "service", central.FormatUUID(def.ServiceUUID), "Serial service UUID")
	f.StringVar(&o.tx, "tx", central.FormatUUID(def.TxCharUUID), "TX characteristic UUID (device to host, notify)")
	f.StringVar(&o.rx, "rx", central.FormatUUID(def.RxCharUUID), "RX characteristic UUID (host to device, write)")
	f.StringVar(&o.symlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/ble-device)")
	f.BoolVar(&o.withResponse, "with-response", false, "Use acknowledged writes")
	f.IntVar(&o.chunk, "chunk", 0, "Write chunk size; default 0 derives it from the MTU")
	f.DurationVar(&o.chunkDelay, "chunk-delay", 0, "Delay between write chunks")
	f.IntVar(&o.bufferSize, "buffer", serial.DefaultBufferSize, "Receive buffer size in bytes")
	return cmd
}

func (o *bridgeOptions) serialOptions() (serial.Options, error) {
	uuids, err := parseUUIDList([]string{o.service, o.tx, o.rx})
	if err != nil {
		return serial.Options{}, err
	}
	return serial.Options{
		ServiceUUID:  uuids[0],
		TxCharUUID:   uuids[1],
		RxCharUUID:   uuids[2],
		BufferSize:   o.bufferSize,
		ChunkSize:    o.chunk,
		ChunkDelay:   o.chunkDelay,
		WithResponse: o.withResponse,
	}, nil
}

func runBridge(cmd *cobra.Command, g *globalOptions, o *bridgeOptions, id string) error {
	sopts, err := o.serialOptions()
	if err != nil {
		return fmt.Errorf("invalid UUID: %w", err)
	}

	s, err := g.newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := s.connect(id)
	if err != nil {
		return err
	}

	ctx, cancel := s.requestContext()
	port, err := serial.Open(ctx, d, sopts, s.logger)
	cancel()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	err = serial.Bridge(s.ctx, port, serial.BridgeOptions{
		SymlinkPath: o.symlink,
		PTY:         ptyio.Options{Logger: s.logger},
		OnReady: func(tty string) {
			fmt.Fprintf(out, "Bridging %s to %s (Ctrl+C to stop)\n", id, tty)
		},
	}, s.logger)
	if central.IsKind(err, central.NotConnected) {
		return ErrConnectionLost
	}
	if errors.Is(err, ptyio.ErrUnsupported) {
		return fmt.Errorf("bridge is not available on this platform: %w", err)
	}
	return err
}
