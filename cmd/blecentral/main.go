package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Commands are constructed per call so
// flag state never leaks between executions.
func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "blecentral",
		Short: "Bluetooth Low Energy central CLI",
		Long: `Bluetooth Low Energy (BLE) central command-line tool:

- Scan for advertising peripherals
- Inspect GATT services, characteristics, and descriptors
- Read from and write to characteristics and descriptors
- Follow characteristic notifications
- Bridge a Nordic UART peripheral to a PTY for serial-like access

The same commands run on every backend: goble (CoreBluetooth/HCI),
tinygo (CoreBluetooth/BlueZ/WinRT) and sim (an in-memory simulator driven
by a YAML peripheral profile).`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&g.backend, "backend", "", "Backend driver (goble, tinygo, sim); empty selects the platform default")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&g.simProfile, "sim-profile", "", "Peripheral profile for the sim backend")

	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(
		newScanCmd(g),
		newInspectCmd(g),
		newReadCmd(g),
		newWriteCmd(g),
		newSubscribeCmd(g),
		newBridgeCmd(g),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
