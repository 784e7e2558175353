package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/pkg/central"
)

type readOptions struct {
	service string
	desc    string
	hex     bool
	watch   string
}

func newReadCmd(g *globalOptions) *cobra.Command {
	o := &readOptions{}
	cmd := &cobra.Command{
		Use:   "read <device-id> <uuid[,uuid...]>",
		Short: "Read a characteristic or descriptor value",
		Long: `Reads data from BLE characteristic(s) or a descriptor.

Examples:
  # Read Battery Level
  blecentral read hr-1 2a19

  # Read several characteristics
  blecentral read hr-1 2a19,2a38 --hex

  # Read with service disambiguation
  blecentral read hr-1 2a19 --service 180f

  # Read the Client Characteristic Configuration descriptor
  blecentral read hr-1 2a37 --desc 2902 --hex

  # Poll every 500ms until Ctrl+C
  blecentral read hr-1 2a19 --watch 500ms`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, g, o, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.service, "service", "", "Service UUID (required if the characteristic UUID is ambiguous)")
	f.StringVar(&o.desc, "desc", "", "Descriptor UUID (reads the descriptor instead of the characteristic)")
	f.BoolVar(&o.hex, "hex", false, "Output as hex string (e.g., 'FF01'); raw bytes by default")
	f.StringVar(&o.watch, "watch", "", "Continuously read at interval (e.g., 1s, 500ms); default 1s if no value given")
	f.Lookup("watch").NoOptDefVal = "1s"
	return cmd
}

func runRead(cmd *cobra.Command, g *globalOptions, o *readOptions, id, uuids string) error {
	chars := splitCSV(uuids)
	if len(chars) == 0 {
		return errors.New("no UUID provided")
	}
	if len(chars) > 1 && (o.desc != "" || o.watch != "") {
		return errors.New("--desc and --watch require a single characteristic")
	}
	var interval time.Duration
	if o.watch != "" {
		var err error
		if interval, err = time.ParseDuration(o.watch); err != nil || interval <= 0 {
			return fmt.Errorf("invalid watch interval %q", o.watch)
		}
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

	out := cmd.OutOrStdout()
	if len(chars) > 1 {
		return s.readMany(out, d, o, chars)
	}

	ctx, cancel := s.requestContext()
	chr, desc, err := resolveTarget(ctx, d, target{service: o.service, characteristic: chars[0], descriptor: o.desc})
	cancel()
	if err != nil {
		return err
	}

	read := func() ([]byte, error) {
		ctx, cancel := s.requestContext()
		defer cancel()
		if desc != nil {
			return desc.Read(ctx)
		}
		return chr.Read(ctx)
	}

	if interval == 0 {
		data, err := read()
		if err != nil {
			return fmt.Errorf("read %s failed: %w", chr, err)
		}
		return writeValue(out, data, o.hex, true)
	}
	return s.watchValue(out, d, read, interval, o.hex)
}

func (s *session) readMany(out io.Writer, d *central.Device, o *readOptions, chars []string) error {
	for _, u := range chars {
		ctx, cancel := s.requestContext()
		chr, _, err := resolveTarget(ctx, d, target{service: o.service, characteristic: u})
		if err == nil {
			var data []byte
			if data, err = chr.Read(ctx); err == nil {
				fmt.Fprintf(out, "%s: ", chr)
				_ = writeValue(out, data, o.hex, true)
			}
		}
		cancel()
		if err != nil {
			// Keep reading the rest; report per characteristic.
			fmt.Fprintf(out, "%s: error: %v\n", u, err)
		}
	}
	return nil
}

// watchValue polls until interrupted or the device disconnects.
func (s *session) watchValue(out io.Writer, d *central.Device, read func() ([]byte, error), interval time.Duration, asHex bool) error {
	ctx, stop, err := s.watchLinkLoss(d)
	if err != nil {
		return err
	}
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		data, err := read()
		switch {
		case err == nil:
			fmt.Fprintf(out, "[%s] ", time.Now().Format("15:04:05.000"))
			_ = writeValue(out, data, asHex, true)
		case central.IsKind(err, central.NotConnected):
			return ErrConnectionLost
		default:
			s.logger.WithError(err).Warn("Read failed")
		}

		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); errors.Is(cause, ErrConnectionLost) {
				return ErrConnectionLost
			}
			return nil
		case <-ticker.C:
		}
	}
}

// writeValue prints data as upper-case hex or raw bytes.
func writeValue(w io.Writer, data []byte, asHex, newline bool) error {
	var err error
	if asHex {
		_, err = io.WriteString(w, strings.ToUpper(hex.EncodeToString(data)))
	} else {
		_, err = w.Write(data)
	}
	if err == nil && newline {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
