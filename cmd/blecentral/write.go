package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// attWriteOverhead is the opcode and handle of an ATT write.
const attWriteOverhead = 3

type writeOptions struct {
	service         string
	desc            string
	hex             bool
	withoutResponse bool
	chunk           int
}

func newWriteCmd(g *globalOptions) *cobra.Command {
	o := &writeOptions{}
	cmd := &cobra.Command{
		Use:   "write <device-id> <uuid> <data>",
		Short: "Write to a characteristic or descriptor",
		Long: `Writes data to a BLE characteristic or descriptor.

Examples:
  # Write a string
  blecentral write hr-1 2a06 "high"

  # Write hex data
  blecentral write hr-1 2a06 01 --hex

  # Enable notifications through the CCCD
  blecentral write hr-1 2a37 0100 --desc 2902 --hex

  # Write without response (no acknowledgement)
  blecentral write hr-1 6e400002-b5a3-f393-e0a9-e50e24dcca9e "data" --without-response`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, g, o, args[0], args[1], args[2])
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.service, "service", "", "Service UUID (required if the characteristic UUID is ambiguous)")
	f.StringVar(&o.desc, "desc", "", "Descriptor UUID (writes the descriptor instead of the characteristic)")
	f.BoolVar(&o.hex, "hex", false, "Parse input as hex string (e.g., 'FF01'); raw bytes by default")
	f.BoolVar(&o.withoutResponse, "without-response", false, "Write without response (faster, no ACK)")
	f.IntVar(&o.chunk, "chunk", 0, "Split writes into N-byte chunks; default 0 derives the size from the MTU")
	return cmd
}

// parseWriteData decodes hex input leniently: spaces, colons, dashes and 0x prefixes are ignored.
func parseWriteData(s string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(s), nil
	}
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(s)
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

func runWrite(cmd *cobra.Command, g *globalOptions, o *writeOptions, id, uuid, input string) error {
	data, err := parseWriteData(input, o.hex)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("no data to write")
	}
	if o.chunk < 0 {
		return fmt.Errorf("invalid chunk size %d", o.chunk)
	}
	if o.desc != "" && (o.withoutResponse || o.chunk > 0) {
		return fmt.Errorf("descriptor writes do not support --without-response or --chunk")
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
	chr, desc, err := resolveTarget(ctx, d, target{service: o.service, characteristic: uuid, descriptor: o.desc})
	cancel()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if desc != nil {
		ctx, cancel := s.requestContext()
		defer cancel()
		if err := desc.Write(ctx, data); err != nil {
			return fmt.Errorf("write descriptor %s failed: %w", descriptorLabel(desc.UUID()), err)
		}
		fmt.Fprintf(out, "Wrote %d bytes to descriptor %s\n", len(data), descriptorLabel(desc.UUID()))
		return nil
	}

	chunk := o.chunk
	if chunk == 0 {
		ctx, cancel := s.requestContext()
		if mtu, err := d.MTU(ctx); err == nil && mtu > attWriteOverhead {
			chunk = mtu - attWriteOverhead
		}
		cancel()
	}
	if chunk <= 0 || chunk > len(data) {
		chunk = len(data)
	}

	chunks := 0
	for off := 0; off < len(data); off += chunk {
		part := data[off:min(off+chunk, len(data))]
		ctx, cancel := s.requestContext()
		if o.withoutResponse {
			err = chr.WriteWithoutResponse(ctx, part)
		} else {
			err = chr.Write(ctx, part)
		}
		cancel()
		if err != nil {
			return fmt.Errorf("write %s failed after %d bytes: %w", characteristicLabel(chr.UUID()), off, err)
		}
		chunks++
	}

	if chunks > 1 {
		fmt.Fprintf(out, "Wrote %d bytes to %s in %d chunks\n", len(data), characteristicLabel(chr.UUID()), chunks)
	} else {
		fmt.Fprintf(out, "Wrote %d bytes to %s\n", len(data), characteristicLabel(chr.UUID()))
	}
	return nil
}
