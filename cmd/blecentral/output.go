package main

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/fatih/color"

	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/pkg/central"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatCSV   = "csv"
)

var outputFormats = []string{formatTable, formatJSON, formatCSV}

func validateFormat(f string) error {
	if !slices.Contains(outputFormats, f) {
		return fmt.Errorf("invalid format '%s': must be one of %v", f, outputFormats)
	}
	return nil
}

// pickFormat prefers the flag value and falls back to the configured format.
func pickFormat(flag, configured string) (string, error) {
	f := flag
	if f == "" {
		f = configured
	}
	if f == "" {
		f = formatTable
	}
	return f, validateFormat(f)
}

var (
	headerColor = color.New(color.Bold)
	nameColor   = color.New(color.FgCyan)
	valueColor  = color.New(color.FgGreen)
	dimColor    = color.New(color.Faint)
)

// hexBytes renders b as space-separated hex pairs.
func hexBytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	s := hex.EncodeToString(b)
	var sb strings.Builder
	for i := 0; i < len(s); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(s[i : i+2])
	}
	return sb.String()
}

// printable returns b as text when every byte is printable ASCII.
func printable(b []byte) (string, bool) {
	if len(b) == 0 {
		return "", false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return "", false
		}
	}
	return string(b), true
}

func withName(u central.UUID, name string) string {
	if name == "" {
		return central.FormatUUID(u)
	}
	return fmt.Sprintf("%s (%s)", central.FormatUUID(u), name)
}

func characteristicLabel(u central.UUID) string { return withName(u, bledb.CharacteristicName(u)) }
func descriptorLabel(u central.UUID) string     { return withName(u, bledb.DescriptorName(u)) }

func vendorLabel(id uint16) string {
	if name := bledb.LookupVendor(id); name != "" {
		return fmt.Sprintf("0x%04x (%s)", id, name)
	}
	return fmt.Sprintf("0x%04x", id)
}

func formatUUIDs(us []central.UUID) []string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = central.FormatUUID(u)
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}
