package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blecentral/pkg/central"
)

type scanOptions struct {
	duration     time.Duration
	format       string
	services     []string
	allow        []string
	block        []string
	noDuplicates bool
	watch        bool
}

func newScanCmd(g *globalOptions) *cobra.Command {
	o := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Advertisements are collected for the scan duration and summarised per device:
name, signal strength, advertised services, and manufacturer data. With
--watch every sighting is printed as it arrives until the duration ends or
Ctrl+C is pressed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, g, o)
		},
	}

	f := cmd.Flags()
	f.DurationVarP(&o.duration, "duration", "d", 0, "Scan duration (default from config; 0 with --watch scans until interrupted)")
	f.StringVarP(&o.format, "format", "f", "", "Output format (table, json, csv)")
	f.StringSliceVarP(&o.services, "services", "s", nil, "Only report devices advertising any of these service UUIDs")
	f.StringSliceVar(&o.allow, "allow", nil, "Only show these device IDs")
	f.StringSliceVar(&o.block, "block", nil, "Hide these device IDs")
	f.BoolVar(&o.noDuplicates, "no-duplicates", true, "With --watch, print each device only once")
	f.BoolVarP(&o.watch, "watch", "w", false, "Print advertisements as they arrive")
	return cmd
}

// scanEntry aggregates the advertisements of one device.
type scanEntry struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	RSSI        *int16            `json:"rssi,omitempty"`
	Connectable bool              `json:"connectable"`
	Services    []string          `json:"services,omitempty"`
	Solicited   []string          `json:"solicited_services,omitempty"`
	ServiceData map[string]string `json:"service_data,omitempty"`
	Company     *uint16           `json:"company_id,omitempty"`
	Vendor      string            `json:"vendor,omitempty"`
	MfgData     string            `json:"manufacturer_data,omitempty"`
	TxPower     *int16            `json:"tx_power,omitempty"`
	Seen        int               `json:"seen"`
	LastSeen    time.Time         `json:"-"`
}

func (e *scanEntry) update(adv central.AdvertisingDevice) {
	data := adv.AdvertisementData
	e.Seen++
	e.LastSeen = time.Now()
	if name := data.Name(); name != "" {
		e.Name = name
	} else if e.Name == "" {
		e.Name = adv.Device.Name()
	}
	if adv.RSSI != nil {
		e.RSSI = adv.RSSI
	}
	e.Connectable = data.IsConnectable
	for _, s := range formatUUIDs(data.Services) {
		if !slices.Contains(e.Services, s) {
			e.Services = append(e.Services, s)
		}
	}
	for _, s := range formatUUIDs(data.SolicitedServices) {
		if !slices.Contains(e.Solicited, s) {
			e.Solicited = append(e.Solicited, s)
		}
	}
	for _, u := range data.ServiceDataUUIDs() {
		if e.ServiceData == nil {
			e.ServiceData = make(map[string]string)
		}
		e.ServiceData[central.FormatUUID(u)] = hexBytes(data.ServiceData[u])
	}
	if md := data.ManufacturerData; md != nil {
		id := md.CompanyID
		e.Company = &id
		e.Vendor = vendorLabel(id)
		e.MfgData = hexBytes(md.Data)
	}
	if data.TxPowerLevel != nil {
		e.TxPower = data.TxPowerLevel
	}
}

func (e *scanEntry) rssiText() string {
	if e.RSSI == nil {
		return "-"
	}
	return strconv.Itoa(int(*e.RSSI))
}

func runScan(cmd *cobra.Command, g *globalOptions, o *scanOptions) error {
	if o.format != "" {
		if err := validateFormat(o.format); err != nil {
			return err
		}
	}
	services, err := parseUUIDList(o.services)
	if err != nil {
		return fmt.Errorf("invalid service UUID: %w", err)
	}

	s, err := g.newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	format, err := pickFormat(o.format, s.cfg.OutputFormat)
	if err != nil {
		return err
	}

	duration := o.duration
	if duration == 0 && !o.watch {
		duration = s.cfg.ScanTimeout
	}
	ctx := s.ctx
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	ads, err := s.adapter.Scan(ctx, services...)
	if err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}
	defer ads.Close()

	var progress *ProgressPrinter
	if !o.watch {
		progress = NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "scanning", duration, isTerminal(cmd))
		progress.Start()
		defer progress.Stop()
	}

	out := cmd.OutOrStdout()
	entries := orderedmap.New[string, *scanEntry]()
	for adv, err := range ads.All(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("scan failed: %w", err)
		}
		id := adv.Device.ID().String()
		if !o.accepts(id) {
			continue
		}
		e, seen := entries.Get(id)
		if !seen {
			e = &scanEntry{ID: id}
			entries.Set(id, e)
		}
		e.update(adv)
		if o.watch && (!seen || !o.noDuplicates) {
			printSighting(out, e)
		}
	}
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.logger.Debug("Scan interrupted")
	}
	if progress != nil {
		progress.Stop()
	}
	if o.watch {
		return nil
	}

	list := make([]*scanEntry, 0, entries.Len())
	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, pair.Value)
	}
	sortEntries(list)
	return writeScanResults(out, format, list)
}

func (o *scanOptions) accepts(id string) bool {
	if len(o.allow) > 0 && !slices.ContainsFunc(o.allow, func(a string) bool { return strings.EqualFold(a, id) }) {
		return false
	}
	return !slices.ContainsFunc(o.block, func(b string) bool { return strings.EqualFold(b, id) })
}

// sortEntries orders by signal strength, strongest first; devices without RSSI go last.
func sortEntries(list []*scanEntry) {
	slices.SortStableFunc(list, func(a, b *scanEntry) int {
		switch {
		case a.RSSI != nil && b.RSSI == nil:
			return -1
		case a.RSSI == nil && b.RSSI != nil:
			return 1
		case a.RSSI != nil && *a.RSSI != *b.RSSI:
			return int(*b.RSSI) - int(*a.RSSI)
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func printSighting(w io.Writer, e *scanEntry) {
	name := e.Name
	if name == "" {
		name = "(unknown)"
	}
	line := fmt.Sprintf("%s  %s  %s dBm", e.ID, nameColor.Sprint(name), e.rssiText())
	if len(e.Services) > 0 {
		line += "  " + strings.Join(e.Services, ",")
	}
	fmt.Fprintln(w, line)
}

func writeScanResults(w io.Writer, format string, list []*scanEntry) error {
	switch format {
	case formatJSON:
		return writeJSON(w, list)
	case formatCSV:
		rows := make([][]string, 0, len(list))
		for _, e := range list {
			rows = append(rows, []string{
				e.ID, e.Name, e.rssiText(), strconv.FormatBool(e.Connectable),
				strings.Join(e.Services, " "), e.Vendor, e.MfgData,
			})
		}
		return writeCSV(w, []string{"id", "name", "rssi", "connectable", "services", "vendor", "manufacturer_data"}, rows)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No devices found")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headerColor.Sprint("ID\tNAME\tRSSI\tSERVICES\tMANUFACTURER"))
	for _, e := range list {
		mfg := "-"
		if e.Company != nil {
			mfg = strings.TrimSpace(e.Vendor + " " + e.MfgData)
		}
		services := "-"
		if len(e.Services) > 0 {
			services = strings.Join(e.Services, ",")
		}
		name := e.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, name, e.rssiText(), services, mfg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d device(s) found\n", len(list))
	return nil
}
