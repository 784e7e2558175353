package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/pkg/central"
)

type inspectOptions struct {
	format          string
	readLimit       int
	readDescriptors bool
}

func newInspectCmd(g *globalOptions) *cobra.Command {
	o := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <device-id>",
		Short: "Inspect services, characteristics, and descriptors of a BLE device",
		Long: `Connects to a BLE device and discovers its services, characteristics,
and descriptors. Readable characteristics are read; well-known UUIDs are
shown with their Bluetooth SIG names.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, g, o, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.format, "format", "f", "", "Output format (table, json)")
	f.IntVar(&o.readLimit, "read-limit", 64, "Max bytes shown per characteristic value (0 disables reads)")
	f.BoolVar(&o.readDescriptors, "descriptors", true, "Read descriptor values")
	return cmd
}

type inspectDescriptor struct {
	UUID  string `json:"uuid"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

type inspectCharacteristic struct {
	UUID        string              `json:"uuid"`
	Name        string              `json:"name,omitempty"`
	Properties  []string            `json:"properties"`
	Value       string              `json:"value,omitempty"`
	Text        string              `json:"text,omitempty"`
	Error       string              `json:"error,omitempty"`
	Descriptors []inspectDescriptor `json:"descriptors"`
}

type inspectService struct {
	UUID            string                  `json:"uuid"`
	Name            string                  `json:"name,omitempty"`
	Characteristics []inspectCharacteristic `json:"characteristics"`
}

type inspectReport struct {
	ID       string           `json:"id"`
	Name     string           `json:"name,omitempty"`
	MTU      int              `json:"mtu,omitempty"`
	Services []inspectService `json:"services"`
}

func runInspect(cmd *cobra.Command, g *globalOptions, o *inspectOptions, id string) error {
	if o.format != "" && o.format != formatTable && o.format != formatJSON {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", o.format)
	}

	s, err := g.newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	format := o.format
	if format == "" && s.cfg.OutputFormat == formatJSON {
		format = formatJSON
	}

	d, err := s.connect(id)
	if err != nil {
		return err
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Inspecting %s", id), "discovering", isTerminal(cmd))
	progress.Start()
	report, err := s.inspect(d, o)
	progress.Stop()
	if err != nil {
		return err
	}

	if format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func (s *session) inspect(d *central.Device, o *inspectOptions) (*inspectReport, error) {
	report := &inspectReport{ID: d.ID().String(), Name: d.Name(), Services: []inspectService{}}

	ctx, cancel := s.requestContext()
	mtu, err := d.MTU(ctx)
	cancel()
	if err == nil {
		report.MTU = mtu
	} else {
		s.logger.WithError(err).Debug("MTU unavailable")
	}

	ctx, cancel = s.requestContext()
	svcs, err := d.DiscoverServices(ctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("service discovery failed: %w", err)
	}

	for _, svc := range svcs {
		is := inspectService{
			UUID:            svc.String(),
			Name:            bledb.ServiceName(svc.UUID()),
			Characteristics: []inspectCharacteristic{},
		}
		ctx, cancel := s.requestContext()
		chars, err := svc.DiscoverCharacteristics(ctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("characteristic discovery failed in service %s: %w", svc, err)
		}
		for _, chr := range chars {
			is.Characteristics = append(is.Characteristics, s.inspectCharacteristic(chr, o))
		}
		report.Services = append(report.Services, is)
	}
	return report, nil
}

func (s *session) inspectCharacteristic(chr *central.Characteristic, o *inspectOptions) inspectCharacteristic {
	ic := inspectCharacteristic{
		UUID:        chr.String(),
		Name:        bledb.CharacteristicName(chr.UUID()),
		Properties:  chr.Properties().Flags(),
		Descriptors: []inspectDescriptor{},
	}

	if o.readLimit > 0 && chr.Properties().Has(central.PropRead) {
		ctx, cancel := s.requestContext()
		v, err := chr.Read(ctx)
		cancel()
		if err != nil {
			ic.Error = err.Error()
		} else {
			v = v[:min(len(v), o.readLimit)]
			ic.Value = hexBytes(v)
			ic.Text, _ = printable(v)
		}
	}

	ctx, cancel := s.requestContext()
	descs, err := chr.DiscoverDescriptors(ctx)
	cancel()
	if err != nil {
		s.logger.WithError(err).WithField("char_uuid", chr.String()).Debug("Descriptor discovery failed")
		return ic
	}
	for _, desc := range descs {
		id := inspectDescriptor{UUID: central.FormatUUID(desc.UUID()), Name: bledb.DescriptorName(desc.UUID())}
		if o.readDescriptors {
			ctx, cancel := s.requestContext()
			v, err := desc.Read(ctx)
			cancel()
			if err != nil {
				id.Error = err.Error()
			} else {
				id.Value = hexBytes(v)
			}
		}
		ic.Descriptors = append(ic.Descriptors, id)
	}
	return ic
}

func label(uuid, name string) string {
	if name == "" {
		return uuid
	}
	return fmt.Sprintf("%s (%s)", uuid, name)
}

func printReport(w io.Writer, r *inspectReport) {
	fmt.Fprintf(w, "Device %s", headerColor.Sprint(r.ID))
	if r.Name != "" {
		fmt.Fprintf(w, " %q", r.Name)
	}
	if r.MTU > 0 {
		fmt.Fprintf(w, "  MTU %d", r.MTU)
	}
	fmt.Fprintln(w)

	for _, svc := range r.Services {
		fmt.Fprintf(w, "\nService %s\n", nameColor.Sprint(label(svc.UUID, svc.Name)))
		for _, c := range svc.Characteristics {
			fmt.Fprintf(w, "  Characteristic %s  [%s]\n", label(c.UUID, c.Name), joinFlags(c.Properties))
			switch {
			case c.Error != "":
				fmt.Fprintf(w, "    Error: %s\n", c.Error)
			case c.Value != "" && c.Text != "":
				fmt.Fprintf(w, "    Value: %s  %s\n", valueColor.Sprint(c.Value), dimColor.Sprintf("%q", c.Text))
			case c.Value != "":
				fmt.Fprintf(w, "    Value: %s\n", valueColor.Sprint(c.Value))
			}
			for _, d := range c.Descriptors {
				fmt.Fprintf(w, "    Descriptor %s", label(d.UUID, d.Name))
				if d.Value != "" {
					fmt.Fprintf(w, " = %s", d.Value)
				}
				if d.Error != "" {
					fmt.Fprintf(w, " (error: %s)", d.Error)
				}
				fmt.Fprintln(w)
			}
		}
	}
}

func joinFlags(flags []string) string {
	if len(flags) == 0 {
		return "none"
	}
	return strings.Join(flags, ", ")
}
