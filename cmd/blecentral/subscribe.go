package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blecentral/pkg/central"
	"github.com/srg/blecentral/pkg/stream"
)

type streamMode int

const (
	streamLive streamMode = iota
	streamBatched
	streamLatest
)

func parseStreamMode(mode string) (streamMode, error) {
	switch strings.ToLower(mode) {
	case "live", "every":
		return streamLive, nil
	case "batched", "batch":
		return streamBatched, nil
	case "latest":
		return streamLatest, nil
	default:
		return 0, fmt.Errorf("invalid mode %q: use live, batched, or latest", mode)
	}
}

type subscribeOptions struct {
	service  string
	hex      bool
	mode     string
	rate     time.Duration
	count    int
	duration time.Duration
}

func newSubscribeCmd(g *globalOptions) *cobra.Command {
	o := &subscribeOptions{}
	cmd := &cobra.Command{
		Use:   "subscribe <device-id> <uuid[,uuid...]>",
		Short: "Subscribe to characteristic notifications",
		Long: `Subscribes to BLE characteristic notifications or indications and prints
received values until Ctrl+C, --count, or --duration ends the session.

Stream modes:
  live     - Output every notification immediately (default)
  batched  - Collect notifications, output them every --rate interval
  latest   - Keep only the latest value per characteristic, output every --rate interval

Examples:
  blecentral subscribe hr-1 2a37 --hex
  blecentral subscribe hr-1 2a37,2a19 --mode latest --rate 1s
  blecentral subscribe hr-1 2a37 --count 10`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, g, o, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.service, "service", "", "Service UUID (required if a characteristic UUID is ambiguous)")
	f.BoolVar(&o.hex, "hex", false, "Output as hex string; raw bytes by default")
	f.StringVar(&o.mode, "mode", "live", "Stream mode: live, batched, or latest")
	f.DurationVar(&o.rate, "rate", time.Second, "Output interval for batched/latest modes")
	f.IntVar(&o.count, "count", 0, "Exit after N notifications (0 for unlimited)")
	f.DurationVar(&o.duration, "duration", 0, "Exit after this long (0 for unlimited)")
	return cmd
}

type notification struct {
	uuid string
	data []byte
	err  error
}

func runSubscribe(cmd *cobra.Command, g *globalOptions, o *subscribeOptions, id, uuids string) error {
	mode, err := parseStreamMode(o.mode)
	if err != nil {
		return err
	}
	if mode != streamLive && o.rate <= 0 {
		return fmt.Errorf("--rate must be positive in %s mode", o.mode)
	}
	chars := splitCSV(uuids)
	if len(chars) == 0 {
		return errors.New("no UUID provided")
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

	ctx := s.ctx
	if o.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var order []string
	ch := make(chan notification)
	var wg sync.WaitGroup
	// Pumps are stopped before their streams are torn down with the session.
	defer wg.Wait()
	defer cancel()

	for _, u := range chars {
		rctx, rcancel := s.requestContext()
		chr, _, err := resolveTarget(rctx, d, target{service: o.service, characteristic: u})
		if err == nil {
			var values *stream.Stream[[]byte]
			values, err = chr.Subscribe(rctx)
			if err == nil {
				name := chr.String()
				order = append(order, name)
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer values.Close()
					pump(ctx, name, values, ch)
				}()
			}
		}
		rcancel()
		if err != nil {
			return fmt.Errorf("subscribe %s failed: %w", u, err)
		}
	}
	s.logger.WithField("characteristics", order).Info("Subscribed")

	p := &printer{out: cmd.OutOrStdout(), hex: o.hex, prefix: len(order) > 1}
	return p.run(ctx, mode, o, order, ch)
}

// pump forwards one subscription into ch until it ends.
func pump(ctx context.Context, name string, values *stream.Stream[[]byte], ch chan<- notification) {
	for {
		data, err := values.Next(ctx)
		if err != nil && ctx.Err() != nil {
			return
		}
		select {
		case ch <- notification{uuid: name, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

type printer struct {
	out    io.Writer
	hex    bool
	prefix bool
}

func (p *printer) print(n notification) {
	if p.prefix {
		fmt.Fprintf(p.out, "%s: ", n.uuid)
	}
	_ = writeValue(p.out, n.data, p.hex, true)
}

func (p *printer) run(ctx context.Context, mode streamMode, o *subscribeOptions, order []string, ch <-chan notification) error {
	var tick <-chan time.Time
	if mode != streamLive {
		ticker := time.NewTicker(o.rate)
		defer ticker.Stop()
		tick = ticker.C
	}

	var batch []notification
	latest := make(map[string]notification)
	flush := func() {
		switch mode {
		case streamBatched:
			for _, n := range batch {
				p.print(n)
			}
			batch = batch[:0]
		case streamLatest:
			for _, u := range order {
				if n, ok := latest[u]; ok {
					p.print(n)
				}
			}
			clear(latest)
		}
	}

	received := 0
	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case <-tick:
			flush()
		case n := <-ch:
			if n.err != nil {
				flush()
				if central.IsKind(n.err, central.NotConnected) {
					return ErrConnectionLost
				}
				return fmt.Errorf("notifications from %s ended: %w", n.uuid, n.err)
			}
			switch mode {
			case streamLive:
				p.print(n)
			case streamBatched:
				batch = append(batch, n)
			case streamLatest:
				latest[n.uuid] = n
			}
			received++
			if o.count > 0 && received >= o.count {
				flush()
				return nil
			}
		}
	}
}
