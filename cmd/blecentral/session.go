package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blecentral/pkg/central"
	"github.com/srg/blecentral/pkg/config"
)

// openAdapter is replaced in tests to hand out a simulator-backed adapter.
var openAdapter = central.Open

// session is the adapter and configuration shared by a command run.
type session struct {
	ctx     context.Context
	cmd     *cobra.Command
	cfg     *config.Config
	logger  *logrus.Logger
	adapter *central.Adapter
	stop    context.CancelFunc
}

// newSession opens the adapter and waits for it to be powered. The context is
// cancelled on SIGINT/SIGTERM.
func (g *globalOptions) newSession(cmd *cobra.Command) (*session, error) {
	cfg, logger, err := g.setup(cmd)
	if err != nil {
		return nil, err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)

	adapter, err := openAdapter(ctx, cfg, logger)
	if err != nil {
		stop()
		return nil, fmt.Errorf("failed to open Bluetooth adapter: %w", err)
	}

	s := &session{ctx: ctx, cmd: cmd, cfg: cfg, logger: logger, adapter: adapter, stop: stop}
	if !adapter.IsAvailable() {
		wctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		progress := NewProgressPrinter(cmd.ErrOrStderr(), "Waiting for Bluetooth", "powered off", isTerminal(cmd))
		progress.Start()
		err := adapter.WaitAvailable(wctx)
		progress.Stop()
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) Close() {
	if err := s.adapter.Close(); err != nil {
		s.logger.WithError(err).Debug("Adapter close failed")
	}
	s.stop()
}

// connect opens and connects a device within the configured timeout.
func (s *session) connect(id string) (*central.Device, error) {
	d, err := s.adapter.OpenDevice(central.DeviceID(id))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ConnectTimeout)
	defer cancel()

	progress := NewCountdownProgressPrinter(s.cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", id),
		"connecting", s.cfg.ConnectTimeout, isTerminal(s.cmd))
	progress.Start()
	defer progress.Stop()

	if err := d.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", id, err)
	}
	return d, nil
}

// requestContext bounds a single GATT request.
func (s *session) requestContext() (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(s.ctx)
	}
	return context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
}

// watchLinkLoss returns a context that ends with ErrConnectionLost when d disconnects.
func (s *session) watchLinkLoss(d *central.Device) (context.Context, func(), error) {
	events, err := s.adapter.ConnectionEvents(s.ctx, d)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancelCause(s.ctx)
	go func() {
		for ev, err := range events.All(ctx) {
			if err != nil {
				return
			}
			if !ev.Connected {
				s.logger.WithField("device", ev.Device).WithError(ev.Err).Warn("Device disconnected")
				cancel(ErrConnectionLost)
				return
			}
		}
	}()
	return ctx, func() {
		events.Close()
		cancel(nil)
	}, nil
}
