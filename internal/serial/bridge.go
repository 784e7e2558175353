package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/ptyio"
)

// BridgeOptions configures Bridge.
type BridgeOptions struct {
	// SymlinkPath, when set, is created pointing at the tty and removed on exit.
	SymlinkPath string
	PTY         ptyio.Options
	// OnReady is called with the tty path once data can flow.
	OnReady func(tty string)
}

// Bridge exposes port as a pseudo-terminal until ctx ends or the port fails.
// It closes port before returning. A cancelled ctx returns nil; otherwise the
// error that ended the port is returned.
func Bridge(ctx context.Context, port io.ReadWriteCloser, opts BridgeOptions, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	defer port.Close()

	if opts.PTY.Logger == nil {
		opts.PTY.Logger = logger
	}
	pty, err := ptyio.New(opts.PTY)
	if err != nil {
		return fmt.Errorf("failed to create PTY: %w", err)
	}
	defer pty.Close()

	tty := pty.TTYName()
	if opts.SymlinkPath != "" {
		if err := os.Symlink(tty, opts.SymlinkPath); err != nil {
			return fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.SymlinkPath, tty, err)
		}
		// The symlink goes before the PTY closes.
		defer func() {
			if err := os.Remove(opts.SymlinkPath); err != nil {
				logger.WithError(err).WithField("symlink", opts.SymlinkPath).Warn("Failed to remove tty symlink")
			}
		}()
		logger.WithFields(logrus.Fields{"symlink": opts.SymlinkPath, "tty": tty}).Info("Created PTY symlink")
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// tty -> device. The callback runs on the PTY dispatcher, one chunk at a time.
	pty.SetReadCallback(func(data []byte) {
		if _, err := port.Write(data); err != nil {
			logger.WithError(err).Warn("Failed to forward tty data to device")
			if !errors.Is(err, ErrClosed) {
				cancel(err)
			}
		}
	})
	defer pty.SetReadCallback(nil)

	// device -> tty
	var wg sync.WaitGroup
	wg.Add(1)
	groutine.Go(ctx, "serial-bridge-rx", func(context.Context) {
		defer wg.Done()
		buf := make([]byte, 1024)
		for {
			n, err := port.Read(buf)
			if n > 0 {
				if _, werr := pty.Write(buf[:n]); werr != nil {
					cancel(werr)
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					cancel(err)
				} else {
					cancel(nil)
				}
				return
			}
		}
	})

	logger.WithField("tty", tty).Info("Serial bridge running")
	if opts.OnReady != nil {
		if opts.SymlinkPath != "" {
			opts.OnReady(opts.SymlinkPath)
		} else {
			opts.OnReady(tty)
		}
	}

	<-ctx.Done()
	// Unblocks the reader.
	_ = port.Close()
	wg.Wait()

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return nil
}
