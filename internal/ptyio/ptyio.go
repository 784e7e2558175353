//go:build darwin || linux

package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/blecentral/internal/groutine"
)

const ioChunk = 4096

type ringPTY struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	fd          int32
	ttyName     string
	pollTimeout int
	onError     func(error)
	readErr     sync.Once
	writeErr    sync.Once

	writeBuf    *ringbuffer.RingBuffer
	readBuf     *ringbuffer.RingBuffer
	readCb      atomic.Pointer[ReadCallback]
	readNotify  chan struct{}
	writeNotify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	droppedWrite atomic.Uint64
	droppedRead  atomic.Uint64
	readBytes    atomic.Uint64
	writeBytes   atomic.Uint64
}

// New opens a PTY pair with the slave in raw mode and starts its I/O loops.
func New(opts Options) (PTY, error) {
	master, slave, fd, err := createPTY()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.ReadCap <= 0 {
		opts.ReadCap = DefaultCapacity
	}
	if opts.WriteCap <= 0 {
		opts.WriteCap = DefaultCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPTY{
		logger:      logger,
		master:      master,
		slave:       slave,
		fd:          int32(fd),
		ttyName:     slave.Name(),
		pollTimeout: int(opts.PollTimeout / time.Millisecond),
		onError:     opts.OnError,
		writeBuf:    ringbuffer.New(opts.WriteCap),
		readBuf:     ringbuffer.New(opts.ReadCap),
		readNotify:  make(chan struct{}, 1),
		writeNotify: make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	p.wg.Add(3)
	groutine.Go(ctx, "tty-read-loop", func(context.Context) { p.readLoop() })
	groutine.Go(ctx, "tty-write-loop", func(context.Context) { p.writeLoop() })
	groutine.Go(ctx, "tty-dispatcher", func(context.Context) { p.dispatch() })

	logger.WithField("tty", p.ttyName).Debug("PTY created")
	return p, nil
}

func (p *ringPTY) fail(once *sync.Once, loop string, err error) {
	p.logger.WithError(err).Warnf("%s exiting", loop)
	if p.onError != nil {
		once.Do(func() { p.onError(fmt.Errorf("%s: %w", loop, err)) })
	}
}

func (p *ringPTY) writeLoop() {
	defer p.wg.Done()

	fd := []unix.PollFd{{Fd: p.fd, Events: unix.POLLOUT}}
	buf := make([]byte, ioChunk)

	for p.ctx.Err() == nil {
		n, err := p.writeBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.WithError(err).Warn("write buffer read failed")
			continue
		}
		if n == 0 {
			select {
			case <-p.ctx.Done():
				return
			case <-p.writeNotify:
			}
			continue
		}

		for off := 0; off < n; {
			w, err := p.master.Write(buf[off:n])
			if w > 0 {
				off += w
				p.writeBytes.Add(uint64(w))
			}
			switch {
			case err == nil:
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(fd, p.pollTimeout); perr != nil && !errors.Is(perr, syscall.EINTR) {
					p.logger.WithError(perr).Debug("write poll failed")
				}
				if p.ctx.Err() != nil {
					return
				}
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				p.fail(&p.writeErr, "tty write loop", err)
				return
			}
		}
	}
}

func (p *ringPTY) readLoop() {
	defer p.wg.Done()

	fd := []unix.PollFd{{Fd: p.fd, Events: unix.POLLIN}}
	buf := make([]byte, ioChunk)

	for p.ctx.Err() == nil {
		ready, err := unix.Poll(fd, p.pollTimeout)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Debug("read poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := p.master.Read(buf)
		if n > 0 {
			written, werr := p.readBuf.Write(buf[:n])
			if werr != nil && !errors.Is(werr, ringbuffer.ErrIsFull) {
				p.logger.WithError(werr).Warn("read buffer write failed")
			}
			if written < n {
				p.droppedRead.Add(uint64(n - written))
				p.logger.WithFields(logrus.Fields{
					"received": n,
					"buffered": written,
				}).Warn("PTY read buffer overflow")
			}
			p.readBytes.Add(uint64(written))
			if written > 0 {
				signal(p.readNotify)
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF), errors.Is(err, io.EOF):
			return
		case errors.Is(err, syscall.EIO):
			// Linux reports EIO while no process holds the slave open.
			time.Sleep(time.Duration(p.pollTimeout) * time.Millisecond)
		default:
			p.fail(&p.readErr, "tty read loop", err)
			return
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *ringPTY) dispatch() {
	defer p.wg.Done()

	buf := make([]byte, ioChunk)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.readNotify:
		}

		for {
			cb := p.readCb.Load()
			if cb == nil || *cb == nil {
				break
			}
			n, _ := p.readBuf.TryRead(buf)
			if n == 0 {
				break
			}
			p.invoke(*cb, buf[:n])
		}
	}
}

func (p *ringPTY) invoke(cb ReadCallback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.readCb.Store(nil)
			p.fail(&p.readErr, "read callback", fmt.Errorf("panic: %v", r))
		}
	}()
	cb(data)
}

// Write queues data for the tty side and returns how much fit.
func (p *ringPTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	written, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, err
	}
	if written < len(data) {
		p.droppedWrite.Add(uint64(len(data) - written))
		p.logger.WithFields(logrus.Fields{
			"queued":  written,
			"dropped": len(data) - written,
		}).Warn("PTY write buffer overflow")
	}
	if written > 0 {
		signal(p.writeNotify)
	}
	return written, nil
}

// Read returns buffered tty input, or syscall.EAGAIN when there is none.
func (p *ringPTY) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := p.readBuf.TryRead(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, err
	}
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

func (p *ringPTY) SetReadCallback(cb ReadCallback) {
	if p.closed.Load() {
		return
	}
	if cb == nil {
		p.readCb.Store(nil)
		return
	}
	p.readCb.Store(&cb)
	signal(p.readNotify)
}

func (p *ringPTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	err := errors.Join(p.master.Close(), p.slave.Close())

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-wait-close", func(context.Context) {
		p.wg.Wait()
		close(done)
	})
	timeout := max(3*time.Duration(p.pollTimeout)*time.Millisecond+time.Second, 5*time.Second)
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.WithField("tty", p.ttyName).Error("PTY loops did not exit in time")
	}
	return err
}

func (p *ringPTY) Stats() Stats {
	return Stats{
		WriteQueueLen:     p.writeBuf.Length(),
		WriteQueueCap:     p.writeBuf.Capacity(),
		ReadQueueLen:      p.readBuf.Length(),
		ReadQueueCap:      p.readBuf.Capacity(),
		DroppedWriteCount: p.droppedWrite.Load(),
		DroppedReadCount:  p.droppedRead.Load(),
		ReadBytesTotal:    p.readBytes.Load(),
		WriteBytesTotal:   p.writeBytes.Load(),
	}
}

func (p *ringPTY) TTYName() string { return p.ttyName }

// createPTY opens a pair with the slave in raw mode and the master non-blocking.
// File.Fd switches a file back to blocking mode, so the master descriptor is
// taken once here and returned.
func createPTY() (*os.File, *os.File, int, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(stage string, cause error) error {
		return fmt.Errorf("failed to set PTY %s %s: %w", slave.Name(), stage,
			errors.Join(cause, master.Close(), slave.Close()))
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, 0, cleanup("to raw mode", err)
	}
	fd := int(master.Fd())
	if err := syscall.SetNonblock(fd, true); err != nil {
		return nil, nil, 0, cleanup("master to nonblocking mode", err)
	}
	return master, slave, fd, nil
}
