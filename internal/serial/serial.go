// Package serial exposes a byte stream over the Nordic UART Service.
//
// The peripheral sends on the TX characteristic (notify) and receives on the
// RX characteristic (write). A Port turns that pair into an io.ReadWriteCloser:
// notifications are buffered in a ring buffer until Read drains them, and
// Write splits data into chunks that fit the negotiated ATT MTU.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/pkg/central"
	"github.com/srg/blecentral/pkg/stream"
)

// Nordic UART Service UUIDs.
var (
	ServiceUUID = central.MustParseUUID("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	// TxCharUUID carries data from the peripheral to the central.
	TxCharUUID = central.MustParseUUID("6E400003-B5A3-F393-E0A9-E50E24DCCA9E")
	// RxCharUUID carries data from the central to the peripheral.
	RxCharUUID = central.MustParseUUID("6E400002-B5A3-F393-E0A9-E50E24DCCA9E")
)

const (
	// DefaultBufferSize is the receive buffer used when Options.BufferSize is zero.
	DefaultBufferSize = 4096
	// fallbackChunkSize fits the minimum ATT MTU of 23.
	fallbackChunkSize = 20
	// attWriteOverhead is the opcode plus handle of a write request.
	attWriteOverhead = 3
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("serial port closed")

// Options configures a Port.
type Options struct {
	ServiceUUID central.UUID
	TxCharUUID  central.UUID
	RxCharUUID  central.UUID

	// BufferSize bounds received bytes not yet consumed by Read. Overflow is dropped.
	BufferSize int
	// ChunkSize caps each write. Zero derives it from the MTU.
	ChunkSize int
	// ChunkDelay is slept between chunks.
	ChunkDelay time.Duration
	// WithResponse uses acknowledged writes on the RX characteristic.
	WithResponse bool
}

// DefaultOptions returns options for a standard Nordic UART peripheral.
func DefaultOptions() Options {
	return Options{
		ServiceUUID: ServiceUUID,
		TxCharUUID:  TxCharUUID,
		RxCharUUID:  RxCharUUID,
		BufferSize:  DefaultBufferSize,
	}
}

// Port is a serial link to a connected peripheral.
type Port struct {
	device *central.Device
	rx     *central.Characteristic
	notify *stream.Stream[[]byte]
	opts   Options
	logger *logrus.Logger
	chunk  int

	rbuf  *ringbuffer.RingBuffer
	ready chan struct{}

	mu      sync.Mutex
	err     error
	dropped uint64

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	rxDone    chan struct{}
}

var _ io.ReadWriteCloser = (*Port)(nil)

// Open resolves the UART characteristics on a connected device and subscribes to TX.
func Open(ctx context.Context, device *central.Device, opts Options, logger *logrus.Logger) (*Port, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	def := DefaultOptions()
	if opts.ServiceUUID == (central.UUID{}) {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.TxCharUUID == (central.UUID{}) {
		opts.TxCharUUID = def.TxCharUUID
	}
	if opts.RxCharUUID == (central.UUID{}) {
		opts.RxCharUUID = def.RxCharUUID
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}

	svcs, err := device.DiscoverServices(ctx, opts.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to discover serial service: %w", err)
	}
	if len(svcs) == 0 {
		return nil, central.NewError(central.NotFound, "serial", "serial service %s not found", central.FormatUUID(opts.ServiceUUID))
	}
	logger.WithField("service", svcs[0]).Info("Found serial service")

	chars, err := svcs[0].DiscoverCharacteristics(ctx, opts.TxCharUUID, opts.RxCharUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to discover serial characteristics: %w", err)
	}
	var tx, rx *central.Characteristic
	for _, c := range chars {
		switch c.UUID() {
		case opts.TxCharUUID:
			tx = c
		case opts.RxCharUUID:
			rx = c
		}
	}
	if tx == nil {
		return nil, central.NewError(central.NotFound, "serial", "TX characteristic %s not found", central.FormatUUID(opts.TxCharUUID))
	}
	if rx == nil {
		return nil, central.NewError(central.NotFound, "serial", "RX characteristic %s not found", central.FormatUUID(opts.RxCharUUID))
	}

	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = fallbackChunkSize
		if mtu, err := device.MTU(ctx); err == nil && mtu > attWriteOverhead {
			chunk = mtu - attWriteOverhead
		} else if err != nil {
			logger.WithError(err).Debug("MTU unavailable, using minimum chunk size")
		}
	}

	notify, err := tx.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to TX characteristic: %w", err)
	}

	p := &Port{
		device: device,
		rx:     rx,
		notify: notify,
		opts:   opts,
		logger: logger,
		chunk:  chunk,
		rbuf:   ringbuffer.New(opts.BufferSize),
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
		rxDone: make(chan struct{}),
	}
	groutine.Go(context.Background(), "serial-rx", p.receive)

	logger.WithFields(logrus.Fields{
		"device": device.ID(),
		"chunk":  chunk,
	}).Info("BLE serial connection established")
	return p, nil
}

// ChunkSize is the largest payload sent in one write.
func (p *Port) ChunkSize() int { return p.chunk }

// Dropped counts received bytes discarded because the buffer was full.
func (p *Port) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Port) signal() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *Port) receive(ctx context.Context) {
	defer close(p.rxDone)
	defer p.signal()

	for {
		data, err := p.notify.Next(ctx)
		if err != nil {
			if errors.Is(err, stream.ErrClosed) {
				err = io.EOF
			}
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			if !errors.Is(err, io.EOF) {
				p.logger.WithError(err).Warn("Serial receive stopped")
			}
			return
		}

		n, werr := p.rbuf.Write(data)
		if werr != nil && !errors.Is(werr, ringbuffer.ErrIsFull) {
			p.logger.WithError(werr).Error("Failed to buffer received data")
		}
		if n < len(data) {
			p.mu.Lock()
			p.dropped += uint64(len(data) - n)
			p.mu.Unlock()
			p.logger.WithFields(logrus.Fields{
				"received": len(data),
				"buffered": n,
			}).Warn("Serial receive buffer full, dropping data")
		}
		if n > 0 {
			p.signal()
		}
	}
}

// Read blocks until data arrives. Buffered data is returned before the error
// that ended the link; a closed port reads io.EOF.
func (p *Port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		n, err := p.rbuf.TryRead(b)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, err
		}

		p.mu.Lock()
		terminal := p.err
		p.mu.Unlock()
		if terminal != nil && p.rbuf.IsEmpty() {
			return 0, terminal
		}

		select {
		case <-p.ready:
		case <-p.closed:
			if p.rbuf.IsEmpty() {
				return 0, io.EOF
			}
		}
	}
}

// Write sends b in MTU-sized chunks. It returns the number of bytes accepted
// by the peripheral before the first failure.
func (p *Port) Write(b []byte) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	select {
	case <-p.closed:
		return 0, ErrClosed
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	groutine.Go(ctx, "serial-write-guard", func(ctx context.Context) {
		select {
		case <-p.closed:
			cancel()
		case <-ctx.Done():
		}
	})

	written := 0
	for written < len(b) {
		end := min(written+p.chunk, len(b))
		chunk := b[written:end]

		var err error
		if p.opts.WithResponse {
			err = p.rx.Write(ctx, chunk)
		} else {
			err = p.rx.WriteWithoutResponse(ctx, chunk)
		}
		if err != nil {
			return written, fmt.Errorf("failed to write to RX characteristic: %w", err)
		}
		written = end
		p.logger.WithField("bytes", len(chunk)).Debug("Wrote chunk to device")

		if written < len(b) && p.opts.ChunkDelay > 0 {
			select {
			case <-time.After(p.opts.ChunkDelay):
			case <-ctx.Done():
				return written, ErrClosed
			}
		}
	}
	return written, nil
}

// Close unsubscribes from TX. The device stays connected.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.notify.Close()
		<-p.rxDone
		p.logger.WithField("device", p.device.ID()).Debug("Serial port closed")
	})
	return nil
}
