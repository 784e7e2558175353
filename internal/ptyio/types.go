// Package ptyio wraps a pseudo-terminal master in ring buffers so that a
// peripheral's serial stream can be exposed as a tty (e.g. /dev/pts/5) to
// programs like screen or minicom.
//
//	p, err := ptyio.New(ptyio.Options{ReadCap: 4096, WriteCap: 4096})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	fmt.Println(p.TTYName())
//	p.SetReadCallback(func(b []byte) { port.Write(b) })
//	p.Write(fromDevice)
//
// Write and Read never block. Write drops what does not fit in the write
// buffer and reports the short count; Read returns syscall.EAGAIN when empty.
package ptyio

import (
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrUnsupported is returned by New on hosts without pseudo-terminals.
var ErrUnsupported = errors.New("pseudo-terminals are not supported on this platform")

// DefaultPollTimeout bounds how long the I/O loops wait before rechecking for shutdown.
const DefaultPollTimeout = 50 * time.Millisecond

// DefaultCapacity is used for a zero ReadCap or WriteCap.
const DefaultCapacity = 4096

// ReadCallback receives data written by the tty side. The slice is only valid during the call.
type ReadCallback func(data []byte)

// Options configures a PTY.
type Options struct {
	ReadCap     int
	WriteCap    int
	PollTimeout time.Duration
	Logger      *logrus.Logger

	// OnError is called at most once per loop when it stops on an unexpected error.
	OnError func(err error)
}

// PTY is a non-blocking pseudo-terminal master.
type PTY interface {
	io.ReadWriteCloser
	Stats() Stats
	// TTYName is the slave device path.
	TTYName() string
	// SetReadCallback switches reads to push delivery. nil restores polling via Read.
	SetReadCallback(cb ReadCallback)
}

// Stats are runtime counters of a PTY.
type Stats struct {
	WriteQueueLen int
	WriteQueueCap int
	ReadQueueLen  int
	ReadQueueCap  int

	DroppedWriteCount uint64
	DroppedReadCount  uint64
	ReadBytesTotal    uint64
	WriteBytesTotal   uint64
}
