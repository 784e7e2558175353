package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

func isTTY(f *os.File) bool { return term.IsTerminal(int(f.Fd())) }

// ProgressPrinter shows a status line with elapsed time, or remaining time
// in countdown mode. It writes nothing when disabled, so callers need not
// check whether the output is a terminal.
//
//	p := NewProgressPrinter(w, "Connecting to hr-1", "connecting", enabled)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use.
type ProgressPrinter struct {
	out      io.Writer
	prefix   string
	phase    atomic.Value
	duration time.Duration
	enabled  bool

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewProgressPrinter counts elapsed seconds.
func NewProgressPrinter(out io.Writer, prefix, phase string, enabled bool) *ProgressPrinter {
	p := &ProgressPrinter{
		out:     out,
		prefix:  prefix,
		enabled: enabled,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// NewCountdownProgressPrinter counts down from duration.
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration, enabled bool) *ProgressPrinter {
	p := NewProgressPrinter(out, prefix, phase, enabled)
	p.duration = duration
	return p
}

// SetPhase changes the label shown in parentheses.
func (p *ProgressPrinter) SetPhase(phase string) { p.phase.Store(phase) }

func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		if !p.enabled {
			close(p.done)
			return
		}
		start := time.Now()
		p.print(0)
		go func() {
			defer close(p.done)
			ticker := time.NewTicker(progressUpdateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-p.stop:
					return
				case <-ticker.C:
					elapsed := time.Since(start)
					if p.duration == 0 {
						p.print(int(elapsed.Seconds()))
						continue
					}
					// Round to the nearest second: 3.7s shows 4s.
					p.print(int(max(p.duration-elapsed, 0).Seconds() + 0.5))
				}
			}
		}()
	})
}

func (p *ProgressPrinter) print(seconds int) {
	phase := p.phase.Load().(string)
	if seconds > 0 {
		fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Stop clears the line. It is safe to call more than once and before Start.
func (p *ProgressPrinter) Stop() {
	p.startOnce.Do(func() { close(p.done) })
	p.stopOnce.Do(func() {
		close(p.stop)
		<-p.done
		if p.enabled {
			fmt.Fprint(p.out, clearLineSequence)
		}
	})
}
