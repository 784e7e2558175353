// Package sim is an in-memory Bluetooth stack. It behaves like a platform stack
// seen through a driver: every callback is delivered from one dispatcher
// goroutine, pending connects cannot be withdrawn, and state repeats are passed
// through untouched. Tests drive it with SetPowered, Advertise, Notify and
// DropConnection; the CLI uses it with a YAML profile for offline demos.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/native"
)

// Options tune the simulator.
type Options struct {
	// AdvertiseInterval re-advertises every peripheral while scanning. Zero advertises once per scan.
	AdvertiseInterval time.Duration
	// LeakyScan keeps delivering advertisements to the last scan handler after StopScan,
	// like platforms that flush queued results late.
	LeakyScan bool
	// QueueDepth bounds the dispatcher queue.
	QueueDepth int
}

type scanState struct {
	onAdv  func(native.RawAdvertisement)
	onStop func(error)
	stop   chan struct{}
}

// Stack is the simulated adapter. It implements native.Stack.
type Stack struct {
	opts   Options
	logger *logrus.Logger

	peripherals *hashmap.Map[string, *Peripheral]

	mu       sync.Mutex
	order    []string
	powered  bool
	stateFn  func(bool)
	discFn   func(native.Peer, error)
	scan     *scanState
	lastScan *scanState
	links    map[string]*link

	queue     chan func()
	done      chan struct{}
	closeOnce sync.Once
}

var _ native.Stack = (*Stack)(nil)

// New creates a powered simulator and starts its dispatcher.
func New(opts Options, logger *logrus.Logger) *Stack {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1024
	}

	s := &Stack{
		opts:        opts,
		logger:      logger,
		peripherals: hashmap.New[string, *Peripheral](),
		powered:     true,
		links:       make(map[string]*link),
		queue:       make(chan func(), opts.QueueDepth),
		done:        make(chan struct{}),
	}
	groutine.Go(context.Background(), "sim-dispatcher", s.dispatchLoop)
	return s
}

// NewFromProfile creates a simulator populated from a profile.
func NewFromProfile(profile *Profile, opts Options, logger *logrus.Logger) (*Stack, error) {
	s := New(opts, logger)
	for _, pc := range profile.Peripherals {
		p, err := pc.Build()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.AddPeripheral(p)
	}
	if profile.Powered != nil && !*profile.Powered {
		s.mu.Lock()
		s.powered = false
		s.mu.Unlock()
	}
	return s, nil
}

func (s *Stack) dispatchLoop(ctx context.Context) {
	s.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Simulator dispatcher started")
	for {
		select {
		case fn := <-s.queue:
			s.run(fn)
		case <-s.done:
			return
		}
	}
}

func (s *Stack) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Simulator callback panicked")
		}
	}()
	fn()
}

// dispatch queues fn for the dispatcher. It must not be called with s.mu held.
func (s *Stack) dispatch(fn func()) {
	select {
	case s.queue <- fn:
	case <-s.done:
	}
}

// Flush waits until every callback queued so far has run.
func (s *Stack) Flush() {
	done := make(chan struct{})
	s.dispatch(func() { close(done) })
	select {
	case <-done:
	case <-s.done:
	}
}

// AddPeripheral registers a peripheral; it is advertised by subsequent scans.
func (s *Stack) AddPeripheral(p *Peripheral) {
	if _, loaded := s.peripherals.GetOrInsert(p.id, p); loaded {
		s.peripherals.Set(p.id, p)
		return
	}
	s.mu.Lock()
	s.order = append(s.order, p.id)
	s.mu.Unlock()
}

// Peripheral returns a registered peripheral.
func (s *Stack) Peripheral(id string) (*Peripheral, bool) {
	return s.peripherals.Get(id)
}

func (s *Stack) Name() string { return "sim" }

func (s *Stack) Start(ctx context.Context) error { return nil }

func (s *Stack) Powered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powered
}

func (s *Stack) SetStateHandler(fn func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateFn = fn
}

func (s *Stack) SetDisconnectHandler(fn func(native.Peer, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discFn = fn
}

// SetPowered switches the radio. Powering off ends the scan and drops every link.
// The state callback fires even when the state does not change.
func (s *Stack) SetPowered(on bool) {
	s.mu.Lock()
	s.powered = on
	stateFn, discFn := s.stateFn, s.discFn
	var (
		sc    *scanState
		links []*link
	)
	if !on {
		sc, s.scan = s.scan, nil
		for id, l := range s.links {
			links = append(links, l)
			delete(s.links, id)
		}
	}
	s.mu.Unlock()

	s.logger.WithField("powered", on).Debug("Simulator power changed")

	if stateFn != nil {
		s.dispatch(func() { stateFn(on) })
	}
	if sc != nil {
		close(sc.stop)
		s.dispatch(func() { sc.onStop(errPoweredOff) })
	}
	for _, l := range links {
		l.close()
		if discFn != nil {
			s.dispatch(func() { discFn(l, errPoweredOff) })
		}
	}
}

func (s *Stack) StartScan(filter []uuid.UUID, onAdv func(native.RawAdvertisement), onStop func(error)) error {
	s.mu.Lock()
	if !s.powered {
		s.mu.Unlock()
		return errPoweredOff
	}
	if s.scan != nil {
		s.mu.Unlock()
		return &native.Error{Domain: native.DomainBlueZ, Name: "org.bluez.Error.InProgress", Msg: "scan already in progress"}
	}
	if onStop == nil {
		onStop = func(error) {}
	}
	sc := &scanState{onAdv: onAdv, onStop: onStop, stop: make(chan struct{})}
	s.scan, s.lastScan = sc, sc
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()

	s.logger.WithField("filter", len(filter)).Debug("Simulator scan started")

	for _, id := range ids {
		if p, ok := s.peripherals.Get(id); ok {
			s.emit(sc, p.raw())
		}
	}

	if s.opts.AdvertiseInterval > 0 {
		groutine.Go(context.Background(), "sim-advertiser", func(ctx context.Context) {
			ticker := time.NewTicker(s.opts.AdvertiseInterval)
			defer ticker.Stop()
			for {
				select {
				case <-sc.stop:
					return
				case <-s.done:
					return
				case <-ticker.C:
					s.peripherals.Range(func(_ string, p *Peripheral) bool {
						s.emit(sc, p.raw())
						return true
					})
				}
			}
		})
	}
	return nil
}

func (s *Stack) StopScan() error {
	s.mu.Lock()
	sc := s.scan
	s.scan = nil
	s.mu.Unlock()

	if sc != nil {
		close(sc.stop)
		s.logger.Debug("Simulator scan stopped")
	}
	return nil
}

// Scanning reports whether a scan is active.
func (s *Stack) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scan != nil
}

func (s *Stack) deliverable(sc *scanState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scan == sc || (s.opts.LeakyScan && s.lastScan == sc)
}

func (s *Stack) emit(sc *scanState, raw native.RawAdvertisement) {
	s.dispatch(func() {
		if s.deliverable(sc) {
			sc.onAdv(raw)
		}
	})
}

func (s *Stack) currentScan() *scanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scan != nil {
		return s.scan
	}
	if s.opts.LeakyScan {
		return s.lastScan
	}
	return nil
}

// Advertise emits one advertisement of a registered peripheral to the active scan.
func (s *Stack) Advertise(id string) error {
	p, ok := s.peripherals.Get(id)
	if !ok {
		return fmt.Errorf("unknown peripheral %q", id)
	}
	if sc := s.currentScan(); sc != nil {
		s.emit(sc, p.raw())
	}
	return nil
}

// AdvertiseRaw emits an arbitrary record to the active scan.
func (s *Stack) AdvertiseRaw(raw native.RawAdvertisement) {
	if sc := s.currentScan(); sc != nil {
		s.emit(sc, raw)
	}
}

func (s *Stack) Connect(ctx context.Context, peerID string) (native.Peer, error) {
	p, ok := s.peripherals.Get(peerID)
	if !ok {
		return nil, fmt.Errorf("unknown peripheral %q", peerID)
	}
	if !s.Powered() {
		return nil, errPoweredOff
	}

	delay, connectable, connectErr := p.connectParams()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-s.done:
			return nil, errPoweredOff
		}
	}
	if connectErr != nil {
		return nil, connectErr
	}
	if !connectable {
		return nil, &native.Error{Domain: native.DomainHCI, Code: 0x3e, Msg: "peripheral is not connectable"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.powered {
		return nil, errPoweredOff
	}
	if old := s.links[peerID]; old != nil {
		old.close()
	}
	l := newLink(s, p)
	s.links[peerID] = l
	s.logger.WithField("peer", peerID).Debug("Simulator link established")
	return l, nil
}

// Connected reports whether a link to id is up.
func (s *Stack) Connected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.links[id]
	return ok
}

// DropConnection simulates link loss. err defaults to a peripheral-disconnected error.
func (s *Stack) DropConnection(id string, err error) bool {
	s.mu.Lock()
	l := s.links[id]
	s.mu.Unlock()
	if l == nil {
		return false
	}
	if err == nil {
		err = errLinkLost
	}
	s.dropLink(l, err)
	return true
}

func (s *Stack) dropLink(l *link, err error) {
	s.mu.Lock()
	if s.links[l.p.id] == l {
		delete(s.links, l.p.id)
	}
	discFn := s.discFn
	s.mu.Unlock()

	if !l.close() {
		return
	}
	if discFn != nil {
		s.dispatch(func() { discFn(l, err) })
	}
}

// Notify delivers a notification from a peripheral characteristic to its subscriber.
func (s *Stack) Notify(id string, chr uuid.UUID, data []byte) error {
	s.mu.Lock()
	l := s.links[id]
	s.mu.Unlock()
	if l == nil {
		return errNotConnected
	}
	c := l.p.Characteristic(chr)
	if c == nil {
		return errors.New("unknown characteristic " + chr.String())
	}
	value := append([]byte(nil), data...)
	s.dispatch(func() {
		if l.closed.Load() {
			return
		}
		if h := c.currentHandler(); h != nil {
			h(value)
		}
	})
	return nil
}

// Close stops the dispatcher; pending callbacks are discarded.
func (s *Stack) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}
