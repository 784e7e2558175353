package backend

import (
	"context"
	"slices"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/errmap"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/ble"
	"github.com/srg/blecentral/pkg/stream"
)

type connSub struct {
	device ble.DeviceID
	sink   *stream.Sink[ble.ConnectionEvent]
}

// Core implements Backend on top of a native.Stack.
type Core struct {
	stack  native.Stack
	opts   Options
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	peers *hashmap.Map[ble.DeviceID, *peerState]

	mu           sync.Mutex
	powered      bool
	availCh      chan struct{}
	adapterSinks map[uint64]*stream.Sink[ble.AdapterEvent]
	connSinks    map[uint64]connSub
	scan         *scanSession
	nextSubID    uint64
	closed       bool
}

var _ Backend = (*Core)(nil)

// NewCore starts stack and wraps it. The handlers are installed before the
// stack starts so no early power event is lost.
func NewCore(ctx context.Context, stack native.Stack, opts Options, logger *logrus.Logger) (*Core, error) {
	if logger == nil {
		logger = logrus.New()
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		stack:        stack,
		opts:         opts.normalized(),
		logger:       logger,
		ctx:          cctx,
		cancel:       cancel,
		peers:        hashmap.New[ble.DeviceID, *peerState](),
		availCh:      make(chan struct{}),
		adapterSinks: make(map[uint64]*stream.Sink[ble.AdapterEvent]),
		connSinks:    make(map[uint64]connSub),
	}

	stack.SetStateHandler(c.onState)
	stack.SetDisconnectHandler(c.onNativeDisconnect)

	if err := stack.Start(ctx); err != nil {
		cancel()
		return nil, errmap.Map(errmap.OpAdapter, err)
	}

	c.mu.Lock()
	c.powered = stack.Powered()
	if c.powered {
		close(c.availCh)
	}
	c.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"driver":  stack.Name(),
		"powered": c.IsAvailable(),
	}).Debug("Backend started")
	return c, nil
}

func (c *Core) Name() string { return c.stack.Name() }

// peer returns the registry entry for id, creating it on first sight.
func (c *Core) peer(id ble.DeviceID) *peerState {
	if ps, ok := c.peers.Get(id); ok {
		return ps
	}
	ps, _ := c.peers.GetOrInsert(id, &peerState{id: id})
	return ps
}

func (c *Core) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powered
}

func (c *Core) WaitAvailable(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ble.NewError(ble.AdapterUnavailable, errmap.OpAdapter, "backend closed")
		}
		if c.powered {
			c.mu.Unlock()
			return nil
		}
		ch := c.availCh
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return errmap.Map(errmap.OpAdapter, ctx.Err())
		case <-c.ctx.Done():
			return ble.NewError(ble.AdapterUnavailable, errmap.OpAdapter, "backend closed")
		}
	}
}

// AdapterEvents opens an independent subscription. The first item is the
// current state; afterwards only changes are delivered, so native repeats are
// suppressed but the first item may equal the state it was already in.
func (c *Core) AdapterEvents(ctx context.Context) (*stream.Stream[ble.AdapterEvent], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ble.NewError(ble.AdapterUnavailable, errmap.OpAdapter, "backend closed")
	}

	id := c.nextSubID
	c.nextSubID++
	opts := c.opts.EventBuffer
	opts.Name = "adapter-events"
	s, sink := stream.New[ble.AdapterEvent](opts, func() {
		c.mu.Lock()
		delete(c.adapterSinks, id)
		c.mu.Unlock()
	})
	c.adapterSinks[id] = sink
	sink.Push(adapterEvent(c.powered))
	return s, nil
}

func adapterEvent(powered bool) ble.AdapterEvent {
	if powered {
		return ble.Available
	}
	return ble.Unavailable
}

func (c *Core) onState(powered bool) {
	c.mu.Lock()
	if c.closed || c.powered == powered {
		c.mu.Unlock()
		return
	}
	c.powered = powered

	sinks := make([]*stream.Sink[ble.AdapterEvent], 0, len(c.adapterSinks))
	for _, s := range c.adapterSinks {
		sinks = append(sinks, s)
	}

	var sess *scanSession
	if powered {
		close(c.availCh)
	} else {
		c.availCh = make(chan struct{})
		sess, c.scan = c.scan, nil
	}
	c.mu.Unlock()

	c.logger.WithField("powered", powered).Info("Adapter state changed")

	ev := adapterEvent(powered)
	for _, s := range sinks {
		s.Push(ev)
	}

	if powered {
		return
	}

	lost := ble.NewError(ble.AdapterUnavailable, errmap.OpAdapter, "bluetooth adapter powered off")
	if sess != nil {
		sess.active.Store(false)
		sess.sink.Fail(lost)
		if err := c.stack.StopScan(); err != nil {
			c.logger.WithError(err).Debug("StopScan after power loss failed")
		}
	}
	c.peers.Range(func(_ ble.DeviceID, ps *peerState) bool {
		if conn := ps.current(); conn != nil {
			c.invalidate(ps, conn, lost, lost)
		}
		return true
	})
}

// ConnectionEvents opens an independent subscription to connection changes.
func (c *Core) ConnectionEvents(ctx context.Context, id ble.DeviceID) (*stream.Stream[ble.ConnectionEvent], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ble.NewError(ble.AdapterUnavailable, errmap.OpConnect, "backend closed")
	}

	sid := c.nextSubID
	c.nextSubID++
	opts := c.opts.EventBuffer
	opts.Name = "connection-events"
	s, sink := stream.New[ble.ConnectionEvent](opts, func() {
		c.mu.Lock()
		delete(c.connSinks, sid)
		c.mu.Unlock()
	})
	c.connSinks[sid] = connSub{device: id, sink: sink}
	return s, nil
}

func (c *Core) publishConnection(id ble.DeviceID, connected bool, cause error) {
	c.mu.Lock()
	var sinks []*stream.Sink[ble.ConnectionEvent]
	for _, sub := range c.connSinks {
		if sub.device == "" || sub.device == id {
			sinks = append(sinks, sub.sink)
		}
	}
	c.mu.Unlock()

	ev := ble.ConnectionEvent{Device: id, Connected: connected, Err: cause}
	for _, s := range sinks {
		s.Push(ev)
	}
}

func (c *Core) IsConnected(id ble.DeviceID) bool {
	ps, ok := c.peers.Get(id)
	return ok && ps.current() != nil
}

func (c *Core) ConnectedDevices() []ble.DeviceID {
	var ids []ble.DeviceID
	c.peers.Range(func(id ble.DeviceID, ps *peerState) bool {
		if ps.current() != nil {
			ids = append(ids, id)
		}
		return true
	})
	slices.Sort(ids)
	return ids
}

func (c *Core) DeviceName(id ble.DeviceID) string {
	ps, ok := c.peers.Get(id)
	if !ok {
		return ""
	}
	return ps.displayName()
}

// Close stops scanning, drops every connection and releases the native stack.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.scan
	c.scan = nil
	var adapterSinks []*stream.Sink[ble.AdapterEvent]
	for _, s := range c.adapterSinks {
		adapterSinks = append(adapterSinks, s)
	}
	var connSinks []*stream.Sink[ble.ConnectionEvent]
	for _, sub := range c.connSinks {
		connSinks = append(connSinks, sub.sink)
	}
	c.mu.Unlock()

	closing := ble.NewError(ble.AdapterUnavailable, errmap.OpAdapter, "backend closed")
	if sess != nil {
		sess.active.Store(false)
		sess.sink.Fail(closing)
		_ = c.stack.StopScan()
	}

	c.peers.Range(func(_ ble.DeviceID, ps *peerState) bool {
		if conn := ps.current(); conn != nil {
			conn.unsubscribeAll(c.logger)
			c.invalidate(ps, conn, closing, nil)
			if err := conn.peer.Disconnect(); err != nil {
				c.logger.WithError(err).WithField("device", ps.id).Debug("Disconnect during close failed")
			}
		}
		return true
	})

	for _, s := range adapterSinks {
		s.Finish()
	}
	for _, s := range connSinks {
		s.Finish()
	}

	c.cancel()
	c.logger.WithField("driver", c.stack.Name()).Debug("Backend closed")
	return c.stack.Close()
}

func (c *Core) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
