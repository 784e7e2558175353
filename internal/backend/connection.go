package backend

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/errmap"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/ble"
	"github.com/srg/blecentral/pkg/stream"
)

// peerState is the registry entry of one remote device. It outlives connections.
type peerState struct {
	id ble.DeviceID

	mu      sync.Mutex
	name    string
	gen     uint64
	conn    *connection
	pending *pendingConnect
}

// pendingConnect is one native connection attempt shared by every concurrent Connect call.
type pendingConnect struct {
	done    chan struct{}
	err     error
	waiters int
	cancel  context.CancelFunc
}

func (ps *peerState) current() *connection {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.conn
}

func (ps *peerState) displayName() string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.name
}

func (ps *peerState) setName(name string) {
	if name == "" {
		return
	}
	ps.mu.Lock()
	ps.name = name
	ps.mu.Unlock()
}

type attrEntry struct {
	id     uint64
	kind   AttrKind
	uuid   ble.UUID
	props  ble.CharacteristicProperty
	handle native.Attribute
}

// connection is one established link. Its attribute table and queue die with it.
type connection struct {
	device ble.DeviceID
	gen    uint64
	peer   native.Peer
	queue  *opQueue

	// subOps serializes native subscribe and unsubscribe calls.
	subOps sync.Mutex

	mu       sync.Mutex
	attrs    []attrEntry
	byNative map[native.Attribute]uint64
	subs     map[uint64]*fanout
	closed   bool
}

func newConnection(ctx context.Context, c *Core, device ble.DeviceID, gen uint64, peer native.Peer) *connection {
	return &connection{
		device:   device,
		gen:      gen,
		peer:     peer,
		queue:    newOpQueue(ctx, "gatt-queue", c.opts.QueueDepth, c.logger),
		byNative: make(map[native.Attribute]uint64),
		subs:     make(map[uint64]*fanout),
	}
}

// register returns the info of h, assigning an ID the first time h is seen.
func (cn *connection) register(kind AttrKind, h native.Attribute, props ble.CharacteristicProperty) AttrInfo {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	id, ok := cn.byNative[h]
	if !ok {
		id = uint64(len(cn.attrs) + 1)
		cn.attrs = append(cn.attrs, attrEntry{id: id, kind: kind, uuid: h.UUID(), props: props, handle: h})
		cn.byNative[h] = id
	}
	e := cn.attrs[id-1]
	return AttrInfo{
		Ref:        AttrRef{Device: cn.device, Gen: cn.gen, ID: id, Kind: e.kind},
		UUID:       e.uuid,
		Properties: e.props,
	}
}

func (cn *connection) attr(id uint64) (attrEntry, bool) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if id == 0 || id > uint64(len(cn.attrs)) {
		return attrEntry{}, false
	}
	return cn.attrs[id-1], true
}

// close stops the queue and ends every notification stream with cause.
func (cn *connection) close(cause error) {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return
	}
	cn.closed = true
	subs := cn.subs
	cn.subs = make(map[uint64]*fanout)
	cn.mu.Unlock()

	cn.queue.stop()
	for _, f := range subs {
		f.fail(cause)
	}
}

// unsubscribeAll disables every active native subscription. Errors are logged and ignored.
func (cn *connection) unsubscribeAll(logger *logrus.Logger) {
	cn.subOps.Lock()
	defer cn.subOps.Unlock()

	cn.mu.Lock()
	var active []*fanout
	for _, f := range cn.subs {
		if f.isActive() {
			active = append(active, f)
		}
	}
	cn.mu.Unlock()

	for _, f := range active {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := submit(ctx, cn.queue, func() (struct{}, error) {
			return struct{}{}, cn.peer.Unsubscribe(f.chr)
		})
		cancel()
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"device":         cn.device,
				"characteristic": ble.FormatUUID(f.chr.UUID()),
			}).Debug("Unsubscribe before disconnect failed")
		}
		f.setActive(false)
	}
}

// Connect establishes a link to id. Concurrent calls share one native attempt.
// A caller that gives up does not cancel the attempt for the others; when the
// last one leaves, the attempt is cancelled and a late success is disconnected.
func (c *Core) Connect(ctx context.Context, id ble.DeviceID) error {
	if c.isClosed() {
		return ble.NewError(ble.AdapterUnavailable, errmap.OpConnect, "backend closed")
	}
	if !c.IsAvailable() {
		return ble.NewError(ble.AdapterUnavailable, errmap.OpConnect, "bluetooth adapter is not powered on")
	}

	ps := c.peer(id)
	ps.mu.Lock()
	if ps.conn != nil {
		ps.mu.Unlock()
		return nil
	}
	pc := ps.pending
	if pc == nil {
		actx, cancel := context.WithCancel(c.ctx)
		pc = &pendingConnect{done: make(chan struct{}), cancel: cancel}
		ps.pending = pc
		groutine.Go(actx, "ble-connect", func(ctx context.Context) {
			c.runConnect(ctx, ps, pc)
		})
	}
	pc.waiters++
	ps.mu.Unlock()

	wctx, cancel := withTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	select {
	case <-pc.done:
		return pc.err
	case <-wctx.Done():
		ps.mu.Lock()
		pc.waiters--
		if pc.waiters == 0 && ps.pending == pc {
			ps.pending = nil
			pc.cancel()
		}
		ps.mu.Unlock()
		c.logger.WithField("device", id).Debug("Connect abandoned by caller")
		return errmap.Map(errmap.OpConnect, wctx.Err())
	}
}

func (c *Core) runConnect(ctx context.Context, ps *peerState, pc *pendingConnect) {
	defer pc.cancel()
	c.logger.WithFields(logrus.Fields{
		"device":    ps.id,
		"goroutine": groutine.GetName(ctx),
	}).Debug("Connecting")

	peer, err := c.stack.Connect(ctx, string(ps.id))

	ps.mu.Lock()
	abandoned := ps.pending != pc
	if !abandoned {
		ps.pending = nil
	}

	if err != nil {
		pc.err = errmap.Map(errmap.OpConnect, err)
		ps.mu.Unlock()
		close(pc.done)
		c.logger.WithError(err).WithField("device", ps.id).Debug("Connect failed")
		return
	}

	if abandoned || c.isClosed() {
		pc.err = ble.NewError(ble.Other, errmap.OpConnect, "connection attempt cancelled")
		if c.isClosed() {
			pc.err = ble.NewError(ble.AdapterUnavailable, errmap.OpConnect, "backend closed")
		}
		ps.mu.Unlock()
		close(pc.done)
		if derr := peer.Disconnect(); derr != nil {
			c.logger.WithError(derr).WithField("device", ps.id).Debug("Disconnect of abandoned link failed")
		}
		return
	}

	ps.gen++
	conn := newConnection(c.ctx, c, ps.id, ps.gen, peer)
	ps.conn = conn
	if n := peer.Name(); n != "" {
		ps.name = n
	}
	ps.mu.Unlock()
	close(pc.done)

	c.logger.WithFields(logrus.Fields{
		"device": ps.id,
		"gen":    conn.gen,
	}).Info("Connected")
	c.publishConnection(ps.id, true, nil)
}

// Disconnect closes the link to id. It is a no-op when id is not connected.
func (c *Core) Disconnect(ctx context.Context, id ble.DeviceID) error {
	ps, ok := c.peers.Get(id)
	if !ok {
		return nil
	}

	ps.mu.Lock()
	if pc := ps.pending; pc != nil {
		ps.pending = nil
		pc.cancel()
	}
	conn := ps.conn
	ps.mu.Unlock()
	if conn == nil {
		return nil
	}

	conn.unsubscribeAll(c.logger)
	c.invalidate(ps, conn, ble.NewError(ble.NotConnected, errmap.OpDisconnect, "device disconnected"), nil)

	dctx, cancel := withTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	done := make(chan error, 1)
	groutine.Go(dctx, "ble-disconnect", func(context.Context) {
		done <- conn.peer.Disconnect()
	})
	select {
	case err := <-done:
		if err != nil {
			return errmap.Map(errmap.OpDisconnect, err)
		}
		return nil
	case <-dctx.Done():
		return errmap.Map(errmap.OpDisconnect, dctx.Err())
	}
}

// invalidate retires conn if it is still current: handles go stale, queued
// operations fail and notification streams end with failErr. event is the
// error carried by the published ConnectionEvent, nil for a requested disconnect.
func (c *Core) invalidate(ps *peerState, conn *connection, failErr, event error) {
	ps.mu.Lock()
	if ps.conn != conn {
		ps.mu.Unlock()
		return
	}
	ps.conn = nil
	ps.mu.Unlock()

	conn.close(failErr)

	c.logger.WithFields(logrus.Fields{
		"device": ps.id,
		"gen":    conn.gen,
		"cause":  failErr,
	}).Info("Disconnected")
	c.publishConnection(ps.id, false, event)
}

func (c *Core) onNativeDisconnect(p native.Peer, err error) {
	if p == nil {
		return
	}
	ps, ok := c.peers.Get(ble.DeviceID(p.ID()))
	if !ok {
		return
	}
	conn := ps.current()
	if conn == nil || conn.peer != p {
		c.logger.WithField("device", ps.id).Debug("Ignoring disconnect of a stale link")
		return
	}

	cause := &ble.Error{Kind: ble.NotConnected, Op: errmap.OpDisconnect, Msg: "device disconnected", Err: err}
	c.invalidate(ps, conn, cause, cause)
}

// connected returns the current connection of id.
func (c *Core) connected(id ble.DeviceID, op string) (*connection, error) {
	ps, ok := c.peers.Get(id)
	if ok {
		if conn := ps.current(); conn != nil {
			return conn, nil
		}
	}
	return nil, ble.NewError(ble.NotConnected, op, "device %s is not connected", id)
}

// resolve maps ref to its attribute on the current connection.
func (c *Core) resolve(ref AttrRef, op string, kinds ...AttrKind) (*connection, attrEntry, error) {
	conn, err := c.connected(ref.Device, op)
	if err != nil {
		return nil, attrEntry{}, err
	}
	if conn.gen != ref.Gen {
		return nil, attrEntry{}, ble.NewError(ble.NotConnected, op, "%s belongs to a previous connection", ref)
	}
	e, ok := conn.attr(ref.ID)
	if !ok || !containsKind(kinds, e.kind) {
		return nil, attrEntry{}, ble.NewError(ble.NotFound, op, "no %s %s", kindsName(kinds), ref)
	}
	return conn, e, nil
}

func containsKind(kinds []AttrKind, k AttrKind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

func kindsName(kinds []AttrKind) string {
	if len(kinds) == 1 {
		return kinds[0].String()
	}
	return "attribute"
}

// fanout shares one native subscription between several notification streams.
type fanout struct {
	chr native.Characteristic

	mu     sync.Mutex
	sinks  map[uint64]*stream.Sink[[]byte]
	nextID uint64
	active bool
}

func newFanout(chr native.Characteristic) *fanout {
	return &fanout{chr: chr, sinks: make(map[uint64]*stream.Sink[[]byte])}
}

func (f *fanout) add(sink *stream.Sink[[]byte]) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sinks[f.nextID] = sink
	return f.nextID
}

// remove drops one sink and reports how many remain.
func (f *fanout) remove(id uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sinks, id)
	return len(f.sinks)
}

func (f *fanout) isActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fanout) setActive(v bool) {
	f.mu.Lock()
	f.active = v
	f.mu.Unlock()
}

// deliver hands every subscriber its own copy of value.
func (f *fanout) deliver(value []byte) {
	f.mu.Lock()
	sinks := make([]*stream.Sink[[]byte], 0, len(f.sinks))
	for _, s := range f.sinks {
		sinks = append(sinks, s)
	}
	f.mu.Unlock()

	for _, s := range sinks {
		s.Push(append([]byte(nil), value...))
	}
}

func (f *fanout) fail(err error) {
	f.mu.Lock()
	sinks := f.sinks
	f.sinks = make(map[uint64]*stream.Sink[[]byte])
	f.active = false
	f.mu.Unlock()

	for _, s := range sinks {
		s.Fail(err)
	}
}
