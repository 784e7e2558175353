package backend

import (
	"context"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/errmap"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/ble"
	"github.com/srg/blecentral/pkg/stream"
)

// matches reports whether u passes filter; an empty filter passes everything.
func matches(filter []ble.UUID, u ble.UUID) bool {
	return len(filter) == 0 || slices.Contains(filter, u)
}

// call runs fn on the connection queue, bounded by RequestTimeout.
func call[T any](ctx context.Context, c *Core, conn *connection, op string, fn func() (T, error)) (T, error) {
	rctx, cancel := withTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	v, err := submit(rctx, conn.queue, fn)
	if err != nil {
		return v, errmap.Map(op, err)
	}
	return v, nil
}

func (c *Core) DiscoverServices(ctx context.Context, id ble.DeviceID, filter []ble.UUID) ([]AttrInfo, error) {
	conn, err := c.connected(id, errmap.OpDiscover)
	if err != nil {
		return nil, err
	}

	svcs, err := call(ctx, c, conn, errmap.OpDiscover, func() ([]native.Service, error) {
		return conn.peer.DiscoverServices(filter)
	})
	if err != nil {
		return nil, err
	}

	out := make([]AttrInfo, 0, len(svcs))
	for _, s := range svcs {
		if matches(filter, s.UUID()) {
			out = append(out, conn.register(KindService, s, 0))
		}
	}
	c.logger.WithFields(logrus.Fields{
		"device":   id,
		"services": len(out),
	}).Debug("Services discovered")
	return out, nil
}

func (c *Core) DiscoverCharacteristics(ctx context.Context, svc AttrRef, filter []ble.UUID) ([]AttrInfo, error) {
	conn, e, err := c.resolve(svc, errmap.OpDiscover, KindService)
	if err != nil {
		return nil, err
	}
	nsvc := e.handle.(native.Service)

	chars, err := call(ctx, c, conn, errmap.OpDiscover, func() ([]native.Characteristic, error) {
		return conn.peer.DiscoverCharacteristics(nsvc, filter)
	})
	if err != nil {
		return nil, err
	}

	out := make([]AttrInfo, 0, len(chars))
	for _, ch := range chars {
		if matches(filter, ch.UUID()) {
			out = append(out, conn.register(KindCharacteristic, ch, ble.CharacteristicProperty(ch.Properties())))
		}
	}
	return out, nil
}

func (c *Core) DiscoverDescriptors(ctx context.Context, chr AttrRef) ([]AttrInfo, error) {
	conn, e, err := c.resolve(chr, errmap.OpDiscover, KindCharacteristic)
	if err != nil {
		return nil, err
	}
	nchr := e.handle.(native.Characteristic)

	descs, err := call(ctx, c, conn, errmap.OpDiscover, func() ([]native.Descriptor, error) {
		return conn.peer.DiscoverDescriptors(nchr)
	})
	if err != nil {
		return nil, err
	}

	out := make([]AttrInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, conn.register(KindDescriptor, d, 0))
	}
	return out, nil
}

func (c *Core) Read(ctx context.Context, ref AttrRef) ([]byte, error) {
	conn, e, err := c.resolve(ref, errmap.OpRead, KindCharacteristic, KindDescriptor)
	if err != nil {
		return nil, err
	}

	if e.kind == KindDescriptor {
		d := e.handle.(native.Descriptor)
		return call(ctx, c, conn, errmap.OpRead, func() ([]byte, error) {
			return conn.peer.ReadDescriptor(d)
		})
	}

	if e.props != 0 && !e.props.Has(ble.PropRead) {
		return nil, ble.NewError(ble.ReadNotSupported, errmap.OpRead, "characteristic %s is not readable", ble.FormatUUID(e.uuid))
	}
	ch := e.handle.(native.Characteristic)
	return call(ctx, c, conn, errmap.OpRead, func() ([]byte, error) {
		return conn.peer.Read(ch)
	})
}

func (c *Core) Write(ctx context.Context, ref AttrRef, data []byte, mode ble.WriteMode) error {
	conn, e, err := c.resolve(ref, errmap.OpWrite, KindCharacteristic, KindDescriptor)
	if err != nil {
		return err
	}
	buf := slices.Clone(data)

	if e.kind == KindDescriptor {
		d := e.handle.(native.Descriptor)
		_, err := call(ctx, c, conn, errmap.OpWrite, func() (struct{}, error) {
			return struct{}{}, conn.peer.WriteDescriptor(d, buf)
		})
		return err
	}

	want := ble.PropWrite
	if mode == ble.WithoutResponse {
		want = ble.PropWriteWithoutResponse
	}
	if e.props != 0 && !e.props.Has(want) {
		return ble.NewError(ble.WriteNotSupported, errmap.OpWrite, "characteristic %s does not support %s", ble.FormatUUID(e.uuid), mode)
	}

	ch := e.handle.(native.Characteristic)
	_, err = call(ctx, c, conn, errmap.OpWrite, func() (struct{}, error) {
		return struct{}{}, conn.peer.Write(ch, buf, mode == ble.WithResponse)
	})
	return err
}

// Subscribe opens a notification stream. The native subscription is enabled by
// the first stream of a characteristic and disabled when the last one closes.
func (c *Core) Subscribe(ctx context.Context, chr AttrRef) (*stream.Stream[[]byte], error) {
	conn, e, err := c.resolve(chr, errmap.OpSubscribe, KindCharacteristic)
	if err != nil {
		return nil, err
	}
	if e.props != 0 && !e.props.CanSubscribe() {
		return nil, ble.NewError(ble.NotSupported, errmap.OpSubscribe, "characteristic %s supports neither notify nor indicate", ble.FormatUUID(e.uuid))
	}

	conn.subOps.Lock()
	defer conn.subOps.Unlock()

	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return nil, ble.NewError(ble.NotConnected, errmap.OpSubscribe, "device %s is not connected", chr.Device)
	}
	f, ok := conn.subs[e.id]
	if !ok {
		f = newFanout(e.handle.(native.Characteristic))
		conn.subs[e.id] = f
	}
	conn.mu.Unlock()

	opts := c.opts.NotifyBuffer
	opts.Name = "notify " + ble.FormatUUID(e.uuid)
	var sid uint64
	s, sink := stream.New[[]byte](opts, func() {
		c.releaseSubscription(conn, e.id, f, sid)
	})
	sid = f.add(sink)

	if !f.isActive() {
		req := &subscribeRequest{}
		_, err := call(ctx, c, conn, errmap.OpSubscribe, func() (struct{}, error) {
			return struct{}{}, req.run(conn.peer, f)
		})
		if err != nil {
			if req.abandon() {
				// The caller gave up after the native subscribe had already succeeded.
				c.disableNotifications(conn, f)
			}
			if f.remove(sid) == 0 {
				conn.dropFanout(e.id, f)
			}
			sink.Fail(err)
			return nil, err
		}
		f.setActive(true)
		c.logger.WithFields(logrus.Fields{
			"device":         chr.Device,
			"characteristic": ble.FormatUUID(e.uuid),
		}).Debug("Notifications enabled")
	}
	return s, nil
}

func (c *Core) releaseSubscription(conn *connection, id uint64, f *fanout, sid uint64) {
	conn.subOps.Lock()
	defer conn.subOps.Unlock()

	if f.remove(sid) > 0 {
		return
	}
	if !conn.dropFanout(id, f) || !f.isActive() {
		return
	}
	f.setActive(false)
	c.disableNotifications(conn, f)
}

func (c *Core) disableNotifications(conn *connection, f *fanout) {
	_, err := call(context.Background(), c, conn, errmap.OpSubscribe, func() (struct{}, error) {
		return struct{}{}, conn.peer.Unsubscribe(f.chr)
	})
	if err != nil {
		c.logger.WithError(err).WithField("device", conn.device).Debug("Disabling notifications failed")
		return
	}
	c.logger.WithFields(logrus.Fields{
		"device":         conn.device,
		"characteristic": ble.FormatUUID(f.chr.UUID()),
	}).Debug("Notifications disabled")
}

// subscribeRequest resolves a native subscribe whose caller may stop waiting
// while it is still queued.
type subscribeRequest struct {
	mu        sync.Mutex
	finished  bool
	enabled   bool
	abandoned bool
}

// run performs the native subscribe from the GATT queue. If the caller has
// already given up, a successful subscription is undone on the spot.
func (r *subscribeRequest) run(peer native.Peer, f *fanout) error {
	err := peer.Subscribe(f.chr, f.deliver)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	r.enabled = err == nil
	if r.enabled && r.abandoned {
		r.enabled = false
		_ = peer.Unsubscribe(f.chr)
	}
	return err
}

// abandon marks the request as given up. It reports whether the native
// subscription is already enabled and must be disabled by the caller.
func (r *subscribeRequest) abandon() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned = true
	return r.finished && r.enabled
}

// dropFanout removes f from the table if it is still registered under id.
func (cn *connection) dropFanout(id uint64, f *fanout) bool {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.subs[id] != f {
		return false
	}
	delete(cn.subs, id)
	return true
}

func (c *Core) MTU(ctx context.Context, id ble.DeviceID) (int, error) {
	conn, err := c.connected(id, errmap.OpRead)
	if err != nil {
		return 0, err
	}
	return call(ctx, c, conn, errmap.OpRead, func() (int, error) {
		return conn.peer.MTU()
	})
}
