package backend

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/advert"
	"github.com/srg/blecentral/internal/errmap"
	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/ble"
	"github.com/srg/blecentral/pkg/stream"
)

type scanSession struct {
	filter []ble.UUID
	sink   *stream.Sink[Advertisement]
	active atomic.Bool
	seen   atomic.Uint64
}

// StartScan begins discovery. Only one scan may run at a time; closing the
// returned stream stops it, after which no further advertisement is delivered.
func (c *Core) StartScan(ctx context.Context, filter []ble.UUID) (*stream.Stream[Advertisement], error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ble.NewError(ble.AdapterUnavailable, errmap.OpScan, "backend closed")
	case !c.powered:
		c.mu.Unlock()
		return nil, ble.NewError(ble.AdapterUnavailable, errmap.OpScan, "bluetooth adapter is not powered on")
	case c.scan != nil:
		c.mu.Unlock()
		return nil, ble.NewError(ble.OperationInProgress, errmap.OpScan, "a scan is already running")
	}

	sess := &scanSession{filter: slices.Clone(filter)}
	sess.active.Store(true)
	s, sink := stream.New[Advertisement](c.opts.ScanBuffer, func() { c.stopScan(sess) })
	sess.sink = sink
	c.scan = sess
	c.mu.Unlock()

	err := c.stack.StartScan(sess.filter,
		func(raw native.RawAdvertisement) { c.onAdvertisement(sess, raw) },
		func(err error) { c.onScanStopped(sess, err) },
	)
	if err != nil {
		c.mu.Lock()
		if c.scan == sess {
			c.scan = nil
		}
		c.mu.Unlock()
		sess.active.Store(false)
		mapped := errmap.Map(errmap.OpScan, err)
		sink.Fail(mapped)
		return nil, mapped
	}

	c.logger.WithFields(logrus.Fields{
		"filter": formatUUIDs(sess.filter),
		"driver": c.stack.Name(),
	}).Info("Scan started")
	return s, nil
}

func (c *Core) stopScan(sess *scanSession) {
	if !sess.active.CompareAndSwap(true, false) {
		return
	}

	c.mu.Lock()
	current := c.scan == sess
	if current {
		c.scan = nil
	}
	c.mu.Unlock()

	if current {
		if err := c.stack.StopScan(); err != nil {
			c.logger.WithError(err).Warn("Failed to stop scan")
		}
	}
	c.logger.WithField("advertisements", sess.seen.Load()).Info("Scan stopped")
}

func (c *Core) onAdvertisement(sess *scanSession, raw native.RawAdvertisement) {
	if !sess.active.Load() {
		return
	}

	data := advert.Normalize(raw)
	if len(sess.filter) > 0 && !slices.ContainsFunc(sess.filter, data.HasService) {
		return
	}

	id := ble.DeviceID(raw.PeerID)
	ps := c.peer(id)
	name := raw.Name
	if name == "" {
		name = data.Name()
	}
	ps.setName(name)

	if sess.active.Load() && sess.sink.Push(Advertisement{
		Device: id,
		Name:   ps.displayName(),
		Data:   data,
		RSSI:   raw.RSSI,
	}) {
		sess.seen.Add(1)
	}
}

// onScanStopped handles a scan the platform ended on its own.
func (c *Core) onScanStopped(sess *scanSession, err error) {
	if !sess.active.CompareAndSwap(true, false) {
		return
	}
	c.mu.Lock()
	if c.scan == sess {
		c.scan = nil
	}
	powered := c.powered
	c.mu.Unlock()

	if err == nil {
		sess.sink.Finish()
		return
	}
	mapped := errmap.Map(errmap.OpScan, err)
	if !powered {
		mapped = ble.NewError(ble.AdapterUnavailable, errmap.OpScan, "bluetooth adapter powered off")
	}
	c.logger.WithError(mapped).Warn("Scan ended by the platform")
	sess.sink.Fail(mapped)
}

func formatUUIDs(us []ble.UUID) []string {
	out := make([]string, 0, len(us))
	for _, u := range us {
		out = append(out, ble.FormatUUID(u))
	}
	return out
}
