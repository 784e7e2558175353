// Package groutine starts named goroutines. The name is attached as a pprof
// label, so goroutine profiles group BLE workers by role, and is available to
// the goroutine through its context for log fields.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

// LabelKey is the pprof label carrying the goroutine name.
const LabelKey = "goroutine_name"

// Go runs fn in a new goroutine labelled name.
//
//	groutine.Go(ctx, "scan-pump", func(ctx context.Context) {
//	    logger.WithField("goroutine", groutine.GetName(ctx)).Debug("started")
//	})
//
// A nil parent is treated as context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels(LabelKey, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// GetName returns the name given to Go, or "" outside a named goroutine.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
