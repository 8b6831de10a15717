// Package cache provides the two time-boxed primitives every discovery and
// execution path shares: a TTL map for completed payloads and a call group
// that collapses concurrent identical requests onto one in-flight outcome.
package cache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type entry[V any] struct {
	value V
	at    time.Time
}

// Cache is a time-boxed map of {payload, timestamp} entries. Entries older
// than the window are treated as absent, never served.
type Cache[V any] struct {
	window time.Duration
	m      *xsync.MapOf[string, entry[V]]
}

// New returns a Cache whose entries expire window past their write.
func New[V any](window time.Duration) *Cache[V] {
	return &Cache[V]{
		window: window,
		m:      xsync.NewMapOf[string, entry[V]](),
	}
}

// Get returns the entry under key if it is younger than the window.
func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.m.Load(key)
	if !ok || time.Since(e.at) >= c.window {
		var zero V
		return zero, false
	}

	return e.value, true
}

// Put stores value under key with the current timestamp.
func (c *Cache[V]) Put(key string, value V) {
	c.m.Store(key, entry[V]{value: value, at: time.Now()})
}

// Delete drops the entry under key.
func (c *Cache[V]) Delete(key string) {
	c.m.Delete(key)
}

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Group collapses concurrent calls sharing a key onto one underlying call.
// A successful outcome is retained for a window past completion so that
// near-simultaneous duplicate triggers reuse it; a failed outcome is dropped
// as soon as it completes, so a retry re-runs immediately. A call that
// legitimately must re-run sooner than the window is blocked until eviction;
// callers accept that tradeoff in exchange for bounded call volume.
type Group[V any] struct {
	m *xsync.MapOf[string, *call[V]]
}

// NewGroup returns an empty call group.
func NewGroup[V any]() *Group[V] {
	return &Group[V]{m: xsync.NewMapOf[string, *call[V]]()}
}

// Do returns the shared outcome for key, invoking fn only when no in-flight
// or recently completed call exists. Joining callers block on the shared
// call; their own ctx cancellation releases them without cancelling it.
func (g *Group[V]) Do(ctx context.Context, key string, window time.Duration, fn func() (V, error)) (V, error) {
	c := &call[V]{done: make(chan struct{})}

	actual, loaded := g.m.LoadOrStore(key, c)
	if loaded {
		select {
		case <-actual.done:
			return actual.val, actual.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}

	c.val, c.err = fn()
	close(c.done)

	if c.err != nil {
		g.evict(key, c)
	} else {
		time.AfterFunc(window, func() { g.evict(key, c) })
	}

	return c.val, c.err
}

// Pending reports whether an outcome for key is currently shared.
func (g *Group[V]) Pending(key string) bool {
	_, ok := g.m.Load(key)
	return ok
}

// evict removes key only while it still maps to c, so a newer call that
// replaced it is left alone.
func (g *Group[V]) evict(key string, c *call[V]) {
	g.m.Compute(key, func(old *call[V], loaded bool) (*call[V], bool) {
		if loaded && old == c {
			return nil, true
		}
		return old, !loaded
	})
}
