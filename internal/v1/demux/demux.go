// Package demux funnels per-bot readiness notifications into one channel so
// a single scheduler goroutine can wait on every hosted bot at once. Each bot
// registers a key (its session id) and signals it whenever background work
// completes; the scheduler wakes for whichever key fires first.
package demux

import (
	"sync"
	"time"
)

// Demuxer multiplexes readiness signals from many keys into one wait point.
// Duplicate signals for a key collapse until the key is consumed.
type Demuxer struct {
	mu         sync.Mutex
	registered map[string]bool
	pending    map[string]bool
	ready      chan string
}

func New() *Demuxer {
	return &Demuxer{
		registered: make(map[string]bool),
		pending:    make(map[string]bool),
		ready:      make(chan string, 1024),
	}
}

// Register adds a key to the demuxer.
func (d *Demuxer) Register(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registered[key] = true
}

// Unregister removes a key. A pending signal for it is discarded on the next
// Wait that drains it.
func (d *Demuxer) Unregister(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.registered, key)
	delete(d.pending, key)
}

// Notify marks a key ready. Signals for unregistered keys and keys already
// pending are dropped.
func (d *Demuxer) Notify(key string) {
	d.mu.Lock()
	if !d.registered[key] || d.pending[key] {
		d.mu.Unlock()
		return
	}
	d.pending[key] = true
	d.mu.Unlock()

	d.ready <- key
}

// Wait blocks until a registered key becomes ready or the timeout elapses.
func (d *Demuxer) Wait(timeout time.Duration) (string, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case key := <-d.ready:
			d.mu.Lock()
			delete(d.pending, key)
			ok := d.registered[key]
			d.mu.Unlock()
			if ok {
				return key, true
			}
			// Stale signal for a bot that was removed; keep waiting.
		case <-timer.C:
			return "", false
		}
	}
}

// Handle binds a key so bot internals can signal readiness without knowing
// the demuxer or their own session id.
type Handle struct {
	d   *Demuxer
	key string
}

func (d *Demuxer) Handle(key string) *Handle {
	return &Handle{d: d, key: key}
}

func (h *Handle) Notify() {
	if h != nil && h.d != nil {
		h.d.Notify(h.key)
	}
}
