// Package ratelimit paces page transitions against remote recruitment sites.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultPageDelay is the pause between consecutive page loads of one site.
const DefaultPageDelay = 200 * time.Millisecond

// Pacer enforces a minimum gap between consecutive requests sharing a key
// (normally the remote host). Callers reserve the next free slot under the
// lock, so concurrent waiters on the same key are serialized.
type Pacer struct {
	mu        sync.Mutex
	next      map[string]time.Time
	minDelay  time.Duration
	overrides map[string]time.Duration
	now       func() time.Time
}

// NewPacer returns a pacer with minDelay between requests for any key.
func NewPacer(minDelay time.Duration) *Pacer {
	return &Pacer{
		next:      make(map[string]time.Time),
		minDelay:  minDelay,
		overrides: make(map[string]time.Duration),
		now:       time.Now,
	}
}

// SetDelay overrides the gap for one key.
func (p *Pacer) SetDelay(key string, d time.Duration) {
	p.mu.Lock()
	p.overrides[key] = d
	p.mu.Unlock()
}

func (p *Pacer) delayFor(key string) time.Duration {
	if d, ok := p.overrides[key]; ok {
		return d
	}
	return p.minDelay
}

// Wait blocks until the caller's slot for key arrives.
// The first request for a key never waits.
func (p *Pacer) Wait(ctx context.Context, key string) error {
	p.mu.Lock()
	now := p.now()
	slot, ok := p.next[key]
	if !ok || slot.Before(now) {
		slot = now
	}
	p.next[key] = slot.Add(p.delayFor(key))
	p.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pacer wait for %s: %w", key, ctx.Err())
	case <-timer.C:
		return nil
	}
}
