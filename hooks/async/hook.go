// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery:  10, // sample logs: ~every 10th self-heal
//	    SupersedeEvery: 1,  // log every superseded mutation
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := optisync.New[market.Artwork](optisync.Options[market.Artwork]{
//	    Namespace: "artwork",
//	    Provider:  memory.New(),
//	    Codec:     codec.JSON[market.Artwork]{},
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/optisync"
)

type Hooks struct {
	inner optisync.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	closed bool
}

var _ optisync.Hooks = (*Hooks)(nil)

func New(inner optisync.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events. Events arriving afterwards are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(k, r string)             { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string)     { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) GenSnapshotError(k string, err error) {
	h.try(func() { h.inner.GenSnapshotError(k, err) })
}
func (h *Hooks) GenBumpError(k string, err error) { h.try(func() { h.inner.GenBumpError(k, err) }) }
func (h *Hooks) InvalidateOutage(k string, be, we error) {
	h.try(func() { h.inner.InvalidateOutage(k, be, we) })
}
func (h *Hooks) RefetchError(k string, err error) { h.try(func() { h.inner.RefetchError(k, err) }) }
func (h *Hooks) MutationSuperseded(k string)      { h.try(func() { h.inner.MutationSuperseded(k) }) }
func (h *Hooks) MutationCommitted(k string)       { h.try(func() { h.inner.MutationCommitted(k) }) }
func (h *Hooks) MutationRolledBack(k string, err error) {
	h.try(func() { h.inner.MutationRolledBack(k, err) })
}
