package optisync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/optisync/codec"
	"github.com/unkn0wn-root/optisync/genstore"
	"github.com/unkn0wn-root/optisync/internal/wire"
	"github.com/unkn0wn-root/optisync/provider"
)

const (
	defaultGenRetention = 30 * 24 * time.Hour
	defaultSweep        = time.Hour
)

// Snapshot is the exact stored form of one entry, captured before an
// optimistic update. The zero value means "absent".
type Snapshot struct {
	raw []byte
	ok  bool
}

// Present reports whether an entry existed when the snapshot was taken.
func (s Snapshot) Present() bool { return s.ok }

type cache[V any] struct {
	ns             string
	provider       provider.Provider
	codec          codec.Codec[V]
	log            Logger
	hooks          Hooks
	enabled        bool
	defaultTTL     time.Duration
	staleAfter     time.Duration
	sweepInterval  time.Duration
	genRetention   time.Duration
	computeSetCost SetCostFunc
	gens           genstore.GenStore
	now            func() time.Time

	// mu orders record writes against reads: a reader never observes a
	// bumped generation without the record written under it.
	mu sync.RWMutex

	fetchMu  sync.RWMutex
	fetchers map[string]Fetcher[V]
	flight   singleflight.Group

	subs subscribers

	// background refetches
	baseCtx   context.Context
	cancel    context.CancelFunc
	bgMu      sync.Mutex
	bg        sync.WaitGroup
	closed    bool
	closeOnce sync.Once
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("optisync: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("optisync: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("optisync: namespace is required")
	}

	c := &cache[V]{
		ns:         opts.Namespace,
		provider:   opts.Provider,
		codec:      opts.Codec,
		enabled:    !opts.Disabled,
		staleAfter: opts.StaleAfter,
		fetchers:   make(map[string]Fetcher[V]),
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, 10*time.Minute)
	c.sweepInterval = coalesce[time.Duration](opts.CleanupInterval, defaultSweep)
	c.genRetention = coalesce[time.Duration](opts.GenRetention, defaultGenRetention)

	if opts.ComputeSetCost != nil {
		c.computeSetCost = opts.ComputeSetCost
	} else {
		c.computeSetCost = func(_ string, _ []byte) int64 { return 1 }
	}
	if opts.Now != nil {
		c.now = opts.Now
	} else {
		c.now = time.Now
	}

	if opts.GenStore != nil {
		c.gens = opts.GenStore
	} else {
		// default to in-process generations with periodic cleanup
		c.gens = genstore.NewLocalGenStore(c.sweepInterval, c.genRetention)
	}

	c.baseCtx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.bgMu.Lock()
		c.closed = true
		c.bgMu.Unlock()
		c.cancel()
		c.bg.Wait()

		// gen store first (best effort)
		if c.gens != nil {
			_ = c.gens.Close(ctx)
		}
		if c.provider != nil {
			err = c.provider.Close(ctx)
		}
	})
	return err
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	e, ok, err := c.getEntry(ctx, key)
	return e.Value, ok, err
}

func (c *cache[V]) GetEntry(ctx context.Context, key string) (Entry[V], bool, error) {
	return c.getEntry(ctx, key)
}

func (c *cache[V]) getEntry(ctx context.Context, key string) (Entry[V], bool, error) {
	e := Entry[V]{Key: key}
	if !c.enabled {
		return e, false, nil
	}
	k := c.storageKey(key)

	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok, err := c.readRecord(ctx, k)
	if err != nil || !ok {
		return e, false, err
	}
	v, err := c.codec.Decode(rec.Payload)
	if err != nil {
		c.selfHeal(ctx, k, "value_decode")
		return e, false, nil
	}
	e.Value = v
	e.FetchedAt = time.Unix(0, rec.FetchedAt)
	e.Stale = rec.Stale
	return e, true, nil
}

// readRecord returns the current record for k, deleting it when it is corrupt
// or written under an older generation. Callers hold c.mu.
func (c *cache[V]) readRecord(ctx context.Context, k string) (wire.Record, bool, error) {
	raw, ok, err := c.provider.Get(ctx, k)
	if err != nil || !ok {
		return wire.Record{}, false, err
	}
	rec, err := wire.Decode(raw)
	if err != nil {
		c.selfHeal(ctx, k, "corrupt")
		return wire.Record{}, false, nil
	}
	if rec.Gen != c.snapshotGen(k) {
		c.selfHeal(ctx, k, "gen_mismatch")
		return wire.Record{}, false, nil
	}
	return rec, true, nil
}

func (c *cache[V]) selfHeal(ctx context.Context, k, reason string) {
	_ = c.provider.Del(ctx, k)
	c.hooks.SelfHeal(k, reason)
	c.log.Debug("dropped unreadable entry", Fields{"key": k, "reason": reason})
}

func (c *cache[V]) Set(ctx context.Context, key string, value V) error {
	if !c.enabled {
		return nil
	}
	payload, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	k := c.storageKey(key)

	c.mu.Lock()
	g, err := c.bumpGen(k)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	err = c.write(ctx, k, wire.Encode(wire.Record{Gen: g, FetchedAt: c.now().UnixNano(), Payload: payload}))
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.subs.notify(Event{Key: key, Kind: EventUpdated})
	return nil
}

func (c *cache[V]) SetWithGen(ctx context.Context, key string, value V, observedGen uint64) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	payload, err := c.codec.Encode(value)
	if err != nil {
		return false, err
	}
	k := c.storageKey(key)

	c.mu.Lock()
	if c.snapshotGen(k) != observedGen {
		c.mu.Unlock()
		// generation moved; skip stale write
		c.log.Debug("SetWithGen skipped (gen mismatch)", Fields{"key": key, "obs": observedGen})
		return false, nil
	}
	err = c.write(ctx, k, wire.Encode(wire.Record{Gen: observedGen, FetchedAt: c.now().UnixNano(), Payload: payload}))
	c.mu.Unlock()
	if err != nil {
		return false, err
	}

	c.subs.notify(Event{Key: key, Kind: EventUpdated})
	return true, nil
}

// Invalidate marks the entry stale and keeps its value for display. Invalidating
// an entry that is already stale is a no-op; an absent entry only gets its
// generation bumped so fetches already in flight cannot populate it.
func (c *cache[V]) Invalidate(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	k := c.storageKey(key)

	c.mu.Lock()
	rec, ok, err := c.readRecord(ctx, k)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !ok {
		_, _ = c.bumpGen(k)
		c.mu.Unlock()
		return nil
	}
	if rec.Stale {
		c.mu.Unlock()
		return nil
	}

	newGen, bumpErr := c.bumpGen(k)
	if bumpErr != nil {
		// record stays readable under the old generation
		newGen = rec.Gen
	}
	rec.Gen = newGen
	rec.Stale = true
	writeErr := c.write(ctx, k, wire.Encode(rec))
	c.mu.Unlock()

	if bumpErr != nil && writeErr != nil {
		c.hooks.InvalidateOutage(key, bumpErr, writeErr)
		return &InvalidateError{Key: key, BumpErr: bumpErr, WriteErr: writeErr}
	}
	if writeErr != nil {
		// old record no longer matches the bumped generation; the next read drops it
		c.log.Warn("stale write failed after gen bump", Fields{"key": key, "err": writeErr})
	}
	c.log.Debug("invalidated key (bumped gen + marked stale)", Fields{"key": key, "newGen": newGen})

	c.subs.notify(Event{Key: key, Kind: EventInvalidated})
	c.refetchInBackground(key)
	return nil
}

func (c *cache[V]) Remove(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	k := c.storageKey(key)

	c.mu.Lock()
	_, _ = c.bumpGen(k)
	err := c.provider.Del(ctx, k)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.subs.notify(Event{Key: key, Kind: EventRemoved})
	return nil
}

// Apply captures the current entry and replaces it with transform(old) in one
// step. The returned Snapshot restores the captured bytes exactly.
func (c *cache[V]) Apply(ctx context.Context, key string, transform func(old V, ok bool) V) (Snapshot, error) {
	if !c.enabled {
		return Snapshot{}, nil
	}
	k := c.storageKey(key)

	c.mu.Lock()
	raw, ok, err := c.provider.Get(ctx, k)
	if err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}

	var (
		old  V
		has  bool
		snap Snapshot
	)
	if ok {
		if rec, err := wire.Decode(raw); err == nil && rec.Gen == c.snapshotGen(k) {
			if v, err := c.codec.Decode(rec.Payload); err == nil {
				old, has = v, true
				snap = Snapshot{raw: append([]byte(nil), raw...), ok: true}
			}
		}
	}

	payload, err := c.codec.Encode(transform(old, has))
	if err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	g, err := c.bumpGen(k)
	if err != nil {
		c.mu.Unlock()
		return Snapshot{}, err
	}
	err = c.write(ctx, k, wire.Encode(wire.Record{Gen: g, FetchedAt: c.now().UnixNano(), Payload: payload}))
	c.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}

	c.subs.notify(Event{Key: key, Kind: EventUpdated})
	return snap, nil
}

// Restore writes snap back under a fresh generation. Payload, fetch time and
// stale flag are carried over byte-for-byte; an absent snapshot removes the entry.
func (c *cache[V]) Restore(ctx context.Context, key string, snap Snapshot) error {
	if !c.enabled {
		return nil
	}
	k := c.storageKey(key)

	c.mu.Lock()
	g, err := c.bumpGen(k)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if !snap.ok {
		err = c.provider.Del(ctx, k)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		c.subs.notify(Event{Key: key, Kind: EventRemoved})
		return nil
	}

	rec, err := wire.Decode(snap.raw)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	out, err := wire.Rewrite(snap.raw, g, rec.Stale)
	if err == nil {
		err = c.write(ctx, k, out)
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.subs.notify(Event{Key: key, Kind: EventUpdated})
	return nil
}

func (c *cache[V]) Register(key string, fetch Fetcher[V]) {
	c.fetchMu.Lock()
	if fetch == nil {
		delete(c.fetchers, key)
	} else {
		c.fetchers[key] = fetch
	}
	c.fetchMu.Unlock()
}

func (c *cache[V]) fetcher(key string) Fetcher[V] {
	c.fetchMu.RLock()
	f := c.fetchers[key]
	c.fetchMu.RUnlock()
	return f
}

func (c *cache[V]) Load(ctx context.Context, key string) (V, error) {
	return c.LoadWith(ctx, key, c.fetcher(key))
}

// LoadWith returns the cached value when fresh. Otherwise it fetches and writes
// the result iff the generation observed before the fetch is still current.
// Concurrent loads of the same key and generation share one fetch.
func (c *cache[V]) LoadWith(ctx context.Context, key string, fetch Fetcher[V]) (V, error) {
	var zero V
	if fetch == nil {
		return zero, fmt.Errorf("%w: %q", ErrNoFetcher, key)
	}
	if !c.enabled {
		return fetch(ctx, key)
	}
	if c.isClosed() {
		return zero, ErrClosed
	}

	// snapshot before reading: a write after this point fails the CAS below
	k := c.storageKey(key)
	obs := c.snapshotGen(k)

	e, ok, err := c.getEntry(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed; fetching", Fields{"key": key, "err": err})
	}
	if ok && !c.isStale(e) {
		return e.Value, nil
	}

	// the shared fetch outlives any single caller; each caller waits on its own ctx
	fctx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(k+"@"+strconv.FormatUint(obs, 10), func() (any, error) {
		return fetch(fctx, key)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if res.Err != nil {
		return zero, res.Err
	}
	v, _ := res.Val.(V)

	written, err := c.SetWithGen(ctx, key, v, obs)
	if err != nil {
		c.log.Warn("caching fetched value failed", Fields{"key": key, "err": err})
		return v, nil
	}
	if !written {
		// an optimistic update landed while fetching; prefer it while fresh
		if cur, ok, _ := c.getEntry(ctx, key); ok && !cur.Stale {
			return cur.Value, nil
		}
	}
	return v, nil
}

func (c *cache[V]) isStale(e Entry[V]) bool {
	if e.Stale {
		return true
	}
	return c.staleAfter > 0 && c.now().Sub(e.FetchedAt) > c.staleAfter
}

func (c *cache[V]) isClosed() bool {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	return c.closed
}

// refetchInBackground reloads key when a view is subscribed to it.
func (c *cache[V]) refetchInBackground(key string) {
	if !c.subs.has(key) {
		return
	}
	fetch := c.fetcher(key)
	if fetch == nil {
		return
	}

	c.bgMu.Lock()
	if c.closed {
		c.bgMu.Unlock()
		return
	}
	c.bg.Add(1)
	c.bgMu.Unlock()

	go func() {
		defer c.bg.Done()
		if _, err := c.LoadWith(c.baseCtx, key, fetch); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed) {
				return
			}
			c.hooks.RefetchError(key, err)
			c.log.Warn("background refetch failed", Fields{"key": key, "err": err})
		}
	}()
}

func (c *cache[V]) Subscribe(key string, fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	return c.subs.add(key, fn)
}

func (c *cache[V]) SnapshotGen(key string) uint64 {
	return c.snapshotGen(c.storageKey(key))
}

func (c *cache[V]) write(ctx context.Context, k string, raw []byte) error {
	ok, err := c.provider.Set(ctx, k, raw, c.computeSetCost(k, raw), c.defaultTTL)
	if err != nil {
		return err
	}
	if !ok {
		c.hooks.ProviderSetRejected(k)
		c.log.Debug("Set rejected by provider (pressure)", Fields{"key": k})
	}
	return nil
}

func (c *cache[V]) snapshotGen(storageKey string) uint64 {
	g, err := c.gens.Snapshot(context.Background(), storageKey)
	if err != nil {
		// Conservative: treat as 0 so CAS writes will skip; reads will self-heal
		c.hooks.GenSnapshotError(storageKey, err)
		c.log.Warn("gen snapshot error", Fields{"key": storageKey, "err": err})
		return 0
	}
	return g
}

func (c *cache[V]) bumpGen(storageKey string) (uint64, error) {
	g, err := c.gens.Bump(context.Background(), storageKey)
	if err != nil {
		c.hooks.GenBumpError(storageKey, err)
		c.log.Error("gen bump error", Fields{"key": storageKey, "err": err})
		return 0, err
	}
	return g, nil
}

func (c *cache[V]) storageKey(userKey string) string {
	// isolate by namespace
	return "q:" + c.ns + ":" + userKey
}
