package optisync

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/optisync/codec"
	gen "github.com/unkn0wn-root/optisync/genstore"
	pr "github.com/unkn0wn-root/optisync/provider"
)

type SetCostFunc func(key string, raw []byte) int64

// Fetcher loads the authoritative value of one query identity from the remote store.
type Fetcher[V any] func(ctx context.Context, key string) (V, error)

// Cache is the local, key-addressed store of server responses.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Reads. Get never fetches; Load fetches when absent or stale.
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	GetEntry(ctx context.Context, key string) (e Entry[V], ok bool, err error)
	Load(ctx context.Context, key string) (V, error)
	LoadWith(ctx context.Context, key string, fetch Fetcher[V]) (V, error)
	Register(key string, fetch Fetcher[V])

	// Writes
	Set(ctx context.Context, key string, value V) error
	Invalidate(ctx context.Context, key string) error
	Remove(ctx context.Context, key string) error

	// Optimistic updates
	Apply(ctx context.Context, key string, transform func(old V, ok bool) V) (Snapshot, error)
	Restore(ctx context.Context, key string, snap Snapshot) error

	// Generation snapshots (for CAS)
	SnapshotGen(key string) uint64
	SetWithGen(ctx context.Context, key string, value V, observedGen uint64) (written bool, err error)

	Subscribe(key string, fn func(Event)) (unsubscribe func())
}

// Entry is a cached value with its metadata.
type Entry[V any] struct {
	Key       string
	Value     V
	FetchedAt time.Time
	Stale     bool
}

// Options tune the behavior of the cache.
// Only Namespace, Provider and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "artwork", "feed"
	Provider  pr.Provider
	Codec     c.Codec[V]

	Logger          Logger        // if nil, NopLogger is used
	Hooks           Hooks         // if nil, NopHooks is used
	DefaultTTL      time.Duration // provider TTL; 0 => 10m
	StaleAfter      time.Duration // Load refetches entries older than this; 0 => never by age
	CleanupInterval time.Duration // 0 => 1h
	GenRetention    time.Duration // 0 => 30d
	Disabled        bool          // default false (enabled)
	ComputeSetCost  SetCostFunc   // default 1
	GenStore        gen.GenStore  // nil => LocalGenStore (in-process)
	Now             func() time.Time
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
