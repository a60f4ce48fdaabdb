// Package provider defines the byte store behind every optisync cache.
//
// A cache keeps one framed record per query identity under "q:<ns>:<key>":
// the encoded value plus its generation, fetch time and stale flag. Mutation
// snapshots are those raw record bytes, and a rollback writes them back with
// Set. Rollback is therefore only exact if the store hands back, from Get, the
// very bytes it was given: no added metadata, no re-encoding. Compression and
// similar transforms must be fully reversed on Get.
//
// The "q:<ns>:" keyspace belongs to optisync. Anything else written there fails
// wire validation on the next read and is deleted.
package provider

import (
	"context"
	"time"
)

// Provider is a concurrency-safe byte store with TTLs. One provider may back
// several caches, each under its own namespace.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	// IO errors come back as (nil, false, err); the cache then treats the key
	// as absent for reads and refuses to snapshot it.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a framed record. cost is a hint for admission-based stores;
	// ok=false means the write was dropped under memory pressure, which the
	// cache reports through Hooks.ProviderSetRejected.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a record. Used by self-heal, Remove and the rollback of a
	// mutation whose key was absent.
	Del(ctx context.Context, key string) error

	// Close releases resources. The owner of a shared provider closes it once.
	Close(ctx context.Context) error
}
