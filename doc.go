// Package optisync implements a provider-agnostic query cache with optimistic
// mutations. Every write goes through a per-key generation (as in a CAS
// cache), so a fetch that started before an optimistic update or an
// invalidation can never overwrite the newer state.
//
// Components:
//   - Provider: byte store with TTL (e.g. Ristretto, BigCache, Redis, memory).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - GenStore: generation counter per query identity. Local by default.
//   - Synchronizer[V]: snapshot -> optimistic Set -> remote call -> commit
//     (Invalidate) or rollback (Restore snapshot).
//
// Keys:
//
//	q:<ns>:<key>  - one entry per query identity
//
// Mutation flow:
//
//	p := optisync.Execute(ctx, sync, optisync.Mutation[Artwork, struct{}]{
//	    Key:       "artwork:42",
//	    Transform: func(old Artwork, ok bool) Artwork { old.Pick = true; return old },
//	    Remote:    func(ctx context.Context) (struct{}, error) { return struct{}{}, api.PostPrefer(ctx, 42) },
//	})
//	_, err := p.Wait(ctx) // Committed: entry invalidated; RolledBack: snapshot restored
package optisync
