package optisync

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache and synchronizer call them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// GenStore errors (snapshot or bump).
	GenSnapshotError(storageKey string, err error)
	GenBumpError(storageKey string, err error)

	// Both gen bump and stale write failed during Invalidate (likely backend outage).
	InvalidateOutage(key string, bumpErr, writeErr error)

	// A background refetch after Invalidate failed.
	RefetchError(key string, err error)

	// Mutation outcomes.
	MutationSuperseded(key string)
	MutationCommitted(key string)
	MutationRolledBack(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) ProviderSetRejected(string)            {}
func (NopHooks) GenSnapshotError(string, error)        {}
func (NopHooks) GenBumpError(string, error)            {}
func (NopHooks) InvalidateOutage(string, error, error) {}
func (NopHooks) RefetchError(string, error)            {}
func (NopHooks) MutationSuperseded(string)             {}
func (NopHooks) MutationCommitted(string)              {}
func (NopHooks) MutationRolledBack(string, error)      {}
