package optisync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrNoRemote = errors.New("optisync: mutation has no remote call")

// State is the position of one mutation in its lifecycle:
// Idle -> Pending -> Committed | RolledBack | Superseded -> Idle.
type State int32

const (
	StateIdle State = iota
	StatePending
	StateCommitted
	StateRolledBack
	StateSuperseded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	case StateSuperseded:
		return "superseded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Mutation describes one write: which entry it touches, the predicted new value
// and the remote call that makes it true.
type Mutation[V, R any] struct {
	Key       string
	Transform func(old V, ok bool) V // nil keeps the cached value as is
	Remote    func(ctx context.Context) (R, error)
}

// Synchronizer runs mutations against a cache. At most one mutation per key is
// authoritative: a later Execute on the same key supersedes an unresolved one,
// whose settlement is then discarded. The remote call of a superseded mutation
// is not cancelled.
type Synchronizer[V any] struct {
	cache Cache[V]
	log   Logger
	hooks Hooks

	seq atomic.Uint64

	mu   sync.Mutex // guards keys and the bookkeeping fields of every keyLock
	keys map[string]*keyLock
}

// keyLock serializes the cache writes of one key. Mutations on other keys
// never wait on it.
type keyLock struct {
	io sync.Mutex

	refs    int    // goroutines between acquire and release
	pending int    // executions applied but not settled
	latest  uint64 // id of the authoritative execution
}

type SyncOptions struct {
	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
}

func NewSynchronizer[V any](cache Cache[V], opts SyncOptions) *Synchronizer[V] {
	return &Synchronizer[V]{
		cache: cache,
		log:   coalesce[Logger](opts.Logger, NopLogger{}),
		hooks: coalesce[Hooks](opts.Hooks, NopHooks{}),
		keys:  make(map[string]*keyLock),
	}
}

func (s *Synchronizer[V]) Cache() Cache[V] { return s.cache }

// State reports StatePending while a mutation for key is unresolved, StateIdle otherwise.
func (s *Synchronizer[V]) State(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kl := s.keys[key]; kl != nil && kl.pending > 0 {
		return StatePending
	}
	return StateIdle
}

func (s *Synchronizer[V]) acquire(key string) *keyLock {
	s.mu.Lock()
	kl := s.keys[key]
	if kl == nil {
		kl = &keyLock{}
		s.keys[key] = kl
	}
	kl.refs++
	s.mu.Unlock()

	kl.io.Lock()
	return kl
}

func (s *Synchronizer[V]) release(key string, kl *keyLock) {
	kl.io.Unlock()

	s.mu.Lock()
	kl.refs--
	if kl.refs == 0 && kl.pending == 0 {
		delete(s.keys, key)
	}
	s.mu.Unlock()
}

// Execute applies m.Transform to the cached entry before returning, then runs
// m.Remote in the background. On success the entry is invalidated so the next
// read fetches server state; on failure the snapshot taken before the
// transform is restored and the remote error is returned unchanged by Wait.
// A snapshot taken while an earlier mutation on the key was unresolved holds
// that mutation's prediction, so restoring it is followed by an invalidation.
// No retries.
//
// Cache listeners run while the key is locked; they must not call Execute on
// the same key synchronously.
func Execute[V, R any](ctx context.Context, s *Synchronizer[V], m Mutation[V, R]) *Pending[R] {
	p := newPending[R](m.Key)
	if m.Remote == nil {
		p.finish(StateRolledBack, *new(R), ErrNoRemote)
		return p
	}
	transform := m.Transform
	if transform == nil {
		transform = func(old V, _ bool) V { return old }
	}

	kl := s.acquire(m.Key)
	snap, err := s.cache.Apply(ctx, m.Key, transform)
	if err != nil {
		s.release(m.Key, kl)
		s.log.Error("optimistic update failed", Fields{"key": m.Key, "err": err})
		p.finish(StateRolledBack, *new(R), fmt.Errorf("optimistic update %q: %w", m.Key, err))
		return p
	}
	id := s.seq.Add(1)
	s.mu.Lock()
	busy := kl.pending > 0
	kl.pending++
	kl.latest = id
	s.mu.Unlock()
	s.release(m.Key, kl)

	if busy {
		s.hooks.MutationSuperseded(m.Key)
		s.log.Debug("mutation superseded", Fields{"key": m.Key, "by": id})
	}

	go settle(ctx, s, id, busy, m, snap, p)
	return p
}

// Run is Execute followed by Wait.
func Run[V, R any](ctx context.Context, s *Synchronizer[V], m Mutation[V, R]) (R, error) {
	return Execute(ctx, s, m).Wait(ctx)
}

// settle resolves execution id. busy reports that snap was taken on top of an
// unresolved prediction.
func settle[V, R any](ctx context.Context, s *Synchronizer[V], id uint64, busy bool, m Mutation[V, R], snap Snapshot, p *Pending[R]) {
	res, remoteErr := m.Remote(ctx)

	// cache writes below must land even if the caller gave up waiting
	wctx := context.WithoutCancel(ctx)

	kl := s.acquire(m.Key)
	s.mu.Lock()
	kl.pending--
	latest := kl.latest == id
	last := kl.pending == 0
	s.mu.Unlock()

	if !latest {
		if last {
			// the newer mutation settled first; this late call may have moved the server
			s.invalidate(wctx, m.Key, "late superseded settlement")
		}
		s.release(m.Key, kl)
		s.log.Debug("discarding superseded settlement", Fields{"key": m.Key, "id": id, "err": remoteErr})
		p.finish(StateSuperseded, *new(R), nil)
		return
	}

	if remoteErr == nil {
		if err := s.cache.Invalidate(wctx, m.Key); err != nil {
			// never leave the optimistic value behind
			if rerr := s.cache.Remove(wctx, m.Key); rerr != nil {
				s.log.Error("commit: invalidate and remove failed", Fields{"key": m.Key, "err": err, "remove_err": rerr})
			}
		}
		s.release(m.Key, kl)
		s.hooks.MutationCommitted(m.Key)
		p.finish(StateCommitted, res, nil)
		return
	}

	restoreErr := s.cache.Restore(wctx, m.Key, snap)
	if restoreErr == nil && busy {
		s.invalidate(wctx, m.Key, "restored snapshot held an unconfirmed prediction")
	}
	s.release(m.Key, kl)

	s.hooks.MutationRolledBack(m.Key, remoteErr)
	if restoreErr != nil {
		s.log.Error("rollback failed", Fields{"key": m.Key, "err": remoteErr, "restore_err": restoreErr})
		p.finish(StateRolledBack, res, &RollbackError{Key: m.Key, RemoteErr: remoteErr, RestoreErr: restoreErr})
		return
	}
	s.log.Debug("mutation rolled back", Fields{"key": m.Key, "err": remoteErr})
	p.finish(StateRolledBack, res, remoteErr)
}

func (s *Synchronizer[V]) invalidate(ctx context.Context, key, reason string) {
	if err := s.cache.Invalidate(ctx, key); err != nil {
		s.log.Warn("invalidate after settlement failed", Fields{"key": key, "reason": reason, "err": err})
	}
}

// Pending is the handle of one executed mutation.
type Pending[R any] struct {
	key   string
	done  chan struct{}
	state atomic.Int32
	res   R
	err   error
}

func newPending[R any](key string) *Pending[R] {
	p := &Pending[R]{key: key, done: make(chan struct{})}
	p.state.Store(int32(StatePending))
	return p
}

func (p *Pending[R]) finish(st State, res R, err error) {
	p.res = res
	p.err = err
	p.state.Store(int32(st))
	close(p.done)
}

func (p *Pending[R]) Key() string { return p.key }

// Done is closed once the mutation settled (committed, rolled back or superseded).
func (p *Pending[R]) Done() <-chan struct{} { return p.done }

func (p *Pending[R]) State() State { return State(p.state.Load()) }

// Wait blocks until the mutation settles or ctx is done. A superseded mutation
// returns the zero R and a nil error: its outcome belongs to the newer one.
func (p *Pending[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
