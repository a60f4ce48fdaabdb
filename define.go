package optisync

import (
	"context"
	"fmt"
)

// Definition declares a mutation type once: the query identity it affects and
// how it predicts the new value, both derived from the call arguments A.
// Consumers never decide at call time which cached query to touch.
type Definition[V, A, R any] struct {
	Name      string
	Key       func(args A) string
	Transform func(old V, ok bool, args A) V
	Remote    func(ctx context.Context, args A) (R, error)
}

// Define panics on a missing key or remote function; definitions are built at
// init time, where a broken table should fail loudly.
func Define[V, A, R any](
	name string,
	key func(args A) string,
	transform func(old V, ok bool, args A) V,
	remote func(ctx context.Context, args A) (R, error),
) *Definition[V, A, R] {
	if key == nil {
		panic(fmt.Sprintf("optisync: definition %q has no key function", name))
	}
	if remote == nil {
		panic(fmt.Sprintf("optisync: definition %q has no remote call", name))
	}
	return &Definition[V, A, R]{Name: name, Key: key, Transform: transform, Remote: remote}
}

// Mutation binds the definition to concrete arguments.
func (d *Definition[V, A, R]) Mutation(args A) Mutation[V, R] {
	m := Mutation[V, R]{
		Key: d.Key(args),
		Remote: func(ctx context.Context) (R, error) {
			return d.Remote(ctx, args)
		},
	}
	if d.Transform != nil {
		m.Transform = func(old V, ok bool) V { return d.Transform(old, ok, args) }
	}
	return m
}

func (d *Definition[V, A, R]) Execute(ctx context.Context, s *Synchronizer[V], args A) *Pending[R] {
	return Execute(ctx, s, d.Mutation(args))
}

func (d *Definition[V, A, R]) Run(ctx context.Context, s *Synchronizer[V], args A) (R, error) {
	return Run(ctx, s, d.Mutation(args))
}
