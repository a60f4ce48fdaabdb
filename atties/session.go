// Package atties is the marketplace client state for one signed-in user: a
// cache per query shape, their fetchers, and the like/unlike and profile
// mutations declared against them.
package atties

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/unkn0wn-root/optisync"
	"github.com/unkn0wn-root/optisync/codec"
	"github.com/unkn0wn-root/optisync/genstore"
	"github.com/unkn0wn-root/optisync/market"
	"github.com/unkn0wn-root/optisync/provider"
	"github.com/unkn0wn-root/optisync/provider/memory"
)

const (
	defaultFeedPageSize = 10
	maxArtworkBytes     = 1 << 20
)

type Options struct {
	Client *market.Client // required

	// Provider stores every cache of the session under its own namespace.
	// nil => in-process map.
	Provider provider.Provider
	// GenStore is shared by every cache when set. nil => one local store per cache.
	GenStore genstore.GenStore

	Logger       optisync.Logger
	Hooks        optisync.Hooks
	StaleAfter   time.Duration // 0 => entries stay fresh until invalidated
	TTL          time.Duration // provider TTL; 0 => cache default
	FeedPageSize int           // 0 => 10
}

// Session owns the caches and synchronizers of one user session. Its lifetime
// is the session's: Close releases the provider.
type Session struct {
	client   *market.Client
	log      optisync.Logger
	provider provider.Provider
	gens     genstore.GenStore
	pageSize int

	detail     *optisync.Synchronizer[market.Artwork]
	customized *optisync.Synchronizer[market.ArtworkList]
	feed       *optisync.Synchronizer[market.Feed]
	profile    *optisync.Synchronizer[market.Member]
	auctions   optisync.Cache[[]market.Auction]
	artists    optisync.Cache[market.ArtistDetail]
	exhibits   optisync.Cache[[]market.Artwork]

	// nickname and email availability answers
	availability optisync.Cache[*wrapperspb.BoolValue]

	closers []func(context.Context) error

	preferDetail     *optisync.Definition[market.Artwork, preferArgs, market.Prefer]
	preferCustomized *optisync.Definition[market.ArtworkList, preferArgs, market.Prefer]
	preferFeed       *optisync.Definition[market.Feed, preferArgs, market.Prefer]
	editProfile      *optisync.Definition[market.Member, market.ProfilePatch, market.Member]
}

func NewSession(opts Options) (*Session, error) {
	if opts.Client == nil {
		return nil, errors.New("atties: market client is required")
	}
	s := &Session{
		client:   opts.Client,
		log:      opts.Logger,
		provider: opts.Provider,
		gens:     opts.GenStore,
		pageSize: opts.FeedPageSize,
	}
	if s.log == nil {
		s.log = optisync.NopLogger{}
	}
	if s.provider == nil {
		s.provider = memory.New()
	}
	if s.pageSize <= 0 {
		s.pageSize = defaultFeedPageSize
	}

	var err error
	fail := func(e error) (*Session, error) {
		_ = s.Close(context.Background())
		return nil, e
	}

	detail, err := newCache(s, opts, "artwork", codec.Codec[market.Artwork](codec.Limit[market.Artwork]{
		Inner:     codec.JSON[market.Artwork]{},
		MaxDecode: maxArtworkBytes,
	}))
	if err != nil {
		return fail(err)
	}
	customized, err := newCache(s, opts, "customized", codec.Codec[market.ArtworkList](codec.Msgpack[market.ArtworkList]{}))
	if err != nil {
		return fail(err)
	}
	feed, err := newCache(s, opts, "feed", codec.Codec[market.Feed](codec.Msgpack[market.Feed]{}))
	if err != nil {
		return fail(err)
	}
	profile, err := newCache(s, opts, "member", codec.Codec[market.Member](codec.JSON[market.Member]{}))
	if err != nil {
		return fail(err)
	}
	if s.auctions, err = newCache(s, opts, "auction", codec.Codec[[]market.Auction](codec.JSON[[]market.Auction]{})); err != nil {
		return fail(err)
	}
	if s.artists, err = newCache(s, opts, "pick", codec.Codec[market.ArtistDetail](codec.MustCBOR[market.ArtistDetail](true))); err != nil {
		return fail(err)
	}
	if s.exhibits, err = newCache(s, opts, "exhibit", codec.Codec[[]market.Artwork](codec.MustCBOR[[]market.Artwork](true))); err != nil {
		return fail(err)
	}
	availability := codec.NewProtobuf(func() *wrapperspb.BoolValue { return &wrapperspb.BoolValue{} })
	if s.availability, err = newCache(s, opts, "check", codec.Codec[*wrapperspb.BoolValue](availability)); err != nil {
		return fail(err)
	}

	so := optisync.SyncOptions{Logger: s.log, Hooks: opts.Hooks}
	s.detail = optisync.NewSynchronizer(detail, so)
	s.customized = optisync.NewSynchronizer(customized, so)
	s.feed = optisync.NewSynchronizer(feed, so)
	s.profile = optisync.NewSynchronizer(profile, so)

	s.define()
	return s, nil
}

func newCache[V any](s *Session, opts Options, ns string, cd codec.Codec[V]) (optisync.Cache[V], error) {
	o := optisync.Options[V]{
		Namespace:  ns,
		Provider:   sharedProvider{s.provider},
		Codec:      cd,
		Logger:     s.log,
		Hooks:      opts.Hooks,
		StaleAfter: opts.StaleAfter,
		DefaultTTL: opts.TTL,
	}
	if s.gens != nil {
		o.GenStore = sharedGenStore{s.gens}
	}
	c, err := optisync.New(o)
	if err != nil {
		return nil, fmt.Errorf("atties: %s cache: %w", ns, err)
	}
	s.closers = append(s.closers, c.Close)
	return c, nil
}

// Close drops every cache, then the shared provider and gen store.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	for _, c := range s.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if s.gens != nil {
		if err := s.gens.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.provider != nil {
		if err := s.provider.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// caches share one provider and gen store; only the session closes them
type sharedProvider struct{ provider.Provider }

func (sharedProvider) Close(context.Context) error { return nil }

type sharedGenStore struct{ genstore.GenStore }

func (sharedGenStore) Close(context.Context) error { return nil }
