package atties

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/unkn0wn-root/optisync"
	"github.com/unkn0wn-root/optisync/market"
	"github.com/unkn0wn-root/optisync/querykey"
)

// Query identities of the session's caches.
func ArtworkKey(id int64) string { return querykey.New("artwork", id) }
func ArtistKey(id int64) string { return querykey.New("pick", id) }
func ExhibitKey(id int64) string { return querykey.New("exhibit", id) }
func FeedKey(pageSize int) string { return querykey.New("feed", pageSize) }
func CustomizedKey() string { return querykey.New("customized") }
func AuctionsKey() string { return querykey.New("auction") }
func ProfileKey() string { return querykey.New("me") }

// AvailabilityKey identifies the answer to "is value free for field".
func AvailabilityKey(field, value string) string {
	return querykey.WithParams("members/"+field, map[string]string{field: value})
}

// load registers fetch as the refetcher of key, then reads through the cache.
func load[V any](ctx context.Context, c optisync.Cache[V], key string, fetch optisync.Fetcher[V]) (V, error) {
	c.Register(key, fetch)
	return c.Load(ctx, key)
}

func (s *Session) Artwork(ctx context.Context, id int64) (market.Artwork, error) {
	return load(ctx, s.detail.Cache(), ArtworkKey(id), func(ctx context.Context, _ string) (market.Artwork, error) {
		return s.client.GetArtwork(ctx, id)
	})
}

func (s *Session) Customized(ctx context.Context) (market.ArtworkList, error) {
	return load(ctx, s.customized.Cache(), CustomizedKey(), func(ctx context.Context, _ string) (market.ArtworkList, error) {
		return s.client.CustomizedArtworks(ctx)
	})
}

// Feed returns every feed page loaded so far, loading the first one if needed.
func (s *Session) Feed(ctx context.Context) (market.Feed, error) {
	return load(ctx, s.feed.Cache(), FeedKey(s.pageSize), s.fetchFeed)
}

// fetchFeed reloads as many pages as the cache currently holds, so a refetch
// after a like keeps the user's scroll depth.
func (s *Session) fetchFeed(ctx context.Context, key string) (market.Feed, error) {
	want := 1
	if cur, ok, err := s.feed.Cache().Get(ctx, key); err == nil && ok && len(cur.Pages) > 0 {
		want = len(cur.Pages)
	}
	var f market.Feed
	for page := 0; page < want; page++ {
		p, err := s.client.ArtworkFeed(ctx, page, s.pageSize)
		if err != nil {
			return market.Feed{}, err
		}
		f.Pages = append(f.Pages, p)
		if !p.HasNext {
			break
		}
	}
	return f, nil
}

// FeedMore appends the next page. It is a no-op once the last page is loaded.
func (s *Session) FeedMore(ctx context.Context) (market.Feed, error) {
	c := s.feed.Cache()
	key := FeedKey(s.pageSize)

	cur, err := s.Feed(ctx)
	if err != nil {
		return market.Feed{}, err
	}
	if n := len(cur.Pages); n > 0 && !cur.Pages[n-1].HasNext {
		return cur, nil
	}

	obs := c.SnapshotGen(key)
	p, err := s.client.ArtworkFeed(ctx, len(cur.Pages), s.pageSize)
	if err != nil {
		return market.Feed{}, fmt.Errorf("feed page %d: %w", len(cur.Pages), err)
	}
	next := market.Feed{Pages: append(cur.Pages[:len(cur.Pages):len(cur.Pages)], p)}
	written, err := c.SetWithGen(ctx, key, next, obs)
	if err != nil {
		return market.Feed{}, err
	}
	if !written {
		// a like landed meanwhile; serve what the cache holds now
		s.log.Debug("feed page dropped after concurrent write", optisync.Fields{"page": p.Page})
		return s.Feed(ctx)
	}
	return next, nil
}

func (s *Session) Auctions(ctx context.Context) ([]market.Auction, error) {
	return load(ctx, s.auctions, AuctionsKey(), func(ctx context.Context, _ string) ([]market.Auction, error) {
		return s.client.AuctionList(ctx)
	})
}

func (s *Session) PickDetail(ctx context.Context, artistID int64) (market.ArtistDetail, error) {
	return load(ctx, s.artists, ArtistKey(artistID), func(ctx context.Context, _ string) (market.ArtistDetail, error) {
		return s.client.PickDetail(ctx, artistID)
	})
}

func (s *Session) Exhibit(ctx context.Context, id int64) ([]market.Artwork, error) {
	return load(ctx, s.exhibits, ExhibitKey(id), func(ctx context.Context, _ string) ([]market.Artwork, error) {
		return s.client.Exhibit(ctx, id)
	})
}

func (s *Session) Profile(ctx context.Context) (market.Member, error) {
	return load(ctx, s.profile.Cache(), ProfileKey(), func(ctx context.Context, _ string) (market.Member, error) {
		return s.client.Me(ctx)
	})
}

// NicknameAvailable reports whether nickname is free for the signed-in member.
func (s *Session) NicknameAvailable(ctx context.Context, nickname string) (bool, error) {
	return s.available(ctx, "nickname", nickname, s.client.CheckNickname)
}

func (s *Session) EmailAvailable(ctx context.Context, email string) (bool, error) {
	return s.available(ctx, "email", email, s.client.CheckEmail)
}

func (s *Session) available(ctx context.Context, field, value string, check func(context.Context, string) (bool, error)) (bool, error) {
	v, err := s.availability.LoadWith(ctx, AvailabilityKey(field, value), func(ctx context.Context, _ string) (*wrapperspb.BoolValue, error) {
		free, err := check(ctx, value)
		if err != nil {
			return nil, err
		}
		return wrapperspb.Bool(free), nil
	})
	if err != nil {
		return false, err
	}
	return v.GetValue(), nil
}

// Login trades a refresh token for an access token and reloads the member.
func (s *Session) Login(ctx context.Context, refreshToken string) (market.Member, error) {
	if _, err := s.client.RefreshToken(ctx, refreshToken); err != nil {
		return market.Member{}, fmt.Errorf("refresh token: %w", err)
	}
	if err := s.profile.Cache().Invalidate(ctx, ProfileKey()); err != nil {
		s.log.Warn("invalidate profile after login", optisync.Fields{"err": err})
	}
	return s.Profile(ctx)
}

// WatchArtwork calls fn whenever the cached detail of id changes.
func (s *Session) WatchArtwork(id int64, fn func(optisync.Event)) (unsubscribe func()) {
	return s.detail.Cache().Subscribe(ArtworkKey(id), fn)
}

// WatchFeed calls fn whenever the cached feed changes.
func (s *Session) WatchFeed(fn func(optisync.Event)) (unsubscribe func()) {
	return s.feed.Cache().Subscribe(FeedKey(s.pageSize), fn)
}

// CachedArtwork reads the detail cache without fetching.
func (s *Session) CachedArtwork(ctx context.Context, id int64) (optisync.Entry[market.Artwork], bool, error) {
	return s.detail.Cache().GetEntry(ctx, ArtworkKey(id))
}
