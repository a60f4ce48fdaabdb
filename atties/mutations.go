package atties

import (
	"context"

	"github.com/unkn0wn-root/optisync"
	"github.com/unkn0wn-root/optisync/market"
)

type preferArgs struct {
	ID   int64
	Pick bool
}

// define declares each mutation once. Every view that shows a like button has
// its own definition; all of them share the same remote call.
func (s *Session) define() {
	s.preferDetail = optisync.Define("prefer-detail",
		func(a preferArgs) string { return ArtworkKey(a.ID) },
		func(old market.Artwork, ok bool, a preferArgs) market.Artwork {
			if !ok {
				old.ID = a.ID
			}
			old.Pick = a.Pick
			return old
		},
		s.prefer,
	)

	s.preferCustomized = optisync.Define("prefer-customized",
		func(preferArgs) string { return CustomizedKey() },
		func(old market.ArtworkList, _ bool, a preferArgs) market.ArtworkList {
			return market.ArtworkList{Artworks: setPick(old.Artworks, a)}
		},
		s.prefer,
	)

	s.preferFeed = optisync.Define("prefer-feed",
		func(preferArgs) string { return FeedKey(s.pageSize) },
		func(old market.Feed, _ bool, a preferArgs) market.Feed {
			pages := make([]market.FeedPage, len(old.Pages))
			for i, p := range old.Pages {
				p.Artworks = setPick(p.Artworks, a)
				pages[i] = p
			}
			return market.Feed{Pages: pages}
		},
		s.prefer,
	)

	s.editProfile = optisync.Define("edit-profile",
		func(market.ProfilePatch) string { return ProfileKey() },
		func(old market.Member, _ bool, p market.ProfilePatch) market.Member {
			if p.Nickname != "" {
				old.Nickname = p.Nickname
			}
			if p.Email != "" {
				old.Email = p.Email
			}
			if p.Education != "" {
				old.Education = p.Education
			}
			if p.Image != "" {
				old.Image = p.Image
			}
			return old
		},
		s.client.PatchProfile,
	)
}

func (s *Session) prefer(ctx context.Context, a preferArgs) (market.Prefer, error) {
	if a.Pick {
		return s.client.PostPrefer(ctx, a.ID)
	}
	return s.client.DeletePrefer(ctx, a.ID)
}

// setPick returns a copy of list with the pick flag of artwork a.ID set.
// The input is never modified: it may still back a snapshot.
func setPick(list []market.Artwork, a preferArgs) []market.Artwork {
	if list == nil {
		return nil
	}
	out := make([]market.Artwork, len(list))
	for i, it := range list {
		if it.ID == a.ID {
			it.Pick = a.Pick
		}
		out[i] = it
	}
	return out
}

// LikeArtwork likes an artwork from its detail page.
func (s *Session) LikeArtwork(ctx context.Context, id int64) *optisync.Pending[market.Prefer] {
	return s.preferDetail.Execute(ctx, s.detail, preferArgs{ID: id, Pick: true})
}

func (s *Session) UnlikeArtwork(ctx context.Context, id int64) *optisync.Pending[market.Prefer] {
	return s.preferDetail.Execute(ctx, s.detail, preferArgs{ID: id, Pick: false})
}

// LikeInCustomized likes an artwork shown in the home page selection.
func (s *Session) LikeInCustomized(ctx context.Context, id int64) *optisync.Pending[market.Prefer] {
	return s.preferCustomized.Execute(ctx, s.customized, preferArgs{ID: id, Pick: true})
}

func (s *Session) UnlikeInCustomized(ctx context.Context, id int64) *optisync.Pending[market.Prefer] {
	return s.preferCustomized.Execute(ctx, s.customized, preferArgs{ID: id, Pick: false})
}

// LikeInFeed likes an artwork on any loaded feed page.
func (s *Session) LikeInFeed(ctx context.Context, id int64) *optisync.Pending[market.Prefer] {
	return s.preferFeed.Execute(ctx, s.feed, preferArgs{ID: id, Pick: true})
}

func (s *Session) UnlikeInFeed(ctx context.Context, id int64) *optisync.Pending[market.Prefer] {
	return s.preferFeed.Execute(ctx, s.feed, preferArgs{ID: id, Pick: false})
}

// UpdateProfile shows the edited profile at once and rolls it back if the
// backend refuses it (a taken nickname, say).
func (s *Session) UpdateProfile(ctx context.Context, p market.ProfilePatch) *optisync.Pending[market.Member] {
	pending := s.editProfile.Execute(ctx, s.profile, p)
	// availability answers for the submitted values change either way
	for field, value := range map[string]string{"nickname": p.Nickname, "email": p.Email} {
		if value == "" {
			continue
		}
		if err := s.availability.Remove(ctx, AvailabilityKey(field, value)); err != nil {
			s.log.Warn("drop availability answer", optisync.Fields{"field": field, "err": err})
		}
	}
	return pending
}

// PostArtwork lists a new artwork. There is nothing to show before the backend
// assigns an id, so nothing is applied up front. On success the home page
// lists, and the artist's own page if it is cached, are marked stale so their
// next read refetches with the new listing.
func (s *Session) PostArtwork(ctx context.Context, p market.ArtworkPost) (market.Artwork, error) {
	a, err := s.client.PostArtwork(ctx, p)
	if err != nil {
		return market.Artwork{}, err
	}

	markStale(ctx, s, s.customized.Cache(), CustomizedKey())
	markStale(ctx, s, s.feed.Cache(), FeedKey(s.pageSize))
	if me, ok, err := s.profile.Cache().Get(ctx, ProfileKey()); err == nil && ok {
		markStale(ctx, s, s.artists, ArtistKey(me.ID))
	}
	return a, nil
}

func markStale[V any](ctx context.Context, s *Session, c optisync.Cache[V], key string) {
	if err := c.Invalidate(ctx, key); err != nil {
		s.log.Warn("invalidate after post", optisync.Fields{"key": key, "err": err})
	}
}
