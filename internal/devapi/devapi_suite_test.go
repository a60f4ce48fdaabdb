package devapi

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	"github.com/onsi/ginkgo/v2/types"
	. "github.com/onsi/gomega"

	"github.com/unkn0wn-root/optisync/market"
)

func TestRunSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "devapi specs", types.ReporterConfig{Verbose: true})
}

// seededStore opens an in-memory store with the development catalogue.
func seededStore() *Store {
	store, err := Open(":memory:")
	Expect(err).ToNot(HaveOccurred())
	DeferCleanup(store.Close)

	store.now = func() time.Time { return time.Date(2023, 2, 10, 12, 0, 0, 0, time.UTC) }
	Expect(store.Seed(context.Background())).To(Succeed())
	return store
}

var _ = Describe("Sqlite store", func() {
	var (
		ctx   context.Context
		store *Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = seededStore()
	})

	It("seeds only once", func() {
		Expect(store.Seed(ctx)).To(Succeed())

		var n int
		Expect(store.db.Get(&n, `SELECT COUNT(*) FROM members`)).To(Succeed())
		Expect(n).To(Equal(3))
	})

	It("loads an artwork with the member's prefer flag", func() {
		a, err := store.Artwork(ctx, 1, 42)
		Expect(err).ToNot(HaveOccurred())
		Expect(a.Title).To(Equal("Answer"))
		Expect(a.Pick).To(BeFalse())

		_, err = store.SetPrefer(ctx, 1, 42, true)
		Expect(err).ToNot(HaveOccurred())

		a, err = store.Artwork(ctx, 1, 42)
		Expect(err).ToNot(HaveOccurred())
		Expect(a.Pick).To(BeTrue())

		other, err := store.Artwork(ctx, 2, 42)
		Expect(err).ToNot(HaveOccurred())
		Expect(other.Pick).To(BeFalse())
	})

	It("treats prefer and unprefer as idempotent", func() {
		for i := 0; i < 2; i++ {
			p, err := store.SetPrefer(ctx, 1, 3, true)
			Expect(err).ToNot(HaveOccurred())
			Expect(p).To(Equal(market.Prefer{ArtworkID: 3, Pick: true}))
		}
		for i := 0; i < 2; i++ {
			_, err := store.SetPrefer(ctx, 1, 3, false)
			Expect(err).ToNot(HaveOccurred())
		}
		a, _ := store.Artwork(ctx, 1, 3)
		Expect(a.Pick).To(BeFalse())
	})

	It("reports unknown artworks", func() {
		_, err := store.Artwork(ctx, 1, 999)
		Expect(err).To(MatchError(ErrNotFound))

		_, err = store.SetPrefer(ctx, 1, 999, true)
		Expect(err).To(MatchError(ErrNotFound))
	})

	It("pages the feed", func() {
		p0, err := store.Feed(ctx, 1, 0, 4)
		Expect(err).ToNot(HaveOccurred())
		Expect(p0.Artworks).To(HaveLen(4))
		Expect(p0.HasNext).To(BeTrue())

		p1, err := store.Feed(ctx, 1, 1, 4)
		Expect(err).ToNot(HaveOccurred())
		Expect(p1.Artworks).To(HaveLen(2))
		Expect(p1.HasNext).To(BeFalse())
		Expect(p1.Artworks[1].ID).To(Equal(int64(42)))
	})

	It("derives auction status from the clock", func() {
		list, err := store.Auctions(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(list).To(HaveLen(2))
		Expect(list[0].Turn).To(Equal(2))
		Expect(list[0].Status).To(Equal(market.AuctionProcessing))
		Expect(list[1].Status).To(Equal(market.AuctionTerminated))
	})

	It("lists exhibits and artist pages", func() {
		works, err := store.Exhibit(ctx, 1, 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(works).To(HaveLen(4))

		d, err := store.ArtistDetail(ctx, 1, 3)
		Expect(err).ToNot(HaveOccurred())
		Expect(d.Nickname).To(Equal("sora"))
		Expect(d.Artworks).To(HaveLen(2))
	})

	It("patches a member and rejects taken nicknames", func() {
		m, err := store.PatchMember(ctx, 1, market.ProfilePatch{Education: "Hongik Univ. MFA"})
		Expect(err).ToNot(HaveOccurred())
		Expect(m.Nickname).To(Equal("mina"))
		Expect(m.Education).To(Equal("Hongik Univ. MFA"))

		_, err = store.PatchMember(ctx, 1, market.ProfilePatch{Nickname: "jun"})
		Expect(err).To(MatchError(ErrConflict))

		taken, err := store.Taken(ctx, "nickname", "JUN", 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(taken).To(BeTrue())

		taken, err = store.Taken(ctx, "nickname", "mina", 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(taken).To(BeFalse())
	})

	It("trades the seeded refresh token for an access token", func() {
		access, err := store.Refresh(ctx, DevRefreshToken)
		Expect(err).ToNot(HaveOccurred())
		Expect(access).ToNot(BeEmpty())

		id, err := store.Authenticate(ctx, access)
		Expect(err).ToNot(HaveOccurred())
		Expect(id).To(Equal(int64(1)))

		_, err = store.Authenticate(ctx, DevRefreshToken)
		Expect(err).To(MatchError(ErrUnauthorized))
	})
})
