package devapi

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/unkn0wn-root/optisync/market"
)

var _ = Describe("REST routes", func() {
	var (
		ctx    context.Context
		srv    *httptest.Server
		client *market.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		srv = httptest.NewServer(NewServer(seededStore(), nil).Router())
		DeferCleanup(srv.Close)

		var err error
		client, err = market.New(srv.URL, srv.Client())
		Expect(err).ToNot(HaveOccurred())
	})

	It("rejects anonymous reads", func() {
		_, err := client.GetArtwork(ctx, 42)
		Expect(market.IsStatus(err, http.StatusUnauthorized)).To(BeTrue())
	})

	It("stamps a request id", func() {
		resp, err := http.Get(srv.URL + "/health")
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("X-Request-Id")).ToNot(BeEmpty())
	})

	Context("with a session", func() {
		BeforeEach(func() {
			_, err := client.RefreshToken(ctx, DevRefreshToken)
			Expect(err).ToNot(HaveOccurred())
		})

		It("likes and unlikes an artwork", func() {
			a, err := client.GetArtwork(ctx, 42)
			Expect(err).ToNot(HaveOccurred())
			Expect(a.Pick).To(BeFalse())

			p, err := client.PostPrefer(ctx, 42)
			Expect(err).ToNot(HaveOccurred())
			Expect(p.Pick).To(BeTrue())

			a, _ = client.GetArtwork(ctx, 42)
			Expect(a.Pick).To(BeTrue())

			_, err = client.DeletePrefer(ctx, 42)
			Expect(err).ToNot(HaveOccurred())
			a, _ = client.GetArtwork(ctx, 42)
			Expect(a.Pick).To(BeFalse())
		})

		It("maps missing artworks to 404", func() {
			_, err := client.PostPrefer(ctx, 404)
			Expect(market.IsStatus(err, http.StatusNotFound)).To(BeTrue())
		})

		It("serves the home page lists", func() {
			list, err := client.CustomizedArtworks(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(list.Artworks).ToNot(BeEmpty())

			page, err := client.ArtworkFeed(ctx, 0, 2)
			Expect(err).ToNot(HaveOccurred())
			Expect(page.Artworks).To(HaveLen(2))
			Expect(page.HasNext).To(BeTrue())

			auctions, err := client.AuctionList(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(auctions).To(HaveLen(2))

			works, err := client.Exhibit(ctx, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(works).To(HaveLen(2))

			d, err := client.PickDetail(ctx, 2)
			Expect(err).ToNot(HaveOccurred())
			Expect(d.Nickname).To(Equal("jun"))
		})

		It("checks availability and edits the profile", func() {
			free, err := client.CheckNickname(ctx, "jun")
			Expect(err).ToNot(HaveOccurred())
			Expect(free).To(BeFalse())

			free, err = client.CheckNickname(ctx, "mina")
			Expect(err).ToNot(HaveOccurred())
			Expect(free).To(BeTrue())

			free, err = client.CheckEmail(ctx, "new@atties.dev")
			Expect(err).ToNot(HaveOccurred())
			Expect(free).To(BeTrue())

			m, err := client.PatchProfile(ctx, market.ProfilePatch{Nickname: "mina.k"})
			Expect(err).ToNot(HaveOccurred())
			Expect(m.Nickname).To(Equal("mina.k"))

			me, err := client.Me(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(me.Nickname).To(Equal("mina.k"))
		})

		It("posts an artwork and lists it in the feed", func() {
			a, err := client.PostArtwork(ctx, market.ArtworkPost{
				Title:          "Harbor at Dawn",
				ProductionYear: 2023,
				Material:       "oil on canvas",
				Size:           "20",
				Price:          650000,
				Genre:          "landscape",
				Keywords:       []string{"sea", "morning"},
				Images:         []market.Image{{Name: "front.jpg", ContentType: "image/jpeg", Data: []byte("jpeg")}},
				GuaranteeImage: market.Image{Name: "sign.png", ContentType: "image/png", Data: []byte("png")},
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(a.ID).To(BeNumerically(">", 42))
			Expect(a.Title).To(Equal("Harbor at Dawn"))
			Expect(a.Genre).To(Equal("landscape"))
			Expect(a.ProductionYear).To(Equal("2023"))
			Expect(a.MainImage).To(HavePrefix("/images/"))
			Expect(a.MainImage).To(HaveSuffix(".jpg"))

			got, err := client.GetArtwork(ctx, a.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(Equal(a))

			page, err := client.ArtworkFeed(ctx, 0, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(page.Artworks).To(ContainElement(HaveField("ID", a.ID)))

			d, err := client.PickDetail(ctx, 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(d.Artworks).To(ContainElement(HaveField("Title", "Harbor at Dawn")))
		})

		It("rejects an incomplete listing with 400", func() {
			var body bytes.Buffer
			w := multipart.NewWriter(&body)
			Expect(w.WriteField("title", "No Photos")).To(Succeed())
			Expect(w.Close()).To(Succeed())

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/artwork", &body)
			Expect(err).ToNot(HaveOccurred())
			req.Header.Set("Content-Type", w.FormDataContentType())
			req.Header.Set("Authorization", "Bearer "+client.AccessToken())

			resp, err := srv.Client().Do(req)
			Expect(err).ToNot(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

			page, err := client.ArtworkFeed(ctx, 0, 10)
			Expect(err).ToNot(HaveOccurred())
			Expect(page.Artworks).To(HaveLen(6))
		})
	})
})
