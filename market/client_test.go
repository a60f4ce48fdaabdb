package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New("", nil); !errors.Is(err, ErrNoBaseURL) {
		t.Fatalf("expected ErrNoBaseURL, got %v", err)
	}
}

func TestGetArtworkAndFeed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /artwork/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "42" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, Artwork{ID: 42, Title: "Moon", Pick: false})
	})
	mux.HandleFunc("GET /artwork", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" || r.URL.Query().Get("size") != "10" {
			http.Error(w, "bad paging", http.StatusBadRequest)
			return
		}
		writeJSON(w, FeedPage{Page: 1, Artworks: []Artwork{{ID: 3}}, HasNext: true})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	a, err := c.GetArtwork(ctx, 42)
	if err != nil || a.ID != 42 || a.Title != "Moon" {
		t.Fatalf("GetArtwork: %+v %v", a, err)
	}
	p, err := c.ArtworkFeed(ctx, 1, 10)
	if err != nil || !p.HasNext || len(p.Artworks) != 1 {
		t.Fatalf("ArtworkFeed: %+v %v", p, err)
	}
}

func TestStatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /artwork/{id}/prefer", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "already preferred", http.StatusBadRequest)
	})
	c := newTestClient(t, mux)

	_, err := c.PostPrefer(context.Background(), 7)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %T %v", err, err)
	}
	if se.Status != http.StatusBadRequest || se.Method != http.MethodPost || se.Path != "/artwork/7/prefer" {
		t.Fatalf("unexpected StatusError %+v", se)
	}
	if se.Body != "already preferred" {
		t.Fatalf("unexpected body %q", se.Body)
	}
	if !IsStatus(err, http.StatusBadRequest) || IsStatus(err, http.StatusConflict) {
		t.Fatalf("IsStatus mismatch")
	}
}

func TestRefreshTokenInstallsAccessToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /members/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			http.Error(w, "refresh must be anonymous", http.StatusBadRequest)
			return
		}
		var in struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.RefreshToken != "r-1" {
			http.Error(w, "bad refresh", http.StatusUnauthorized)
			return
		}
		writeJSON(w, Token{AccessToken: "a-1"})
	})
	mux.HandleFunc("GET /members/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer a-1" {
			http.Error(w, "", http.StatusUnauthorized)
			return
		}
		writeJSON(w, Member{ID: 1, Nickname: "mina"})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	if _, err := c.Me(ctx); !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("Me without token should be 401, got %v", err)
	}
	c.SetAccessToken("stale")
	tok, err := c.RefreshToken(ctx, "r-1")
	if err != nil || tok.AccessToken != "a-1" {
		t.Fatalf("RefreshToken: %+v %v", tok, err)
	}
	m, err := c.Me(ctx)
	if err != nil || m.Nickname != "mina" {
		t.Fatalf("Me: %+v %v", m, err)
	}
}

func TestCheckNickname(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /members/nickname", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("nickname") {
		case "taken":
			w.WriteHeader(http.StatusConflict)
		case "boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	if ok, err := c.CheckNickname(ctx, "free"); err != nil || !ok {
		t.Fatalf("free: ok=%v err=%v", ok, err)
	}
	if ok, err := c.CheckNickname(ctx, "taken"); err != nil || ok {
		t.Fatalf("taken: ok=%v err=%v", ok, err)
	}
	if _, err := c.CheckNickname(ctx, "boom"); !IsStatus(err, http.StatusInternalServerError) {
		t.Fatalf("boom: expected 500, got %v", err)
	}
}

func TestAuctionDates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auction", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"turn":3,"startDate":"2023-02-01-09-00-00","endDate":"2023-02-15-18-30-00","status":"processing"}]`))
	})
	c := newTestClient(t, mux)

	list, err := c.AuctionList(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("AuctionList: %+v %v", list, err)
	}
	a := list[0]
	want := time.Date(2023, 2, 15, 18, 30, 0, 0, time.UTC)
	if !a.EndDate.Equal(want) || a.Status != AuctionProcessing {
		t.Fatalf("unexpected auction %+v", a)
	}
	if d := a.Remaining(want.Add(-time.Hour)); d != time.Hour {
		t.Fatalf("Remaining = %s", d)
	}
	if d := a.Remaining(want.Add(time.Hour)); d != 0 {
		t.Fatalf("Remaining after end = %s", d)
	}

	b, err := json.Marshal(a.StartDate)
	if err != nil || string(b) != `"2023-02-01-09-00-00"` {
		t.Fatalf("marshal: %s %v", b, err)
	}
}

func testPost() ArtworkPost {
	return ArtworkPost{
		Title:          "Harbor at Dawn",
		ProductionYear: 2023,
		Material:       "oil on canvas",
		Frame:          true,
		Width:          72.7,
		Length:         60.6,
		Size:           "20",
		Price:          650000,
		Status:         "good",
		Genre:          "landscape",
		Keywords:       []string{"sea", "morning"},
		Images: []Image{
			{Name: "front.jpg", ContentType: "image/jpeg", Data: []byte("front")},
			{Name: "side.jpg", ContentType: "image/jpeg", Data: []byte("side")},
		},
		GuaranteeImage: Image{Name: "sign.png", ContentType: "image/png", Data: []byte("sign")},
	}
}

func TestPostArtworkSendsMultipartForm(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /artwork", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			http.Error(w, "not multipart", http.StatusUnsupportedMediaType)
			return
		}
		if r.Header.Get("Authorization") != "Bearer a-1" {
			http.Error(w, "", http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got := r.FormValue("keywords"); got != "sea,morning" {
			http.Error(w, "keywords "+got, http.StatusBadRequest)
			return
		}
		p, err := ReadArtworkPost(r.MultipartForm)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, Artwork{
			ID:             43,
			Title:          p.Title,
			MainImage:      p.Images[0].Name,
			ArtworkSize:    p.Size,
			ProductionYear: "2023",
			Material:       p.Material,
			TopPrice:       p.Price,
		})
	})
	c := newTestClient(t, mux)
	c.SetAccessToken("a-1")

	a, err := c.PostArtwork(context.Background(), testPost())
	if err != nil {
		t.Fatalf("PostArtwork: %v", err)
	}
	if a.ID != 43 || a.Title != "Harbor at Dawn" || a.MainImage != "front.jpg" || a.TopPrice != 650000 {
		t.Fatalf("unexpected artwork %+v", a)
	}
}

func TestReadArtworkPostKeepsEveryField(t *testing.T) {
	want := testPost()
	body, ctype, err := want.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/artwork", body)
	req.Header.Set("Content-Type", ctype)
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("ParseMultipartForm: %v", err)
	}

	got, err := ReadArtworkPost(req.MultipartForm)
	if err != nil {
		t.Fatalf("ReadArtworkPost: %v", err)
	}
	if got.Title != want.Title || got.ProductionYear != 2023 || !got.Frame || got.Width != 72.7 || got.Length != 60.6 {
		t.Fatalf("scalar fields: %+v", got)
	}
	if got.Size != "20" || got.Price != 650000 || got.Genre != "landscape" || strings.Join(got.Keywords, "|") != "sea|morning" {
		t.Fatalf("listing fields: %+v", got)
	}
	if len(got.Images) != 2 || got.Images[1].Name != "side.jpg" || !bytes.Equal(got.Images[1].Data, []byte("side")) {
		t.Fatalf("images: %+v", got.Images)
	}
	if got.Images[0].ContentType != "image/jpeg" {
		t.Fatalf("image content type %q", got.Images[0].ContentType)
	}
	if got.GuaranteeImage.Name != "sign.png" || !bytes.Equal(got.GuaranteeImage.Data, []byte("sign")) {
		t.Fatalf("guarantee image: %+v", got.GuaranteeImage)
	}
}

func TestPostArtworkRejectsIncompleteListing(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /artwork", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, Artwork{ID: 1})
	})
	c := newTestClient(t, mux)

	cases := map[string]func(p *ArtworkPost){
		"no title":     func(p *ArtworkPost) { p.Title = " " },
		"no images":    func(p *ArtworkPost) { p.Images = nil },
		"six images":   func(p *ArtworkPost) { p.Images = make([]Image, MaxPostImages+1) },
		"no keywords":  func(p *ArtworkPost) { p.Keywords = nil },
		"no genre":     func(p *ArtworkPost) { p.Genre = "" },
		"no signature": func(p *ArtworkPost) { p.GuaranteeImage = Image{} },
	}
	for name, mutate := range cases {
		p := testPost()
		mutate(&p)
		if _, err := c.PostArtwork(context.Background(), p); !errors.Is(err, ErrInvalidPost) {
			t.Fatalf("%s: expected ErrInvalidPost, got %v", name, err)
		}
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("invalid listings reached the server %d times", n)
	}
}
