package market

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is how the backend formats auction dates.
const TimeLayout = "2006-01-02-15-04-05"

// Time is a time.Time carried over the wire in TimeLayout.
type Time struct{ time.Time }

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Format(TimeLayout) + `"`), nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("market: bad time %q: %w", s, err)
	}
	t.Time = v
	return nil
}

type Artwork struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	MainImage      string `json:"mainImage,omitempty"`
	Education      string `json:"education,omitempty"`
	ArtworkSize    string `json:"artWorkSize,omitempty"`
	ProductionYear string `json:"productionYear,omitempty"`
	Material       string `json:"material,omitempty"`
	Genre          string `json:"genre,omitempty"`
	TopPrice       int64  `json:"topPrice"`
	Pick           bool   `json:"pick"`
}

// ArtworkList is the personalised selection on the home page.
type ArtworkList struct {
	Artworks []Artwork `json:"artworks"`
}

// FeedPage is one page of the infinite artwork feed.
type FeedPage struct {
	Page     int       `json:"page"`
	Artworks []Artwork `json:"artworks"`
	HasNext  bool      `json:"hasNext"`
}

// Feed holds every page loaded so far, in load order.
type Feed struct {
	Pages []FeedPage `json:"pages"`
}

type AuctionStatus string

const (
	AuctionProcessing AuctionStatus = "processing"
	AuctionTerminated AuctionStatus = "terminate"
)

type Auction struct {
	ID        int64         `json:"id"`
	Turn      int           `json:"turn"`
	Image     string        `json:"image,omitempty"`
	StartDate Time          `json:"startDate"`
	EndDate   Time          `json:"endDate"`
	Status    AuctionStatus `json:"status"`
}

// Remaining is the time left until the auction closes; never negative.
func (a Auction) Remaining(now time.Time) time.Duration {
	d := a.EndDate.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ArtistDetail is an artist page with the artworks they exhibit.
type ArtistDetail struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	Education string    `json:"education,omitempty"`
	Image     string    `json:"image,omitempty"`
	Artworks  []Artwork `json:"artworks"`
}

type Member struct {
	ID        int64  `json:"id"`
	Nickname  string `json:"nickname"`
	Email     string `json:"email"`
	Education string `json:"education,omitempty"`
	Image     string `json:"image,omitempty"`
}

// ProfilePatch carries the editable member fields; empty fields are left as is.
type ProfilePatch struct {
	Nickname  string `json:"nickname,omitempty"`
	Email     string `json:"email,omitempty"`
	Education string `json:"education,omitempty"`
	Image     string `json:"image,omitempty"`
}

// Prefer is the backend's answer to a like or unlike.
type Prefer struct {
	ArtworkID int64 `json:"artworkId"`
	Pick      bool  `json:"pick"`
}

type Token struct {
	AccessToken string `json:"accessToken"`
}

// Image is one uploaded picture.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// ArtworkPost is a new listing as an artist submits it from the post page.
type ArtworkPost struct {
	Title             string
	ProductionYear    int
	Description       string
	Material          string
	Frame             bool
	Width             float64
	Length            float64
	Height            float64
	Size              string // canvas number, "0" to "500"
	Price             int64
	Status            string
	StatusDescription string
	Genre             string
	Keywords          []string
	Images            []Image
	GuaranteeImage    Image // the artist's signature
}
