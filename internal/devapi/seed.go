package devapi

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/optisync/internal/platform/config"
	"github.com/unkn0wn-root/optisync/market"
)

// DevRefreshToken is the refresh token seeded for the first member.
const DevRefreshToken = config.DevRefreshToken

type seedArtwork struct {
	ID        int64  `db:"id"`
	ArtistID  int64  `db:"artist_id"`
	AuctionID int64  `db:"auction_id"`
	Title     string `db:"title"`
	Size      string `db:"size"`
	Year      string `db:"production_year"`
	Material  string `db:"material"`
	TopPrice  int64  `db:"top_price"`
}

// Seed fills an empty database with a small catalogue: three members, two
// auctions (one running, one closed) and a handful of artworks. A database
// that already has members is left alone.
func (s *Store) Seed(ctx context.Context) error {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM members`); err != nil {
		return fmt.Errorf("count members: %w", err)
	}
	if n > 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	members := []memberRow{
		{ID: 1, Nickname: "mina", Email: "mina@atties.dev", Education: "Hongik Univ. Painting"},
		{ID: 2, Nickname: "jun", Email: "jun@atties.dev", Education: "SNU Sculpture"},
		{ID: 3, Nickname: "sora", Email: "sora@atties.dev", Education: "Ewha Univ. Design"},
	}
	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO members (id, nickname, email, education, image) VALUES (:id, :nickname, :email, :education, :image)`,
		members); err != nil {
		return fmt.Errorf("seed members: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	auctions := []auctionRow{
		{ID: 1, Turn: 1, StartDate: now.AddDate(0, 0, -30).Format(market.TimeLayout), EndDate: now.AddDate(0, 0, -16).Format(market.TimeLayout)},
		{ID: 2, Turn: 2, StartDate: now.AddDate(0, 0, -2).Format(market.TimeLayout), EndDate: now.AddDate(0, 0, 12).Format(market.TimeLayout)},
	}
	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO auctions (id, turn, image, start_date, end_date) VALUES (:id, :turn, :image, :start_date, :end_date)`,
		auctions); err != nil {
		return fmt.Errorf("seed auctions: %w", err)
	}

	works := []seedArtwork{
		{ID: 1, ArtistID: 2, AuctionID: 1, Title: "Granite Study", Size: "40x40x60", Year: "2022", Material: "granite", TopPrice: 1200000},
		{ID: 2, ArtistID: 3, AuctionID: 1, Title: "Blue Hour", Size: "53x45.5", Year: "2022", Material: "acrylic", TopPrice: 450000},
		{ID: 3, ArtistID: 2, AuctionID: 2, Title: "Weight of Air", Size: "30x30x90", Year: "2023", Material: "bronze", TopPrice: 2100000},
		{ID: 4, ArtistID: 3, AuctionID: 2, Title: "Night Market", Size: "72.7x60.6", Year: "2023", Material: "oil on canvas", TopPrice: 800000},
		{ID: 5, ArtistID: 1, AuctionID: 2, Title: "Paper Moon", Size: "45.5x38", Year: "2023", Material: "ink", TopPrice: 300000},
		{ID: 42, ArtistID: 1, AuctionID: 2, Title: "Answer", Size: "116.8x91", Year: "2023", Material: "oil on canvas", TopPrice: 4200000},
	}
	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO artworks (id, artist_id, auction_id, title, size, production_year, material, top_price)
		 VALUES (:id, :artist_id, :auction_id, :title, :size, :production_year, :material, :top_price)`,
		works); err != nil {
		return fmt.Errorf("seed artworks: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tokens (token, kind, member_id) VALUES (?, ?, ?)`, DevRefreshToken, tokenRefresh, 1); err != nil {
		return fmt.Errorf("seed refresh token: %w", err)
	}
	return tx.Commit()
}
