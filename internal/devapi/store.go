// Package devapi is a local stand-in for the marketplace backend: a sqlite
// catalogue behind the same REST routes the market client calls.
package devapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/optisync/market"
)

var (
	ErrNotFound     = errors.New("devapi: not found")
	ErrConflict     = errors.New("devapi: already taken")
	ErrUnauthorized = errors.New("devapi: unauthorized")
)

const schema = `
CREATE TABLE IF NOT EXISTS members (
	id        INTEGER NOT NULL PRIMARY KEY,
	nickname  TEXT    NOT NULL UNIQUE,
	email     TEXT    NOT NULL UNIQUE,
	education TEXT    NOT NULL DEFAULT '',
	image     TEXT    NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS auctions (
	id         INTEGER NOT NULL PRIMARY KEY,
	turn       INTEGER NOT NULL,
	image      TEXT    NOT NULL DEFAULT '',
	start_date TEXT    NOT NULL,
	end_date   TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS artworks (
	id              INTEGER NOT NULL PRIMARY KEY,
	artist_id       INTEGER NOT NULL REFERENCES members(id),
	auction_id      INTEGER REFERENCES auctions(id),
	title           TEXT    NOT NULL,
	main_image      TEXT    NOT NULL DEFAULT '',
	size            TEXT    NOT NULL DEFAULT '',
	production_year TEXT    NOT NULL DEFAULT '',
	material        TEXT    NOT NULL DEFAULT '',
	genre           TEXT    NOT NULL DEFAULT '',
	keywords        TEXT    NOT NULL DEFAULT '',
	description     TEXT    NOT NULL DEFAULT '',
	guarantee_image TEXT    NOT NULL DEFAULT '',
	top_price       INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS prefers (
	member_id  INTEGER NOT NULL,
	artwork_id INTEGER NOT NULL,
	PRIMARY KEY (member_id, artwork_id)
);
CREATE TABLE IF NOT EXISTS tokens (
	token     TEXT    NOT NULL PRIMARY KEY,
	kind      TEXT    NOT NULL,
	member_id INTEGER NOT NULL
);
`

type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (and migrates) a sqlite database. dsn ":memory:" keeps
// everything in process.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	// one connection: an in-memory database exists per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type artworkRow struct {
	ID             int64  `db:"id"`
	Title          string `db:"title"`
	MainImage      string `db:"main_image"`
	Education      string `db:"education"`
	Size           string `db:"size"`
	ProductionYear string `db:"production_year"`
	Material       string `db:"material"`
	Genre          string `db:"genre"`
	TopPrice       int64  `db:"top_price"`
	Pick           bool   `db:"pick"`
}

func (r artworkRow) artwork() market.Artwork {
	return market.Artwork{
		ID:             r.ID,
		Title:          r.Title,
		MainImage:      r.MainImage,
		Education:      r.Education,
		ArtworkSize:    r.Size,
		ProductionYear: r.ProductionYear,
		Material:       r.Material,
		Genre:          r.Genre,
		TopPrice:       r.TopPrice,
		Pick:           r.Pick,
	}
}

func artworks(rows []artworkRow) []market.Artwork {
	out := make([]market.Artwork, len(rows))
	for i, r := range rows {
		out[i] = r.artwork()
	}
	return out
}

// selectArtworks picks artwork columns plus whether member prefers each one.
// The member id is always the first bind parameter.
const selectArtworks = `
SELECT a.id, a.title, a.main_image, m.education, a.size, a.production_year,
       a.material, a.genre, a.top_price,
       EXISTS(SELECT 1 FROM prefers p WHERE p.artwork_id = a.id AND p.member_id = ?) AS pick
FROM artworks a JOIN members m ON m.id = a.artist_id`

func (s *Store) Artwork(ctx context.Context, memberID, id int64) (market.Artwork, error) {
	var row artworkRow
	err := s.db.GetContext(ctx, &row, selectArtworks+` WHERE a.id = ?`, memberID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Artwork{}, ErrNotFound
	}
	if err != nil {
		return market.Artwork{}, fmt.Errorf("load artwork %d: %w", id, err)
	}
	return row.artwork(), nil
}

type newArtwork struct {
	ArtistID       int64  `db:"artist_id"`
	Title          string `db:"title"`
	MainImage      string `db:"main_image"`
	Size           string `db:"size"`
	ProductionYear string `db:"production_year"`
	Material       string `db:"material"`
	Genre          string `db:"genre"`
	Keywords       string `db:"keywords"`
	Description    string `db:"description"`
	GuaranteeImage string `db:"guarantee_image"`
	TopPrice       int64  `db:"top_price"`
}

// CreateArtwork lists a new artwork by artistID outside any auction. Image
// bytes are not kept; the first image only names the main image path.
func (s *Store) CreateArtwork(ctx context.Context, artistID int64, p market.ArtworkPost) (market.Artwork, error) {
	if err := p.Validate(); err != nil {
		return market.Artwork{}, err
	}
	row := newArtwork{
		ArtistID:       artistID,
		Title:          p.Title,
		MainImage:      imagePath(p.Images[0]),
		Size:           p.Size,
		ProductionYear: strconv.Itoa(p.ProductionYear),
		Material:       p.Material,
		Genre:          p.Genre,
		Keywords:       strings.Join(p.Keywords, ","),
		Description:    p.Description,
		GuaranteeImage: imagePath(p.GuaranteeImage),
		TopPrice:       p.Price,
	}
	res, err := s.db.NamedExecContext(ctx,
		`INSERT INTO artworks (artist_id, title, main_image, size, production_year, material, genre, keywords, description, guarantee_image, top_price)
		 VALUES (:artist_id, :title, :main_image, :size, :production_year, :material, :genre, :keywords, :description, :guarantee_image, :top_price)`,
		row)
	if err != nil {
		return market.Artwork{}, fmt.Errorf("insert artwork: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return market.Artwork{}, fmt.Errorf("insert artwork: %w", err)
	}
	return s.Artwork(ctx, artistID, id)
}

func imagePath(img market.Image) string {
	return "/images/" + uuid.NewString() + path.Ext(img.Name)
}

// Customized returns the member's selection: artworks they have not
// preferred yet first, then by price.
func (s *Store) Customized(ctx context.Context, memberID int64, limit int) ([]market.Artwork, error) {
	var rows []artworkRow
	err := s.db.SelectContext(ctx, &rows, selectArtworks+` ORDER BY pick, a.top_price DESC, a.id LIMIT ?`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("load customized artworks: %w", err)
	}
	return artworks(rows), nil
}

func (s *Store) Feed(ctx context.Context, memberID int64, page, size int) (market.FeedPage, error) {
	if page < 0 || size <= 0 {
		return market.FeedPage{}, fmt.Errorf("bad page %d/%d", page, size)
	}
	var rows []artworkRow
	// one extra row tells whether another page exists
	err := s.db.SelectContext(ctx, &rows, selectArtworks+` ORDER BY a.id LIMIT ? OFFSET ?`, memberID, size+1, page*size)
	if err != nil {
		return market.FeedPage{}, fmt.Errorf("load feed page %d: %w", page, err)
	}
	p := market.FeedPage{Page: page, HasNext: len(rows) > size}
	if p.HasNext {
		rows = rows[:size]
	}
	p.Artworks = artworks(rows)
	return p, nil
}

// SetPrefer records (on) or removes a member's like. Both directions are idempotent.
func (s *Store) SetPrefer(ctx context.Context, memberID, artworkID int64, on bool) (market.Prefer, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM artworks WHERE id = ?)`, artworkID); err != nil {
		return market.Prefer{}, fmt.Errorf("check artwork %d: %w", artworkID, err)
	}
	if !exists {
		return market.Prefer{}, ErrNotFound
	}

	stmt := `DELETE FROM prefers WHERE member_id = ? AND artwork_id = ?`
	if on {
		stmt = `INSERT OR IGNORE INTO prefers (member_id, artwork_id) VALUES (?, ?)`
	}
	if _, err := s.db.ExecContext(ctx, stmt, memberID, artworkID); err != nil {
		return market.Prefer{}, fmt.Errorf("set prefer %d/%d: %w", memberID, artworkID, err)
	}
	return market.Prefer{ArtworkID: artworkID, Pick: on}, nil
}

type auctionRow struct {
	ID        int64  `db:"id"`
	Turn      int    `db:"turn"`
	Image     string `db:"image"`
	StartDate string `db:"start_date"`
	EndDate   string `db:"end_date"`
}

// Auctions lists every auction; status is derived from the clock.
func (s *Store) Auctions(ctx context.Context) ([]market.Auction, error) {
	var rows []auctionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, turn, image, start_date, end_date FROM auctions ORDER BY turn DESC`); err != nil {
		return nil, fmt.Errorf("load auctions: %w", err)
	}
	now := s.now()
	out := make([]market.Auction, 0, len(rows))
	for _, r := range rows {
		start, err := time.ParseInLocation(market.TimeLayout, r.StartDate, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("auction %d start: %w", r.ID, err)
		}
		end, err := time.ParseInLocation(market.TimeLayout, r.EndDate, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("auction %d end: %w", r.ID, err)
		}
		st := market.AuctionProcessing
		if !now.Before(end) {
			st = market.AuctionTerminated
		}
		out = append(out, market.Auction{
			ID:        r.ID,
			Turn:      r.Turn,
			Image:     r.Image,
			StartDate: market.Time{Time: start},
			EndDate:   market.Time{Time: end},
			Status:    st,
		})
	}
	return out, nil
}

// Exhibit lists the artworks of one auction.
func (s *Store) Exhibit(ctx context.Context, memberID, auctionID int64) ([]market.Artwork, error) {
	var rows []artworkRow
	if err := s.db.SelectContext(ctx, &rows, selectArtworks+` WHERE a.auction_id = ? ORDER BY a.id`, memberID, auctionID); err != nil {
		return nil, fmt.Errorf("load exhibit %d: %w", auctionID, err)
	}
	return artworks(rows), nil
}

type memberRow struct {
	ID        int64  `db:"id"`
	Nickname  string `db:"nickname"`
	Email     string `db:"email"`
	Education string `db:"education"`
	Image     string `db:"image"`
}

func (r memberRow) member() market.Member {
	return market.Member(r)
}

func (s *Store) Member(ctx context.Context, id int64) (market.Member, error) {
	var row memberRow
	err := s.db.GetContext(ctx, &row, `SELECT id, nickname, email, education, image FROM members WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Member{}, ErrNotFound
	}
	if err != nil {
		return market.Member{}, fmt.Errorf("load member %d: %w", id, err)
	}
	return row.member(), nil
}

func (s *Store) ArtistDetail(ctx context.Context, memberID, artistID int64) (market.ArtistDetail, error) {
	m, err := s.Member(ctx, artistID)
	if err != nil {
		return market.ArtistDetail{}, err
	}
	var rows []artworkRow
	if err := s.db.SelectContext(ctx, &rows, selectArtworks+` WHERE a.artist_id = ? ORDER BY a.id`, memberID, artistID); err != nil {
		return market.ArtistDetail{}, fmt.Errorf("load artworks of %d: %w", artistID, err)
	}
	return market.ArtistDetail{
		ID:        m.ID,
		Nickname:  m.Nickname,
		Education: m.Education,
		Image:     m.Image,
		Artworks:  artworks(rows),
	}, nil
}

// Taken reports whether another member already uses value in column
// ("nickname" or "email").
func (s *Store) Taken(ctx context.Context, column, value string, exceptID int64) (bool, error) {
	if column != "nickname" && column != "email" {
		return false, fmt.Errorf("unknown column %q", column)
	}
	var taken bool
	err := s.db.GetContext(ctx, &taken,
		`SELECT EXISTS(SELECT 1 FROM members WHERE `+column+` = ? COLLATE NOCASE AND id <> ?)`, value, exceptID)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", column, err)
	}
	return taken, nil
}

func (s *Store) PatchMember(ctx context.Context, id int64, p market.ProfilePatch) (market.Member, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return market.Member{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var row memberRow
	err = tx.GetContext(ctx, &row, `SELECT id, nickname, email, education, image FROM members WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Member{}, ErrNotFound
	}
	if err != nil {
		return market.Member{}, fmt.Errorf("load member %d: %w", id, err)
	}
	if p.Nickname != "" {
		row.Nickname = p.Nickname
	}
	if p.Email != "" {
		row.Email = p.Email
	}
	if p.Education != "" {
		row.Education = p.Education
	}
	if p.Image != "" {
		row.Image = p.Image
	}
	_, err = tx.NamedExecContext(ctx,
		`UPDATE members SET nickname = :nickname, email = :email, education = :education, image = :image WHERE id = :id`, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return market.Member{}, ErrConflict
		}
		return market.Member{}, fmt.Errorf("update member %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return market.Member{}, err
	}
	return row.member(), nil
}

const (
	tokenRefresh = "refresh"
	tokenAccess  = "access"
)

// IssueRefreshToken creates a refresh token for member.
func (s *Store) IssueRefreshToken(ctx context.Context, memberID int64) (string, error) {
	return s.issue(ctx, tokenRefresh, memberID)
}

// Refresh trades a refresh token for a new access token.
func (s *Store) Refresh(ctx context.Context, refresh string) (string, error) {
	id, err := s.resolve(ctx, tokenRefresh, refresh)
	if err != nil {
		return "", err
	}
	return s.issue(ctx, tokenAccess, id)
}

// Authenticate resolves an access token to a member id.
func (s *Store) Authenticate(ctx context.Context, access string) (int64, error) {
	return s.resolve(ctx, tokenAccess, access)
}

func (s *Store) issue(ctx context.Context, kind string, memberID int64) (string, error) {
	tok := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO tokens (token, kind, member_id) VALUES (?, ?, ?)`, tok, kind, memberID)
	if err != nil {
		return "", fmt.Errorf("issue %s token: %w", kind, err)
	}
	return tok, nil
}

func (s *Store) resolve(ctx context.Context, kind, tok string) (int64, error) {
	if tok == "" {
		return 0, ErrUnauthorized
	}
	var id int64
	err := s.db.GetContext(ctx, &id, `SELECT member_id FROM tokens WHERE token = ? AND kind = ?`, tok, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnauthorized
	}
	if err != nil {
		return 0, fmt.Errorf("resolve %s token: %w", kind, err)
	}
	return id, nil
}
