// Package market is the HTTP client of the marketplace REST backend.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// maxErrorBody bounds how much of a failed response ends up in StatusError.
const maxErrorBody = 4 << 10

type Client struct {
	base *url.URL
	hc   *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client for the backend at baseURL. A nil hc uses http.DefaultClient.
func New(baseURL string, hc *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("market: parse base url: %w", err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: u, hc: hc}, nil
}

func (c *Client) SetAccessToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) GetArtwork(ctx context.Context, id int64) (Artwork, error) {
	var out Artwork
	err := c.do(ctx, http.MethodGet, "/artwork/"+strconv.FormatInt(id, 10), nil, nil, &out)
	return out, err
}

func (c *Client) CustomizedArtworks(ctx context.Context) (ArtworkList, error) {
	var out ArtworkList
	err := c.do(ctx, http.MethodGet, "/artwork/customized", nil, nil, &out)
	return out, err
}

// ArtworkFeed loads one page of the feed; pages start at 0.
func (c *Client) ArtworkFeed(ctx context.Context, page, size int) (FeedPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	var out FeedPage
	err := c.do(ctx, http.MethodGet, "/artwork", q, nil, &out)
	return out, err
}

func (c *Client) PostPrefer(ctx context.Context, artworkID int64) (Prefer, error) {
	var out Prefer
	err := c.do(ctx, http.MethodPost, preferPath(artworkID), nil, nil, &out)
	return out, err
}

func (c *Client) DeletePrefer(ctx context.Context, artworkID int64) (Prefer, error) {
	var out Prefer
	err := c.do(ctx, http.MethodDelete, preferPath(artworkID), nil, nil, &out)
	return out, err
}

func preferPath(id int64) string { return "/artwork/" + strconv.FormatInt(id, 10) + "/prefer" }

func (c *Client) AuctionList(ctx context.Context) ([]Auction, error) {
	var out []Auction
	err := c.do(ctx, http.MethodGet, "/auction", nil, nil, &out)
	return out, err
}

func (c *Client) PickDetail(ctx context.Context, artistID int64) (ArtistDetail, error) {
	var out ArtistDetail
	err := c.do(ctx, http.MethodGet, "/members/pick/"+strconv.FormatInt(artistID, 10), nil, nil, &out)
	return out, err
}

// Exhibit lists the artworks shown in one exhibition.
func (c *Client) Exhibit(ctx context.Context, id int64) ([]Artwork, error) {
	var out []Artwork
	err := c.do(ctx, http.MethodGet, "/exhibit/"+strconv.FormatInt(id, 10), nil, nil, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context) (Member, error) {
	var out Member
	err := c.do(ctx, http.MethodGet, "/members/me", nil, nil, &out)
	return out, err
}

// RefreshToken trades a refresh token for an access token and installs it on
// the client. The request itself is sent without Authorization.
func (c *Client) RefreshToken(ctx context.Context, refresh string) (Token, error) {
	c.SetAccessToken("")
	var out Token
	body := struct {
		RefreshToken string `json:"refreshToken"`
	}{refresh}
	if err := c.do(ctx, http.MethodPost, "/members/token", nil, body, &out); err != nil {
		return Token{}, err
	}
	c.SetAccessToken(out.AccessToken)
	return out, nil
}

// CheckNickname reports whether nickname is still free. A 409 answer means taken.
func (c *Client) CheckNickname(ctx context.Context, nickname string) (bool, error) {
	return c.check(ctx, "/members/nickname", "nickname", nickname)
}

// CheckEmail reports whether email is still free. A 409 answer means taken.
func (c *Client) CheckEmail(ctx context.Context, email string) (bool, error) {
	return c.check(ctx, "/members/email", "email", email)
}

func (c *Client) check(ctx context.Context, path, param, value string) (bool, error) {
	q := url.Values{}
	q.Set(param, value)
	err := c.do(ctx, http.MethodGet, path, q, nil, nil)
	switch {
	case err == nil:
		return true, nil
	case IsStatus(err, http.StatusConflict):
		return false, nil
	default:
		return false, err
	}
}

func (c *Client) PatchProfile(ctx context.Context, p ProfilePatch) (Member, error) {
	var out Member
	err := c.do(ctx, http.MethodPatch, "/members/me", nil, p, &out)
	return out, err
}

// PostArtwork lists a new artwork as the signed-in artist. The listing goes
// out as multipart/form-data: one part per field, one "image" part per photo
// and a "guaranteeImage" part with the signature.
func (c *Client) PostArtwork(ctx context.Context, p ArtworkPost) (Artwork, error) {
	if err := p.Validate(); err != nil {
		return Artwork{}, err
	}
	body, ctype, err := p.encode()
	if err != nil {
		return Artwork{}, fmt.Errorf("market: encode POST /artwork: %w", err)
	}
	var out Artwork
	err = c.send(ctx, http.MethodPost, "/artwork", nil, body, ctype, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	if in == nil {
		return c.send(ctx, method, path, q, nil, "", out)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("market: encode %s %s: %w", method, path, err)
	}
	return c.send(ctx, method, path, q, bytes.NewReader(b), "application/json", out)
}

func (c *Client) send(ctx context.Context, method, path string, q url.Values, body io.Reader, ctype string, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("market: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	if tok := c.AccessToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("market: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Status: resp.StatusCode,
			Method: method,
			Path:   path,
			Body:   strings.TrimSpace(string(msg)),
		}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("market: decode %s %s: %w", method, path, err)
	}
	return nil
}
