package overcast

import (
	"bytes"
	"context"
	"errors"
	"time"

	"overcast-mirror/internal/fetcher"
)

const baseURL = "https://overcast.fm"

// Cache lifetimes per endpoint, matching how often the remote content
// meaningfully changes.
const (
	exportTTL = 24 * time.Hour
	pageTTL   = time.Hour
	audioTTL  = 30 * 24 * time.Hour
)

// loggedOutMarker appears in the HTML served to an expired session.
// Such a response means every authenticated call this run would fail
// identically.
var loggedOutMarker = []byte("Log In")

// Client exposes the account endpoints the sync engine needs.
type Client struct {
	fetcher *fetcher.Client
}

func NewClient(f *fetcher.Client) *Client {
	return &Client{fetcher: f}
}

// FetchExport downloads and parses the extended OPML account export.
func (c *Client) FetchExport(ctx context.Context) (AccountExport, error) {
	body, err := c.fetchPage(ctx, baseURL+"/account/export_opml/extended", "application/xml", exportTTL)
	if err != nil {
		return AccountExport{}, err
	}
	return ParseExport(body)
}

// FetchPodcastsIndex downloads and parses the /podcasts index page.
func (c *Client) FetchPodcastsIndex(ctx context.Context) ([]IndexFeed, error) {
	body, err := c.fetchPage(ctx, baseURL+"/podcasts", "text/html", pageTTL)
	if err != nil {
		return nil, err
	}
	return ParseIndex(body)
}

// FetchPodcastPage downloads and parses one feed's episode list.
func (c *Client) FetchPodcastPage(ctx context.Context, pageURL string) (PodcastPage, error) {
	body, err := c.fetchPage(ctx, pageURL, "text/html", pageTTL)
	if err != nil {
		return PodcastPage{}, err
	}
	return ParsePodcastPage(body)
}

// FetchEpisodePage downloads and parses one episode's standalone page.
func (c *Client) FetchEpisodePage(ctx context.Context, stableID string) (EpisodePage, error) {
	body, err := c.fetchPage(ctx, baseURL+"/"+stableID, "text/html", pageTTL)
	if err != nil {
		return EpisodePage{}, err
	}
	return ParseEpisodePage(body)
}

// FetchAudio downloads the audio resource for duration probing.
func (c *Client) FetchAudio(ctx context.Context, audioURL string) ([]byte, error) {
	return c.fetcher.Fetch(ctx, fetcher.Request{URL: audioURL, TTL: audioTTL})
}

func (c *Client) fetchPage(ctx context.Context, url, accept string, ttl time.Duration) ([]byte, error) {
	body, err := c.fetcher.Fetch(ctx, fetcher.Request{URL: url, Accept: accept, TTL: ttl})
	if err != nil {
		return nil, err
	}
	if bytes.Contains(body, loggedOutMarker) {
		return nil, &fetcher.FetchError{Kind: fetcher.Rejected, URL: url, Err: errLoggedOut}
	}
	return body, nil
}

var errLoggedOut = errors.New("received logged out page")
