package overcast

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// IndexFeed is one row of the /podcasts index page.
type IndexFeed struct {
	ItemID      string // e.g. "p12345-AbCdEf"
	OvercastID  int64
	Title       string
	HasUnplayed bool
}

// PageURL is the overcast page the feed refresher fetches for this feed.
func (f IndexFeed) PageURL() string {
	return "https://overcast.fm/" + f.ItemID
}

// ParseIndex parses the authenticated /podcasts index page.
func ParseIndex(data []byte) ([]IndexFeed, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{What: "podcasts index", Err: err}
	}

	var feeds []IndexFeed
	doc.Find("a.feedcell").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "/uploads" {
			return
		}

		id := strings.TrimPrefix(href, "/")
		var overcastID int64
		if strings.HasPrefix(id, "p") {
			numeric := strings.SplitN(strings.TrimPrefix(id, "p"), "-", 2)[0]
			if n, err := strconv.ParseInt(numeric, 10, 64); err == nil {
				overcastID = n
			}
		}

		title := strings.TrimSpace(sel.Find(".titlestack > .title").Text())
		if title == "" {
			log.Warn().Str("href", href).Msg("feedcell without title")
			return
		}

		feeds = append(feeds, IndexFeed{
			ItemID:      id,
			OvercastID:  overcastID,
			Title:       title,
			HasUnplayed: sel.Find(".unplayed_indicator").Length() > 0,
		})
	})

	if len(feeds) == 0 {
		return nil, &ParseError{What: "podcasts index: no feed cells found"}
	}
	return feeds, nil
}

// PageEpisode is one episode cell of a podcast page.
type PageEpisode struct {
	StableID        string // "+AbCdE"
	Title           string
	Description     string
	PubDate         time.Time
	DurationSeconds *int
	IsPlayed        bool
	IsDeleted       bool
	IsNew           bool
}

// PodcastPage is the parsed episode list for one feed.
type PodcastPage struct {
	Episodes []PageEpisode
}

// ParsePodcastPage parses a feed's overcast page into its episode
// cells. A malformed cell is skipped; it never poisons the batch.
func ParsePodcastPage(data []byte) (PodcastPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return PodcastPage{}, &ParseError{What: "podcast page", Err: err}
	}

	var page PodcastPage
	doc.Find("a.extendedepisodecell").Each(func(_ int, sel *goquery.Selection) {
		ep, err := parseEpisodeCell(sel)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed episode cell")
			return
		}
		page.Episodes = append(page.Episodes, ep)
	})

	if len(page.Episodes) == 0 {
		return PodcastPage{}, &ParseError{What: "podcast page: no episode cells found"}
	}
	return page, nil
}

func parseEpisodeCell(sel *goquery.Selection) (PageEpisode, error) {
	href, ok := sel.Attr("href")
	if !ok {
		return PageEpisode{}, &ParseError{What: "episode cell without href"}
	}
	id, err := EpisodeStableID("https://overcast.fm" + href)
	if err != nil {
		return PageEpisode{}, err
	}

	caption := sel.Find(".caption2").First()
	if caption.Length() == 0 {
		return PageEpisode{}, &ParseError{What: fmt.Sprintf("episode cell %s without caption", id)}
	}
	parsed, err := ParseCaption(caption.Text())
	if err != nil {
		return PageEpisode{}, err
	}

	class, _ := sel.Attr("class")
	return PageEpisode{
		StableID:        id,
		Title:           strings.TrimSpace(sel.Find(".title").First().Text()),
		Description:     strings.TrimSpace(sel.Find(".lighttext").First().Text()),
		PubDate:         parsed.PubDate,
		DurationSeconds: parsed.DurationSeconds,
		IsPlayed:        parsed.IsPlayed,
		IsDeleted:       strings.Contains(class, "userdeletedepisode"),
		IsNew:           strings.Contains(class, "usernewepisode"),
	}, nil
}

// EpisodePage is the parsed standalone episode page, fetched during
// backfill when an episode is missing its enclosure or duration.
type EpisodePage struct {
	Title           string
	AudioURL        string
	DurationSeconds *int
}

// ParseEpisodePage extracts the audio source and, when the caption
// carries one, the duration.
func ParseEpisodePage(data []byte) (EpisodePage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return EpisodePage{}, &ParseError{What: "episode page", Err: err}
	}

	var page EpisodePage
	page.Title = strings.TrimSpace(doc.Find("meta[property='og:title']").AttrOr("content", ""))
	page.AudioURL = doc.Find("audio source").AttrOr("src", "")
	if page.AudioURL == "" {
		page.AudioURL = doc.Find("meta[name='twitter:player:stream']").AttrOr("content", "")
	}

	if caption := doc.Find(".caption2").First(); caption.Length() > 0 {
		if parsed, err := ParseCaption(caption.Text()); err == nil {
			page.DurationSeconds = parsed.DurationSeconds
		}
	}

	if page.AudioURL == "" && page.DurationSeconds == nil {
		return EpisodePage{}, &ParseError{What: "episode page: no audio source or duration"}
	}
	return page, nil
}
