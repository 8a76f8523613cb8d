// Package overcast turns fetched overcast.fm pages and exports into
// structured records. Parsing is pure: bytes in, records out.
package overcast

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ParseError is local to a single item: the caller skips that item and
// continues the batch.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("overcast: parsing %s: %v", e.What, e.Err)
	}
	return "overcast: parsing " + e.What
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExportEpisode is one podcast-episode outline from the extended OPML
// export.
type ExportEpisode struct {
	StableID     string
	OvercastID   int64
	Title        string
	OvercastURL  string
	EnclosureURL string
	PubDate      time.Time
	Played       bool
	UserDeleted  bool
}

// ExportFeed is one rss outline from the extended OPML export.
type ExportFeed struct {
	OvercastID int64
	Title      string
	XMLURL     string
	HTMLURL    string
	AddedAt    time.Time
	Subscribed bool
	Episodes   []ExportEpisode
}

// StableID derives the feed's merge key from its exported URL.
func (f ExportFeed) StableID() string {
	return FeedStableID(f.XMLURL)
}

// AccountExport is the parsed extended OPML export.
type AccountExport struct {
	Feeds []ExportFeed
}

type opmlOutline struct {
	Text         string        `xml:"text,attr"`
	Type         string        `xml:"type,attr"`
	Title        string        `xml:"title,attr"`
	XMLURL       string        `xml:"xmlUrl,attr"`
	HTMLURL      string        `xml:"htmlUrl,attr"`
	URL          string        `xml:"url,attr"`
	OvercastID   int64         `xml:"overcastId,attr"`
	OvercastURL  string        `xml:"overcastUrl,attr"`
	AddedDate    string        `xml:"overcastAddedDate,attr"`
	PubDate      string        `xml:"pubDate,attr"`
	Subscribed   string        `xml:"subscribed,attr"`
	Played       string        `xml:"played,attr"`
	UserDeleted  string        `xml:"userDeleted,attr"`
	EnclosureURL string        `xml:"enclosureUrl,attr"`
	Outlines     []opmlOutline `xml:"outline"`
}

type opmlDoc struct {
	XMLName xml.Name `xml:"opml"`
	Body    struct {
		Outlines []opmlOutline `xml:"outline"`
	} `xml:"body"`
}

// ParseExport parses the extended OPML account export.
func ParseExport(data []byte) (AccountExport, error) {
	var doc opmlDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return AccountExport{}, &ParseError{What: "opml export", Err: err}
	}

	var export AccountExport
	for _, group := range doc.Body.Outlines {
		if group.Text != "feeds" {
			continue
		}
		for _, node := range group.Outlines {
			feed, err := parseExportFeed(node)
			if err != nil {
				log.Warn().Err(err).Str("title", node.Title).Msg("skipping malformed export feed")
				continue
			}
			export.Feeds = append(export.Feeds, feed)
		}
	}

	log.Info().Int("feeds", len(export.Feeds)).Msg("parsed account export")
	return export, nil
}

func parseExportFeed(node opmlOutline) (ExportFeed, error) {
	if node.Type != "rss" {
		return ExportFeed{}, &ParseError{What: fmt.Sprintf("feed outline type %q", node.Type)}
	}
	if node.XMLURL == "" {
		return ExportFeed{}, &ParseError{What: "feed outline without xmlUrl"}
	}

	addedAt, err := parseExportTime(node.AddedDate)
	if err != nil {
		return ExportFeed{}, &ParseError{What: "feed added date", Err: err}
	}

	feed := ExportFeed{
		OvercastID: node.OvercastID,
		Title:      node.Title,
		XMLURL:     node.XMLURL,
		HTMLURL:    node.HTMLURL,
		AddedAt:    addedAt,
		Subscribed: node.Subscribed == "1",
	}

	for _, child := range node.Outlines {
		ep, err := parseExportEpisode(child)
		if err != nil {
			log.Warn().Err(err).Str("title", child.Title).Msg("skipping malformed export episode")
			continue
		}
		feed.Episodes = append(feed.Episodes, ep)
	}
	return feed, nil
}

func parseExportEpisode(node opmlOutline) (ExportEpisode, error) {
	if node.Type != "podcast-episode" {
		return ExportEpisode{}, &ParseError{What: fmt.Sprintf("episode outline type %q", node.Type)}
	}

	id, err := EpisodeStableID(node.OvercastURL)
	if err != nil {
		return ExportEpisode{}, err
	}
	pubDate, err := parseExportTime(node.PubDate)
	if err != nil {
		return ExportEpisode{}, &ParseError{What: "episode pub date", Err: err}
	}

	return ExportEpisode{
		StableID:     id,
		OvercastID:   node.OvercastID,
		Title:        node.Title,
		OvercastURL:  node.OvercastURL,
		EnclosureURL: node.EnclosureURL,
		PubDate:      pubDate,
		Played:       node.Played == "1",
		UserDeleted:  node.UserDeleted == "1",
	}, nil
}

var exportTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-07:00",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02",
}

func parseExportTime(s string) (time.Time, error) {
	for _, layout := range exportTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
