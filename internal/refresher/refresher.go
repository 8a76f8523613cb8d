// Package refresher walks a bounded, staleness-ordered slice of the
// active catalog and merges each feed's overcast page into the episode
// log. It is the only writer of new episode rows; existing rows are
// never modified by a refresh, so re-running over the same pages is
// harmless.
package refresher

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"overcast-mirror/internal/catalog"
	"overcast-mirror/internal/fetcher"
	"overcast-mirror/internal/models"
	"overcast-mirror/internal/overcast"
	"overcast-mirror/internal/store"
)

// PodcastFetcher is the slice of the overcast client a refresh needs.
type PodcastFetcher interface {
	FetchPodcastPage(ctx context.Context, pageURL string) (overcast.PodcastPage, error)
}

// Stats counts what one refresh run did.
type Stats struct {
	Selected    int
	Refreshed   int
	NewEpisodes int
	Unavailable int
	ParseFailed int
	NoPageURL   int
}

// IncomingEpisode is an episode observed in some overcast surface (a
// podcast page or the extended export) that may not be in the log yet.
type IncomingEpisode struct {
	StableID        string
	Title           string
	PubDate         time.Time
	AudioURL        *string
	DurationSeconds *int
}

// Refresh selects up to limit active subscriptions, least recently
// refreshed first, and merges each one's page. A feed whose page is
// temporarily unavailable is skipped and stays stale, so the next run
// picks it up again; a rejected fetch aborts the whole run.
func Refresh(ctx context.Context, client PodcastFetcher, limit int, now func() time.Time) (Stats, error) {
	subs, err := store.GetStalestActiveSubscriptions(limit)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Selected: len(subs)}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if sub.FeedURL == nil {
			log.Warn().Str("subscription", sub.StableID).Msg("no page URL yet, run refresh-feeds-index first")
			stats.NoPageURL++
			continue
		}

		page, err := client.FetchPodcastPage(ctx, *sub.FeedURL)
		switch {
		case fetcher.IsUnavailable(err):
			log.Warn().Err(err).Str("subscription", sub.StableID).Msg("feed page unavailable, skipping")
			stats.Unavailable++
			continue
		case isParseError(err):
			log.Warn().Err(err).Str("subscription", sub.StableID).Msg("feed page unparseable, skipping")
			stats.ParseFailed++
			continue
		case err != nil:
			return stats, err
		}

		added, err := MergeEpisodes(sub.StableID, fromPage(page), now())
		if err != nil {
			return stats, err
		}
		if err := store.TouchSubscriptionRefreshed(sub.StableID, now()); err != nil {
			return stats, err
		}
		stats.Refreshed++
		stats.NewEpisodes += added

		log.Info().
			Str("subscription", sub.StableID).
			Str("title", sub.Title).
			Int("new_episodes", added).
			Msg("refreshed feed")
	}
	return stats, nil
}

// MergeEpisodes inserts the episodes that are not in the log yet and
// leaves every existing row untouched. It returns how many were new.
func MergeEpisodes(subscriptionID string, episodes []IncomingEpisode, now time.Time) (int, error) {
	added := 0
	for _, in := range episodes {
		_, err := store.GetEpisode(in.StableID)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return added, err
		}

		ep := models.Episode{
			StableID:        in.StableID,
			SubscriptionID:  subscriptionID,
			Title:           in.Title,
			PublishedAt:     in.PubDate,
			AudioURL:        in.AudioURL,
			DurationSeconds: in.DurationSeconds,
			CreatedAt:       now,
		}
		if err := store.InsertEpisode(ep); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// MergeExport merges the episode outlines of an extended export into
// the log, feed by feed. Feeds not in the catalog are skipped; the
// export can mention a feed the reconcile pass chose not to add.
func MergeExport(export overcast.AccountExport, now time.Time) (int, error) {
	added := 0
	for _, feed := range export.Feeds {
		subID := feed.StableID()
		known, err := catalog.SubscriptionExists(subID)
		if err != nil {
			return added, err
		}
		if !known {
			continue
		}
		n, err := MergeEpisodes(subID, fromExport(feed.Episodes), now)
		if err != nil {
			return added, err
		}
		added += n
	}
	return added, nil
}

func fromPage(page overcast.PodcastPage) []IncomingEpisode {
	eps := make([]IncomingEpisode, 0, len(page.Episodes))
	for _, ep := range page.Episodes {
		eps = append(eps, IncomingEpisode{
			StableID:        ep.StableID,
			Title:           ep.Title,
			PubDate:         ep.PubDate,
			DurationSeconds: ep.DurationSeconds,
		})
	}
	return eps
}

func fromExport(episodes []overcast.ExportEpisode) []IncomingEpisode {
	eps := make([]IncomingEpisode, 0, len(episodes))
	for _, ep := range episodes {
		in := IncomingEpisode{
			StableID: ep.StableID,
			Title:    ep.Title,
			PubDate:  ep.PubDate,
		}
		if ep.EnclosureURL != "" {
			u := ep.EnclosureURL
			in.AudioURL = &u
		}
		eps = append(eps, in)
	}
	return eps
}

func isParseError(err error) bool {
	var pe *overcast.ParseError
	return errors.As(err, &pe)
}
