// Package backfill fills in missing episode durations. Each run picks
// a bounded batch of episodes without a duration, resolves the audio
// enclosure if the log does not have one yet, and measures the audio.
// Failures only stamp last_attempted_at; repeated runs converge on the
// episodes that can still make progress.
package backfill

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"overcast-mirror/internal/fetcher"
	"overcast-mirror/internal/models"
	"overcast-mirror/internal/overcast"
	"overcast-mirror/internal/store"
)

// EpisodeFetcher is the slice of the overcast client a backfill needs.
type EpisodeFetcher interface {
	FetchEpisodePage(ctx context.Context, stableID string) (overcast.EpisodePage, error)
	FetchAudio(ctx context.Context, audioURL string) ([]byte, error)
}

// Stats counts what one backfill run did.
type Stats struct {
	Eligible    int
	Selected    int
	Filled      int
	Unavailable int
	Unreadable  int
	NoAudio     int
}

// Options shape one backfill run.
type Options struct {
	Limit     int
	Randomize bool
	// Seed drives the shuffle when Randomize is set; zero means seed
	// from the clock.
	Seed int64
}

// Run selects up to opts.Limit episodes missing a duration and tries
// to fill each one. The default order is oldest published first; with
// Randomize the batch is drawn uniformly from the whole eligible set,
// so a head of permanently broken episodes cannot starve the rest.
func Run(ctx context.Context, client EpisodeFetcher, opts Options, now func() time.Time) (Stats, error) {
	eligible, err := store.GetEpisodesMissingDuration()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Eligible: len(eligible)}
	batch := selectBatch(eligible, opts, now)
	stats.Selected = len(batch)

	for _, ep := range batch {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := fillOne(ctx, client, ep, &stats, now); err != nil {
			return stats, err
		}
	}

	log.Info().
		Int("eligible", stats.Eligible).
		Int("selected", stats.Selected).
		Int("filled", stats.Filled).
		Int("unavailable", stats.Unavailable).
		Msg("backfill run finished")
	return stats, nil
}

func selectBatch(eligible []models.Episode, opts Options, now func() time.Time) []models.Episode {
	batch := make([]models.Episode, len(eligible))
	copy(batch, eligible)

	if opts.Randomize {
		seed := opts.Seed
		if seed == 0 {
			seed = now().UnixNano()
		}
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(batch), func(i, j int) {
			batch[i], batch[j] = batch[j], batch[i]
		})
	}

	if opts.Limit > 0 && len(batch) > opts.Limit {
		batch = batch[:opts.Limit]
	}
	return batch
}

// fillOne resolves one episode's duration. Unavailable fetches,
// unparseable pages, and unreadable audio are recorded as an attempt
// and skipped; rejected fetches and store failures abort the run.
func fillOne(ctx context.Context, client EpisodeFetcher, ep models.Episode, stats *Stats, now func() time.Time) error {
	audioURL := ep.AudioURL

	if audioURL == nil {
		page, err := client.FetchEpisodePage(ctx, ep.StableID)
		switch {
		case fetcher.IsUnavailable(err):
			stats.Unavailable++
			return store.TouchEpisodeAttempted(ep.StableID, now())
		case isParseError(err):
			log.Warn().Err(err).Str("episode", ep.StableID).Msg("episode page unparseable, skipping")
			stats.Unreadable++
			return store.TouchEpisodeAttempted(ep.StableID, now())
		case err != nil:
			return err
		}

		if page.DurationSeconds != nil {
			// The page caption already carries the duration; no need
			// to download the audio at all.
			if page.AudioURL != "" {
				if err := store.SetEpisodeAudioURL(ep.StableID, page.AudioURL); err != nil {
					return err
				}
			}
			stats.Filled++
			return store.SetEpisodeDuration(ep.StableID, *page.DurationSeconds, now())
		}

		if page.AudioURL == "" {
			log.Warn().Str("episode", ep.StableID).Msg("episode page has no audio source")
			stats.NoAudio++
			return store.TouchEpisodeAttempted(ep.StableID, now())
		}
		if err := store.SetEpisodeAudioURL(ep.StableID, page.AudioURL); err != nil {
			return err
		}
		audioURL = &page.AudioURL
	}

	data, err := client.FetchAudio(ctx, *audioURL)
	switch {
	case fetcher.IsUnavailable(err):
		stats.Unavailable++
		return store.TouchEpisodeAttempted(ep.StableID, now())
	case err != nil:
		return err
	}

	seconds, err := overcast.DurationFromAudio(data)
	if err != nil {
		log.Warn().Err(err).Str("episode", ep.StableID).Msg("could not measure audio")
		stats.Unreadable++
		return store.TouchEpisodeAttempted(ep.StableID, now())
	}

	stats.Filled++
	return store.SetEpisodeDuration(ep.StableID, seconds, now())
}

func isParseError(err error) bool {
	var pe *overcast.ParseError
	return errors.As(err, &pe)
}
