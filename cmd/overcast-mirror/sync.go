package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"overcast-mirror/internal/catalog"
	"overcast-mirror/internal/metrics"
	"overcast-mirror/internal/refresher"
)

// newRefreshOPMLExportCmd reconciles the account's OPML export against
// the persisted catalog and merges the export's episode outlines.
func newRefreshOPMLExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-opml-export",
		Short: "Fetch the account export and reconcile the subscription catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return refreshOPMLExport(cmd.Context(), a)
		},
	}
}

func refreshOPMLExport(ctx context.Context, a *app) error {
	export, err := a.client.FetchExport(ctx)
	if err != nil {
		return err
	}

	result, err := catalog.Reconcile(export, time.Now())
	if err != nil {
		return err
	}

	added, err := refresher.MergeExport(export, time.Now())
	if err != nil {
		return err
	}

	log.Info().
		Int("subscriptions_added", len(result.Added)).
		Int("subscriptions_removed", len(result.Removed)).
		Int("episodes_added", added).
		Msg("export reconciled")
	return nil
}

// newRefreshFeedsIndexCmd updates page URLs and titles from the
// authenticated /podcasts index.
func newRefreshFeedsIndexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-feeds-index",
		Short: "Update feed page URLs and titles from the podcasts index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return refreshFeedsIndex(cmd.Context(), a)
		},
	}
}

func refreshFeedsIndex(ctx context.Context, a *app) error {
	feeds, err := a.client.FetchPodcastsIndex(ctx)
	if err != nil {
		return err
	}
	updated, err := catalog.RefreshIndex(feeds)
	if err != nil {
		return err
	}
	log.Info().Int("updated", updated).Int("listed", len(feeds)).Msg("feeds index refreshed")
	return nil
}

// newRefreshFeedsCmd merges episode pages for the stalest feeds.
func newRefreshFeedsCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "refresh-feeds",
		Short: "Merge new episodes for the least recently refreshed feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return refreshFeeds(cmd.Context(), a, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "max feeds to refresh this run")
	return cmd
}

func refreshFeeds(ctx context.Context, a *app, limit int) error {
	stats, err := refresher.Refresh(ctx, a.client, limit, time.Now)
	if err != nil {
		return err
	}
	log.Info().
		Int("refreshed", stats.Refreshed).
		Int("new_episodes", stats.NewEpisodes).
		Int("unavailable", stats.Unavailable).
		Msg("feeds refreshed")
	return nil
}

// newRunCmd chains the whole sync in the documented order: export
// reconcile, index refresh, feed refresh, duration backfill.
func newRunCmd(opts *rootOptions) *cobra.Command {
	var feedLimit, backfillLimit int
	var metricsFilename string
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full sync pass (export, index, feeds, backfill, purge)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := refreshOPMLExport(ctx, a); err != nil {
				return err
			}
			if err := refreshFeedsIndex(ctx, a); err != nil {
				return err
			}
			if err := refreshFeeds(ctx, a, feedLimit); err != nil {
				return err
			}
			if err := backfillEpisodes(ctx, a, backfillOptions{limit: backfillLimit}); err != nil {
				return err
			}

			if metricsFilename != "" {
				summary, err := metrics.Summarize()
				if err != nil {
					return err
				}
				if err := metrics.WriteFile(metricsFilename, summary, a.cache.Stats()); err != nil {
					return err
				}
			}

			removed, err := a.cache.Purge(retention)
			if err != nil {
				return err
			}
			log.Info().Int("removed", removed).Msg("cache purged")
			return nil
		},
	}
	cmd.Flags().IntVar(&feedLimit, "limit", 10, "max feeds to refresh this run")
	cmd.Flags().IntVar(&backfillLimit, "backfill-limit", 3, "max episodes to backfill this run")
	cmd.Flags().StringVar(&metricsFilename, "metrics-filename", "", "also publish a metrics textfile with this run's cache counters")
	cmd.Flags().DurationVar(&retention, "retention", 90*24*time.Hour, "cache age ceiling for the trailing purge")
	return cmd
}
