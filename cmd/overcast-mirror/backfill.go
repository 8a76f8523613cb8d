package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"overcast-mirror/internal/backfill"
)

type backfillOptions struct {
	limit     int
	randomize bool
	seed      int64
}

func newBackfillEpisodeCmd(opts *rootOptions) *cobra.Command {
	var bo backfillOptions

	cmd := &cobra.Command{
		Use:   "backfill-episode",
		Short: "Fill missing episode durations, a bounded batch per run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return backfillEpisodes(cmd.Context(), a, bo)
		},
	}
	cmd.Flags().IntVar(&bo.limit, "limit", 3, "max episodes to backfill this run")
	cmd.Flags().BoolVar(&bo.randomize, "randomize-order", false, "draw the batch uniformly instead of oldest-first")
	cmd.Flags().Int64Var(&bo.seed, "seed", 0, "shuffle seed for --randomize-order (0 seeds from the clock)")
	return cmd
}

func backfillEpisodes(ctx context.Context, a *app, bo backfillOptions) error {
	stats, err := backfill.Run(ctx, a.client, backfill.Options{
		Limit:     bo.limit,
		Randomize: bo.randomize,
		Seed:      bo.seed,
	}, time.Now)
	if err != nil {
		return err
	}
	log.Info().
		Int("eligible", stats.Eligible).
		Int("filled", stats.Filled).
		Int("unavailable", stats.Unavailable).
		Int("unreadable", stats.Unreadable).
		Msg("backfill finished")
	return nil
}
