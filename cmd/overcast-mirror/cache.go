package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newPurgeCacheCmd(opts *rootOptions) *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "purge-cache",
		Short: "Drop expired cache entries and anything past the retention ceiling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cacheOnly(opts)
			if err != nil {
				return err
			}
			removed, err := c.Purge(retention)
			if err != nil {
				return err
			}
			log.Info().Int("removed", removed).Msg("cache purged")
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 90*24*time.Hour, "hard age ceiling; entries older than this go even if unexpired")
	return cmd
}
