package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"overcast-mirror/internal/cache"
	"overcast-mirror/internal/metrics"
	"overcast-mirror/internal/store"
)

func newMetricsCmd(opts *rootOptions) *cobra.Command {
	var filename string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Summarize the snapshot as a Prometheus textfile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Read-only: no run lock, no network, no credential.
			if err := store.InitDB(opts.dataDir); err != nil {
				return err
			}
			defer store.Close()

			summary, err := metrics.Summarize()
			if err != nil {
				return err
			}

			if filename == "" {
				return metrics.Write(os.Stdout, summary, cache.Stats{})
			}
			if err := metrics.WriteFile(filename, summary, cache.Stats{}); err != nil {
				return err
			}
			log.Info().Str("path", filename).Msg("metrics written")
			return nil
		},
	}
	cmd.Flags().StringVar(&filename, "metrics-filename", "", "write the textfile here instead of stdout")
	return cmd
}
