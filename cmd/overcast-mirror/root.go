// overcast-mirror keeps a local, append-only mirror of an Overcast
// account: subscriptions, episode history, and backfilled durations.
// Every subcommand is one bounded, resumable unit of work; the cron
// entry decides cadence, this binary decides scope.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"overcast-mirror/internal/cache"
	"overcast-mirror/internal/fetcher"
	"overcast-mirror/internal/overcast"
	"overcast-mirror/internal/runlock"
	"overcast-mirror/internal/store"
	"overcast-mirror/internal/vault"
)

const lockLease = 2 * time.Hour

type rootOptions struct {
	dataDir  string
	cacheDir string
	offline  bool
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "overcast-mirror",
		Short:         "Incrementally mirror an Overcast account to local storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("loading .env: %w", err)
			}

			level := zerolog.InfoLevel
			if opts.verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).
				With().Timestamp().Logger()

			if opts.cacheDir == "" {
				base, err := os.UserCacheDir()
				if err != nil {
					return fmt.Errorf("resolving cache dir: %w", err)
				}
				opts.cacheDir = filepath.Join(base, "overcast-mirror")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "data", "directory holding the snapshot database")
	root.PersistentFlags().StringVar(&opts.cacheDir, "cache-dir", "", "response cache directory (default $XDG_CACHE_HOME/overcast-mirror)")
	root.PersistentFlags().BoolVar(&opts.offline, "offline", false, "never touch the network; serve cached responses only")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRefreshOPMLExportCmd(opts),
		newRefreshFeedsIndexCmd(opts),
		newRefreshFeedsCmd(opts),
		newBackfillEpisodeCmd(opts),
		newMetricsCmd(opts),
		newPurgeCacheCmd(opts),
		newRunCmd(opts),
		newGenerateKeyCmd(),
	)
	return root
}

// app is the wired-up state a subcommand works against. Close releases
// the store and the run lock.
type app struct {
	cache  *cache.Cache
	client *overcast.Client
	lock   *runlock.Lock
}

func (a *app) Close() {
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("closing store")
	}
	if err := a.lock.Release(); err != nil {
		log.Warn().Err(err).Msg("releasing run lock")
	}
}

// setup wires the vault, cache, fetcher, and store from flags and
// environment. A malformed ENCRYPTION_KEY or a missing cookie fails
// here, before any work starts.
func setup(opts *rootOptions, withLock bool) (*app, error) {
	key := []byte(os.Getenv("ENCRYPTION_KEY"))
	aead, err := vault.NewCipher(key)
	if err != nil {
		return nil, err
	}

	rawCookie := os.Getenv("OVERCAST_COOKIE")
	if rawCookie == "" && !opts.offline {
		return nil, fmt.Errorf("OVERCAST_COOKIE is not set")
	}
	cred, err := vault.Unlock(rawCookie, key)
	if err != nil {
		return nil, err
	}

	a := &app{}
	if withLock {
		lock, err := runlock.Acquire(opts.dataDir, lockLease)
		if err != nil {
			return nil, err
		}
		a.lock = lock
	}

	if err := store.InitDB(opts.dataDir); err != nil {
		a.lock.Release()
		return nil, err
	}

	a.cache = cache.New(opts.cacheDir, aead, opts.offline)
	a.client = overcast.NewClient(fetcher.New(a.cache, cred, key))
	return a, nil
}

// cacheOnly wires just the response cache, for commands that never
// touch the store or the network.
func cacheOnly(opts *rootOptions) (*cache.Cache, error) {
	aead, err := vault.NewCipher([]byte(os.Getenv("ENCRYPTION_KEY")))
	if err != nil {
		return nil, err
	}
	return cache.New(opts.cacheDir, aead, opts.offline), nil
}
