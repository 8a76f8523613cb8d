// Package metrics summarizes the persisted snapshot as a Prometheus
// textfile, suitable for the node_exporter textfile collector. The
// summary is recomputed from the store on every run; nothing here is a
// long-lived process.
package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"overcast-mirror/internal/cache"
	"overcast-mirror/internal/models"
	"overcast-mirror/internal/store"
)

// Summary is one point-in-time reading of the snapshot.
type Summary struct {
	ActiveSubscriptions     int
	RemovedSubscriptions    int
	TotalEpisodes           int
	EpisodesMissingDuration int

	// Per-feed rollups keyed by slugified feed title.
	EpisodesByFeed map[string]int
	MinutesByFeed  map[string]float64
}

// Summarize reads the whole snapshot. Any store error is returned as
// is; a metrics run with a broken store must fail loudly rather than
// publish zeros.
func Summarize() (Summary, error) {
	subs, err := store.GetAllSubscriptions()
	if err != nil {
		return Summary{}, err
	}
	episodes, err := store.GetAllEpisodes()
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		EpisodesByFeed: make(map[string]int),
		MinutesByFeed:  make(map[string]float64),
	}

	titleByID := make(map[string]string, len(subs))
	for _, sub := range subs {
		titleByID[sub.StableID] = models.Slug(sub.Title)
		if sub.Active() {
			s.ActiveSubscriptions++
		} else {
			s.RemovedSubscriptions++
		}
	}

	for _, ep := range episodes {
		s.TotalEpisodes++
		if ep.MissingDuration() {
			s.EpisodesMissingDuration++
		}
		slug := titleByID[ep.SubscriptionID]
		if slug == "" {
			slug = ep.SubscriptionID
		}
		s.EpisodesByFeed[slug]++
		if ep.DurationSeconds != nil {
			s.MinutesByFeed[slug] += float64(*ep.DurationSeconds) / 60.0
		}
	}
	return s, nil
}

// Write renders the summary plus the current run's cache counters in
// the Prometheus text exposition format.
func Write(w io.Writer, s Summary, cacheStats cache.Stats) error {
	reg := prometheus.NewRegistry()

	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "overcast",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(g)
		return g
	}

	gauge("subscriptions_active", "Subscriptions currently present in the account export.").Set(float64(s.ActiveSubscriptions))
	gauge("subscriptions_removed", "Subscriptions retained in history after leaving the export.").Set(float64(s.RemovedSubscriptions))
	gauge("episodes_total", "Episodes in the snapshot across all subscriptions.").Set(float64(s.TotalEpisodes))
	gauge("episodes_missing_duration", "Episodes still awaiting a duration backfill.").Set(float64(s.EpisodesMissingDuration))
	gauge("cache_hits", "Response cache hits during this run.").Set(float64(cacheStats.Hits))
	gauge("cache_misses", "Response cache misses during this run.").Set(float64(cacheStats.Misses))
	gauge("cache_stale_served", "Expired cache entries served because the fetch failed.").Set(float64(cacheStats.Stale))

	episodesByFeed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "overcast",
		Name:      "feed_episodes",
		Help:      "Episodes in the snapshot per feed.",
	}, []string{"feed"})
	minutesByFeed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "overcast",
		Name:      "feed_minutes",
		Help:      "Total known audio minutes per feed.",
	}, []string{"feed"})
	reg.MustRegister(episodesByFeed, minutesByFeed)

	for slug, n := range s.EpisodesByFeed {
		episodesByFeed.WithLabelValues(slug).Set(float64(n))
	}
	for slug, minutes := range s.MinutesByFeed {
		minutesByFeed.WithLabelValues(slug).Set(minutes)
	}

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("metrics: gathering: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return fmt.Errorf("metrics: encoding %s: %w", fam.GetName(), err)
		}
	}
	return nil
}

// WriteFile atomically replaces path with the rendered textfile, the
// protocol the textfile collector expects.
func WriteFile(path string, s Summary, cacheStats cache.Stats) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".metrics-*")
	if err != nil {
		return fmt.Errorf("metrics: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, s, cacheStats); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("metrics: closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("metrics: replacing %s: %w", path, err)
	}
	return nil
}
