package metrics_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overcast-mirror/internal/cache"
	"overcast-mirror/internal/metrics"
	"overcast-mirror/internal/models"
	"overcast-mirror/internal/store"
	"overcast-mirror/internal/test"
)

func seedSnapshot(t *testing.T) {
	t.Helper()
	now := time.Now()

	require.NoError(t, store.InsertSubscription(models.Subscription{
		StableID: "fa", Title: "Go Time!", ExportURL: "https://example.com/a.rss", AddedAt: now,
	}))
	require.NoError(t, store.InsertSubscription(models.Subscription{
		StableID: "fb", Title: "Gone Cast", ExportURL: "https://example.com/b.rss", AddedAt: now,
	}))
	require.NoError(t, store.MarkSubscriptionRemoved("fb", now))

	duration := 30 * 60
	require.NoError(t, store.InsertEpisode(models.Episode{
		StableID: "+e1", SubscriptionID: "fa", Title: "One",
		PublishedAt: now, DurationSeconds: &duration, CreatedAt: now,
	}))
	require.NoError(t, store.InsertEpisode(models.Episode{
		StableID: "+e2", SubscriptionID: "fa", Title: "Two",
		PublishedAt: now, CreatedAt: now,
	}))
}

func TestSummarize(t *testing.T) {
	test.NewTestDB(t)
	seedSnapshot(t)

	s, err := metrics.Summarize()
	require.NoError(t, err)

	assert.Equal(t, 1, s.ActiveSubscriptions)
	assert.Equal(t, 1, s.RemovedSubscriptions)
	assert.Equal(t, 2, s.TotalEpisodes)
	assert.Equal(t, 1, s.EpisodesMissingDuration)
	assert.Equal(t, 2, s.EpisodesByFeed["go-time"])
	assert.InDelta(t, 30.0, s.MinutesByFeed["go-time"], 0.01)
}

func TestWriteRendersTextFormat(t *testing.T) {
	test.NewTestDB(t)
	seedSnapshot(t)

	s, err := metrics.Summarize()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, metrics.Write(&buf, s, cache.Stats{Hits: 3, Misses: 1}))
	out := buf.String()

	assert.Contains(t, out, "# TYPE overcast_subscriptions_active gauge")
	assert.Contains(t, out, "overcast_subscriptions_active 1")
	assert.Contains(t, out, "overcast_episodes_missing_duration 1")
	assert.Contains(t, out, `overcast_feed_minutes{feed="go-time"} 30`)
	assert.Contains(t, out, "overcast_cache_hits 3")
}

func TestSummarizeFailsWithoutStore(t *testing.T) {
	_, mock := test.NewMockDB(t)
	mock.ExpectQuery("SELECT \\* FROM subscriptions").WillReturnError(assert.AnError)

	_, err := metrics.Summarize()
	require.Error(t, err)
}
