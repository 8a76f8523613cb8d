package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overcast-mirror/internal/models"
	"overcast-mirror/internal/store"
	"overcast-mirror/internal/test"
)

func insertSub(t *testing.T, id string, lastRefreshed *time.Time) {
	t.Helper()
	sub := models.Subscription{
		StableID:  id,
		Title:     "Podcast " + id,
		ExportURL: "https://example.com/feed/" + id + ".xml",
		AddedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.InsertSubscription(sub))
	if lastRefreshed != nil {
		require.NoError(t, store.TouchSubscriptionRefreshed(id, *lastRefreshed))
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	test.NewTestDB(t)

	insertSub(t, "p100", nil)
	sub, err := store.GetSubscription("p100")
	require.NoError(t, err)
	assert.Equal(t, "Podcast p100", sub.Title)
	assert.True(t, sub.Active())
	assert.Nil(t, sub.LastRefreshedAt)
}

func TestStalestActiveSubscriptionsOrdering(t *testing.T) {
	test.NewTestDB(t)

	old := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	insertSub(t, "p1", &newer)
	insertSub(t, "p2", &old)
	insertSub(t, "p3", nil) // never refreshed, must sort first
	insertSub(t, "p4", nil)
	require.NoError(t, store.MarkSubscriptionRemoved("p4", time.Now()))

	subs, err := store.GetStalestActiveSubscriptions(10)
	require.NoError(t, err)

	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.StableID
	}
	assert.Equal(t, []string{"p3", "p2", "p1"}, ids)
}

func TestStalestActiveSubscriptionsLimit(t *testing.T) {
	test.NewTestDB(t)

	insertSub(t, "p1", nil)
	insertSub(t, "p2", nil)
	insertSub(t, "p3", nil)

	subs, err := store.GetStalestActiveSubscriptions(2)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestMarkSubscriptionRemovedIdempotent(t *testing.T) {
	test.NewTestDB(t)
	insertSub(t, "p1", nil)

	first := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkSubscriptionRemoved("p1", first))

	later := first.Add(24 * time.Hour)
	require.NoError(t, store.MarkSubscriptionRemoved("p1", later))

	sub, err := store.GetSubscription("p1")
	require.NoError(t, err)
	require.NotNil(t, sub.RemovedAt)
	assert.True(t, sub.RemovedAt.Equal(first), "removal timestamp must not move on re-run")
}

func TestEpisodeAudioURLNotOverwritten(t *testing.T) {
	test.NewTestDB(t)
	insertSub(t, "p1", nil)

	url := "https://cdn.example.com/a.mp3"
	ep := models.Episode{
		StableID:       "+ep1",
		SubscriptionID: "p1",
		Title:          "Episode 1",
		PublishedAt:    time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		AudioURL:       &url,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.InsertEpisode(ep))

	require.NoError(t, store.SetEpisodeAudioURL("+ep1", "https://cdn.example.com/other.mp3"))

	got, err := store.GetEpisode("+ep1")
	require.NoError(t, err)
	require.NotNil(t, got.AudioURL)
	assert.Equal(t, url, *got.AudioURL)
}

func TestEpisodesMissingDurationOrdering(t *testing.T) {
	test.NewTestDB(t)
	insertSub(t, "p1", nil)

	mk := func(id string, published time.Time, duration *int) {
		ep := models.Episode{
			StableID:        id,
			SubscriptionID:  "p1",
			Title:           "Episode " + id,
			PublishedAt:     published,
			DurationSeconds: duration,
			CreatedAt:       time.Now().UTC(),
		}
		require.NoError(t, store.InsertEpisode(ep))
		if duration != nil {
			require.NoError(t, store.SetEpisodeDuration(id, *duration, time.Now()))
		}
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dur := 1800
	mk("+b", base.AddDate(0, 1, 0), nil)
	mk("+a", base, nil)
	mk("+c", base.AddDate(0, 2, 0), &dur)

	missing, err := store.GetEpisodesMissingDuration()
	require.NoError(t, err)
	require.Len(t, missing, 2)
	assert.Equal(t, "+a", missing[0].StableID)
	assert.Equal(t, "+b", missing[1].StableID)
}

func TestSetEpisodeDuration(t *testing.T) {
	test.NewTestDB(t)
	insertSub(t, "p1", nil)

	ep := models.Episode{
		StableID:       "+ep1",
		SubscriptionID: "p1",
		Title:          "Episode 1",
		PublishedAt:    time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.InsertEpisode(ep))

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetEpisodeDuration("+ep1", 2700, now))

	got, err := store.GetEpisode("+ep1")
	require.NoError(t, err)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, 2700, *got.DurationSeconds)
	require.NotNil(t, got.LastAttemptedAt)
	assert.True(t, got.LastAttemptedAt.Equal(now))
}
