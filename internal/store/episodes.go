package store

import (
	"fmt"
	"time"

	"overcast-mirror/internal/models"
)

func GetEpisode(stableID string) (models.Episode, error) {
	episode := models.Episode{}
	err := DB.Get(&episode, "SELECT * FROM episodes WHERE stable_id = ?", stableID)
	return episode, err
}

func GetAllEpisodes() ([]models.Episode, error) {
	var episodes []models.Episode
	err := DB.Select(&episodes, "SELECT * FROM episodes ORDER BY subscription_id, published_at")
	if err != nil {
		return nil, fmt.Errorf("store: listing episodes: %w", err)
	}
	return episodes, nil
}

// GetEpisodesMissingDuration returns every episode still awaiting a
// duration backfill, oldest published first. The caller bounds and
// optionally shuffles the set.
func GetEpisodesMissingDuration() ([]models.Episode, error) {
	var episodes []models.Episode
	err := DB.Select(&episodes,
		"SELECT * FROM episodes WHERE duration_seconds IS NULL ORDER BY published_at, stable_id")
	if err != nil {
		return nil, fmt.Errorf("store: selecting episodes missing duration: %w", err)
	}
	return episodes, nil
}

func InsertEpisode(ep models.Episode) error {
	query := `
		INSERT INTO episodes (stable_id, subscription_id, title, published_at, audio_url, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := DB.Exec(query, ep.StableID, ep.SubscriptionID, ep.Title, ep.PublishedAt, ep.AudioURL, ep.DurationSeconds, ep.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: inserting episode %s: %w", ep.StableID, err)
	}
	return nil
}

// SetEpisodeDuration records the backfilled duration. The backfill
// scheduler is the only writer of this field.
func SetEpisodeDuration(stableID string, seconds int, now time.Time) error {
	_, err := DB.Exec(
		"UPDATE episodes SET duration_seconds = ?, last_attempted_at = ? WHERE stable_id = ?",
		seconds, now, stableID,
	)
	if err != nil {
		return fmt.Errorf("store: setting duration for episode %s: %w", stableID, err)
	}
	return nil
}

// SetEpisodeAudioURL fills a missing enclosure URL discovered during
// backfill; a URL recorded at creation is never overwritten.
func SetEpisodeAudioURL(stableID, audioURL string) error {
	_, err := DB.Exec(
		"UPDATE episodes SET audio_url = ? WHERE stable_id = ? AND audio_url IS NULL",
		audioURL, stableID,
	)
	if err != nil {
		return fmt.Errorf("store: setting audio url for episode %s: %w", stableID, err)
	}
	return nil
}

func TouchEpisodeAttempted(stableID string, now time.Time) error {
	_, err := DB.Exec(
		"UPDATE episodes SET last_attempted_at = ? WHERE stable_id = ?",
		now, stableID,
	)
	if err != nil {
		return fmt.Errorf("store: touching episode %s: %w", stableID, err)
	}
	return nil
}
