package store

import (
	"fmt"
	"time"

	"overcast-mirror/internal/models"
)

func GetSubscription(stableID string) (models.Subscription, error) {
	sub := models.Subscription{}
	err := DB.Get(&sub, "SELECT * FROM subscriptions WHERE stable_id = ?", stableID)
	return sub, err
}

func GetAllSubscriptions() ([]models.Subscription, error) {
	var subs []models.Subscription
	err := DB.Select(&subs, "SELECT * FROM subscriptions ORDER BY added_at, stable_id")
	if err != nil {
		return nil, fmt.Errorf("store: listing subscriptions: %w", err)
	}
	return subs, nil
}

// GetStalestActiveSubscriptions returns up to limit active subscriptions,
// least recently refreshed first. Never-refreshed rows sort before
// everything else so a bounded run still covers the whole catalog
// eventually.
func GetStalestActiveSubscriptions(limit int) ([]models.Subscription, error) {
	query := `
		SELECT * FROM subscriptions
		WHERE removed_at IS NULL
		ORDER BY last_refreshed_at IS NOT NULL, last_refreshed_at, stable_id
		LIMIT ?
	`
	var subs []models.Subscription
	err := DB.Select(&subs, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: selecting stalest subscriptions: %w", err)
	}
	return subs, nil
}

func InsertSubscription(sub models.Subscription) error {
	query := `
		INSERT INTO subscriptions (stable_id, overcast_id, title, feed_url, export_url, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := DB.Exec(query, sub.StableID, sub.OvercastID, sub.Title, sub.FeedURL, sub.ExportURL, sub.AddedAt)
	if err != nil {
		return fmt.Errorf("store: inserting subscription %s: %w", sub.StableID, err)
	}
	return nil
}

// MarkSubscriptionRemoved sets removed_at once; re-running with the
// same export leaves an already-removed row untouched.
func MarkSubscriptionRemoved(stableID string, now time.Time) error {
	_, err := DB.Exec(
		"UPDATE subscriptions SET removed_at = ? WHERE stable_id = ? AND removed_at IS NULL",
		now, stableID,
	)
	if err != nil {
		return fmt.Errorf("store: marking subscription %s removed: %w", stableID, err)
	}
	return nil
}

// ClearSubscriptionRemoved revives a subscription that reappeared in a
// later export, keeping its original added_at.
func ClearSubscriptionRemoved(stableID string) error {
	_, err := DB.Exec("UPDATE subscriptions SET removed_at = NULL WHERE stable_id = ?", stableID)
	if err != nil {
		return fmt.Errorf("store: reviving subscription %s: %w", stableID, err)
	}
	return nil
}

// UpdateSubscriptionIndex refreshes the mutable index fields (title and
// the overcast page URL used for feed refreshes). Identity fields are
// immutable.
func UpdateSubscriptionIndex(stableID, title string, feedURL *string) error {
	_, err := DB.Exec(
		"UPDATE subscriptions SET title = ?, feed_url = ? WHERE stable_id = ?",
		title, feedURL, stableID,
	)
	if err != nil {
		return fmt.Errorf("store: updating subscription index %s: %w", stableID, err)
	}
	return nil
}

func TouchSubscriptionRefreshed(stableID string, now time.Time) error {
	_, err := DB.Exec(
		"UPDATE subscriptions SET last_refreshed_at = ? WHERE stable_id = ?",
		now, stableID,
	)
	if err != nil {
		return fmt.Errorf("store: touching subscription %s: %w", stableID, err)
	}
	return nil
}
