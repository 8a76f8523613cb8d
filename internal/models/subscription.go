package models

import "time"

// Subscription is one podcast the account follows, keyed by a stable id
// derived from its export URL. Removal is recorded, never deleted.
type Subscription struct {
	StableID        string     `db:"stable_id"`
	OvercastID      int64      `db:"overcast_id"`
	Title           string     `db:"title"`
	FeedURL         *string    `db:"feed_url"`
	ExportURL       string     `db:"export_url"`
	AddedAt         time.Time  `db:"added_at"`
	RemovedAt       *time.Time `db:"removed_at"`
	LastRefreshedAt *time.Time `db:"last_refreshed_at"`
}

// Active reports whether the subscription is still present in the
// account's export.
func (s Subscription) Active() bool {
	return s.RemovedAt == nil
}
