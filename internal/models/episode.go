package models

import (
	"regexp"
	"strings"
	"time"
)

type Episode struct {
	StableID        string     `db:"stable_id"`
	SubscriptionID  string     `db:"subscription_id"`
	Title           string     `db:"title"`
	PublishedAt     time.Time  `db:"published_at"`
	AudioURL        *string    `db:"audio_url"`
	DurationSeconds *int       `db:"duration_seconds"`
	LastAttemptedAt *time.Time `db:"last_attempted_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

// MissingDuration reports whether the episode still needs a duration
// backfill pass.
func (e Episode) MissingDuration() bool {
	return e.DurationSeconds == nil
}

var (
	nonWordRe    = regexp.MustCompile(`[^\w\s]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Slug turns a title into a prometheus-label-safe identifier.
func Slug(title string) string {
	s := nonWordRe.ReplaceAllString(title, "")
	s = whitespaceRe.ReplaceAllString(strings.TrimSpace(s), "-")
	return strings.TrimSuffix(strings.ToLower(s), "-")
}
