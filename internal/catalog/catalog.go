// Package catalog reconciles the freshly fetched account export
// against the persisted subscription set. Membership history is
// append-only: a subscription that disappears is marked removed, never
// deleted, so its episode log stays addressable.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"overcast-mirror/internal/models"
	"overcast-mirror/internal/overcast"
	"overcast-mirror/internal/store"
)

// ReconcileResult lists stable ids by what happened to them.
type ReconcileResult struct {
	Added     []string
	Removed   []string
	Unchanged []string
}

// Reconcile computes the set difference between the export and the
// persisted subscriptions, keyed by stable id. Running twice with the
// same export is a no-op the second time.
func Reconcile(export overcast.AccountExport, now time.Time) (ReconcileResult, error) {
	persisted, err := store.GetAllSubscriptions()
	if err != nil {
		return ReconcileResult{}, err
	}
	byID := make(map[string]models.Subscription, len(persisted))
	for _, sub := range persisted {
		byID[sub.StableID] = sub
	}

	var result ReconcileResult
	inExport := make(map[string]bool, len(export.Feeds))

	for _, feed := range export.Feeds {
		id := feed.StableID()
		if inExport[id] {
			continue // duplicate outline in export
		}
		inExport[id] = true

		existing, known := byID[id]
		switch {
		case !known:
			if err := insertFromExport(id, feed, now); err != nil {
				return ReconcileResult{}, err
			}
			result.Added = append(result.Added, id)

		case existing.RemovedAt != nil:
			// Reappeared in a later export: revive, keep added_at.
			if err := store.ClearSubscriptionRemoved(id); err != nil {
				return ReconcileResult{}, err
			}
			log.Info().Str("subscription", id).Str("title", feed.Title).Msg("subscription reappeared")
			result.Added = append(result.Added, id)

		default:
			result.Unchanged = append(result.Unchanged, id)
		}
	}

	for _, sub := range persisted {
		if inExport[sub.StableID] || sub.RemovedAt != nil {
			continue
		}
		if err := store.MarkSubscriptionRemoved(sub.StableID, now); err != nil {
			return ReconcileResult{}, err
		}
		log.Info().Str("subscription", sub.StableID).Str("title", sub.Title).Msg("subscription removed from export")
		result.Removed = append(result.Removed, sub.StableID)
	}

	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Strings(result.Unchanged)

	log.Info().
		Int("added", len(result.Added)).
		Int("removed", len(result.Removed)).
		Int("unchanged", len(result.Unchanged)).
		Msg("reconciled subscriptions")
	return result, nil
}

func insertFromExport(id string, feed overcast.ExportFeed, now time.Time) error {
	addedAt := feed.AddedAt
	if addedAt.IsZero() {
		addedAt = now
	}

	var feedURL *string
	if feed.OvercastID > 0 {
		u := fmt.Sprintf("https://overcast.fm/p%d", feed.OvercastID)
		feedURL = &u
	}

	return store.InsertSubscription(models.Subscription{
		StableID:   id,
		OvercastID: feed.OvercastID,
		Title:      feed.Title,
		FeedURL:    feedURL,
		ExportURL:  feed.XMLURL,
		AddedAt:    addedAt,
	})
}

// RefreshIndex updates mutable index fields (title, overcast page URL)
// from the /podcasts page, matching rows by numeric overcast id.
// Identity and membership are untouched; that is Reconcile's job.
func RefreshIndex(feeds []overcast.IndexFeed) (int, error) {
	persisted, err := store.GetAllSubscriptions()
	if err != nil {
		return 0, err
	}
	byOvercastID := make(map[int64]models.Subscription, len(persisted))
	for _, sub := range persisted {
		if sub.OvercastID > 0 {
			byOvercastID[sub.OvercastID] = sub
		}
	}

	updated := 0
	for _, feed := range feeds {
		sub, ok := byOvercastID[feed.OvercastID]
		if !ok {
			log.Debug().Str("item", feed.ItemID).Msg("index feed not in catalog yet")
			continue
		}
		pageURL := feed.PageURL()
		if err := store.UpdateSubscriptionIndex(sub.StableID, feed.Title, &pageURL); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// SubscriptionExists reports whether a stable id is already in the
// catalog, treating a missing row as simply false.
func SubscriptionExists(stableID string) (bool, error) {
	_, err := store.GetSubscription(stableID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
