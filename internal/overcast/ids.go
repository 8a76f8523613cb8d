package overcast

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// FeedStableID derives a subscription's merge key from its export URL.
// Titles change; the exported feed URL does not.
func FeedStableID(exportURL string) string {
	sum := sha256.Sum256([]byte(exportURL))
	return "f" + hex.EncodeToString(sum[:])[:12]
}

// EpisodeStableID extracts the stable item token from an overcast
// episode URL ("https://overcast.fm/+AbCdE" -> "+AbCdE").
func EpisodeStableID(overcastURL string) (string, error) {
	id := strings.TrimPrefix(overcastURL, "https://overcast.fm/")
	id = strings.TrimPrefix(id, "/")
	if !strings.HasPrefix(id, "+") || len(id) < 2 {
		return "", &ParseError{What: fmt.Sprintf("episode url %q", overcastURL)}
	}
	return id, nil
}
