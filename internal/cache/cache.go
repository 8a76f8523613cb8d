// Package cache is a content-addressed store of past fetch results,
// encrypted at rest. The cache directory is shared between runs and may
// be inspected externally, so payloads never touch disk in plaintext.
package cache

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// ErrOffline is returned when offline mode needs a live fetch.
var ErrOffline = errors.New("cache: offline and no cached entry")

// Entry is the on-disk envelope. EncryptedPayload is nonce||ciphertext
// under the run's AEAD; everything else is non-sensitive bookkeeping.
type Entry struct {
	RequestFingerprint string    `json:"request_fingerprint"`
	EncryptedPayload   []byte    `json:"encrypted_payload"`
	FetchedAt          time.Time `json:"fetched_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// Stats counts cache outcomes accumulated during one run.
type Stats struct {
	Hits   int
	Misses int
	Stale  int
}

type Cache struct {
	dir     string
	aead    cipher.AEAD
	offline bool
	now     func() time.Time
	stats   Stats
}

func New(dir string, aead cipher.AEAD, offline bool) *Cache {
	return &Cache{
		dir:     dir,
		aead:    aead,
		offline: offline,
		now:     time.Now,
	}
}

// Fingerprint hashes the normalized request. The credential is carried
// in headers that are deliberately excluded here, so two runs with
// different cookies share cache entries.
func Fingerprint(method, rawURL, accept string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s", method, rawURL, accept)
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrFetch returns the cached payload when the entry is fresh,
// otherwise invokes fetch and stores the encrypted result. An entry
// that fails to decrypt (wrong key generation) counts as a miss and is
// refetched; it never counts as authoritative data. A stale entry is
// served when offline, or when fetch fails and a stale copy exists.
func (c *Cache) GetOrFetch(fp string, ttl time.Duration, fetch func() ([]byte, error)) ([]byte, error) {
	var stale []byte
	haveStale := false

	if entry, err := c.read(fp); err == nil {
		payload, derr := c.decrypt(entry)
		switch {
		case derr != nil:
			log.Debug().Str("fingerprint", fp).Msg("undecryptable cache entry, treating as miss")
		case c.now().Before(entry.ExpiresAt):
			c.stats.Hits++
			return payload, nil
		default:
			stale, haveStale = payload, true
		}
	}

	if c.offline {
		if haveStale {
			log.Warn().Str("fingerprint", fp).Msg("offline, returning stale cache entry")
			c.stats.Stale++
			return stale, nil
		}
		return nil, ErrOffline
	}

	c.stats.Misses++
	payload, err := fetch()
	if err != nil {
		if haveStale {
			log.Warn().Err(err).Str("fingerprint", fp).Msg("fetch failed, returning stale cache entry")
			c.stats.Stale++
			return stale, nil
		}
		return nil, err
	}

	if werr := c.write(fp, payload, ttl); werr != nil {
		return nil, fmt.Errorf("cache: storing entry %s: %w", fp, werr)
	}
	return payload, nil
}

// Purge removes expired entries plus any entry older than the retention
// ceiling regardless of its TTL, then drops empty subdirectories.
func (c *Cache) Purge(retention time.Duration) (int, error) {
	now := c.now()
	cutoff := now.Add(-retention)
	removed := 0

	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".json" {
			return err
		}

		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return rerr
		}
		var entry Entry
		if uerr := json.Unmarshal(data, &entry); uerr != nil {
			log.Warn().Str("path", path).Msg("unreadable cache entry left in place")
			return nil
		}

		if entry.ExpiresAt.Before(now) || entry.FetchedAt.Before(cutoff) {
			if rmerr := os.Remove(path); rmerr != nil {
				return rmerr
			}
			removed++
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return removed, err
	}

	return removed, c.removeEmptyDirs()
}

func (c *Cache) Stats() Stats { return c.stats }

func (c *Cache) path(fp string) string {
	return filepath.Join(c.dir, fp[:2], fp+".json")
}

func (c *Cache) read(fp string) (Entry, error) {
	data, err := os.ReadFile(c.path(fp))
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (c *Cache) decrypt(entry Entry) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(entry.EncryptedPayload) < ns {
		return nil, errors.New("cache: payload shorter than nonce")
	}
	nonce, ciphertext := entry.EncryptedPayload[:ns], entry.EncryptedPayload[ns:]
	return c.aead.Open(nil, nonce, ciphertext, nil)
}

func (c *Cache) write(fp string, payload []byte, ttl time.Duration) error {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}

	now := c.now()
	entry := Entry{
		RequestFingerprint: fp,
		EncryptedPayload:   c.aead.Seal(nonce, nonce, payload, nil),
		FetchedAt:          now,
		ExpiresAt:          now.Add(ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	path := c.path(fp)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	// Entries are immutable once written; the rename keeps concurrent
	// readers from ever seeing a partial file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (c *Cache) removeEmptyDirs() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(c.dir, e.Name())
		children, err := os.ReadDir(sub)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			if err := os.Remove(sub); err != nil {
				return err
			}
		}
	}
	return nil
}
