package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"overcast-mirror/internal/vault"
)

func testCache(t *testing.T, offline bool) *Cache {
	t.Helper()
	aead, err := vault.NewCipher(bytes.Repeat([]byte("k"), vault.KeySize))
	require.NoError(t, err)
	return New(t.TempDir(), aead, offline)
}

func fetchBytes(payload []byte) func() ([]byte, error) {
	return func() ([]byte, error) { return payload, nil }
}

func fetchFails() ([]byte, error) {
	return nil, errors.New("boom")
}

func TestGetOrFetchRoundTrip(t *testing.T) {
	c := testCache(t, false)
	fp := Fingerprint("GET", "https://overcast.fm/podcasts", "text/html")
	payload := []byte("<html>feed index</html>")

	got, err := c.GetOrFetch(fp, time.Hour, fetchBytes(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Second call must be served from the cache without fetching.
	got, err = c.GetOrFetch(fp, time.Hour, fetchFails)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	assert.Equal(t, Stats{Hits: 1, Misses: 1}, c.Stats())
}

func TestEntryIsEncryptedAtRest(t *testing.T) {
	c := testCache(t, false)
	fp := Fingerprint("GET", "https://overcast.fm/podcasts", "text/html")
	payload := []byte("authenticated response body")

	_, err := c.GetOrFetch(fp, time.Hour, fetchBytes(payload))
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(c.dir, fp[:2], fp+".json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "authenticated response body")
}

func TestExpiredEntryRefetched(t *testing.T) {
	c := testCache(t, false)
	fp := Fingerprint("GET", "https://overcast.fm/p123", "text/html")

	_, err := c.GetOrFetch(fp, -time.Minute, fetchBytes([]byte("old")))
	require.NoError(t, err)

	got, err := c.GetOrFetch(fp, time.Hour, fetchBytes([]byte("new")))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
	assert.Equal(t, 2, c.Stats().Misses)
}

func TestUndecryptableEntryTreatedAsMiss(t *testing.T) {
	c := testCache(t, false)
	fp := Fingerprint("GET", "https://overcast.fm/p123", "text/html")

	_, err := c.GetOrFetch(fp, time.Hour, fetchBytes([]byte("sealed under old key")))
	require.NoError(t, err)

	// Simulate key rotation: a second cache on the same directory with
	// a different key generation.
	rotated, err := vault.NewCipher(bytes.Repeat([]byte("x"), vault.KeySize))
	require.NoError(t, err)
	c2 := New(c.dir, rotated, false)

	got, err := c2.GetOrFetch(fp, time.Hour, fetchBytes([]byte("refetched")))
	require.NoError(t, err)
	assert.Equal(t, []byte("refetched"), got)
}

func TestStaleEntryServedOnFetchError(t *testing.T) {
	c := testCache(t, false)
	fp := Fingerprint("GET", "https://overcast.fm/p123", "text/html")

	_, err := c.GetOrFetch(fp, -time.Minute, fetchBytes([]byte("stale copy")))
	require.NoError(t, err)

	got, err := c.GetOrFetch(fp, time.Hour, fetchFails)
	require.NoError(t, err)
	assert.Equal(t, []byte("stale copy"), got)
}

func TestOffline(t *testing.T) {
	c := testCache(t, false)
	fp := Fingerprint("GET", "https://overcast.fm/p123", "text/html")

	_, err := c.GetOrFetch(fp, -time.Minute, fetchBytes([]byte("cached")))
	require.NoError(t, err)

	off := New(c.dir, c.aead, true)
	got, err := off.GetOrFetch(fp, time.Hour, fetchFails)
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), got)

	missing := Fingerprint("GET", "https://overcast.fm/p999", "text/html")
	_, err = off.GetOrFetch(missing, time.Hour, fetchFails)
	assert.ErrorIs(t, err, ErrOffline)
}

func TestPurge(t *testing.T) {
	c := testCache(t, false)

	expired := Fingerprint("GET", "https://overcast.fm/expired", "text/html")
	fresh := Fingerprint("GET", "https://overcast.fm/fresh", "text/html")

	_, err := c.GetOrFetch(expired, -time.Minute, fetchBytes([]byte("a")))
	require.NoError(t, err)
	_, err = c.GetOrFetch(fresh, 24*time.Hour, fetchBytes([]byte("b")))
	require.NoError(t, err)

	removed, err := c.Purge(90 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(c.path(fresh))
	assert.NoError(t, err)
	_, err = os.Stat(c.path(expired))
	assert.True(t, os.IsNotExist(err))
}

func TestPurgeRetentionCeiling(t *testing.T) {
	c := testCache(t, false)
	fp := Fingerprint("GET", "https://overcast.fm/old", "text/html")

	// Entry fetched long ago but with an absurdly long TTL still falls
	// to the retention ceiling.
	c.now = func() time.Time { return time.Now().Add(-100 * 24 * time.Hour) }
	_, err := c.GetOrFetch(fp, 365*24*time.Hour, fetchBytes([]byte("ancient")))
	require.NoError(t, err)

	c.now = time.Now
	removed, err := c.Purge(90 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestFingerprintExcludesNothingButRequestShape(t *testing.T) {
	a := Fingerprint("GET", "https://overcast.fm/podcasts", "text/html")
	b := Fingerprint("GET", "https://overcast.fm/podcasts", "text/html")
	assert.Equal(t, a, b)

	c := Fingerprint("GET", "https://overcast.fm/podcasts", "application/xml")
	assert.NotEqual(t, a, c)
}
