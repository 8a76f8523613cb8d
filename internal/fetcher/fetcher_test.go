package fetcher

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"overcast-mirror/internal/cache"
	"overcast-mirror/internal/vault"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	key := bytes.Repeat([]byte("k"), vault.KeySize)
	aead, err := vault.NewCipher(key)
	require.NoError(t, err)
	cred, err := vault.Unlock("cookie-value", key)
	require.NoError(t, err)

	c := New(
		cache.New(t.TempDir(), aead, false),
		cred, key,
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithBackoff(time.Millisecond, 5*time.Millisecond),
	)
	return c
}

func TestFetchSendsCredential(t *testing.T) {
	c := testClient(t)

	var gotCookie, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := c.Fetch(context.Background(), Request{URL: srv.URL, TTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Equal(t, "o=cookie-value; qr=-", gotCookie)
	assert.Contains(t, gotUA, "Safari")
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	c := testClient(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	body, err := c.Fetch(context.Background(), Request{URL: srv.URL, TTL: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), body)
	assert.Equal(t, 4, calls)
}

func TestFetchExhaustsRetries(t *testing.T) {
	c := testClient(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := c.Fetch(context.Background(), Request{URL: srv.URL, TTL: time.Hour})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsRejected(err))
	assert.Equal(t, 5, calls)
}

func TestFetchRejectedNotRetried(t *testing.T) {
	c := testClient(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := c.Fetch(context.Background(), Request{URL: srv.URL, TTL: time.Hour})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.Equal(t, 1, calls)
}

func TestFetchServedFromCache(t *testing.T) {
	c := testClient(t)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("cached-me"))
	}))
	defer srv.Close()

	req := Request{URL: srv.URL, TTL: time.Hour}
	_, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)

	body, err := c.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []byte("cached-me"), body)
	assert.Equal(t, 1, calls)
}

func TestFetchBadCredentialIsRejected(t *testing.T) {
	c := testClient(t)
	// Tamper the sealed credential so Reveal fails at request time.
	c.cred.Ciphertext[0] ^= 0xff

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("unreachable"))
	}))
	defer srv.Close()

	_, err := c.Fetch(context.Background(), Request{URL: srv.URL, TTL: time.Hour})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
}
