package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte("k"), KeySize)
}

func TestUnlockRevealRoundTrip(t *testing.T) {
	key := testKey()

	cred, err := Unlock("session-cookie-value", key)
	require.NoError(t, err)
	assert.NotEmpty(t, cred.Ciphertext)
	assert.Len(t, cred.Nonce, 12)

	cookie, err := Reveal(cred, key)
	require.NoError(t, err)
	assert.Equal(t, "session-cookie-value", cookie)
}

func TestUnlockShortKey(t *testing.T) {
	_, err := Unlock("cookie", bytes.Repeat([]byte("k"), KeySize-1))
	require.Error(t, err)

	var cryptoErr *CryptoError
	assert.ErrorAs(t, err, &cryptoErr)
}

func TestRevealWrongKey(t *testing.T) {
	cred, err := Unlock("cookie", testKey())
	require.NoError(t, err)

	otherKey := bytes.Repeat([]byte("x"), KeySize)
	_, err = Reveal(cred, otherKey)
	require.Error(t, err)

	var cryptoErr *CryptoError
	assert.ErrorAs(t, err, &cryptoErr)
}

func TestRevealTamperedNonce(t *testing.T) {
	cred, err := Unlock("cookie", testKey())
	require.NoError(t, err)

	cred.Nonce = cred.Nonce[:len(cred.Nonce)-1]
	_, err = Reveal(cred, testKey())

	var cryptoErr *CryptoError
	assert.ErrorAs(t, err, &cryptoErr)
}

func TestCredentialDoesNotLeakPlaintext(t *testing.T) {
	cred, err := Unlock("super-secret-cookie", testKey())
	require.NoError(t, err)
	assert.NotContains(t, string(cred.Ciphertext), "super-secret-cookie")
}

func TestGenerateKeyLength(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	_, err = NewCipher([]byte(key))
	assert.NoError(t, err)
}
