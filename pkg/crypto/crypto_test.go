package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	encoded, err := NewKey()
	require.NoError(t, err)

	key, err := ParseKey(encoded)
	require.NoError(t, err)

	secret := "my-api-secret-0123456789"
	ciphertext, err := Encrypt(secret, key)
	require.NoError(t, err)
	assert.NotEqual(t, secret, ciphertext)

	plaintext, err := Decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, secret, plaintext)
}

func TestDecryptWrongKey(t *testing.T) {
	k1, _ := NewKey()
	k2, _ := NewKey()
	key1, _ := ParseKey(k1)
	key2, _ := ParseKey(k2)

	ciphertext, err := Encrypt("secret", key1)
	require.NoError(t, err)

	_, err = Decrypt(ciphertext, key2)
	assert.Error(t, err)
}

func TestInvalidKeySize(t *testing.T) {
	_, err := Encrypt("x", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = Decrypt("x", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestDecryptTruncated(t *testing.T) {
	encoded, _ := NewKey()
	key, _ := ParseKey(encoded)

	_, err := Decrypt("AAAA", key)
	assert.ErrorIs(t, err, ErrCiphertextInvalid)
}
