package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copytrader/internal/core"
	"copytrader/pkg/crypto"
)

type testLogger struct{}

func (l *testLogger) Debug(msg string, fields ...interface{})               {}
func (l *testLogger) Info(msg string, fields ...interface{})                {}
func (l *testLogger) Warn(msg string, fields ...interface{})                {}
func (l *testLogger) Error(msg string, fields ...interface{})               {}
func (l *testLogger) Fatal(msg string, fields ...interface{})               {}
func (l *testLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *testLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func newTestKey(t *testing.T) []byte {
	t.Helper()
	encoded, err := crypto.NewKey()
	require.NoError(t, err)
	key, err := crypto.ParseKey(encoded)
	require.NoError(t, err)
	return key
}

func writeStore(t *testing.T, dir string, key []byte, users map[string]map[string]map[string]interface{}) string {
	t.Helper()
	enc := func(s string) string {
		out, err := crypto.Encrypt(s, key)
		require.NoError(t, err)
		return out
	}

	// Encrypt the placeholder secrets in place.
	for _, exchanges := range users {
		for _, e := range exchanges {
			for _, field := range []string{"api_key", "api_secret", "api_passphrase"} {
				if v, ok := e[field].(string); ok && v != "" {
					e[field] = enc(v)
				}
			}
		}
	}

	data, err := json.Marshal(users)
	require.NoError(t, err)

	path := filepath.Join(dir, "api_keys.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadFollowers(t *testing.T) {
	key := newTestKey(t)
	path := writeStore(t, t.TempDir(), key, map[string]map[string]map[string]interface{}{
		"user1": {
			"BINANCE": {
				"api_key": "k1", "api_secret": "s1",
				"status": "active", "copy_trade_enabled": true,
			},
		},
		"user2": {
			"binance": {
				"api_key": "k2", "api_secret": "s2",
				"status": "disabled", "copy_trade_enabled": true,
			},
		},
		"user3": {
			"okx": {
				"api_key": "k3", "api_secret": "s3", "api_passphrase": "p3",
				"status": "active", "copy_trade_enabled": false,
			},
		},
	})

	store := NewStore(path, key, &testLogger{})

	followers, err := store.LoadFollowers(true)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "user1", followers[0].UserID)
	assert.Equal(t, "binance", followers[0].ExchangeID, "exchange id must be lowercased")
	assert.Equal(t, "k1", followers[0].APIKey)
	assert.Equal(t, "s1", followers[0].APISecret)

	// Without the copy-enabled filter, user3 appears too.
	all, err := store.LoadFollowers(false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "user3", all[1].UserID)
	assert.Equal(t, "p3", all[1].APIPassphrase)
}

func TestLoadFollowers_MissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope.json"), newTestKey(t), &testLogger{})
	followers, err := store.LoadFollowers(true)
	assert.NoError(t, err)
	assert.Empty(t, followers)
}

func TestLoadFollowers_DropsBadEntry(t *testing.T) {
	key := newTestKey(t)
	dir := t.TempDir()
	path := writeStore(t, dir, key, map[string]map[string]map[string]interface{}{
		"good": {
			"binance": {
				"api_key": "k", "api_secret": "s",
				"status": "active", "copy_trade_enabled": true,
			},
		},
	})

	// Splice in an entry whose ciphertext does not decrypt.
	var raw map[string]map[string]map[string]interface{}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["bad"] = map[string]map[string]interface{}{
		"binance": {
			"api_key": "bm90LWEtY2lwaGVydGV4dA==", "api_secret": "bm90LWEtY2lwaGVydGV4dA==",
			"status": "active", "copy_trade_enabled": true,
		},
	}
	data, err = json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	store := NewStore(path, key, &testLogger{})
	followers, err := store.LoadFollowers(true)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "good", followers[0].UserID)
}

func TestValidate(t *testing.T) {
	key := newTestKey(t)
	path := writeStore(t, t.TempDir(), key, map[string]map[string]map[string]interface{}{
		"user1": {
			"binance": {
				"api_key": "k1", "api_secret": "s1",
				"status": "active", "copy_trade_enabled": true,
			},
			"okx": {
				"api_key": "k2", "api_secret": "s2",
				"status": "inactive", "copy_trade_enabled": true,
			},
		},
	})

	store := NewStore(path, key, &testLogger{})
	checked, err := store.Validate()
	assert.NoError(t, err)
	assert.Equal(t, 1, checked, "only active entries are checked")
}
