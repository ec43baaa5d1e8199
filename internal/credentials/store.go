// Package credentials loads follower account descriptors from the encrypted
// JSON key store.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"copytrader/internal/core"
	"copytrader/pkg/crypto"
)

// entry is the on-disk shape of one account's credentials for one exchange.
// Key and secret values are AES-256-GCM encrypted and base64-encoded.
type entry struct {
	APIKey           string `json:"api_key"`
	APISecret        string `json:"api_secret"`
	APIPassphrase    string `json:"api_passphrase,omitempty"`
	Status           string `json:"status"`
	CopyTradeEnabled bool   `json:"copy_trade_enabled"`
}

// Store reads account descriptors from a JSON file keyed
// user_id -> exchange_id -> entry.
type Store struct {
	path   string
	key    []byte
	logger core.ILogger
}

// NewStore creates a credential store reader.
func NewStore(path string, key []byte, logger core.ILogger) *Store {
	return &Store{
		path:   path,
		key:    key,
		logger: logger.WithField("component", "credential_store"),
	}
}

// LoadFollowers returns the active account descriptors, decrypted. When
// requireCopyEnabled is set, accounts without copy_trade_enabled are
// filtered out. A missing store file yields an empty list, not an error.
// Entries that fail decryption are dropped with a logged error.
func (s *Store) LoadFollowers(requireCopyEnabled bool) ([]core.AccountDescriptor, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("Credential file not found, no followers loaded", "path", s.path)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var raw map[string]map[string]entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}

	var out []core.AccountDescriptor
	for userID, exchanges := range raw {
		for exchangeID, e := range exchanges {
			if e.Status != "active" {
				continue
			}
			if requireCopyEnabled && !e.CopyTradeEnabled {
				continue
			}

			desc, err := s.decrypt(userID, strings.ToLower(exchangeID), e)
			if err != nil {
				s.logger.Error("Dropping credential entry, decryption failed",
					"user_id", userID, "exchange", exchangeID, "error", err)
				continue
			}
			out = append(out, desc)
		}
	}

	// Map iteration order is random; keep output deterministic.
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ExchangeID < out[j].ExchangeID
	})

	return out, nil
}

func (s *Store) decrypt(userID, exchangeID string, e entry) (core.AccountDescriptor, error) {
	apiKey, err := crypto.Decrypt(e.APIKey, s.key)
	if err != nil {
		return core.AccountDescriptor{}, fmt.Errorf("api_key: %w", err)
	}
	apiSecret, err := crypto.Decrypt(e.APISecret, s.key)
	if err != nil {
		return core.AccountDescriptor{}, fmt.Errorf("api_secret: %w", err)
	}
	var passphrase string
	if e.APIPassphrase != "" {
		passphrase, err = crypto.Decrypt(e.APIPassphrase, s.key)
		if err != nil {
			return core.AccountDescriptor{}, fmt.Errorf("api_passphrase: %w", err)
		}
	}

	return core.AccountDescriptor{
		UserID:        userID,
		ExchangeID:    exchangeID,
		APIKey:        apiKey,
		APISecret:     apiSecret,
		APIPassphrase: passphrase,
		CopyEnabled:   e.CopyTradeEnabled,
	}, nil
}

// Validate checks that every active entry in the store decrypts cleanly and
// returns the number of entries checked. Used by the validate subcommand.
func (s *Store) Validate() (int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read credential file: %w", err)
	}

	var raw map[string]map[string]entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("failed to parse credential file: %w", err)
	}

	checked := 0
	for userID, exchanges := range raw {
		for exchangeID, e := range exchanges {
			if e.Status != "active" {
				continue
			}
			checked++
			if _, err := s.decrypt(userID, strings.ToLower(exchangeID), e); err != nil {
				return checked, fmt.Errorf("entry %s/%s: %w", userID, exchangeID, err)
			}
		}
	}
	return checked, nil
}
