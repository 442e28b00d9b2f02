// Package account loads and indexes the configured brokerage accounts.
//
// The account set arrives as a single JSON array (typically from the
// ACCOUNTS_CONFIG environment variable). Each record is validated at load;
// invalid or duplicate records are dropped with a diagnostic and never
// indexed. The two indexes (by id, by webhook token) are read-only after
// construction, so lookups need no locking.
package account

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

// Store indexes the validated account set by id and by webhook token.
type Store struct {
	byID    map[string]*Account
	byToken map[string]*Account
}

// Load parses the accounts blob and builds the indexes. An empty blob yields
// an empty store (every lookup misses); only malformed JSON is an error.
func Load(raw string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		byID:    make(map[string]*Account),
		byToken: make(map[string]*Account),
	}
	if raw == "" {
		logger.Warn("accounts config is empty, no accounts loaded")
		return s, nil
	}

	var records []*Account
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("parse accounts config: %w", err)
	}

	for i, acc := range records {
		if err := acc.validate(); err != nil {
			logger.Warn("dropping invalid account record", "index", i, "id", acc.ID, "error", err)
			continue
		}
		if _, dup := s.byID[acc.ID]; dup {
			logger.Warn("dropping account with duplicate id", "id", acc.ID)
			continue
		}
		if _, dup := s.byToken[acc.WebhookToken]; dup {
			logger.Warn("dropping account with duplicate webhook token", "id", acc.ID)
			continue
		}
		s.byID[acc.ID] = acc
		s.byToken[acc.WebhookToken] = acc
	}

	logger.Info("accounts loaded", "count", len(s.byID))
	return s, nil
}

// ByID looks up an account by its internal id.
func (s *Store) ByID(id string) (*Account, bool) {
	acc, ok := s.byID[id]
	return acc, ok
}

// ByToken looks up an account by its webhook token.
func (s *Store) ByToken(token string) (*Account, bool) {
	acc, ok := s.byToken[token]
	return acc, ok
}

// IDs returns the loaded account ids in stable order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of loaded accounts.
func (s *Store) Len() int {
	return len(s.byID)
}
