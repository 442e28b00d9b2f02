// Package store provides crash-safe daily P&L persistence using JSON files.
//
// Each account's realized P&L for the current trading day is stored as a
// separate file: pnl_<accountID>.json. Writes use atomic file replacement
// (write to .tmp, then rename) to prevent corruption from partial writes or
// crashes mid-save. The executor records realized P&L after each closing
// fill, and the risk gate reads the running total before approving an order.
// Totals reset implicitly when the KST trading day changes.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const dayFormat = "2006-01-02"

var kst = loadKST()

func loadKST() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// dayRecord is the on-disk shape: one trading day's realized P&L.
type dayRecord struct {
	Day      string `json:"day"`
	Realized string `json:"realized"`
}

// Store persists per-account daily P&L to JSON files in a designated
// directory. All operations are mutex-protected to prevent concurrent file
// corruption.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func (s *Store) path(accountID string) string {
	return filepath.Join(s.dir, "pnl_"+accountID+".json")
}

func (s *Store) today() string {
	return s.now().In(kst).Format(dayFormat)
}

// loadLocked reads an account's record, returning a zeroed record for today
// when no file exists or the stored day has rolled over.
func (s *Store) loadLocked(accountID string) (dayRecord, error) {
	today := s.today()
	data, err := os.ReadFile(s.path(accountID))
	if err != nil {
		if os.IsNotExist(err) {
			return dayRecord{Day: today, Realized: "0"}, nil
		}
		return dayRecord{}, fmt.Errorf("read pnl: %w", err)
	}

	var rec dayRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return dayRecord{}, fmt.Errorf("unmarshal pnl: %w", err)
	}
	if rec.Day != today {
		return dayRecord{Day: today, Realized: "0"}, nil
	}
	return rec, nil
}

func (s *Store) saveLocked(accountID string, rec dayRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal pnl: %w", err)
	}
	path := s.path(accountID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write pnl: %w", err)
	}
	return os.Rename(tmp, path)
}

// DailyPnL returns the account's realized P&L for the current KST trading
// day. Read problems count as zero; the risk gate treats an unreadable
// ledger as no loss rather than blocking all trading.
func (s *Store) DailyPnL(accountID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadLocked(accountID)
	if err != nil {
		return decimal.Zero
	}
	pnl, err := decimal.NewFromString(rec.Realized)
	if err != nil {
		return decimal.Zero
	}
	return pnl
}

// AddRealized atomically adds a realized P&L delta to the account's running
// total for today and returns the new total.
func (s *Store) AddRealized(accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadLocked(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	current, err := decimal.NewFromString(rec.Realized)
	if err != nil {
		current = decimal.Zero
	}
	total := current.Add(delta)
	rec.Realized = total.String()
	if err := s.saveLocked(accountID, rec); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// Rollover rewrites any file still carrying a previous day so the new
// trading day starts from zero on disk, not just in reads. loadLocked
// already rolls stale records forward, so this only persists that roll.
func (s *Store) Rollover(accountIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range accountIDs {
		rec, err := s.loadLocked(id)
		if err != nil {
			return err
		}
		if err := s.saveLocked(id, rec); err != nil {
			return err
		}
	}
	return nil
}
