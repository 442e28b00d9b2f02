package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestDailyPnLStartsAtZero(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if got := s.DailyPnL("acc1"); !got.IsZero() {
		t.Errorf("fresh account pnl = %s, want 0", got)
	}
}

func TestAddRealizedAccumulates(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	total, err := s.AddRealized("acc1", decimal.NewFromInt(150000))
	if err != nil {
		t.Fatalf("AddRealized: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(150000)) {
		t.Errorf("total = %s, want 150000", total)
	}

	total, err = s.AddRealized("acc1", decimal.NewFromInt(-400000))
	if err != nil {
		t.Fatalf("AddRealized: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(-250000)) {
		t.Errorf("total = %s, want -250000", total)
	}
	if got := s.DailyPnL("acc1"); !got.Equal(decimal.NewFromInt(-250000)) {
		t.Errorf("DailyPnL = %s, want -250000", got)
	}

	// Accounts are independent ledgers.
	if got := s.DailyPnL("acc2"); !got.IsZero() {
		t.Errorf("other account pnl = %s, want 0", got)
	}
}

func TestDailyPnLSurvivesReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.AddRealized("acc1", decimal.NewFromInt(777)); err != nil {
		t.Fatalf("AddRealized: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.DailyPnL("acc1"); !got.Equal(decimal.NewFromInt(777)) {
		t.Errorf("reopened pnl = %s, want 777", got)
	}
}

func TestDayRolloverResetsTotal(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	yesterday := time.Now().In(kst).AddDate(0, 0, -1)
	s.now = func() time.Time { return yesterday }
	if _, err := s.AddRealized("acc1", decimal.NewFromInt(-9_000_000)); err != nil {
		t.Fatalf("AddRealized: %v", err)
	}

	s.now = time.Now
	if got := s.DailyPnL("acc1"); !got.IsZero() {
		t.Errorf("pnl after day change = %s, want 0", got)
	}

	// Rollover persists the reset on disk.
	if err := s.Rollover([]string{"acc1"}); err != nil {
		t.Fatalf("Rollover: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, "pnl_acc1.json"))
	if err != nil {
		t.Fatalf("read ledger file: %v", err)
	}
	var rec dayRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal ledger: %v", err)
	}
	if rec.Realized != "0" {
		t.Errorf("persisted realized = %q, want 0", rec.Realized)
	}
	if rec.Day != time.Now().In(kst).Format(dayFormat) {
		t.Errorf("persisted day = %q, want today", rec.Day)
	}
}

func TestCorruptLedgerReadsAsZero(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := os.WriteFile(filepath.Join(s.dir, "pnl_acc1.json"), []byte("{garbage"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if got := s.DailyPnL("acc1"); !got.IsZero() {
		t.Errorf("corrupt ledger pnl = %s, want 0", got)
	}
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if _, err := s.AddRealized("acc1", decimal.NewFromInt(1)); err != nil {
		t.Fatalf("AddRealized: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.dir, "pnl_acc1.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away after a write")
	}
}
