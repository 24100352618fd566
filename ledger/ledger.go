// Package ledger persists realized profit in a local sqlite database.
package ledger

import (
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/jvaldesl/flasharb/notify"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	amount TEXT NOT NULL,
	recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// Ledger is an append-only accumulator of realized profit. Amounts are stored
// as decimal strings because sqlite cannot sum 256-bit integers. When the
// running total grows past the notify threshold since the last alert, the
// notifier is told.
type Ledger struct {
	db       *sql.DB
	logger   *zap.Logger
	notifier notify.Notifier

	mu           sync.Mutex
	total        *big.Int
	lastNotified *big.Int
	threshold    *big.Int
}

// Open creates or opens the ledger database at path.
func Open(path string, threshold *big.Int, notifier notify.Notifier, logger *zap.Logger) (*Ledger, error) {
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: create schema: %w", err)
	}

	l := &Ledger{
		db:           db,
		logger:       logger,
		notifier:     notifier,
		threshold:    threshold,
		total:        big.NewInt(0),
		lastNotified: big.NewInt(0),
	}
	if err := l.load(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load() error {
	for _, kv := range []struct {
		key string
		dst *big.Int
	}{
		{"total", l.total},
		{"last_notified", l.lastNotified},
	} {
		var raw string
		err := l.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, kv.key).Scan(&raw)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("ledger: load %s: %w", kv.key, err)
		}
		if _, ok := kv.dst.SetString(raw, 10); !ok {
			return fmt.Errorf("ledger: corrupt %s value %q", kv.key, raw)
		}
	}
	return nil
}

// Record appends a profit entry and updates the running total. Non-positive
// amounts are ignored.
func (l *Ledger) Record(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	newTotal := new(big.Int).Add(l.total, amount)

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("ledger: begin: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO entries (amount) VALUES (?)`, amount.String()); err != nil {
		tx.Rollback()
		return fmt.Errorf("ledger: insert entry: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO meta (key, value) VALUES ('total', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		newTotal.String()); err != nil {
		tx.Rollback()
		return fmt.Errorf("ledger: update total: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}

	l.total = newTotal
	l.maybeNotify()
	return nil
}

// Total returns the accumulated profit.
func (l *Ledger) Total() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.total)
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// maybeNotify alerts once per threshold-sized increase of the total. Called
// with the mutex held.
func (l *Ledger) maybeNotify() {
	if l.threshold == nil || l.threshold.Sign() <= 0 {
		return
	}
	diff := new(big.Int).Sub(l.total, l.lastNotified)
	if diff.Cmp(l.threshold) < 0 {
		return
	}

	l.lastNotified = new(big.Int).Set(l.total)
	if _, err := l.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('last_notified', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		l.lastNotified.String()); err != nil {
		l.logger.Warn("Failed persisting notification marker", zap.Error(err))
	}
	l.notifier.Notify(fmt.Sprintf("Accumulated profit: %s wei", l.total.String()))
}
