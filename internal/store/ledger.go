package store

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"
)

// LedgerState is the delivery state of one notification occurrence.
type LedgerState string

const (
	StatePending         LedgerState = "pending"
	StateSent            LedgerState = "sent"
	StateFailedPermanent LedgerState = "failed_permanent"
)

// LedgerKey identifies one notification occurrence.
type LedgerKey struct {
	Subject    string
	Kind       string
	Occurrence string
}

func (k LedgerKey) String() string {
	return k.Subject + "/" + k.Kind + "/" + k.Occurrence
}

type LedgerEntry struct {
	Key       LedgerKey
	State     LedgerState
	Attempts  int
	LastError string
	UpdatedAt time.Time
	SentAt    *time.Time
}

// Terminal reports whether the occurrence must not be dispatched again.
func (e LedgerEntry) Terminal() bool {
	return e.State == StateSent || e.State == StateFailedPermanent
}

// Ledger keeps the notification ledger in memory and writes every change
// through to SQLite before it becomes visible.
type Ledger struct {
	db      *sql.DB
	mu      sync.RWMutex
	entries map[LedgerKey]LedgerEntry
}

// Ledger returns the notification ledger backed by the engine's database.
// Call Load before use.
func (e *Engine) Ledger() *Ledger {
	return &Ledger{db: e.db, entries: make(map[LedgerKey]LedgerEntry)}
}

// Load replaces the in-memory view with the persisted rows.
func (l *Ledger) Load() error {
	rows, err := l.db.Query(`SELECT subject, kind, occurrence_key, state, attempts, last_error, updated_at, sent_at FROM notification_ledger`)
	if err != nil {
		return unavailable("load ledger", err)
	}
	defer rows.Close()

	entries := make(map[LedgerKey]LedgerEntry)
	for rows.Next() {
		var (
			ent       LedgerEntry
			state     string
			updatedAt string
			sentAt    sql.NullString
		)
		if err := rows.Scan(&ent.Key.Subject, &ent.Key.Kind, &ent.Key.Occurrence, &state, &ent.Attempts, &ent.LastError, &updatedAt, &sentAt); err != nil {
			return unavailable("scan ledger", err)
		}
		ent.State = LedgerState(state)
		if ent.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return fmt.Errorf("parse ledger updated_at: %w", err)
		}
		if ent.SentAt, err = parseNullableTime(sentAt); err != nil {
			return fmt.Errorf("parse ledger sent_at: %w", err)
		}
		entries[ent.Key] = ent
	}
	if err := rows.Err(); err != nil {
		return unavailable("load ledger", err)
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}

// Lookup returns the entry for key.
func (l *Ledger) Lookup(key LedgerKey) (LedgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ent, ok := l.entries[key]
	return ent, ok
}

// Done reports whether key reached a terminal state.
func (l *Ledger) Done(key LedgerKey) bool {
	ent, ok := l.Lookup(key)
	return ok && ent.Terminal()
}

// Recorded reports whether any entry exists for key, pending ones included.
func (l *Ledger) Recorded(key LedgerKey) bool {
	_, ok := l.Lookup(key)
	return ok
}

// MarkSent records a successful dispatch.
func (l *Ledger) MarkSent(key LedgerKey, at time.Time) (LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ent := l.entries[key]
	ent.Key = key
	ent.State = StateSent
	ent.Attempts++
	ent.LastError = ""
	ent.UpdatedAt = at
	sent := at
	ent.SentAt = &sent

	if err := l.write(ent); err != nil {
		return LedgerEntry{}, err
	}
	l.entries[key] = ent
	return ent, nil
}

// RecordFailure counts a failed dispatch. Once attempts reach maxAttempts the
// entry becomes failed_permanent and is never retried.
func (l *Ledger) RecordFailure(key LedgerKey, cause error, at time.Time, maxAttempts int) (LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ent := l.entries[key]
	ent.Key = key
	ent.Attempts++
	ent.State = StatePending
	if maxAttempts > 0 && ent.Attempts >= maxAttempts {
		ent.State = StateFailedPermanent
	}
	if cause != nil {
		ent.LastError = cause.Error()
	}
	ent.UpdatedAt = at

	if err := l.write(ent); err != nil {
		return LedgerEntry{}, err
	}
	l.entries[key] = ent
	return ent, nil
}

// Entries returns a sorted copy of every entry.
func (l *Ledger) Entries() []LedgerEntry {
	l.mu.RLock()
	out := make([]LedgerEntry, 0, len(l.entries))
	for _, ent := range l.entries {
		out = append(out, ent)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func (l *Ledger) write(ent LedgerEntry) error {
	_, err := l.db.Exec(`INSERT INTO notification_ledger (subject, kind, occurrence_key, state, attempts, last_error, updated_at, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject, kind, occurrence_key) DO UPDATE SET
			state = excluded.state,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at,
			sent_at = excluded.sent_at`,
		ent.Key.Subject, ent.Key.Kind, ent.Key.Occurrence, string(ent.State), ent.Attempts, ent.LastError,
		formatTime(ent.UpdatedAt), nullableTime(ent.SentAt))
	if err != nil {
		return unavailable("write ledger", err)
	}
	return nil
}
