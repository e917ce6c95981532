package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const metaLastTick = "last_tick"

// LastTick returns the end of the last completed scheduler tick. ok is false
// before the first tick ever completed.
func (e *Engine) LastTick() (time.Time, bool, error) {
	var v string
	err := e.db.QueryRow(`SELECT value FROM scheduler_meta WHERE key = ?`, metaLastTick).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable("read last tick", err)
	}
	t, err := parseTime(v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last tick: %w", err)
	}
	return t, true, nil
}

func (e *Engine) SetLastTick(t time.Time) error {
	_, err := e.db.Exec(`INSERT INTO scheduler_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, metaLastTick, formatTime(t))
	if err != nil {
		return unavailable("write last tick", err)
	}
	return nil
}
