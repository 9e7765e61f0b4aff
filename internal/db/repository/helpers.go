// Package repository implements the domain repository ports on SQLite.
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"schemaevo/internal/domain"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// mapDBError translates driver errors into domain errors. what names the
// resource for the message.
func mapDBError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound("%s not found", what)
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed") {
		return domain.ErrConflict("%s already exists", what)
	}
	if strings.Contains(msg, "CHECK constraint failed") {
		return domain.ErrValidation("%s violates a constraint: %s", what, msg)
	}
	return err
}

// limitArg converts "all" (<= 0) to SQLite's unbounded LIMIT.
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
