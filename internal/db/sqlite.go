// Package db opens the SQLite history store and applies its migrations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // register "sqlite3" driver
)

// Mode selects how a pool is tuned.
type Mode string

// Pool modes. All commits go through a single-connection write pool so that
// SQLite never sees two writers; readers get their own pool.
const (
	ModeWrite Mode = "write"
	ModeRead  Mode = "read"
)

const (
	busyTimeoutMillis  = "5000"
	synchronous        = "NORMAL"
	journalMode        = "WAL"
	defaultReadMaxOpen = 4
	pingTimeout        = 5 * time.Second
)

// Open opens a SQLite pool at path. maxOpen applies to read pools only;
// 0 selects the default.
func Open(path string, mode Mode, maxOpen int) (*sql.DB, error) {
	switch mode {
	case ModeWrite, ModeRead:
	default:
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	pool, err := sql.Open("sqlite3", dsn(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	if mode == ModeWrite {
		maxOpen = 1
	} else if maxOpen <= 0 {
		maxOpen = defaultReadMaxOpen
	}
	pool.SetMaxOpenConns(maxOpen)
	pool.SetMaxIdleConns(maxOpen)
	pool.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}
	return pool, nil
}

// Pools is a write pool and a read pool over the same database file.
type Pools struct {
	Write *sql.DB
	Read  *sql.DB
}

// OpenPools opens the write pool first, so the file and its WAL journal exist
// before readers attach.
func OpenPools(path string, readMaxOpen int) (*Pools, error) {
	w, err := Open(path, ModeWrite, 0)
	if err != nil {
		return nil, err
	}
	r, err := Open(path, ModeRead, readMaxOpen)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Pools{Write: w, Read: r}, nil
}

// Close closes both pools.
func (p *Pools) Close() error {
	return errors.Join(p.Read.Close(), p.Write.Close())
}

func dsn(path string, mode Mode) string {
	q := url.Values{}
	q.Set("_journal_mode", journalMode)
	q.Set("_busy_timeout", busyTimeoutMillis)
	q.Set("_synchronous", synchronous)
	q.Set("_foreign_keys", "on")
	if mode == ModeWrite {
		// BEGIN IMMEDIATE takes the write lock up front instead of failing
		// with SQLITE_BUSY on the first write inside a deferred transaction.
		q.Set("_txlock", "immediate")
	}
	return path + "?" + q.Encode()
}
