// Package badgerstore is an embedded key-value implementation of the snapshot
// history store, for deployments that do not want a SQLite file.
//
// Key layout (\x00 separates components, sequences are zero padded so keys
// sort numerically):
//
//	rec\x00<dataset>\x00<seq>   snapshot + version envelope
//	diff\x00<dataset>\x00<seq>  diff whose target is <seq>
//	ds\x00<dataset>             dataset registration
package badgerstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"schemaevo/internal/domain"
)

const (
	prefixRecord  = "rec"
	prefixDiff    = "diff"
	prefixDataset = "ds"
	sep           = "\x00"
)

// Config configures the store.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// Store implements domain.SnapshotRepository on badger.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ domain.SnapshotRepository = (*Store)(nil)

// Open opens or creates a store.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required for a persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logger.With("component", "badger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CollectGarbage runs one value-log GC pass. Nothing to collect is not an
// error.
func (s *Store) CollectGarbage(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err == nil || errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return fmt.Errorf("badger value log gc: %w", err)
}

// envelope is the persisted shape of one accepted evaluation. Readers ignore
// fields they do not know, so new fields can be added without breaking them.
type envelope struct {
	DatasetID   string               `json:"datasetId"`
	Sequence    int64                `json:"sequence"`
	ContentHash string               `json:"contentHash"`
	Schema      domain.Schema        `json:"schema"`
	Version     domain.VersionRecord `json:"version"`
	CreatedAt   time.Time            `json:"createdAt"`
}

func (e envelope) entry() domain.HistoryEntry {
	return domain.HistoryEntry{
		Snapshot: domain.Snapshot{
			DatasetID:   e.DatasetID,
			Sequence:    e.Sequence,
			Schema:      e.Schema,
			ContentHash: e.ContentHash,
			CreatedAt:   e.CreatedAt,
		},
		Version: e.Version,
	}
}

func key(parts ...string) []byte { return []byte(strings.Join(parts, sep)) }

func seqKey(prefix, datasetID string, seq int64) []byte {
	return key(prefix, datasetID, fmt.Sprintf("%020d", seq))
}

func datasetPrefix(prefix, datasetID string) []byte {
	return key(prefix, datasetID, "")
}

// Latest returns the newest snapshot of a dataset.
func (s *Store) Latest(ctx context.Context, datasetID string) (*domain.Snapshot, error) {
	env, err := s.latestEnvelope(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	snap := env.entry().Snapshot
	return &snap, nil
}

// LatestVersion returns the version record of the newest snapshot.
func (s *Store) LatestVersion(ctx context.Context, datasetID string) (*domain.VersionRecord, error) {
	env, err := s.latestEnvelope(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	return &env.Version, nil
}

// VersionForSequence returns the version record produced for one sequence.
func (s *Store) VersionForSequence(ctx context.Context, datasetID string, sequence int64) (*domain.VersionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var env envelope
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, seqKey(prefixRecord, datasetID, sequence), &env)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrNotFound("version %s@%d not found", datasetID, sequence)
	}
	if err != nil {
		return nil, err
	}
	return &env.Version, nil
}

// LatestDiff returns the newest diff of a dataset.
func (s *Store) LatestDiff(ctx context.Context, datasetID string) (*domain.SchemaDiff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		d     domain.SchemaDiff
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = lastWithPrefix(txn, datasetPrefix(prefixDiff, datasetID), &d)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read latest diff: %w", err)
	}
	if !found {
		return nil, domain.ErrNotFound("diff for dataset %q not found", datasetID)
	}
	return &d, nil
}

// History returns up to limit entries, newest first.
func (s *Store) History(ctx context.Context, datasetID string, limit int) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := datasetPrefix(prefixRecord, datasetID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seekLast(prefix)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var env envelope
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &env) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, env.entry())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListDatasets returns a page of registered dataset ids in lexical order.
func (s *Store) ListDatasets(ctx context.Context, page domain.PageRequest) ([]string, int64, error) {
	var (
		ids   []string
		total int64
	)
	offset, limit := page.Offset(), page.Limit()
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := key(prefixDataset, "")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if total >= int64(offset) && len(ids) < limit {
				ids = append(ids, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
			}
			total++
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return ids, total, nil
}

// Commit writes snapshot, diff and version in one badger transaction. A
// concurrent commit for the same dataset surfaces as a *domain.ConflictError.
func (s *Store) Commit(ctx context.Context, c domain.EvaluationCommit) error {
	snap := c.Snapshot
	switch {
	case snap.DatasetID == "" || snap.Sequence <= 0:
		return domain.ErrValidation("commit requires a dataset id and a positive sequence")
	case strings.Contains(snap.DatasetID, sep):
		return domain.ErrValidation("dataset id must not contain NUL")
	case c.Version.Sequence != snap.Sequence:
		return domain.ErrValidation("version sequence %d does not match snapshot sequence %d",
			c.Version.Sequence, snap.Sequence)
	case c.Diff != nil && c.Diff.ToSequence != snap.Sequence:
		return domain.ErrValidation("diff targets sequence %d, snapshot is %d", c.Diff.ToSequence, snap.Sequence)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := json.Marshal(envelope{
		DatasetID:   snap.DatasetID,
		Sequence:    snap.Sequence,
		ContentHash: snap.ContentHash,
		Schema:      snap.Schema,
		Version:     c.Version,
		CreatedAt:   snap.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		var prev envelope
		if _, err := lastWithPrefix(txn, datasetPrefix(prefixRecord, snap.DatasetID), &prev); err != nil {
			return err
		}
		last := prev.Sequence
		if snap.Sequence != last+1 {
			return domain.ErrConflict("snapshot %s@%d does not follow latest sequence %d",
				snap.DatasetID, snap.Sequence, last)
		}

		if err := txn.Set(seqKey(prefixRecord, snap.DatasetID, snap.Sequence), rec); err != nil {
			return err
		}
		if c.Diff != nil {
			d := *c.Diff
			d.DatasetID = snap.DatasetID
			raw, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("encode diff: %w", err)
			}
			if err := txn.Set(seqKey(prefixDiff, snap.DatasetID, snap.Sequence), raw); err != nil {
				return err
			}
		}
		return txn.Set(key(prefixDataset, snap.DatasetID), []byte(snap.CreatedAt.UTC().Format(time.RFC3339Nano)))
	})
	if errors.Is(err, badger.ErrConflict) {
		return domain.ErrConflict("concurrent commit for dataset %q", snap.DatasetID)
	}
	return err
}

func (s *Store) latestEnvelope(ctx context.Context, datasetID string) (*envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		env   envelope
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = lastWithPrefix(txn, datasetPrefix(prefixRecord, datasetID), &env)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read latest snapshot: %w", err)
	}
	if !found {
		return nil, domain.ErrNotFound("snapshot for dataset %q not found", datasetID)
	}
	return &env, nil
}

// lastWithPrefix decodes the value of the greatest key under prefix into v.
// It reports false when no key has the prefix.
func lastWithPrefix(txn *badger.Txn, prefix []byte, v any) (bool, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	it.Seek(seekLast(prefix))
	if !it.ValidForPrefix(prefix) {
		return false, nil
	}
	return true, it.Item().Value(func(raw []byte) error { return json.Unmarshal(raw, v) })
}

// seekLast is a key greater than every key under prefix, the starting point of
// a reverse scan.
func seekLast(prefix []byte) []byte {
	return append(bytes.Clone(prefix), 0xFF)
}

func getJSON(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if err != nil {
		return err
	}
	return item.Value(func(raw []byte) error { return json.Unmarshal(raw, v) })
}

// badgerLogger adapts slog to badger's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
