// SPDX-License-Identifier: Apache-2.0

package attemptlog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/models"
)

const keyPrefix = "attempt:"

// BadgerConfig configures a BadgerLog
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path       string
	InMemory   bool
	SyncWrites bool
	// ReadOnly opens an existing log with a shared lock for querying. Any
	// number of read-only opens can coexist, but not with a writer.
	ReadOnly bool
	Logger   *zap.Logger
}

// BadgerLog is a durable attempt log on BadgerDB. Keys are the zero-padded
// sequence number so iteration order is sequence order.
type BadgerLog struct {
	db       *badger.DB
	logger   *zap.Logger
	readOnly bool

	// mu serializes sequence assignment with the write so readers never see a gap
	mu     sync.Mutex
	seq    atomic.Uint64
	closed atomic.Bool
}

// OpenBadger opens (or creates) a badger-backed attempt log
func OpenBadger(cfg BadgerConfig) (*BadgerLog, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("attempt log path is required")
		}
		if cfg.ReadOnly {
			if _, err := os.Stat(cfg.Path); err != nil {
				return nil, fmt.Errorf("error opening attempt log: %w", err)
			}
		} else if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("error creating attempt log directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithReadOnly(cfg.ReadOnly)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(&badgerLogger{logger: logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: error opening badger: %v", ErrLogUnavailable, err)
	}

	l := &BadgerLog{db: db, logger: logger, readOnly: cfg.ReadOnly}
	if err := l.recoverSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Debug("attempt log opened",
		zap.String("path", cfg.Path),
		zap.Bool("in_memory", cfg.InMemory),
		zap.Bool("read_only", cfg.ReadOnly),
		zap.Uint64("last_seq", l.seq.Load()))
	return l, nil
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", keyPrefix, seq))
}

// recoverSeq finds the highest stored sequence number
func (l *BadgerLog) recoverSeq() error {
	var last uint64
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		it.Seek(append([]byte(keyPrefix), 0xFF))
		if it.ValidForPrefix(prefix) {
			key := it.Item().Key()
			if _, err := fmt.Sscanf(string(key[len(prefix):]), "%016d", &last); err != nil {
				return fmt.Errorf("%w: bad key %q", ErrCorruptEntry, key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error recovering attempt sequence: %w", err)
	}
	l.seq.Store(last)
	return nil
}

// LastSeq returns the highest sequence number assigned so far
func (l *BadgerLog) LastSeq() uint64 {
	return l.seq.Load()
}

// Append persists the attempt in a single transaction
func (l *BadgerLog) Append(ctx context.Context, a *models.Attempt) error {
	if a == nil {
		return fmt.Errorf("nil attempt")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.closed.Load() {
		return ErrLogClosed
	}
	if l.readOnly {
		return ErrReadOnly
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.seq.Load() + 1
	entry := *a
	entry.Seq = seq

	data, err := encodeEntry(&entry)
	if err != nil {
		return fmt.Errorf("error encoding attempt: %w", err)
	}

	if err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(seqKey(seq), data)
	}); err != nil {
		if errors.Is(err, badger.ErrDBClosed) {
			return ErrLogClosed
		}
		return fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}

	l.seq.Store(seq)
	a.Seq = seq
	return nil
}

// Query iterates matching attempts inside a read transaction
func (l *BadgerLog) Query(ctx context.Context, f Filter) iter.Seq2[models.Attempt, error] {
	return func(yield func(models.Attempt, error) bool) {
		if l.closed.Load() {
			yield(models.Attempt{}, ErrLogClosed)
			return
		}

		yielded := 0
		stopped := false

		err := l.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			prefix := []byte(keyPrefix)
			for it.Seek(seqKey(f.AfterSeq + 1)); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}

				var a models.Attempt
				err := it.Item().Value(func(val []byte) error {
					var derr error
					a, derr = decodeEntry(val)
					return derr
				})
				if err != nil {
					return fmt.Errorf("key %s: %w", it.Item().Key(), err)
				}

				if !f.Match(a) {
					continue
				}
				if !yield(a, nil) {
					stopped = true
					return nil
				}
				yielded++
				if f.Limit > 0 && yielded >= f.Limit {
					return nil
				}
			}
			return nil
		})

		if err != nil && !stopped {
			yield(models.Attempt{}, err)
		}
	}
}

// Close closes the underlying database
func (l *BadgerLog) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("error closing attempt log: %w", err)
	}
	return nil
}

// badgerLogger routes badger's internal logging through zap
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.logger.Errorf(format, args...)
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.logger.Warnf(format, args...)
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.logger.Debugf(format, args...)
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.logger.Debugf(format, args...)
}
