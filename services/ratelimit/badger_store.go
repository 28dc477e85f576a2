// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ratelimit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	badgerKeyPrefix = "rl:"

	// maxConflictRetries bounds transaction retries on write conflicts.
	maxConflictRetries = 8

	gcDiscardRatio = 0.5
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Empty selects in-memory mode.
	Path string

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger
}

// BadgerStore keeps counters in BadgerDB. Each entry carries a TTL equal to
// the rest of its window, so BadgerDB drops stale identities on its own.
type BadgerStore struct {
	db       *badger.DB
	inMemory bool
	logger   *slog.Logger
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerStore opens (or creates) the database.
//
// Outputs:
//   - *BadgerStore: Caller must Close it.
//   - error: Non-nil if the directory or database cannot be opened.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create rate limit directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open rate limit database: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, inMemory: cfg.Path == "", logger: logger}, nil
}

// Increment implements Store.
func (s *BadgerStore) Increment(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Entry, bool, error) {
	k := []byte(badgerKeyPrefix + key)

	var (
		result  Entry
		allowed bool
	)
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Entry{}, false, err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			current, ok, err := readEntry(txn, k)
			if err != nil {
				return err
			}
			next, admit := nextEntry(current, ok, limit, window, now)
			result, allowed = next, admit
			if !admit {
				return nil
			}
			ttl := next.ResetAt.Sub(now)
			if ttl < time.Second {
				ttl = time.Second
			}
			return txn.SetEntry(badger.NewEntry(k, encodeEntry(next)).WithTTL(ttl))
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return Entry{}, false, fmt.Errorf("increment %s: %w", key, err)
		}
		return result, allowed, nil
	}
	return Entry{}, false, fmt.Errorf("increment %s: %w", key, badger.ErrConflict)
}

// Reset implements Store.
func (s *BadgerStore) Reset(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + key))
	})
}

// Sweep deletes entries whose window closed at now, then runs value log GC
// for on-disk databases. TTL expiry already hides stale keys from readers;
// Sweep reclaims the ones a caller clock considers expired earlier.
func (s *BadgerStore) Sweep(now time.Time) int {
	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil || e.Expired(now) {
					stale = append(stale, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("rate limit sweep scan failed", "error", err)
		return 0
	}

	removed := 0
	for _, k := range stale {
		if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(k) }); err != nil {
			s.logger.Warn("rate limit sweep delete failed", "key", string(k), "error", err)
			continue
		}
		removed++
	}

	s.runGC()
	return removed
}

func (s *BadgerStore) runGC() {
	if s.inMemory {
		return
	}
	err := s.db.RunValueLogGC(gcDiscardRatio)
	if err == nil {
		s.logger.Debug("badger value log GC completed")
	} else if !errors.Is(err, badger.ErrNoRewrite) {
		s.logger.Warn("badger value log GC error", "error", err)
	}
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func readEntry(txn *badger.Txn, k []byte) (Entry, bool, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	err = item.Value(func(val []byte) error {
		var derr error
		e, derr = decodeEntry(val)
		return derr
	})
	if err != nil {
		// Corrupt values restart the window rather than blocking the identity.
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Values are 16 bytes: count then ResetAt in unix nanoseconds, big endian.
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], uint64(e.Count))
	binary.BigEndian.PutUint64(buf[8:], uint64(e.ResetAt.UnixNano()))
	return buf
}

func decodeEntry(val []byte) (Entry, error) {
	if len(val) != 16 {
		return Entry{}, fmt.Errorf("rate limit entry: want 16 bytes, got %d", len(val))
	}
	return Entry{
		Count:   int(binary.BigEndian.Uint64(val[:8])),
		ResetAt: time.Unix(0, int64(binary.BigEndian.Uint64(val[8:]))),
	}, nil
}
