package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	xerrors "github.com/DarbotLM/Detris/internal/errors"
	"github.com/DarbotLM/Detris/pkg/logger"
)

// BadgerConfig describes a Badger artifact store.
type BadgerConfig struct {
	Path           string        `json:"path" yaml:"path" env:"PATH"`
	InMemory       bool          `json:"in_memory" yaml:"in_memory" env:"IN_MEMORY"`
	SyncWrites     bool          `json:"sync_writes" yaml:"sync_writes" env:"SYNC_WRITES"`
	GCInterval     time.Duration `json:"gc_interval" yaml:"gc_interval" env:"GC_INTERVAL"`
	GCDiscardRatio float64       `json:"gc_discard_ratio" yaml:"gc_discard_ratio" env:"GC_DISCARD_RATIO"`
}

func (c *BadgerConfig) applyDefaults() {
	if c.GCInterval == 0 && !c.InMemory {
		c.GCInterval = 5 * time.Minute
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		c.GCDiscardRatio = 0.5
	}
}

// BadgerStore keeps artifacts in an embedded Badger database. Artifacts are
// immutable once written, so a single version per key is retained.
type BadgerStore struct {
	db     *badger.DB
	log    *slog.Logger
	stopGC chan struct{}
	gcDone chan struct{}
}

type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

// OpenBadgerStore opens (creating if needed) the database described by cfg.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	cfg.applyDefaults()
	if !cfg.InMemory && cfg.Path == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "badger path is required unless in_memory is set")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "create artifact directory")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	log := logger.Named("artifacts")
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "open badger database")
	}
	s := &BadgerStore{db: db, log: log}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Warn("badger value log GC failed", slog.Any("error", err))
			}
		}
	}
}

// Put implements ArtifactStore.
func (s *BadgerStore) Put(ctx context.Context, kind Kind, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := artifactKey(kind, id)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "write artifact")
	}
	return nil
}

// Get implements ArtifactStore.
func (s *BadgerStore) Get(ctx context.Context, kind Kind, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := artifactKey(kind, id)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(kind, id)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "read artifact")
	}
	return data, nil
}

// Delete implements ArtifactStore.
func (s *BadgerStore) Delete(ctx context.Context, kind Kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := artifactKey(kind, id)
	if err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "delete artifact")
	}
	return nil
}

// List implements ArtifactStore. Badger iterates keys in byte order, so IDs
// come back sorted.
func (s *BadgerStore) List(ctx context.Context, kind Kind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(string(kind) + "/")
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list artifacts")
	}
	return ids, nil
}

// Close stops background GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
		s.stopGC = nil
	}
	return s.db.Close()
}
