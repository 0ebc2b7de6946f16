package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/loancollect/internal/client/migrations"
	"github.com/dmitrijs2005/loancollect/internal/client/models"
	"github.com/dmitrijs2005/loancollect/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/loancollect/internal/dbx"
	"github.com/dmitrijs2005/loancollect/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Fixed keys.
const (
	KeySnapshot       = "snapshot"
	KeyQueue          = "queue"
	KeyLastSync       = "last_sync"
	KeyPendingCreates = "pending_creates"
	KeySyncErrors     = "sync_errors"
)

var allKeys = []string{KeySnapshot, KeyQueue, KeyLastSync, KeyPendingCreates, KeySyncErrors}

// ErrCorrupted reports persisted state that cannot be decoded.
var ErrCorrupted = errors.New("local store corrupted")

// CorruptionError names the keys that failed to decode.
type CorruptionError struct {
	Keys []string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("%s: keys %v: %v", ErrCorrupted, e.Keys, e.Err)
}

func (e *CorruptionError) Unwrap() []error { return []error{ErrCorrupted, e.Err} }

var migrateMu sync.Mutex

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

type Store struct {
	db  *sql.DB
	log logging.Logger

	mu sync.Mutex
}

// Open opens (or creates) the SQLite database at dsn and migrates it.
func Open(ctx context.Context, dsn string, log logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	// One writer at a time; also keeps in-memory databases on one connection.
	db.SetMaxOpenConns(1)

	s, err := New(ctx, db, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New migrates db and wraps it.
func New(ctx context.Context, db *sql.DB, log logging.Logger) (*Store, error) {
	if err := RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	return &Store{db: db, log: log.With("module", "store")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the current state.
func (s *Store) Load(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx, s.db)
}

// Update runs fn against a copy of the current state and persists the result
// atomically. fn returning an error leaves the store untouched. Update
// returns the state that was written.
func (s *Store) Update(ctx context.Context, fn func(st *State) error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next State
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		cur, err := s.read(ctx, tx)
		if err != nil {
			return err
		}
		next = cur.clone()
		if err := fn(&next); err != nil {
			return err
		}
		return write(ctx, tx, next)
	})
	if err != nil {
		return State{}, err
	}
	return next, nil
}

// Reset discards the snapshot and the checkpoint so the next pull is a full
// one. The queue, the ledger and the diagnostics survive unless they are
// themselves undecodable.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		drop := []string{KeySnapshot, KeyLastSync}

		raw, err := repo.GetMany(ctx, KeyQueue, KeyPendingCreates, KeySyncErrors)
		if err != nil {
			return err
		}
		var st State
		for _, k := range []string{KeyQueue, KeyPendingCreates, KeySyncErrors} {
			if decodeKey(k, raw[k], &st) != nil {
				drop = append(drop, k)
			}
		}

		s.log.Warn(ctx, "resetting local store", "keys", drop)
		return repo.Delete(ctx, drop...)
	})
}

func (s *Store) read(ctx context.Context, db dbx.DBTX) (State, error) {
	raw, err := metadata.NewSQLiteRepository(db).GetMany(ctx, allKeys...)
	if err != nil {
		return State{}, err
	}

	st := State{PendingCreates: models.IDSet{}}
	var bad []string
	var firstErr error
	for _, k := range allKeys {
		if err := decodeKey(k, raw[k], &st); err != nil {
			bad = append(bad, k)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if len(bad) > 0 {
		return State{}, &CorruptionError{Keys: bad, Err: firstErr}
	}
	return st, nil
}

func decodeKey(key string, b []byte, st *State) error {
	if len(b) == 0 {
		return nil
	}
	switch key {
	case KeySnapshot:
		return json.Unmarshal(b, &st.Snapshot)
	case KeyQueue:
		return json.Unmarshal(b, &st.Queue)
	case KeyLastSync:
		var t time.Time
		if err := json.Unmarshal(b, &t); err != nil {
			return err
		}
		st.LastSync = &t
	case KeyPendingCreates:
		var ids []string
		if err := json.Unmarshal(b, &ids); err != nil {
			return err
		}
		st.PendingCreates = models.NewIDSet(ids...)
	case KeySyncErrors:
		return json.Unmarshal(b, &st.Errors)
	}
	return nil
}

func write(ctx context.Context, db dbx.DBTX, st State) error {
	values := make(map[string][]byte, len(allKeys))

	enc := func(key string, v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		values[key] = b
		return nil
	}

	ids := make([]string, 0, len(st.PendingCreates))
	for id := range st.PendingCreates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	queue := st.Queue
	if queue == nil {
		queue = []models.Mutation{}
	}

	if err := enc(KeySnapshot, st.Snapshot); err != nil {
		return err
	}
	if err := enc(KeyQueue, queue); err != nil {
		return err
	}
	if err := enc(KeyPendingCreates, ids); err != nil {
		return err
	}
	if err := enc(KeySyncErrors, st.Errors); err != nil {
		return err
	}

	repo := metadata.NewSQLiteRepository(db)
	if st.LastSync == nil {
		if err := repo.Delete(ctx, KeyLastSync); err != nil {
			return err
		}
	} else if err := enc(KeyLastSync, st.LastSync.UTC()); err != nil {
		return err
	}

	return repo.SetMany(ctx, values)
}
