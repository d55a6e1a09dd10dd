package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"chatppt/internal/domain"
)

// BadgerStore keeps session histories in an embedded BadgerDB, for local use
// where DynamoDB is not available.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// TTL expires a whole session after inactivity: every write moves the
	// deadline of all the session's entries. Non-positive selects DefaultTTL.
	TTL time.Duration
}

type badgerMeta struct {
	Turns        int          `json:"turns"`
	State        domain.State `json:"state"`
	LastActivity string       `json:"lastActivity"`
}

func NewBadger(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("repository: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(quietLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("repository: open badger: %w", err)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BadgerStore{db: db, ttl: ttl}, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func badgerTurnPrefix(sessionID string) []byte {
	return []byte("session:" + sessionID + ":turn:")
}

func badgerTurnKey(sessionID string, seq int) []byte {
	return fmt.Appendf(badgerTurnPrefix(sessionID), "%08d", seq)
}

func badgerMetaKey(sessionID string) []byte {
	return []byte("session:" + sessionID + ":meta")
}

func (b *BadgerStore) GetHistory(_ context.Context, sessionID string) (domain.History, error) {
	var history domain.History
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := badgerTurnPrefix(sessionID)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var turn domain.Turn
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &turn)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			history = append(history, turn)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory: %w", err)
	}
	return history, nil
}

func (b *BadgerStore) AppendTurn(_ context.Context, sessionID string, seq int, turn domain.Turn, state domain.State) error {
	if err := checkAppend(sessionID, seq, turn, state); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		meta, err := readBadgerMeta(txn, sessionID)
		if err != nil {
			return err
		}
		if meta.Turns != seq {
			return ErrConflict
		}
		raw, err := json.Marshal(turn)
		if err != nil {
			return err
		}
		expiresAt := b.expiresAt()
		if err := touchTurns(txn, sessionID, expiresAt); err != nil {
			return err
		}
		if err := txn.SetEntry(expiringEntry(badgerTurnKey(sessionID, seq), raw, expiresAt)); err != nil {
			return err
		}
		meta.Turns = seq + 1
		meta.State = state
		return writeMeta(txn, sessionID, meta, expiresAt)
	})
	if errors.Is(err, badger.ErrConflict) {
		err = ErrConflict
	}
	if err != nil {
		return fmt.Errorf("repository: AppendTurn %s seq %d: %w", sessionID, seq, err)
	}
	return nil
}

func (b *BadgerStore) GetState(_ context.Context, sessionID string) (domain.State, error) {
	var meta badgerMeta
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		meta, err = readBadgerMeta(txn, sessionID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("repository: GetState: %w", err)
	}
	return meta.State, nil
}

func (b *BadgerStore) SetState(_ context.Context, sessionID string, state domain.State) error {
	if !state.Valid() {
		return fmt.Errorf("repository: SetState: invalid state %q", state)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		meta, err := readBadgerMeta(txn, sessionID)
		if err != nil {
			return err
		}
		meta.State = state
		expiresAt := b.expiresAt()
		if err := touchTurns(txn, sessionID, expiresAt); err != nil {
			return err
		}
		return writeMeta(txn, sessionID, meta, expiresAt)
	})
	if err != nil {
		return fmt.Errorf("repository: SetState: %w", err)
	}
	return nil
}

func readBadgerMeta(txn *badger.Txn, sessionID string) (badgerMeta, error) {
	var meta badgerMeta
	item, err := txn.Get(badgerMetaKey(sessionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return meta, nil
	}
	if err != nil {
		return meta, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	})
	return meta, err
}

func writeMeta(txn *badger.Txn, sessionID string, meta badgerMeta, expiresAt uint64) error {
	meta.LastActivity = now().UTC().Format(time.RFC3339)
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return txn.SetEntry(expiringEntry(badgerMetaKey(sessionID), raw, expiresAt))
}

// expiresAt is the deadline, in badger's unix-seconds form, shared by every
// entry written in one transaction. Badger checks expiry against the wall
// clock, so this does too.
func (b *BadgerStore) expiresAt() uint64 {
	return uint64(time.Now().Add(b.ttl).Unix())
}

func expiringEntry(key, val []byte, expiresAt uint64) *badger.Entry {
	e := badger.NewEntry(key, val)
	e.ExpiresAt = expiresAt
	return e
}

// touchTurns rewrites the session's turns with expiresAt so that they expire
// together with the meta entry. Otherwise early turns would vanish from a
// long-lived session while meta.Turns still counts them.
func touchTurns(txn *badger.Txn, sessionID string, expiresAt uint64) error {
	type pair struct{ key, val []byte }
	var turns []pair

	prefix := badgerTurnPrefix(sessionID)
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: prefix})
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			it.Close()
			return err
		}
		turns = append(turns, pair{key: item.KeyCopy(nil), val: val})
	}
	it.Close()

	for _, t := range turns {
		if err := txn.SetEntry(expiringEntry(t.key, t.val, expiresAt)); err != nil {
			return err
		}
	}
	return nil
}

// quietLogger drops badger's info and debug chatter.
type quietLogger struct{}

func (quietLogger) Errorf(f string, v ...any)   { log.Printf("badger ERROR: "+f, v...) }
func (quietLogger) Warningf(f string, v ...any) { log.Printf("badger WARN: "+f, v...) }
func (quietLogger) Infof(string, ...any)        {}
func (quietLogger) Debugf(string, ...any)       {}
