package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"clinical-simulator/pkg"
)

const keyPrefix = "session:"

// BadgerStore keeps sessions in an embedded badger database and lets badger
// expire them.  With an empty path the database lives in memory only.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

func NewBadgerStore(path string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db, ttl: ttl}, nil
}

func sessionKey(id string) []byte {
	return []byte(keyPrefix + id)
}

func (b *BadgerStore) Put(ctx context.Context, s *pkg.Session) error {
	value, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(sessionKey(s.ID), value).WithTTL(b.ttl))
	})
}

func (b *BadgerStore) Get(ctx context.Context, id string) (*pkg.Session, error) {
	var s pkg.Session
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &s)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &s, nil
}

func (b *BadgerStore) Delete(ctx context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(sessionKey(id))
	})
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
