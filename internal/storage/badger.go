// SPDX-License-Identifier: MIT

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
)

// keySep separates key parts. None of the engine's identifiers contain NUL,
// so composite keys stay collision-free and prefix scans stay exact.
const keySep = "\x00"

// badgerEnvelope wraps the row value with its version counter so a single
// key carries both.
type badgerEnvelope struct {
	Version uint64 `json:"v"`
	Value   []byte `json:"d"`
}

// BadgerStore is the embedded disk backend. CAS is provided by badger's
// serializable transactions: a conflicting commit surfaces as ErrConflict
// and is mapped onto the contract's sentinel errors.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the badger database at path.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(table, pk, rk string) []byte {
	return []byte(table + keySep + pk + keySep + rk)
}

func badgerPrefix(table, pk string) []byte {
	return []byte(table + keySep + pk + keySep)
}

func (s *BadgerStore) Insert(ctx context.Context, table string, e Entity) (string, error) {
	key := badgerKey(table, e.PartitionKey, e.RowKey)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		buf, err := json.Marshal(badgerEnvelope{Version: 1, Value: e.Value})
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if errors.Is(err, badger.ErrConflict) {
		return "", ErrAlreadyExists
	}
	if err != nil {
		return "", err
	}
	return "1", nil
}

func (s *BadgerStore) Get(ctx context.Context, table, pk, rk string) (*Entity, error) {
	var env badgerEnvelope
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(table, pk, rk))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Entity{
		PartitionKey: pk,
		RowKey:       rk,
		Value:        env.Value,
		Version:      strconv.FormatUint(env.Version, 10),
	}, nil
}

func (s *BadgerStore) Put(ctx context.Context, table string, e Entity) (string, error) {
	key := badgerKey(table, e.PartitionKey, e.RowKey)

	// Unconditional writes may retry a lost transaction; only conditional
	// writes are forbidden to.
	for attempt := 0; ; attempt++ {
		var next uint64
		err := s.db.Update(func(txn *badger.Txn) error {
			next = 1
			item, err := txn.Get(key)
			switch {
			case err == nil:
				var cur badgerEnvelope
				if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cur) }); err != nil {
					return err
				}
				next = cur.Version + 1
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			buf, err := json.Marshal(badgerEnvelope{Version: next, Value: e.Value})
			if err != nil {
				return err
			}
			return txn.Set(key, buf)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < 4 {
			continue
		}
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(next, 10), nil
	}
}

func (s *BadgerStore) Update(ctx context.Context, table string, e Entity) (string, error) {
	key := badgerKey(table, e.PartitionKey, e.RowKey)
	var next uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur badgerEnvelope
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cur) }); err != nil {
			return err
		}
		if strconv.FormatUint(cur.Version, 10) != e.Version {
			return ErrPreconditionFailed
		}
		next = cur.Version + 1
		buf, err := json.Marshal(badgerEnvelope{Version: next, Value: e.Value})
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if errors.Is(err, badger.ErrConflict) {
		return "", ErrPreconditionFailed
	}
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(next, 10), nil
}

func (s *BadgerStore) Delete(ctx context.Context, table, pk, rk string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(table, pk, rk))
	})
}

func (s *BadgerStore) DeletePartition(ctx context.Context, table, pk string) (int, error) {
	prefix := badgerPrefix(table, pk)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) }); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (s *BadgerStore) Scan(ctx context.Context, table, pk string) ([]Entity, error) {
	prefix := badgerPrefix(table, pk)
	var out []Entity
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rk := string(bytes.TrimPrefix(item.Key(), prefix))
			var env badgerEnvelope
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &env) }); err != nil {
				return err
			}
			out = append(out, Entity{
				PartitionKey: pk,
				RowKey:       rk,
				Value:        env.Value,
				Version:      strconv.FormatUint(env.Version, 10),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("storage: badger closed")
	}
	return nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }
