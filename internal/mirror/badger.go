package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerMirror keeps the tree in a local BadgerDB, one key per path.
type BadgerMirror struct {
	db     *badger.DB
	logger *zap.Logger
}

// OpenBadger opens the mirror at dir. An empty dir keeps it in memory.
func OpenBadger(dir string, logger *zap.Logger) (*BadgerMirror, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger mirror: %w", err)
	}
	return &BadgerMirror{db: db, logger: logger}, nil
}

func (m *BadgerMirror) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	var data []byte
	if !isNil(value) {
		data, err = json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", p, err)
		}
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := deleteSubtree(txn, p); err != nil {
			return err
		}
		if data == nil || string(data) == "null" {
			return nil
		}
		return txn.Set([]byte(p), data)
	})
	if err != nil {
		m.logger.Warn("badger mirror write error", zap.String("path", p), zap.Error(err))
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func deleteSubtree(txn *badger.Txn, p string) error {
	var keys [][]byte

	it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(p)})
	for it.Rewind(); it.Valid(); it.Next() {
		k := it.Item().KeyCopy(nil)
		if string(k) == p || (len(k) > len(p) && k[len(p)] == '/') {
			keys = append(keys, k)
		}
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (m *BadgerMirror) Get(ctx context.Context, path string, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := cleanPath(path)
	if err != nil {
		return false, err
	}

	found := false
	err = m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(p))
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dst)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return found, fmt.Errorf("read %s: %w", p, err)
	}
	return true, nil
}

func (m *BadgerMirror) Close() error {
	return m.db.Close()
}
