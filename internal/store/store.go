// Package store is an in-memory sorted store addressed by interleaved
// encoded keys. The red-black tree keeps key order, so every descendant
// row physically follows its ancestor row, and ancestor scans are one
// contiguous in-order walk.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"interleavedb/internal/config"
	"interleavedb/internal/interleave"
	"interleavedb/internal/keycodec"
	"interleavedb/internal/schema"
)

var (
	ErrRowNotFound = errors.New("row not found")
	ErrNoParentRow = errors.New("parent row does not exist")
)

// Row is one scanned row: the table it decoded to, its full primary key
// and the stored column data.
type Row struct {
	Table schema.TableID
	PK    []keycodec.Value
	Data  map[string]any
}

// Store the in-memory interleaved row store.
//
// The registry publishes immutable schema snapshots; every operation
// builds its encoder against the snapshot current at entry, so a schema
// change never tears an in-flight encode or scan.
type Store struct {
	tree redBlackTree
	m    sync.Map
	mu   sync.RWMutex

	reg   *schema.Registry
	conf  *config.Config
	chain PutChain
	sugar *zap.SugaredLogger
}

func New(reg *schema.Registry, conf *config.Config, logger *zap.Logger) (*Store, error) {
	s := &Store{
		reg:   reg,
		conf:  conf,
		sugar: logger.Sugar(),
	}
	if conf.Restore {
		if err := s.LoadFromDisk(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Use attaches put middlewares, e.g. the parent-existence validator.
// The encoder itself never requires the parent row; composing the
// validator here is the caller's choice.
func (s *Store) Use(mwf ...MiddlewarePutFunc) *Store {
	s.chain.Attach(mwf...)
	return s
}

func (s *Store) encoder() *interleave.Encoder {
	return interleave.NewEncoder(s.reg.Current())
}

// Put inserts or overwrites the row of table with primary key pk.
func (s *Store) Put(table schema.TableID, pk []keycodec.Value, data map[string]any) error {
	enc := s.encoder()
	key, err := enc.Encode(table, pk)
	if err != nil {
		return err
	}

	// the stored row is the store's own state, detach it from the caller
	row := make(map[string]any, len(data))
	for k, v := range data {
		row[k] = v
	}

	req := &PutRequest{
		Table: table,
		PK:    pk,
		Key:   key,
		Data:  row,
		store: s,
	}
	if err := s.chain.put(req); err != nil {
		return err
	}

	s.mu.Lock()
	s.m.Store(string(key), row)
	s.tree.put(key)
	s.mu.Unlock()

	s.sugar.Debugw("put", "table", table, "key", key)
	return nil
}

// Get returns the stored data of the row, ErrRowNotFound when absent.
func (s *Store) Get(table schema.TableID, pk []keycodec.Value) (map[string]any, error) {
	key, err := s.encoder().Encode(table, pk)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.m.Load(string(key))
	if !ok {
		return nil, ErrRowNotFound
	}
	data, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("get: stored value is not a row (key %s)", key)
	}
	return data, nil
}

// Delete removes the row. Deleting an absent row is ErrRowNotFound.
// Descendant rows are untouched: they keep their slots, the layout does
// not depend on the ancestor row being present.
func (s *Store) Delete(table schema.TableID, pk []keycodec.Value) error {
	key, err := s.encoder().Encode(table, pk)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m.Load(string(key)); !ok {
		return ErrRowNotFound
	}
	s.m.Delete(string(key))
	s.tree.remove(key)

	s.sugar.Debugw("delete", "table", table, "key", key)
	return nil
}

// ScanDescendants returns, in key order, the row of table with primary
// key pk (when present) and every descendant row interleaved below it.
func (s *Store) ScanDescendants(ctx context.Context, table schema.TableID, pk []keycodec.Value) ([]Row, error) {
	enc := s.encoder()
	lo, hi, err := enc.RangeForAncestor(table, pk)
	if err != nil {
		return nil, err
	}
	return s.scanRange(ctx, enc, lo, hi)
}

// ScanTable returns all rows of exactly the given table, in key order.
// Rows of one table are not contiguous in the keyspace (descendants of
// other tables interleave between them), so this walks the whole index.
func (s *Store) ScanTable(ctx context.Context, table schema.TableID) ([]Row, error) {
	enc := s.encoder()
	if _, ok := enc.Snapshot().TableByID(table); !ok {
		return nil, fmt.Errorf("%w: id %d", schema.ErrUnknownTable, table)
	}

	var rows []Row
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.tree.iterator()
	for it.next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		row, err := s.loadRow(enc, it.node.key)
		if err != nil {
			return nil, err
		}
		if row.Table == table {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *Store) scanRange(ctx context.Context, enc *interleave.Encoder, lo, hi interleave.Key) ([]Row, error) {
	var rows []Row

	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.tree.iteratorAt(s.tree.ceiling(lo))
	for it.pos == onmyway {
		if hi != nil && it.node.key.Compare(hi) != interleave.KeyLessThan {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		row, err := s.loadRow(enc, it.node.key)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		it.next()
	}
	return rows, nil
}

func (s *Store) loadRow(enc *interleave.Encoder, key interleave.Key) (Row, error) {
	table, pk, err := enc.Decode(key)
	if err != nil {
		return Row{}, err
	}
	value, ok := s.m.Load(string(key))
	if !ok {
		return Row{}, errors.New("scan: impossible, value stolen")
	}
	data, ok := value.(map[string]any)
	if !ok {
		return Row{}, fmt.Errorf("scan: stored value is not a row (key %s)", key)
	}
	return Row{Table: table, PK: pk, Data: data}, nil
}

// Size returns the number of stored rows.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.sizeof()
}
