package store

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"interleavedb/internal/interleave"
	"interleavedb/internal/schema"
)

// diskImage is the persisted form of the store: the schema the keys were
// encoded under plus the raw key->row map. Keys are stored verbatim, the
// tree is rebuilt on load.
type diskImage struct {
	Tables []schema.Table
	Rows   map[string]map[string]any
}

// row field values travel inside an any, gob needs the concrete types
// registered on both ends
func registerGobTypes() {
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
	gob.Register([]any{})
	gob.Register(map[string]any{})
	gob.Register(decimal.Decimal{})
}

// SaveToDisk writes a snappy-compressed gob image of the schema and all
// rows to the configured store file.
func (s *Store) SaveToDisk(ctx context.Context) error {
	img := s.copyImage(ctx)

	if dir := filepath.Dir(s.conf.StoreFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "save: create store dir")
		}
	}
	file, err := os.OpenFile(s.conf.StoreFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "save: open store file")
	}

	registerGobTypes()
	w := snappy.NewBufferedWriter(file)
	if err := gob.NewEncoder(w).Encode(img); err != nil {
		file.Close()
		return errors.Wrap(err, "save: encode image")
	}
	if err := w.Close(); err != nil {
		file.Close()
		return errors.Wrap(err, "save: flush")
	}

	s.sugar.Infow("saved to disk", "file", s.conf.StoreFile, "rows", len(img.Rows))
	return file.Close()
}

// LoadFromDisk restores the schema and rows saved by SaveToDisk. A
// missing store file is not an error, the store just starts empty.
func (s *Store) LoadFromDisk() error {
	file, err := os.Open(s.conf.StoreFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load: open store file")
	}
	defer file.Close()

	registerGobTypes()
	var img diskImage
	if err := gob.NewDecoder(snappy.NewReader(file)).Decode(&img); err != nil {
		return errors.Wrap(err, "load: decode image")
	}

	if err := s.reg.Restore(img.Tables); err != nil {
		return errors.Wrap(err, "load: restore schema")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, data := range img.Rows {
		s.m.Store(k, data)
		s.tree.put(interleave.Key(k))
	}

	s.sugar.Infow("restored from disk", "file", s.conf.StoreFile, "rows", len(img.Rows))
	return nil
}

func (s *Store) copyImage(_ context.Context) diskImage {
	img := diskImage{
		Tables: s.reg.Current().Tables(),
		Rows:   make(map[string]map[string]any),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	s.m.Range(func(key, value any) bool {
		if data, ok := value.(map[string]any); ok {
			img.Rows[key.(string)] = data
		}
		return true
	})

	return img
}
