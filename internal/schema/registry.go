package schema

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Snapshot is one immutable version of the registered hierarchy.
// Encode and decode work against the snapshot they were handed, so a
// registration published mid-flight never tears a running operation.
type Snapshot struct {
	version uuid.UUID
	byID    map[TableID]*Table
	byName  map[string]*Table
	nextID  TableID
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		version: uuid.New(),
		byID:    make(map[TableID]*Table),
		byName:  make(map[string]*Table),
		nextID:  1,
	}
}

func (s *Snapshot) Version() uuid.UUID {
	return s.version
}

func (s *Snapshot) TableByID(id TableID) (*Table, bool) {
	t, ok := s.byID[id]
	return t, ok
}

func (s *Snapshot) TableByName(name string) (*Table, bool) {
	t, ok := s.byName[name]
	return t, ok
}

// Tables returns all registered tables ordered by ID.
func (s *Snapshot) Tables() []Table {
	out := make([]Table, 0, len(s.byID))
	for _, t := range s.byID {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LineageOf returns the ancestor chain from the root table down to id,
// id included. The chain is recomputed on every call against this
// snapshot, so it is finite, duplicate-free and restartable.
func (s *Snapshot) LineageOf(id TableID) ([]TableID, error) {
	var chain []TableID
	for cur := id; cur != 0; {
		t, ok := s.byID[cur]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", ErrUnknownTable, cur)
		}
		chain = append(chain, cur)
		cur = t.Parent
	}
	// reverse to root..self order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// IsAncestor reports whether a is a proper ancestor of b.
func (s *Snapshot) IsAncestor(a, b TableID) bool {
	chain, err := s.LineageOf(b)
	if err != nil {
		return false
	}
	for _, id := range chain[:len(chain)-1] {
		if id == a {
			return true
		}
	}
	return false
}

// Registry holds the table hierarchy and publishes it as immutable
// snapshots. Registrations are serialized by the surrounding schema-change
// flow and by reg.mu; readers load the current snapshot lock-free.
type Registry struct {
	mu    sync.Mutex
	snap  atomic.Pointer[Snapshot]
	sugar *zap.SugaredLogger
}

func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		sugar: logger.Sugar(),
	}
	r.snap.Store(emptySnapshot())
	return r
}

// Current returns the latest published snapshot.
func (r *Registry) Current() *Snapshot {
	return r.snap.Load()
}

// RegisterRoot adds a table with no parent.
func (r *Registry) RegisterRoot(name string, columns []Column) (TableID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.snap.Load()
	if _, ok := snap.byName[name]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateTable, name)
	}
	if err := checkColumns(name, columns); err != nil {
		return 0, err
	}

	t := &Table{
		ID:      snap.nextID,
		Name:    name,
		Columns: append([]Column(nil), columns...),
	}
	r.publish(snap, t)
	return t.ID, nil
}

// RegisterChild adds a table interleaved into parent. The leading
// prefixLen columns of the child's primary key must equal the parent's
// entire primary key, column-for-column and type-for-type.
func (r *Registry) RegisterChild(name string, columns []Column, parent TableID, prefixLen int) (TableID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.snap.Load()
	if prev, ok := snap.byName[name]; ok {
		if !prev.IsRoot() && prev.Parent != parent {
			return 0, fmt.Errorf("%w: %s is interleaved in table %d", ErrMultipleParents, name, prev.Parent)
		}
		return 0, fmt.Errorf("%w: %s", ErrDuplicateTable, name)
	}
	if err := checkColumns(name, columns); err != nil {
		return 0, err
	}

	p, ok := snap.byID[parent]
	if !ok {
		return 0, fmt.Errorf("%w: id %d", ErrUnknownParent, parent)
	}
	if prefixLen != len(p.Columns) {
		return 0, fmt.Errorf("%w: prefix of %s has %d columns, parent %s key has %d",
			ErrPrefixMismatch, name, prefixLen, p.Name, len(p.Columns))
	}
	if len(columns) < prefixLen {
		return 0, fmt.Errorf("%w: %s declares %d key columns, prefix needs %d",
			ErrPrefixMismatch, name, len(columns), prefixLen)
	}
	for i := 0; i < prefixLen; i++ {
		if columns[i].Type != p.Columns[i].Type {
			return 0, fmt.Errorf("%w: column %d of %s is %s, parent column %s is %s",
				ErrPrefixMismatch, i, name, columns[i].Type, p.Columns[i].Name, p.Columns[i].Type)
		}
	}

	t := &Table{
		ID:        snap.nextID,
		Name:      name,
		Columns:   append([]Column(nil), columns...),
		Parent:    parent,
		PrefixLen: prefixLen,
	}
	r.publish(snap, t)
	return t.ID, nil
}

// Restore replaces the published hierarchy wholesale. Used when loading
// a persisted store image. The image is untrusted input: every invariant
// RegisterChild enforces is re-checked here, so a corrupt or tampered
// file fails with a typed error instead of poisoning the registry.
func (r *Registry) Restore(tables []Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := emptySnapshot()
	for i := range tables {
		t := tables[i]
		if _, ok := next.byID[t.ID]; ok {
			return fmt.Errorf("%w: id %d", ErrDuplicateTable, t.ID)
		}
		if _, ok := next.byName[t.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTable, t.Name)
		}
		if err := checkColumns(t.Name, t.Columns); err != nil {
			return err
		}
		next.byID[t.ID] = &t
		next.byName[t.Name] = &t
		if t.ID >= next.nextID {
			next.nextID = t.ID + 1
		}
	}
	for _, t := range next.byID {
		if t.IsRoot() {
			if t.PrefixLen != 0 {
				return fmt.Errorf("%w: root %s declares prefix %d", ErrPrefixMismatch, t.Name, t.PrefixLen)
			}
			continue
		}
		p, ok := next.byID[t.Parent]
		if !ok {
			return fmt.Errorf("%w: id %d (parent of %s)", ErrUnknownParent, t.Parent, t.Name)
		}
		if t.PrefixLen != len(p.Columns) || len(t.Columns) < t.PrefixLen {
			return fmt.Errorf("%w: prefix of %s has %d columns, parent %s key has %d",
				ErrPrefixMismatch, t.Name, t.PrefixLen, p.Name, len(p.Columns))
		}
		for i := 0; i < t.PrefixLen; i++ {
			if t.Columns[i].Type != p.Columns[i].Type {
				return fmt.Errorf("%w: column %d of %s is %s, parent column %s is %s",
					ErrPrefixMismatch, i, t.Name, t.Columns[i].Type, p.Columns[i].Name, p.Columns[i].Type)
			}
		}
		// walk the parent chain; revisiting a table means the image
		// carries a cycle and LineageOf would never terminate
		seen := map[TableID]struct{}{t.ID: {}}
		for cur := t.Parent; cur != 0; {
			if _, ok := seen[cur]; ok {
				return fmt.Errorf("%w: table %s", ErrCyclicHierarchy, t.Name)
			}
			seen[cur] = struct{}{}
			a, ok := next.byID[cur]
			if !ok {
				return fmt.Errorf("%w: id %d (ancestor of %s)", ErrUnknownParent, cur, t.Name)
			}
			cur = a.Parent
		}
	}
	r.snap.Store(next)
	r.sugar.Infow("schema restored", "version", next.version, "tables", len(next.byID))
	return nil
}

// convenience pass-throughs against the current snapshot

func (r *Registry) LineageOf(id TableID) ([]TableID, error) {
	return r.Current().LineageOf(id)
}

func (r *Registry) IsAncestor(a, b TableID) bool {
	return r.Current().IsAncestor(a, b)
}

func (r *Registry) publish(prev *Snapshot, t *Table) {
	next := &Snapshot{
		version: uuid.New(),
		byID:    make(map[TableID]*Table, len(prev.byID)+1),
		byName:  make(map[string]*Table, len(prev.byName)+1),
		nextID:  prev.nextID + 1,
	}
	for id, pt := range prev.byID {
		next.byID[id] = pt
		next.byName[pt.Name] = pt
	}
	next.byID[t.ID] = t
	next.byName[t.Name] = t
	r.snap.Store(next)

	r.sugar.Infow("table registered",
		"version", next.version, "table", t.Name, "id", t.ID, "parent", t.Parent)
}

func checkColumns(name string, columns []Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("%w: %s has no key columns", ErrPrefixMismatch, name)
	}
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if c.Name == "" {
			return fmt.Errorf("%w: %s has an unnamed key column", ErrPrefixMismatch, name)
		}
		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("%w: %s repeats key column %s", ErrPrefixMismatch, name, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}
