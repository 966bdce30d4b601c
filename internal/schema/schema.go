package schema

import (
	"errors"
	"fmt"

	"interleavedb/internal/keycodec"
)

type TableID uint16

var (
	ErrDuplicateTable  = errors.New("duplicate table")
	ErrUnknownTable    = errors.New("unknown table")
	ErrUnknownParent   = errors.New("unknown parent table")
	ErrPrefixMismatch  = errors.New("interleave prefix mismatch")
	ErrMultipleParents = errors.New("table already interleaved in another parent")
	ErrCyclicHierarchy = errors.New("cyclic interleave hierarchy")
)

// Column is one primary-key column: name plus logical type.
type Column struct {
	Name string
	Type keycodec.Type
}

// Table describes one registered table.
//
// Columns is the full primary key in declared order. For an interleaved
// table the leading PrefixLen columns equal, type-for-type, the full
// primary key of Parent; only the remaining suffix is written into that
// table's own key segment. Parent == 0 marks a root table.
//
// A Table is immutable once registered. Re-interleaving requires dropping
// and recreating the table.
type Table struct {
	ID        TableID
	Name      string
	Columns   []Column
	Parent    TableID
	PrefixLen int
}

func (t *Table) IsRoot() bool {
	return t.Parent == 0
}

// SuffixColumns returns the columns the table's own key segment carries.
func (t *Table) SuffixColumns() []Column {
	return t.Columns[t.PrefixLen:]
}

func (t *Table) String() string {
	if t.IsRoot() {
		return fmt.Sprintf("table %s id=%d cols=%d", t.Name, t.ID, len(t.Columns))
	}
	return fmt.Sprintf("table %s id=%d cols=%d parent=%d prefix=%d",
		t.Name, t.ID, len(t.Columns), t.Parent, t.PrefixLen)
}
