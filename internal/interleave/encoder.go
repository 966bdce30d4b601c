package interleave

import (
	"fmt"

	"interleavedb/internal/keycodec"
	"interleavedb/internal/schema"
)

// Encoder turns rows into encoded keys and back. It is bound to one
// schema snapshot; build a fresh Encoder per operation to pick up
// registrations published since.
type Encoder struct {
	snap *schema.Snapshot
}

func NewEncoder(snap *schema.Snapshot) *Encoder {
	return &Encoder{snap: snap}
}

// Snapshot returns the schema snapshot the encoder is bound to.
func (e *Encoder) Snapshot() *schema.Snapshot {
	return e.snap
}

// Encode produces the key for the row of table whose full primary key is
// values. The referenced parent row need not exist: the key lands at the
// position its prefix values dictate either way.
func (e *Encoder) Encode(table schema.TableID, values []keycodec.Value) (Key, error) {
	chain, err := e.snap.LineageOf(table)
	if err != nil {
		return nil, err
	}
	target, _ := e.snap.TableByID(table)
	if len(values) != len(target.Columns) {
		return nil, fmt.Errorf("%w: table %s wants %d key values, got %d",
			keycodec.ErrTypeMismatch, target.Name, len(target.Columns), len(values))
	}

	buf := make([]byte, 0, 16*len(values))
	lo := 0
	for depth, id := range chain {
		t, _ := e.snap.TableByID(id)
		if depth > 0 {
			buf = append(buf, sepByte)
		}
		buf = appendTag(buf, id)
		// level depth owns value positions [lo, len(t.Columns));
		// the prefix below lo is already written by the ancestors
		for i := lo; i < len(t.Columns); i++ {
			buf, err = keycodec.AppendValue(buf, target.Columns[i].Type, values[i])
			if err != nil {
				return nil, fmt.Errorf("column %s of %s: %w", target.Columns[i].Name, target.Name, err)
			}
		}
		lo = len(t.Columns)
	}
	return buf, nil
}

// Decode inverts Encode. Prefix column values are reconstructed from the
// ancestor segments; the result is the full primary key of the decoded
// table in declared order.
func (e *Encoder) Decode(key Key) (schema.TableID, []keycodec.Value, error) {
	b := []byte(key)
	var (
		cur    *schema.Table
		values []keycodec.Value
	)

	for {
		id, rest, ok := readTag(b)
		if !ok {
			return 0, nil, fmt.Errorf("%w: truncated table tag", keycodec.ErrMalformedKey)
		}
		t, ok := e.snap.TableByID(id)
		if !ok {
			return 0, nil, fmt.Errorf("%w: unknown table tag %d", keycodec.ErrMalformedKey, id)
		}
		switch {
		case cur == nil && !t.IsRoot():
			return 0, nil, fmt.Errorf("%w: key starts at non-root table %s", keycodec.ErrMalformedKey, t.Name)
		case cur != nil && t.Parent != cur.ID:
			return 0, nil, fmt.Errorf("%w: table %s is not interleaved in %s", keycodec.ErrMalformedKey, t.Name, cur.Name)
		}

		b = rest
		for _, col := range t.SuffixColumns() {
			var v keycodec.Value
			var err error
			v, b, err = keycodec.DecodeValue(b, col.Type)
			if err != nil {
				return 0, nil, fmt.Errorf("column %s of %s: %w", col.Name, t.Name, err)
			}
			values = append(values, v)
		}
		cur = t

		if len(b) == 0 {
			return cur.ID, values, nil
		}
		if b[0] != sepByte {
			return 0, nil, fmt.Errorf("%w: trailing byte 0x%02x after %s segment",
				keycodec.ErrMalformedKey, b[0], cur.Name)
		}
		b = b[1:]
	}
}

// RangeForAncestor returns the half-open key range [lo, hi) covering the
// given row and every descendant row interleaved below it, for scan
// planning.
func (e *Encoder) RangeForAncestor(table schema.TableID, values []keycodec.Value) (Key, Key, error) {
	lo, err := e.Encode(table, values)
	if err != nil {
		return nil, nil, err
	}
	return lo, lo.PrefixEnd(), nil
}
