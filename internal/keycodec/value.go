package keycodec

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

type Type byte

const (
	TypeInt Type = iota + 1
	TypeString
	TypeBytes
	TypeDecimal
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeDecimal:
		return "decimal"
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// ParseType maps the external (config/API) type name to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "int":
		return TypeInt, nil
	case "string":
		return TypeString, nil
	case "bytes":
		return TypeBytes, nil
	case "decimal":
		return TypeDecimal, nil
	}
	return 0, fmt.Errorf("%w: unknown column type %q", ErrTypeMismatch, s)
}

// Value is one primary-key column value. The zero Value is invalid.
type Value struct {
	typ Type
	i   int64
	s   string
	b   []byte
	d   decimal.Decimal
}

func IntValue(v int64) Value {
	return Value{typ: TypeInt, i: v}
}

func StringValue(v string) Value {
	return Value{typ: TypeString, s: v}
}

func BytesValue(v []byte) Value {
	return Value{typ: TypeBytes, b: v}
}

func DecimalValue(v decimal.Decimal) Value {
	return Value{typ: TypeDecimal, d: v}
}

func (v Value) Type() Type {
	return v.typ
}

func (v Value) AsInt() int64 {
	return v.i
}

func (v Value) AsString() string {
	return v.s
}

func (v Value) AsBytes() []byte {
	return v.b
}

func (v Value) AsDecimal() decimal.Decimal {
	return v.d
}

// Equal compares type and payload. Decimals compare numerically.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeInt:
		return v.i == o.i
	case TypeString:
		return v.s == o.s
	case TypeBytes:
		return bytes.Equal(v.b, o.b)
	case TypeDecimal:
		return v.d.Equal(o.d)
	}
	return false
}

// String implements Stringer
func (v Value) String() string {
	switch v.typ {
	case TypeInt:
		return fmt.Sprintf("%d", v.i)
	case TypeString:
		return fmt.Sprintf("%q", v.s)
	case TypeBytes:
		return fmt.Sprintf("0x%x", v.b)
	case TypeDecimal:
		return v.d.String()
	}
	return "<invalid>"
}
