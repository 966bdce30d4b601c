// Package keycodec implements the order-preserving binary encoding of
// primary-key column values. Byte-lexicographic order of encoded values
// equals logical order, and no encoded value is a proper prefix of
// another encoded value, so concatenated values compare as tuples.
//
// The byte grammar is a fixed contract; readers of the store depend on it:
//
//	int:     0x21 [8 bytes big-endian, sign bit flipped]
//	decimal: 0x22 [class] [payload]
//	           class 0x01 negative, 0x02 zero, 0x03 positive
//	           payload (pos): E:uint32 big-endian offset-binary,
//	                          mantissa digits each +1, 0x00 terminator,
//	                          where |x| = 0.digits * 10^E, digits
//	                          normalized (no leading or trailing zero)
//	           payload (neg): positive payload of |x|, every byte inverted
//	           payload (zero): empty
//	string:  0x23 [escaped bytes] 0x00 0x01
//	bytes:   0x24 [escaped bytes] 0x00 0x01
//	           a raw 0x00 is escaped as 0x00 0xff
//
// The tag bytes never collide with the level separator used by the
// interleave package.
package keycodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrMalformedKey = errors.New("malformed key")
	ErrTypeMismatch = errors.New("type mismatch")
)

const (
	intTag     byte = 0x21
	decimalTag byte = 0x22
	stringTag  byte = 0x23
	bytesTag   byte = 0x24

	escapeByte  byte = 0x00
	escaped00   byte = 0xff
	escapedTerm byte = 0x01

	decimalNeg  byte = 0x01
	decimalZero byte = 0x02
	decimalPos  byte = 0x03
)

const intPayloadLen = 8

// AppendValue appends the encoding of v to dst and returns the extended
// buffer. The declared column type must match the value's type.
func AppendValue(dst []byte, want Type, v Value) ([]byte, error) {
	if v.typ != want {
		return dst, fmt.Errorf("%w: column is %s, value is %s", ErrTypeMismatch, want, v.typ)
	}
	switch v.typ {
	case TypeInt:
		return appendInt(dst, v.i), nil
	case TypeString:
		return appendEscaped(dst, stringTag, []byte(v.s)), nil
	case TypeBytes:
		return appendEscaped(dst, bytesTag, v.b), nil
	case TypeDecimal:
		return appendDecimal(dst, v.d), nil
	}
	return dst, fmt.Errorf("%w: unsupported type %s", ErrTypeMismatch, v.typ)
}

// DecodeValue consumes one encoded value of type want from b and returns
// it together with the remainder of b.
func DecodeValue(b []byte, want Type) (Value, []byte, error) {
	if len(b) == 0 {
		return Value{}, nil, fmt.Errorf("%w: empty buffer, want %s", ErrMalformedKey, want)
	}
	switch want {
	case TypeInt:
		return decodeInt(b)
	case TypeString:
		raw, rest, err := decodeEscaped(b, stringTag)
		if err != nil {
			return Value{}, nil, err
		}
		return StringValue(string(raw)), rest, nil
	case TypeBytes:
		raw, rest, err := decodeEscaped(b, bytesTag)
		if err != nil {
			return Value{}, nil, err
		}
		return BytesValue(raw), rest, nil
	case TypeDecimal:
		return decodeDecimal(b)
	}
	return Value{}, nil, fmt.Errorf("%w: unsupported type %s", ErrMalformedKey, want)
}

func appendInt(dst []byte, v int64) []byte {
	var buf [intPayloadLen]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v)^(1<<63))
	dst = append(dst, intTag)
	return append(dst, buf[:]...)
}

func decodeInt(b []byte) (Value, []byte, error) {
	if b[0] != intTag {
		return Value{}, nil, fmt.Errorf("%w: want int tag, got 0x%02x", ErrMalformedKey, b[0])
	}
	if len(b) < 1+intPayloadLen {
		return Value{}, nil, fmt.Errorf("%w: truncated int", ErrMalformedKey)
	}
	u := binary.BigEndian.Uint64(b[1 : 1+intPayloadLen])
	return IntValue(int64(u ^ (1 << 63))), b[1+intPayloadLen:], nil
}

func appendEscaped(dst []byte, tag byte, raw []byte) []byte {
	dst = append(dst, tag)
	for _, c := range raw {
		if c == escapeByte {
			dst = append(dst, escapeByte, escaped00)
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, escapeByte, escapedTerm)
}

func decodeEscaped(b []byte, tag byte) ([]byte, []byte, error) {
	if b[0] != tag {
		return nil, nil, fmt.Errorf("%w: want tag 0x%02x, got 0x%02x", ErrMalformedKey, tag, b[0])
	}
	b = b[1:]
	var raw []byte
	for {
		i := bytes.IndexByte(b, escapeByte)
		if i < 0 || i+1 >= len(b) {
			return nil, nil, fmt.Errorf("%w: unterminated value", ErrMalformedKey)
		}
		raw = append(raw, b[:i]...)
		switch b[i+1] {
		case escapedTerm:
			return raw, b[i+2:], nil
		case escaped00:
			raw = append(raw, escapeByte)
			b = b[i+2:]
		default:
			return nil, nil, fmt.Errorf("%w: bad escape 0x%02x", ErrMalformedKey, b[i+1])
		}
	}
}

func appendDecimal(dst []byte, d decimal.Decimal) []byte {
	dst = append(dst, decimalTag)
	if d.IsZero() {
		return append(dst, decimalZero)
	}

	neg := d.Sign() < 0
	if neg {
		dst = append(dst, decimalNeg)
	} else {
		dst = append(dst, decimalPos)
	}

	abs := d.Abs()
	digits := abs.Coefficient().String()
	// |x| = 0.digits * 10^exp10 with the mantissa normalized
	exp10 := int64(abs.Exponent()) + int64(len(digits))
	digits = strings.TrimRight(digits, "0")

	start := len(dst)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(int32(exp10))^(1<<31))
	dst = append(dst, buf[:]...)
	for i := 0; i < len(digits); i++ {
		dst = append(dst, digits[i]-'0'+1)
	}
	dst = append(dst, 0x00)

	if neg {
		for i := start; i < len(dst); i++ {
			dst[i] = ^dst[i]
		}
	}
	return dst
}

func decodeDecimal(b []byte) (Value, []byte, error) {
	if b[0] != decimalTag {
		return Value{}, nil, fmt.Errorf("%w: want decimal tag, got 0x%02x", ErrMalformedKey, b[0])
	}
	if len(b) < 2 {
		return Value{}, nil, fmt.Errorf("%w: truncated decimal", ErrMalformedKey)
	}
	class := b[1]
	b = b[2:]
	if class == decimalZero {
		return DecimalValue(decimal.Zero), b, nil
	}
	if class != decimalNeg && class != decimalPos {
		return Value{}, nil, fmt.Errorf("%w: bad decimal class 0x%02x", ErrMalformedKey, class)
	}
	neg := class == decimalNeg

	term := byte(0x00)
	if neg {
		term = 0xff
	}
	end := -1
	for i := 4; i < len(b); i++ {
		if b[i] == term {
			end = i
			break
		}
	}
	if len(b) < 5 || end < 4 {
		return Value{}, nil, fmt.Errorf("%w: truncated decimal", ErrMalformedKey)
	}

	payload := make([]byte, end)
	copy(payload, b[:end])
	if neg {
		for i := range payload {
			payload[i] = ^payload[i]
		}
	}

	exp10 := int64(int32(binary.BigEndian.Uint32(payload[:4]) ^ (1 << 31)))
	digits := make([]byte, 0, end-4)
	for _, c := range payload[4:] {
		if c < 1 || c > 10 {
			return Value{}, nil, fmt.Errorf("%w: bad mantissa byte 0x%02x", ErrMalformedKey, c)
		}
		digits = append(digits, c-1+'0')
	}
	if len(digits) == 0 {
		return Value{}, nil, fmt.Errorf("%w: empty mantissa", ErrMalformedKey)
	}

	coef, ok := new(big.Int).SetString(string(digits), 10)
	if !ok {
		return Value{}, nil, fmt.Errorf("%w: bad mantissa %q", ErrMalformedKey, digits)
	}
	d := decimal.NewFromBigInt(coef, int32(exp10-int64(len(digits))))
	if neg {
		d = d.Neg()
	}
	return DecimalValue(d), b[end+1:], nil
}
