package interleave

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"interleavedb/internal/schema"
)

// sepByte opens every non-root key segment. Kept outside the keycodec
// tag range.
const sepByte byte = 0x12

const tagLen = 2

// Key is the byte-sequence address of one row in the sorted store.
type Key []byte

type KeyOrder int

const (
	KeyLessThan KeyOrder = iota - 1
	KeyEqual
	KeyMoreThan
)

// Compare orders keys byte-lexicographically, the store's native order.
func (k Key) Compare(o Key) KeyOrder {
	return KeyOrder(bytes.Compare(k, o))
}

// HasPrefix reports whether o is a byte-prefix of k.
func (k Key) HasPrefix(o Key) bool {
	return bytes.HasPrefix(k, o)
}

// Next returns the immediate successor of k: the smallest key sorting
// after it.
func (k Key) Next() Key {
	next := make(Key, len(k)+1)
	copy(next, k)
	return next
}

// PrefixEnd returns the smallest key greater than every extension of k:
// the half-open range [k, k.PrefixEnd()) holds exactly k and its
// byte-extensions. Returns nil when no such key exists (all bytes 0xff).
func (k Key) PrefixEnd() Key {
	end := append(Key(nil), k...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// String dumps the key in hex with segments split on separators, for
// logs and test failures only. Not reversible, not part of the contract.
func (k Key) String() string {
	var sb strings.Builder
	start := 0
	for i := 0; i < len(k); i++ {
		if k[i] == sepByte && i > start {
			sb.WriteString(hex.EncodeToString(k[start:i]))
			sb.WriteByte('/')
			start = i + 1
		}
	}
	sb.WriteString(hex.EncodeToString(k[start:]))
	return sb.String()
}

func appendTag(dst []byte, id schema.TableID) []byte {
	var buf [tagLen]byte
	binary.BigEndian.PutUint16(buf[:], uint16(id))
	return append(dst, buf[:]...)
}

func readTag(b []byte) (schema.TableID, []byte, bool) {
	if len(b) < tagLen {
		return 0, nil, false
	}
	return schema.TableID(binary.BigEndian.Uint16(b[:tagLen])), b[tagLen:], true
}
