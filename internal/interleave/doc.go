// Package interleave maps a forest of relational tables onto a single
// ordered byte keyspace so that a parent row and all of its descendant
// rows occupy one contiguous key range.
//
// An encoded key is a sequence of segments, one per lineage level:
//
//	key     = segment { 0x12 segment }
//	segment = tag(uint16 big-endian) value...
//
// The root segment carries the root table's full primary key; every
// deeper segment carries only that table's own suffix columns, because
// its prefix columns are by definition the parent's key and are already
// on the wire. Values use the keycodec grammar, which is self-delimiting
// and order-preserving, so:
//
//   - a descendant row's key is a strict byte-extension of its exact
//     ancestor row's key, and
//   - byte-lexicographic order of whole keys equals order by shared
//     ancestor segment first, then by the remaining suffix.
//
// This is a layout with the shape
//
//	/customers/1            <- customer 1
//	/customers/1/orders/...   <- all of customer 1's orders
//	/customers/2            <- customer 2
//
// in the manner of a sorted SQL keyspace, with the 0x12 separator marking
// each descent. The separator byte never collides with a keycodec value
// tag, and keycodec escapes raw bytes inside values, so a decoder walking
// segments with the schema at hand can always locate the separators
// unambiguously.
//
// The encoder is pure: it never checks that the referenced parent row
// exists. Structural co-location and referential integrity are separate
// layers; see the store's put middleware for the latter.
package interleave
