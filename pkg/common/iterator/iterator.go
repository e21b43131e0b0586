// Package iterator defines a small forward-traversal contract for ordered
// sequences. In this module pkg/receipt's EntryIterator, over a Receipt's
// path/metadata stream, is its only implementation; pkg/tree returns its
// pairs as a plain slice. It deliberately carries no notion of the
// payload type — callers type-assert or wrap it with a typed accessor the
// way EntryIterator does.
package iterator

// PositionedSequence is the traversal contract: position at the ends of
// the sequence, advance forward, and ask whether the current position is
// valid. It has no seek-by-key operation and no tombstone concept —
// those are specific to the ordered key/value stores this shape was
// generalized from, and this domain's sequences are enumerated in full
// rather than sought into.
type PositionedSequence interface {
	// SeekToFirst positions at the first entry.
	SeekToFirst()

	// SeekToLast positions at the last entry.
	SeekToLast()

	// Next advances to the next entry, reporting whether it landed on a
	// valid one.
	Next() bool

	// Valid reports whether the current position holds an entry.
	Valid() bool
}
