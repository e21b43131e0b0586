// Package digest computes a fast, non-cryptographic content digest of a
// built receipt, for callers that want to compare two directory trees'
// worth of BOM output without a byte-for-byte diff of the underlying
// block store (which varies with allocation order, padding, and named
// block layout even when the logical entries are identical).
package digest

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/bomkit/gobom/pkg/receipt"
)

// Digest returns an xxhash.Sum64 over a canonical in-memory encoding of
// r's path/metadata stream, in the same dense seq_no order the builder
// assigned. Two receipts built from byte-identical directory trees
// produce the same digest even if their underlying block layouts
// differ. mtime is part of Metadata and therefore part of the digest:
// this is a digest of content, not a normalized comparison.
func Digest(r *receipt.Receipt) uint64 {
	h := xxhash.New()
	var scratch [4]byte

	for _, e := range r.Entries() {
		writeString(h, e.Path)
		m := e.Metadata
		writeByte(h, byte(m.Type))
		writeByte(h, byte(m.Class))
		writeBool(h, m.PathOnly)
		binary.BigEndian.PutUint16(scratch[:2], m.Mode)
		h.Write(scratch[:2])
		writeUint32(h, scratch[:], m.Uid)
		writeUint32(h, scratch[:], m.Gid)
		writeUint32(h, scratch[:], m.Mtime)
		writeUint32(h, scratch[:], m.Size)
		writeUint32(h, scratch[:], m.Checksum)
		writeUint32(h, scratch[:], m.TargetLen)
		writeString(h, m.Target)
		writeUint32(h, scratch[:], m.Dev)
		var size64 [8]byte
		binary.BigEndian.PutUint64(size64[:], e.TrueSize)
		h.Write(size64[:])
	}

	return h.Sum64()
}

func writeString(h *xxhash.Digest, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}

func writeByte(h *xxhash.Digest, b byte) {
	h.Write([]byte{b})
}

func writeBool(h *xxhash.Digest, b bool) {
	if b {
		writeByte(h, 1)
	} else {
		writeByte(h, 0)
	}
}

func writeUint32(h *xxhash.Digest, scratch []byte, v uint32) {
	binary.BigEndian.PutUint32(scratch[:4], v)
	h.Write(scratch[:4])
}
