// Package bomfile implements the BOM container: a flat heap of variably
// sized byte blocks addressed by small integer indices, a free-slot table
// carried for fidelity but not consulted on write, and a name-to-index
// table. It is the "BlockStore" of the format — the substrate that the
// paged tree codec (pkg/tree) and the receipt codec (pkg/receipt) build
// their own structures on top of.
package bomfile

import (
	"fmt"

	"github.com/bomkit/gobom/pkg/bomerr"
)

// Store owns every block's bytes, in allocation order. Index 0 is always
// the null block: zero-length, present so any index-valued field can use 0
// to mean "absent" without a special case.
type Store struct {
	blocks [][]byte
	free   []blockPointer // preserved from a read, never written back
	named  map[string]uint32
	order  []string // named-block insertion order, so writers stay deterministic
}

// New returns an empty Store with only the null block allocated.
func New() *Store {
	return &Store{
		blocks: [][]byte{{}},
		named:  make(map[string]uint32),
	}
}

// Allocate copies data into a freshly appended block and returns its index.
func (s *Store) Allocate(data []byte) uint32 {
	cp := append([]byte(nil), data...)
	s.blocks = append(s.blocks, cp)
	return uint32(len(s.blocks) - 1)
}

// AllocateNamed allocates a block and registers it under name. It fails if
// name is already registered, preserving the named-map uniqueness
// invariant.
func (s *Store) AllocateNamed(name string, data []byte) (uint32, error) {
	if _, exists := s.named[name]; exists {
		return 0, fmt.Errorf("bomfile: named block %q already exists", name)
	}
	index := s.Allocate(data)
	s.named[name] = index
	s.order = append(s.order, name)
	return index, nil
}

// Register names an already-allocated block, without copying or
// allocating new bytes. Named blocks that wrap a tree or packed record
// use this once the underlying block has been written: the header block
// a Tree write returns, for instance, is registered directly rather than
// re-allocated.
func (s *Store) Register(name string, index uint32) error {
	if _, exists := s.named[name]; exists {
		return fmt.Errorf("bomfile: named block %q already exists", name)
	}
	if int(index) >= len(s.blocks) {
		return fmt.Errorf("%w: block %d (have %d blocks)", bomerr.ErrBlockOutOfRange, index, len(s.blocks))
	}
	s.named[name] = index
	s.order = append(s.order, name)
	return nil
}

// Read returns the bytes stored at index. Index 0 always yields an empty
// slice.
func (s *Store) Read(index uint32) ([]byte, error) {
	if int(index) >= len(s.blocks) {
		return nil, fmt.Errorf("%w: block %d (have %d blocks)", bomerr.ErrBlockOutOfRange, index, len(s.blocks))
	}
	return s.blocks[index], nil
}

// Named looks up a named block's index. The second return value is false
// if no block is registered under that name.
func (s *Store) Named(name string) (uint32, bool) {
	index, ok := s.named[name]
	return index, ok
}

// NumBlocks returns the number of occupied slots, including the null
// block at index 0.
func (s *Store) NumBlocks() int {
	return len(s.blocks)
}

// numNonNullBlocks is the header's num_non_null_blocks field: the count of
// occupied slots (excluding the null slot, which is always zero-length)
// with a non-zero size.
func (s *Store) numNonNullBlocks() uint32 {
	var n uint32
	for i, b := range s.blocks {
		if i != 0 && len(b) > 0 {
			n++
		}
	}
	return n
}
