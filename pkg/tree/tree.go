// Package tree implements the paged B-link-tree codec that sits on top of
// pkg/bomfile: a logical map from key-block to value-block realized as a
// doubly linked chain of fixed-size data-node pages, optionally indexed by
// a meta-node spine when more than one page is needed.
//
// The write algorithm is grounded in
// _examples/original_source/src/tree.rs's VecTree::write_block (sort,
// page into data nodes of a fixed capacity, chain them, summarize into one
// or more meta nodes). This implementation keeps the data-node chain
// contiguous across the whole tree regardless of how many meta nodes are
// needed to index it — see the "meta-node values are not required for
// linear enumeration" open question in spec.md §9/§4.2: since Read only
// ever needs one key from the root to find its way onto the data-node
// chain and then walks that chain end to end, correctness never depends
// on a meta node "owning" a contiguous run of the chain.
package tree

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/bomkit/gobom/pkg/bomerr"
	"github.com/bomkit/gobom/pkg/bomfile"
)

const (
	nodeHeaderSize = 12 // flags u16, num_entries u16, next u32, prev u32
	entrySize      = 8  // key u32, value u32

	// MinBlockSize is the smallest page size that can hold a node header
	// plus one entry.
	MinBlockSize = nodeHeaderSize + entrySize
	// MaxBlockSize bounds how large a single page may be; far beyond any
	// realistic receipt tree, kept only as a sanity ceiling.
	MaxBlockSize = 4096 * 16

	flagsData = uint16(1)
	flagsMeta = uint16(0)

	headerMagic   = "tree"
	headerVersion = uint32(1)
)

// Pair is one key/value entry of a tree: both a block index in the
// enclosing BlockStore, with the semantic interpretation left entirely to
// the caller.
type Pair struct {
	Key   uint32
	Value uint32
}

func clampBlockSize(blockSize int) int {
	if blockSize < MinBlockSize {
		return MinBlockSize
	}
	if blockSize > MaxBlockSize {
		return MaxBlockSize
	}
	return blockSize
}

func entriesPerNode(blockSize int) int {
	return (blockSize - nodeHeaderSize) / entrySize
}

// Write sorts pairs by ascending key, pages them into data nodes of
// blockSize bytes each, links the data nodes into a doubly linked chain,
// and — if more than one data node is required — synthesises a meta-node
// spine over them. It returns the index of the tree's header block, which
// callers register as e.g. the Paths or Size64 named block.
func Write(store *bomfile.Store, blockSize int, pairs []Pair) (uint32, error) {
	blockSize = clampBlockSize(blockSize)
	n := entriesPerNode(blockSize)

	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var root uint32
	switch {
	case len(sorted) <= n:
		idx, err := writeDataNode(store, blockSize, sorted, 0, 0)
		if err != nil {
			return 0, err
		}
		root = idx
	default:
		dataIndices, lastValues, err := writeDataChain(store, blockSize, sorted, n)
		if err != nil {
			return 0, err
		}
		root, err = writeMetaSpine(store, blockSize, n, dataIndices, lastValues)
		if err != nil {
			return 0, err
		}
	}

	hdr := encodeHeader(root, uint32(blockSize), uint32(len(sorted)))
	return store.Allocate(hdr), nil
}

// writeDataChain pages sorted into consecutive data nodes of at most n
// entries, allocating them contiguously so their next/prev links can be
// computed up front, and returns each node's block index alongside the
// value of its last entry (used by the meta spine).
func writeDataChain(store *bomfile.Store, blockSize int, sorted []Pair, n int) (indices, lastValues []uint32, err error) {
	numNodes := (len(sorted) + n - 1) / n
	start := uint32(store.NumBlocks())
	indices = make([]uint32, numNodes)
	lastValues = make([]uint32, numNodes)

	for i := 0; i < numNodes; i++ {
		lo := i * n
		hi := lo + n
		if hi > len(sorted) {
			hi = len(sorted)
		}
		chunk := sorted[lo:hi]

		var prev, next uint32
		if i > 0 {
			prev = start + uint32(i) - 1
		}
		if i < numNodes-1 {
			next = start + uint32(i) + 1
		}

		idx, err := writeDataNode(store, blockSize, chunk, prev, next)
		if err != nil {
			return nil, nil, err
		}
		if idx != start+uint32(i) {
			return nil, nil, fmt.Errorf("tree: internal allocation drift: got %d, want %d", idx, start+uint32(i))
		}
		indices[i] = idx
		lastValues[i] = chunk[len(chunk)-1].Value
	}
	return indices, lastValues, nil
}

// writeMetaSpine summarises the data-node chain into one or more meta
// nodes, chained the same way the data nodes are, and returns the index of
// the first meta node (the tree's root).
func writeMetaSpine(store *bomfile.Store, blockSize, n int, dataIndices, lastValues []uint32) (uint32, error) {
	metaEntries := make([]Pair, len(dataIndices))
	for i, idx := range dataIndices {
		metaEntries[i] = Pair{Key: idx, Value: lastValues[i]}
	}

	numMetaNodes := (len(metaEntries) + n - 1) / n
	start := uint32(store.NumBlocks())

	for i := 0; i < numMetaNodes; i++ {
		lo := i * n
		hi := lo + n
		if hi > len(metaEntries) {
			hi = len(metaEntries)
		}
		chunk := metaEntries[lo:hi]

		var prev, next uint32
		if i > 0 {
			prev = start + uint32(i) - 1
		}
		if i < numMetaNodes-1 {
			next = start + uint32(i) + 1
		}

		idx, err := writeMetaNode(store, blockSize, chunk, prev, next)
		if err != nil {
			return 0, err
		}
		if idx != start+uint32(i) {
			return 0, fmt.Errorf("tree: internal allocation drift: got %d, want %d", idx, start+uint32(i))
		}
	}
	return start, nil
}

func writeDataNode(store *bomfile.Store, blockSize int, entries []Pair, prev, next uint32) (uint32, error) {
	buf, err := encodeNode(blockSize, flagsData, entries, prev, next)
	if err != nil {
		return 0, err
	}
	return store.Allocate(buf), nil
}

func writeMetaNode(store *bomfile.Store, blockSize int, entries []Pair, prev, next uint32) (uint32, error) {
	buf, err := encodeNode(blockSize, flagsMeta, entries, prev, next)
	if err != nil {
		return 0, err
	}
	return store.Allocate(buf), nil
}

func encodeNode(blockSize int, flags uint16, entries []Pair, prev, next uint32) ([]byte, error) {
	n := entriesPerNode(blockSize)
	if len(entries) > n {
		return nil, fmt.Errorf("tree: %d entries exceed node capacity %d for block size %d", len(entries), n, blockSize)
	}
	buf := make([]byte, blockSize)
	binary.BigEndian.PutUint16(buf[0:2], flags)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(entries)))
	binary.BigEndian.PutUint32(buf[4:8], next)
	binary.BigEndian.PutUint32(buf[8:12], prev)
	off := nodeHeaderSize
	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[off:off+4], e.Key)
		binary.BigEndian.PutUint32(buf[off+4:off+8], e.Value)
		off += entrySize
	}
	return buf, nil
}

func encodeHeader(root, blockSize, numEntries uint32) []byte {
	buf := make([]byte, 4+4+4+4+4+1)
	copy(buf[0:4], headerMagic)
	binary.BigEndian.PutUint32(buf[4:8], headerVersion)
	binary.BigEndian.PutUint32(buf[8:12], root)
	binary.BigEndian.PutUint32(buf[12:16], blockSize)
	binary.BigEndian.PutUint32(buf[16:20], numEntries)
	buf[20] = 0 // unknown, observed constant
	return buf
}

// treeHeader is the parsed content of a tree's header block.
type treeHeader struct {
	Root       uint32
	BlockSize  uint32
	NumEntries uint32
}

func decodeHeader(buf []byte) (treeHeader, error) {
	if len(buf) < 21 {
		return treeHeader{}, fmt.Errorf("tree: header block too short (%d bytes)", len(buf))
	}
	if string(buf[0:4]) != headerMagic {
		return treeHeader{}, fmt.Errorf("%w: tree header magic %q", bomerr.ErrBadMagic, buf[0:4])
	}
	version := binary.BigEndian.Uint32(buf[4:8])
	if version != headerVersion {
		return treeHeader{}, fmt.Errorf("%w: tree version %d", bomerr.ErrBadVersion, version)
	}
	return treeHeader{
		Root:       binary.BigEndian.Uint32(buf[8:12]),
		BlockSize:  binary.BigEndian.Uint32(buf[12:16]),
		NumEntries: binary.BigEndian.Uint32(buf[16:20]),
	}, nil
}

type dataNode struct {
	entries []Pair
	next    uint32
	prev    uint32
}

func decodeNode(buf []byte, blockSize int) (dataNode, bool, error) {
	if len(buf) != blockSize {
		return dataNode{}, false, fmt.Errorf("%w: node block is %d bytes, tree declares block_size %d", bomerr.ErrTreeInvariant, len(buf), blockSize)
	}
	flags := binary.BigEndian.Uint16(buf[0:2])
	numEntries := binary.BigEndian.Uint16(buf[2:4])
	next := binary.BigEndian.Uint32(buf[4:8])
	prev := binary.BigEndian.Uint32(buf[8:12])

	capacity := entriesPerNode(blockSize)
	if int(numEntries) > capacity {
		return dataNode{}, false, fmt.Errorf("%w: node claims %d entries, capacity is %d", bomerr.ErrTreeInvariant, numEntries, capacity)
	}

	entries := make([]Pair, numEntries)
	off := nodeHeaderSize
	for i := range entries {
		entries[i] = Pair{
			Key:   binary.BigEndian.Uint32(buf[off : off+4]),
			Value: binary.BigEndian.Uint32(buf[off+4 : off+8]),
		}
		off += entrySize
	}

	return dataNode{entries: entries, next: next, prev: prev}, flags == flagsData, nil
}

// Read follows the tree header at headerIndex, locates the leftmost
// data node, and walks the next chain to collect every (key, value) pair
// in ascending key order.
func Read(store *bomfile.Store, headerIndex uint32) ([]Pair, error) {
	raw, err := store.Read(headerIndex)
	if err != nil {
		return nil, fmt.Errorf("tree: read header block %d: %w", headerIndex, err)
	}
	hdr, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}

	rootBuf, err := store.Read(hdr.Root)
	if err != nil {
		return nil, fmt.Errorf("tree: read root block %d: %w", hdr.Root, err)
	}
	root, isData, err := decodeNode(rootBuf, int(hdr.BlockSize))
	if err != nil {
		return nil, err
	}

	var firstDataIndex uint32
	if isData {
		firstDataIndex = hdr.Root
	} else {
		if len(root.entries) == 0 {
			return nil, fmt.Errorf("%w: meta root has no entries to descend from", bomerr.ErrTreeInvariant)
		}
		firstDataIndex = root.entries[0].Key
	}

	// Rewind to the leftmost data node by following prev links, then walk
	// forward via next, capping the walk at num_entries to detect cycles.
	current := firstDataIndex
	for steps := 0; ; steps++ {
		if steps > int(hdr.NumEntries)+1 {
			return nil, fmt.Errorf("%w: cycle detected walking to leftmost data node", bomerr.ErrTreeInvariant)
		}
		buf, err := store.Read(current)
		if err != nil {
			return nil, fmt.Errorf("tree: read data node %d: %w", current, err)
		}
		node, isData, err := decodeNode(buf, int(hdr.BlockSize))
		if err != nil {
			return nil, err
		}
		if !isData {
			return nil, fmt.Errorf("%w: block %d is a meta node where a data node was expected", bomerr.ErrTreeInvariant, current)
		}
		if node.prev == 0 {
			break
		}
		current = node.prev
	}

	var pairs []Pair
	seen := make(map[uint32]bool)
	for current != 0 {
		if seen[current] {
			return nil, fmt.Errorf("%w: cycle detected in data-node chain at block %d", bomerr.ErrTreeInvariant, current)
		}
		seen[current] = true

		buf, err := store.Read(current)
		if err != nil {
			return nil, fmt.Errorf("tree: read data node %d: %w", current, err)
		}
		node, isData, err := decodeNode(buf, int(hdr.BlockSize))
		if err != nil {
			return nil, err
		}
		if !isData {
			return nil, fmt.Errorf("%w: block %d is a meta node where a data node was expected", bomerr.ErrTreeInvariant, current)
		}
		pairs = append(pairs, node.entries...)
		if len(pairs) > int(hdr.NumEntries) {
			return nil, fmt.Errorf("%w: collected more entries than declared num_entries=%d", bomerr.ErrTreeInvariant, hdr.NumEntries)
		}
		current = node.next
	}

	if uint32(len(pairs)) != hdr.NumEntries {
		return nil, fmt.Errorf("%w: collected %d entries, header declares %d", bomerr.ErrTreeInvariant, len(pairs), hdr.NumEntries)
	}

	return pairs, nil
}
