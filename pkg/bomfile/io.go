package bomfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bomkit/gobom/pkg/bomerr"
)

// WriteTo emits the complete BOM file: the 512-byte header, the
// concatenated occupied blocks in allocation order, the regular-blocks
// table, then the named-blocks table. Free blocks are never written back;
// a freshly written file always carries an empty free list, per spec.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	pointers := make([]blockPointer, len(s.blocks))
	offset := uint32(HeaderSize)
	for i, b := range s.blocks {
		if i == 0 {
			pointers[i] = blockPointer{}
			continue
		}
		pointers[i] = blockPointer{Offset: offset, Size: uint32(len(b))}
		offset += uint32(len(b))
	}
	blocksEnd := offset

	indexBuf := &bytes.Buffer{}
	binary.Write(indexBuf, binary.BigEndian, uint32(len(pointers)))
	for _, p := range pointers {
		binary.Write(indexBuf, binary.BigEndian, p)
	}
	binary.Write(indexBuf, binary.BigEndian, uint32(0)) // num_free_blocks
	indexBlock := blockPointer{Offset: blocksEnd, Size: uint32(indexBuf.Len())}

	namedBuf := &bytes.Buffer{}
	binary.Write(namedBuf, binary.BigEndian, uint32(len(s.order)))
	for _, name := range s.order {
		namedBuf.WriteString(name)
		namedBuf.WriteByte(0)
		binary.Write(namedBuf, binary.BigEndian, s.named[name])
	}
	namedBlock := blockPointer{Offset: indexBlock.Offset + indexBlock.Size, Size: uint32(namedBuf.Len())}

	hdr := header{
		Magic:            magic,
		Version:          formatVersion,
		NumNonNullBlocks: s.numNonNullBlocks(),
		Index:            indexBlock,
		NamedBlocks:      namedBlock,
	}

	var total int64
	n, err := writeHeader(w, hdr)
	total += n
	if err != nil {
		return total, fmt.Errorf("bomfile: write header: %w", err)
	}

	for i, b := range s.blocks {
		if i == 0 {
			continue
		}
		bn, err := w.Write(b)
		total += int64(bn)
		if err != nil {
			return total, fmt.Errorf("bomfile: write block %d: %w", i, err)
		}
	}

	bn, err := w.Write(indexBuf.Bytes())
	total += int64(bn)
	if err != nil {
		return total, fmt.Errorf("bomfile: write block index: %w", err)
	}

	bn, err = w.Write(namedBuf.Bytes())
	total += int64(bn)
	if err != nil {
		return total, fmt.Errorf("bomfile: write named blocks: %w", err)
	}

	return total, nil
}

func writeHeader(w io.Writer, hdr header) (int64, error) {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], hdr.Magic[:])
	binary.BigEndian.PutUint32(buf[8:12], hdr.Version)
	binary.BigEndian.PutUint32(buf[12:16], hdr.NumNonNullBlocks)
	binary.BigEndian.PutUint32(buf[16:20], hdr.Index.Offset)
	binary.BigEndian.PutUint32(buf[20:24], hdr.Index.Size)
	binary.BigEndian.PutUint32(buf[24:28], hdr.NamedBlocks.Offset)
	binary.BigEndian.PutUint32(buf[28:32], hdr.NamedBlocks.Size)
	// remaining bytes are already zero
	n, err := w.Write(buf)
	return int64(n), err
}

func parseHeader(buf []byte) (header, error) {
	if len(buf) < HeaderSize {
		return header{}, fmt.Errorf("bomfile: file shorter than header (%d bytes)", len(buf))
	}
	var hdr header
	copy(hdr.Magic[:], buf[0:8])
	if hdr.Magic != magic {
		return header{}, fmt.Errorf("%w: got %q", bomerr.ErrBadMagic, hdr.Magic)
	}
	hdr.Version = binary.BigEndian.Uint32(buf[8:12])
	if hdr.Version != formatVersion {
		return header{}, fmt.Errorf("%w: got %d, want %d", bomerr.ErrBadVersion, hdr.Version, formatVersion)
	}
	hdr.NumNonNullBlocks = binary.BigEndian.Uint32(buf[12:16])
	hdr.Index = blockPointer{
		Offset: binary.BigEndian.Uint32(buf[16:20]),
		Size:   binary.BigEndian.Uint32(buf[20:24]),
	}
	hdr.NamedBlocks = blockPointer{
		Offset: binary.BigEndian.Uint32(buf[24:28]),
		Size:   binary.BigEndian.Uint32(buf[28:32]),
	}
	return hdr, nil
}

// Read parses a complete BOM file from r, materializing every occupied
// block's bytes eagerly, per spec's "decode entirely into memory before
// any logical access" read policy.
func Read(r io.Reader) (*Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("bomfile: read: %w", err)
	}

	hdr, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	occupied, free, err := parseBlockTable(data, hdr.Index)
	if err != nil {
		return nil, err
	}

	named, order, err := parseNamedTable(data, hdr.NamedBlocks, len(occupied))
	if err != nil {
		return nil, err
	}

	blocks := make([][]byte, len(occupied))
	for i, bp := range occupied {
		if bp.isNull() {
			blocks[i] = []byte{}
			continue
		}
		end := uint64(bp.Offset) + uint64(bp.Size)
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: block %d spans [%d,%d), file is %d bytes",
				bomerr.ErrBlockOutOfRange, i, bp.Offset, end, len(data))
		}
		blocks[i] = append([]byte(nil), data[bp.Offset:end]...)
	}

	return &Store{blocks: blocks, free: free, named: named, order: order}, nil
}

func parseBlockTable(data []byte, table blockPointer) (occupied, free []blockPointer, err error) {
	end := uint64(table.Offset) + uint64(table.Size)
	if end > uint64(len(data)) {
		return nil, nil, fmt.Errorf("%w: block index table spans beyond file", bomerr.ErrBlockOutOfRange)
	}
	buf := bytes.NewReader(data[table.Offset:end])

	var numOccupied uint32
	if err := binary.Read(buf, binary.BigEndian, &numOccupied); err != nil {
		return nil, nil, fmt.Errorf("bomfile: read occupied block count: %w", err)
	}
	occupied = make([]blockPointer, numOccupied)
	for i := range occupied {
		if err := binary.Read(buf, binary.BigEndian, &occupied[i]); err != nil {
			return nil, nil, fmt.Errorf("bomfile: read block descriptor %d: %w", i, err)
		}
	}

	var numFree uint32
	if err := binary.Read(buf, binary.BigEndian, &numFree); err != nil {
		return nil, nil, fmt.Errorf("bomfile: read free block count: %w", err)
	}
	free = make([]blockPointer, numFree)
	for i := range free {
		if err := binary.Read(buf, binary.BigEndian, &free[i]); err != nil {
			return nil, nil, fmt.Errorf("bomfile: read free descriptor %d: %w", i, err)
		}
	}

	return occupied, free, nil
}

func parseNamedTable(data []byte, table blockPointer, numBlocks int) (map[string]uint32, []string, error) {
	end := uint64(table.Offset) + uint64(table.Size)
	if end > uint64(len(data)) {
		return nil, nil, fmt.Errorf("%w: named block table spans beyond file", bomerr.ErrBlockOutOfRange)
	}
	buf := bytes.NewReader(data[table.Offset:end])

	var numNamed uint32
	if err := binary.Read(buf, binary.BigEndian, &numNamed); err != nil {
		return nil, nil, fmt.Errorf("bomfile: read named block count: %w", err)
	}

	named := make(map[string]uint32, numNamed)
	order := make([]string, 0, numNamed)
	for i := uint32(0); i < numNamed; i++ {
		name, err := readCString(buf)
		if err != nil {
			return nil, nil, fmt.Errorf("bomfile: read name %d: %w", i, err)
		}
		if name == "" {
			return nil, nil, fmt.Errorf("bomfile: empty name at entry %d", i)
		}
		var index uint32
		if err := binary.Read(buf, binary.BigEndian, &index); err != nil {
			return nil, nil, fmt.Errorf("bomfile: read index for %q: %w", name, err)
		}
		if int(index) >= numBlocks {
			return nil, nil, fmt.Errorf("%w: named block %q points at %d (have %d blocks)",
				bomerr.ErrBlockOutOfRange, name, index, numBlocks)
		}
		if _, dup := named[name]; dup {
			return nil, nil, fmt.Errorf("bomfile: duplicate name %q", name)
		}
		named[name] = index
		order = append(order, name)
	}

	return named, order, nil
}

func readCString(r *bytes.Reader) (string, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
}
