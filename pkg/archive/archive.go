// Package archive provides a denser, compressed at-rest representation
// of a receipt's logical (path, metadata) entries, for tooling that
// manages many receipts (build caches, artifact stores) and would
// rather not carry the full block-store framing of the BOM wire
// format. It is not part of the BOM format and mkbom/lsbom cannot read
// it.
package archive

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/bomkit/gobom/pkg/bomerr"
	"github.com/bomkit/gobom/pkg/receipt"
)

const recordMagic = "gbar"
const recordVersion = 1

// Export writes r's logical entries to w as a self-describing record
// stream wrapped in a ZSTD encoder.
func Export(w io.Writer, r *receipt.Receipt) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("archive: create zstd encoder: %w", err)
	}

	bw := bufio.NewWriter(enc)
	if err := writeHeader(bw, len(r.Entries())); err != nil {
		enc.Close()
		return err
	}
	for _, e := range r.Entries() {
		if err := writeRecord(bw, e); err != nil {
			enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return fmt.Errorf("archive: flush: %w", err)
	}
	return enc.Close()
}

// Import reads a record stream previously produced by Export and
// reconstructs an equivalent Receipt: the same entries, backed by a
// freshly built block store (not the original one, since the archive
// format discards block-level layout entirely).
func Import(r io.Reader) (*receipt.Receipt, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("archive: create zstd decoder: %w", err)
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	count, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	entries := make([]entryRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		rec, err := readRecord(br)
		if err != nil {
			return nil, fmt.Errorf("archive: record %d: %w", i, err)
		}
		entries = append(entries, rec)
	}

	decoded, err := toReceiptEntries(entries)
	if err != nil {
		return nil, err
	}
	built, err := receipt.FromEntries(decoded)
	if err != nil {
		return nil, fmt.Errorf("archive: rebuild receipt: %w", err)
	}
	return built, nil
}

type entryRecord struct {
	path     string
	metadata []byte
	trueSize uint64
}

func toReceiptEntries(recs []entryRecord) ([]receipt.Entry, error) {
	out := make([]receipt.Entry, 0, len(recs))
	for i, rec := range recs {
		m, err := receipt.DecodeMetadata(rec.metadata)
		if err != nil {
			return nil, fmt.Errorf("archive: decode metadata for record %d (%q): %w", i, rec.path, err)
		}
		out = append(out, receipt.Entry{Path: rec.path, Metadata: m, TrueSize: rec.trueSize})
	}
	return out, nil
}

func writeHeader(w io.Writer, count int) error {
	buf := make([]byte, len(recordMagic)+1+4)
	copy(buf, recordMagic)
	buf[len(recordMagic)] = recordVersion
	binary.BigEndian.PutUint32(buf[len(recordMagic)+1:], uint32(count))
	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("archive: write header: %w", err)
	}
	return nil
}

func readHeader(r io.Reader) (uint32, error) {
	buf := make([]byte, len(recordMagic)+1+4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("%w: header: %v", bomerr.ErrArchiveInvariant, err)
	}
	if string(buf[:len(recordMagic)]) != recordMagic {
		return 0, fmt.Errorf("%w: bad magic", bomerr.ErrBadMagic)
	}
	if buf[len(recordMagic)] != recordVersion {
		return 0, fmt.Errorf("%w: version %d", bomerr.ErrBadVersion, buf[len(recordMagic)])
	}
	return binary.BigEndian.Uint32(buf[len(recordMagic)+1:]), nil
}

func writeRecord(w io.Writer, e receipt.Entry) error {
	metaBuf, err := receipt.EncodeMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("archive: encode metadata for %q: %w", e.Path, err)
	}

	pathBytes := []byte(e.Path)
	head := make([]byte, 4+4+8)
	binary.BigEndian.PutUint32(head[0:4], uint32(len(pathBytes)))
	binary.BigEndian.PutUint32(head[4:8], uint32(len(metaBuf)))
	binary.BigEndian.PutUint64(head[8:16], e.TrueSize)

	if _, err := w.Write(head); err != nil {
		return fmt.Errorf("archive: write record header: %w", err)
	}
	if _, err := w.Write(pathBytes); err != nil {
		return fmt.Errorf("archive: write path: %w", err)
	}
	if _, err := w.Write(metaBuf); err != nil {
		return fmt.Errorf("archive: write metadata: %w", err)
	}
	return nil
}

func readRecord(r io.Reader) (entryRecord, error) {
	head := make([]byte, 4+4+8)
	if _, err := io.ReadFull(r, head); err != nil {
		return entryRecord{}, fmt.Errorf("%w: record header: %v", bomerr.ErrArchiveInvariant, err)
	}
	pathLen := binary.BigEndian.Uint32(head[0:4])
	metaLen := binary.BigEndian.Uint32(head[4:8])
	trueSize := binary.BigEndian.Uint64(head[8:16])

	pathBytes := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return entryRecord{}, fmt.Errorf("%w: path: %v", bomerr.ErrArchiveInvariant, err)
	}
	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return entryRecord{}, fmt.Errorf("%w: metadata: %v", bomerr.ErrArchiveInvariant, err)
	}

	return entryRecord{path: string(pathBytes), metadata: metaBytes, trueSize: trueSize}, nil
}
